package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"minicrm/internal/schema"
)

// ===== SCHEMA HANDLERS =====

// GET /api/schema
func SchemaHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Current())
	}
}

// GET /api/schema/lint
func SchemaLintHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		issues := svc.Lint()
		if issues == nil {
			issues = []schema.Issue{}
		}
		c.JSON(http.StatusOK, gin.H{"issues": issues})
	}
}

type createTableReq struct {
	Name                   string `json:"name" binding:"required"`
	DisplayFormat          string `json:"display_format"`
	DisplayFormatSecondary string `json:"display_format_secondary"`
}

func CreateTableHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTableReq
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		t, err := svc.CreateTable(c.Request.Context(), req.Name, req.DisplayFormat, req.DisplayFormatSecondary)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, t)
	}
}

func ListTablesHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Current().Tables)
	}
}

// GET /api/tables/:id (id или имя)
func GetTableHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.Table(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, t)
	}
}

func UpdateTableHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.Table(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		var patch schema.TablePatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			bindError(c, err)
			return
		}
		updated, err := svc.UpdateTable(c.Request.Context(), t.ID, patch)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func DeleteTableHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.Table(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := svc.DeleteTable(c.Request.Context(), t.ID); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/tables/:id/columns
func AddColumnHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		t, err := svc.Table(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		var spec schema.ColumnSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			bindError(c, err)
			return
		}
		col, err := svc.AddColumn(c.Request.Context(), t.ID, spec)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, col)
	}
}

// PUT /api/columns/:id
func UpdateColumnHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var spec schema.ColumnSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			bindError(c, err)
			return
		}
		col, err := svc.UpdateColumn(c.Request.Context(), c.Param("id"), spec)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, col)
	}
}

func DeleteColumnHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.DeleteColumn(c.Request.Context(), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type createEnumReq struct {
	Name   string   `json:"name" binding:"required"`
	Values []string `json:"values"`
}

func CreateEnumHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createEnumReq
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		e, err := svc.CreateEnum(c.Request.Context(), req.Name, req.Values)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, e)
	}
}

func ListEnumsHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Current().Enums)
	}
}

func DeleteEnumHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svc.Enum(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := svc.DeleteEnum(c.Request.Context(), e.ID); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

type enumValueReq struct {
	Value string `json:"value" binding:"required"`
}

// POST /api/enums/:id/values
func AddEnumValueHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svc.Enum(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		var req enumValueReq
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		updated, err := svc.AddEnumValue(c.Request.Context(), e.ID, req.Value)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

// DELETE /api/enums/:id/values/:value
func RemoveEnumValueHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		e, err := svc.Enum(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		updated, err := svc.RemoveEnumValue(c.Request.Context(), e.ID, c.Param("value"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

type createLinkTableReq struct {
	Name        string `json:"name" binding:"required"`
	FromTableID string `json:"from_table_id" binding:"required"`
	ToTableID   string `json:"to_table_id" binding:"required"`
}

func CreateLinkTableHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createLinkTableReq
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		l, err := svc.CreateLinkTable(c.Request.Context(), req.Name, tableID(svc, req.FromTableID), tableID(svc, req.ToTableID))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, l)
	}
}

func ListLinkTablesHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, svc.Current().LinkTables)
	}
}

func UpdateLinkTableHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		l, err := svc.LinkTable(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		var patch schema.LinkTablePatch
		if err := c.ShouldBindJSON(&patch); err != nil {
			bindError(c, err)
			return
		}
		updated, err := svc.UpdateLinkTable(c.Request.Context(), l.ID, patch)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, updated)
	}
}

func DeleteLinkTableHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		l, err := svc.LinkTable(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := svc.DeleteLinkTable(c.Request.Context(), l.ID); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/link_tables/:id/columns
func AddLinkColumnHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		l, err := svc.LinkTable(c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		var spec schema.ColumnSpec
		if err := c.ShouldBindJSON(&spec); err != nil {
			bindError(c, err)
			return
		}
		col, err := svc.AddLinkColumn(c.Request.Context(), l.ID, spec)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, col)
	}
}

// tableID accepts a table id or name. Unknown keys pass through so the service reports them.
func tableID(svc *schema.Service, key string) string {
	if t, err := svc.Table(key); err == nil {
		return t.ID
	}
	return key
}
