package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"minicrm/internal/records"
)

type createLinkReq struct {
	FromRecordID string         `json:"from_record_id" binding:"required"`
	ToRecordID   string         `json:"to_record_id" binding:"required"`
	Data         map[string]any `json:"data"`
}

type updateLinkReq struct {
	Data    map[string]any `json:"data"`
	Version *int64         `json:"version"`
}

// POST /api/link_records/:link_table
func CreateLinkHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createLinkReq
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		lr, err := rs.CreateLink(c.Request.Context(), c.Param("link_table"), req.FromRecordID, req.ToRecordID, req.Data)
		if err != nil {
			writeError(c, err)
			return
		}
		setETag(c, lr.Version)
		c.JSON(http.StatusCreated, lr)
	}
}

func ListLinksHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		links, err := rs.ListLinks(c.Request.Context(), c.Param("link_table"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": links, "total": len(links)})
	}
}

func GetLinkHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		lr, err := rs.GetLink(c.Request.Context(), c.Param("link_table"), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		setETag(c, lr.Version)
		c.JSON(http.StatusOK, lr)
	}
}

// PUT /api/link_records/:link_table/:id заменяет атрибуты связи
func UpdateLinkHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateLinkReq
		if err := c.ShouldBindJSON(&req); err != nil {
			bindError(c, err)
			return
		}
		want := readExpectedVersion(c, nil, false)
		if want == nil {
			want = req.Version
		}
		lr, err := rs.UpdateLink(c.Request.Context(), c.Param("link_table"), c.Param("id"), req.Data, want)
		if err != nil {
			writeError(c, err)
			return
		}
		setETag(c, lr.Version)
		c.JSON(http.StatusOK, lr)
	}
}

func DeleteLinkHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := rs.DeleteLink(c.Request.Context(), c.Param("link_table"), c.Param("id")); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
