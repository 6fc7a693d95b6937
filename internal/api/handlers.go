package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"minicrm/internal/apperr"
	"minicrm/internal/records"
	"minicrm/internal/schema"
)

// bodyVersion reports whether "version" in a record body is the optimistic lock and not
// a user column.
func bodyVersion(ss *schema.Service, tableKey string) bool {
	t, err := ss.Table(tableKey)
	if err != nil {
		return true
	}
	_, isColumn := t.Column("version")
	return !isColumn
}

// POST /api/records/:table
func CreateHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		v, err := rs.Create(c.Request.Context(), c.Param("table"), obj)
		if err != nil {
			writeError(c, err)
			return
		}
		setETag(c, v.Version)
		c.JSON(http.StatusCreated, v)
	}
}

// GET /api/records/:table
func ListHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		page, err := rs.List(c.Request.Context(), c.Param("table"), records.ParseListOptions(c.Request.URL.Query()))
		if err != nil {
			writeError(c, err)
			return
		}
		c.Header("X-Total-Count", strconv.Itoa(page.Total))
		c.JSON(http.StatusOK, page)
	}
}

// GET /api/records/:table/_count
func CountHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := rs.Count(c.Request.Context(), c.Param("table"), records.ParseListOptions(c.Request.URL.Query()))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"count": n})
	}
}

// GET /api/records/:table/_search?q=
func SearchHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := rs.Search(c.Request.Context(), c.Param("table"), c.Query("q"))
		if err != nil {
			writeError(c, err)
			return
		}
		items := make([]records.Match, 0, res.Len())
		for m := range res.All() {
			items = append(items, m)
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "total": len(items)})
	}
}

// GET /api/records/:table/:id
func GetOneHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, err := rs.Get(c.Request.Context(), c.Param("table"), c.Param("id"), truthy(c.Query("expand")))
		if err != nil {
			writeError(c, err)
			return
		}
		setETag(c, v.Version)
		c.JSON(http.StatusOK, v)
	}
}

// PUT /api/records/:table/:id: полная замена
func UpdateHandler(rs *records.Service, ss *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		table := c.Param("table")
		// ожидаемую версию берём из If-Match или body.version
		want := readExpectedVersion(c, obj, bodyVersion(ss, table))
		v, err := rs.Update(c.Request.Context(), table, c.Param("id"), obj, want)
		if err != nil {
			writeError(c, err)
			return
		}
		setETag(c, v.Version)
		c.JSON(http.StatusOK, v)
	}
}

// PATCH /api/records/:table/:id: только переданные поля
func UpdatePartialHandler(rs *records.Service, ss *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var obj map[string]any
		if err := c.ShouldBindJSON(&obj); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON"})
			return
		}
		table := c.Param("table")
		want := readExpectedVersion(c, obj, bodyVersion(ss, table))
		v, err := rs.Patch(c.Request.Context(), table, c.Param("id"), obj, want)
		if err != nil {
			writeError(c, err)
			return
		}
		setETag(c, v.Version)
		c.JSON(http.StatusOK, v)
	}
}

// DELETE /api/records/:table/:id
func DeleteHandler(rs *records.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		want := readExpectedVersion(c, nil, false)
		if err := rs.Delete(c.Request.Context(), c.Param("table"), c.Param("id"), want); err != nil {
			writeError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

// POST /api/records/:table/_bulk
func BulkCreateHandler(rs *records.Service) gin.HandlerFunc {
	type bulkResult struct {
		Status int                 `json:"status"`
		Data   *records.View       `json:"data,omitempty"`
		Errors []apperr.FieldError `json:"errors,omitempty"`
		Error  string              `json:"error,omitempty"`
	}
	return func(c *gin.Context) {
		var items []map[string]any
		if err := c.ShouldBindJSON(&items); err != nil || len(items) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON array"})
			return
		}
		res, err := rs.CreateMany(c.Request.Context(), c.Param("table"), items)
		if err != nil {
			writeError(c, err)
			return
		}

		out := make([]bulkResult, 0, len(res))
		for _, r := range res {
			if r.Err == nil {
				out = append(out, bulkResult{Status: http.StatusCreated, Data: r.View})
				continue
			}
			if verr, ok := apperr.AsValidation(r.Err); ok {
				out = append(out, bulkResult{Status: statusForErrors(verr.Fields), Errors: verr.Fields})
				continue
			}
			requestLog(c).Warnw("bulk item failed", "error", r.Err)
			out = append(out, bulkResult{Status: http.StatusInternalServerError, Error: r.Err.Error()})
		}
		// смешанные результаты: 207 Multi-Status
		c.JSON(http.StatusMultiStatus, out)
	}
}
