package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"minicrm/internal/schema"
	"minicrm/internal/store"
)

// POST /api/admin/reload перечитывает схему из хранилища (например, после правки другим
// процессом) и возвращает результат линтера.
func AdminReloadHandler(svc *schema.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Reload(c.Request.Context()); err != nil {
			writeError(c, err)
			return
		}
		sc := svc.Current()
		issues := svc.Lint()
		if issues == nil {
			issues = []schema.Issue{}
		}
		c.JSON(http.StatusOK, gin.H{
			"ok":          true,
			"tables":      len(sc.Tables),
			"enums":       len(sc.Enums),
			"link_tables": len(sc.LinkTables),
			"issues":      issues,
		})
	}
}

// GET /healthz
func HealthHandler(repo store.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := repo.Ping(ctx); err != nil {
			requestLog(c).Warnw("health check failed", "error", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
