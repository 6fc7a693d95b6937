// Package api exposes the schema, records and live events over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"minicrm/internal/notify"
	"minicrm/internal/records"
	"minicrm/internal/schema"
	"minicrm/internal/store"
)

type Deps struct {
	Schema  *schema.Service
	Records *records.Service
	Hub     *notify.Hub
	Repo    store.Repository
	Tokens  []string
	Log     *zap.SugaredLogger
}

func NewRouter(d Deps) *gin.Engine {
	if d.Log == nil {
		d.Log = zap.NewNop().Sugar()
	}
	// числа в теле записи приходят как json.Number: int64 без потери точности
	binding.EnableDecoderUseNumber = true
	r := gin.New()
	r.Use(RequestLogger(d.Log), gin.Recovery())

	r.GET("/healthz", HealthHandler(d.Repo))

	apiGroup := r.Group("/api", BearerAuth(d.Tokens))
	{
		apiGroup.GET("/events", EventsHandler(d.Hub))
		apiGroup.POST("/admin/reload", AdminReloadHandler(d.Schema))

		apiGroup.GET("/schema", SchemaHandler(d.Schema))
		apiGroup.GET("/schema/lint", SchemaLintHandler(d.Schema))

		apiGroup.POST("/tables", CreateTableHandler(d.Schema))
		apiGroup.GET("/tables", ListTablesHandler(d.Schema))
		apiGroup.GET("/tables/:id", GetTableHandler(d.Schema))
		apiGroup.PUT("/tables/:id", UpdateTableHandler(d.Schema))
		apiGroup.DELETE("/tables/:id", DeleteTableHandler(d.Schema))
		apiGroup.POST("/tables/:id/columns", AddColumnHandler(d.Schema))
		apiGroup.PUT("/columns/:id", UpdateColumnHandler(d.Schema))
		apiGroup.DELETE("/columns/:id", DeleteColumnHandler(d.Schema))

		apiGroup.POST("/enums", CreateEnumHandler(d.Schema))
		apiGroup.GET("/enums", ListEnumsHandler(d.Schema))
		apiGroup.DELETE("/enums/:id", DeleteEnumHandler(d.Schema))
		apiGroup.POST("/enums/:id/values", AddEnumValueHandler(d.Schema))
		apiGroup.DELETE("/enums/:id/values/:value", RemoveEnumValueHandler(d.Schema))

		apiGroup.POST("/link_tables", CreateLinkTableHandler(d.Schema))
		apiGroup.GET("/link_tables", ListLinkTablesHandler(d.Schema))
		apiGroup.PUT("/link_tables/:id", UpdateLinkTableHandler(d.Schema))
		apiGroup.DELETE("/link_tables/:id", DeleteLinkTableHandler(d.Schema))
		apiGroup.POST("/link_tables/:id/columns", AddLinkColumnHandler(d.Schema))

		// статические "служебные" маршруты: СНАЧАЛА
		apiGroup.GET("/records/:table/_count", CountHandler(d.Records))
		apiGroup.GET("/records/:table/_search", SearchHandler(d.Records))
		apiGroup.POST("/records/:table/_bulk", BulkCreateHandler(d.Records))

		// обычные CRUD
		apiGroup.POST("/records/:table", CreateHandler(d.Records))
		apiGroup.GET("/records/:table", ListHandler(d.Records))
		apiGroup.GET("/records/:table/:id", GetOneHandler(d.Records))
		apiGroup.PUT("/records/:table/:id", UpdateHandler(d.Records, d.Schema))
		apiGroup.PATCH("/records/:table/:id", UpdatePartialHandler(d.Records, d.Schema))
		apiGroup.DELETE("/records/:table/:id", DeleteHandler(d.Records))

		apiGroup.POST("/link_records/:link_table", CreateLinkHandler(d.Records))
		apiGroup.GET("/link_records/:link_table", ListLinksHandler(d.Records))
		apiGroup.GET("/link_records/:link_table/:id", GetLinkHandler(d.Records))
		apiGroup.PUT("/link_records/:link_table/:id", UpdateLinkHandler(d.Records))
		apiGroup.DELETE("/link_records/:link_table/:id", DeleteLinkHandler(d.Records))
	}
	return r
}

// RunServer serves h on addr until ctx is cancelled, then drains in-flight requests.
func RunServer(ctx context.Context, addr string, h http.Handler, log *zap.SugaredLogger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Infow("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Infow("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// SSE-стримы держат соединения: закрываем их принудительно по таймауту
	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		return err
	}
	return nil
}
