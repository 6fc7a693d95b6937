package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"minicrm/internal/notify"
)

const heartbeat = 25 * time.Second

// GET /api/events streams schema_update and data_update events as Server-Sent Events.
// The stream ends when the client goes away or the hub drops a slow subscriber; clients
// reconnect and refetch /api/schema.
func EventsHandler(hub *notify.Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		sub := hub.Subscribe()
		defer sub.Close()

		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")
		c.SSEvent("ready", gin.H{"subscriber": sub.ID})
		c.Writer.Flush()

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		ctx := c.Request.Context()

		c.Stream(func(w io.Writer) bool {
			select {
			case ev, ok := <-sub.Events():
				if !ok {
					return false
				}
				c.SSEvent(ev.Type, ev)
				return true
			case <-ticker.C:
				c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
				return true
			case <-ctx.Done():
				return false
			}
		})
	}
}
