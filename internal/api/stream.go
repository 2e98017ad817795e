package api

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"

	"classledger/internal/auth"
)

// changes streams the caller's ledger changes as server-sent events until
// the client disconnects.
func (h *handler) changes(c *gin.Context) {
	a, _ := auth.ActorFrom(c)
	sub := h.hub.Subscribe(a.ID)
	defer sub.Close()

	ping := time.NewTicker(h.keepAlive)
	defer ping.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.SSEvent("ready", gin.H{"recipient": a.ID})
	c.Writer.Flush()

	done := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-done:
			return false
		case evt, ok := <-sub.C:
			if !ok {
				return false
			}
			c.SSEvent("change", gin.H{"day": evt.Day, "status": evt.Status, "class_key": evt.ClassKey})
			return true
		case <-ping.C:
			c.SSEvent("ping", gin.H{"at": time.Now().UTC()})
			return true
		}
	})
}
