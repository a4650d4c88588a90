package api

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/service"
)

const eventWriteTimeout = 5 * time.Second

var upgrader = websocket.Upgrader{
	// CORS is enforced by the middleware for plain requests; browsers
	// connect from the dev server origin.
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// taskEvents streams task snapshots over a websocket until the task is
// terminal or the client goes away. A snapshot is sent on every change.
func (h *Handler) taskEvents(c *gin.Context) {
	id := strings.TrimSpace(c.Query("task_id"))
	if id == "" {
		respondErr(c, invalid("task_id is required"))
		return
	}
	if _, ok := h.deps.Tasks.Status(id); !ok {
		respondErr(c, fmt.Errorf("%w: %s", service.ErrTaskNotFound, id))
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so close messages are noticed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.opts.EventInterval)
	defer ticker.Stop()

	var last models.TaskSnapshot
	first := true
	for {
		snap, ok := h.deps.Tasks.Status(id)
		if !ok {
			return
		}
		if first || snap != last {
			_ = conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				h.log.Debug("task event write failed", "task_id", id, "error", err)
				return
			}
			first, last = false, snap
		}
		if snap.Status.Terminal() {
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(snap.Status)),
				time.Now().Add(eventWriteTimeout))
			return
		}

		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
