// README: Server-Sent Events stream of a session's notifications.
package handlers

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"navi/internal/logging"
	"navi/internal/modules/broadcast"
	"navi/internal/modules/navigation"
)

const (
	streamBuffer    = 64
	streamKeepAlive = 15 * time.Second
)

type EventsHandler struct {
	sessions  Sessions
	log       logging.Logger
	keepAlive time.Duration
}

func NewEventsHandler(sessions Sessions, log logging.Logger) *EventsHandler {
	return &EventsHandler{sessions: sessions, log: logging.OrNoop(log), keepAlive: streamKeepAlive}
}

// Stream subscribes the client to the session until it disconnects. Slow
// clients lose notifications rather than blocking the session.
func (h *EventsHandler) Stream(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	subID := "sse-" + uuid.NewString()
	ch := make(chan navigation.Notification, streamBuffer)
	err := s.Subscribe(subID, navigation.AllHandlers(func(n navigation.Notification) {
		select {
		case ch <- n:
		default:
			h.log.Warn(ctx, "event stream backlog full; dropping notification",
				logging.String("session_id", n.SessionID),
				logging.String("event", string(n.Event)))
		}
	}))
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	defer s.Unsubscribe(subID)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent("ready", gin.H{"session_id": s.ID()})
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()
	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case n := <-ch:
			c.SSEvent(string(n.Event), broadcast.NewEnvelope(n))
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().UTC().Format(time.RFC3339))
			return true
		}
	})
}
