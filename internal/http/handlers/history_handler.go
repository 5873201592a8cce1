// README: Journal history handler.
package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"navi/internal/modules/journal"
)

type historyStore interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]journal.Entry, error)
}

type HistoryHandler struct {
	sessions Sessions
	journal  historyStore
}

func NewHistoryHandler(sessions Sessions, store historyStore) *HistoryHandler {
	return &HistoryHandler{sessions: sessions, journal: store}
}

func (h *HistoryHandler) List(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(c, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	entries, err := h.journal.ListBySession(c.Request.Context(), s.ID(), limit)
	if err != nil {
		writeError(c, http.StatusInternalServerError, "internal error")
		return
	}
	if entries == nil {
		entries = []journal.Entry{}
	}
	writeJSON(c, http.StatusOK, gin.H{"session_id": s.ID(), "entries": entries})
}
