// README: Session handlers: create, inspect, configure, route, start/stop and close.
package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"navi/internal/http/middleware"
	"navi/internal/modules/navigation"
)

type SessionHandler struct {
	sessions Sessions
}

func NewSessionHandler(sessions Sessions) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type tripReq struct {
	Origin      *navigation.Waypoint  `json:"origin"`
	Destination *navigation.Waypoint  `json:"destination"`
	Waypoints   []navigation.Waypoint `json:"waypoints"`
	TravelMode  string                `json:"travel_mode"`
}

func (r tripReq) trip() (navigation.TripConfig, error) {
	mode, err := navigation.ParseTravelMode(r.TravelMode)
	if err != nil {
		return navigation.TripConfig{}, err
	}
	return navigation.TripConfig{
		Origin:      r.Origin,
		Destination: r.Destination,
		Waypoints:   r.Waypoints,
		TravelMode:  mode,
	}, nil
}

// Create opens a session owned by the caller. The trip body is optional.
func (h *SessionHandler) Create(c *gin.Context) {
	var req tripReq
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	trip, err := req.trip()
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	s, err := h.sessions.Create(c.Request.Context(), middleware.CallerUID(c), &trip)
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusCreated, s.State())
}

func (h *SessionHandler) Get(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	writeJSON(c, http.StatusOK, s.State())
}

func (h *SessionHandler) Configure(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	var req tripReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	trip, err := req.trip()
	if err == nil {
		err = s.Configure(trip)
	}
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.State())
}

func (h *SessionHandler) AcquireRoute(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	route, err := s.AcquireRoute(c.Request.Context())
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, route)
}

func (h *SessionHandler) Start(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	if err := s.Start(c.Request.Context()); err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, s.State())
}

func (h *SessionHandler) Stop(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	s.Stop(c.Request.Context())
	writeJSON(c, http.StatusOK, s.State())
}

func (h *SessionHandler) Close(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	if err := h.sessions.Close(c.Request.Context(), s.ID()); err != nil {
		writeNavigationError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
