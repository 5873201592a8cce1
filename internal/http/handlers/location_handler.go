// README: Live location handler.
package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"navi/internal/http/middleware"
	"navi/internal/modules/location"
	"navi/internal/modules/navigation"
	"navi/internal/types"
)

// FleetRole is the custom claim allowed to search other travelers' positions.
const FleetRole = "fleet"

type LocationHandler struct {
	sessions Sessions
	location *location.Service
}

func NewLocationHandler(sessions Sessions, svc *location.Service) *LocationHandler {
	return &LocationHandler{sessions: sessions, location: svc}
}

type locationReq struct {
	Location   navigation.Waypoint `json:"location"`
	RecordedAt time.Time           `json:"recorded_at"`
}

func (h *LocationHandler) Update(c *gin.Context) {
	s, ok := ownedSession(c, h.sessions)
	if !ok {
		return
	}
	// A missing location decodes to NaN and fails validation.
	req := locationReq{Location: navigation.ParseWaypoint("", "", "")}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	res, err := h.location.Update(c.Request.Context(), location.Update{
		SessionID:  s.ID(),
		Position:   req.Location.Point(),
		RecordedAt: req.RecordedAt,
	})
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// Nearby lists sessions last seen around ?lat=&lng= within ?radius_m= (default 1000).
func (h *LocationHandler) Nearby(c *gin.Context) {
	if middleware.CallerRole(c) != FleetRole {
		writeError(c, http.StatusForbidden, "forbidden: fleet role required")
		return
	}
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		writeError(c, http.StatusBadRequest, "lat and lng are required")
		return
	}
	radius := 1000.0
	if v := c.Query("radius_m"); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(c, http.StatusBadRequest, "invalid radius_m")
			return
		}
		radius = r
	}
	found, err := h.location.Nearby(c.Request.Context(), types.Point{Lat: lat, Lng: lng}, radius)
	if err != nil {
		if errors.Is(err, location.ErrInvalidRadius) {
			writeError(c, http.StatusBadRequest, err.Error())
			return
		}
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, gin.H{"sessions": found})
}
