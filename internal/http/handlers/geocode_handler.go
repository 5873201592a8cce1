// README: Address lookup handler.
package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"navi/internal/modules/navigation"
)

type geocoder interface {
	Resolve(ctx context.Context, address string) (navigation.Waypoint, error)
}

type GeocodeHandler struct {
	geocoder geocoder
}

func NewGeocodeHandler(g geocoder) *GeocodeHandler {
	return &GeocodeHandler{geocoder: g}
}

type geocodeReq struct {
	Address string `json:"address"`
}

func (h *GeocodeHandler) Resolve(c *gin.Context) {
	var req geocodeReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "invalid json")
		return
	}
	wp, err := h.geocoder.Resolve(c.Request.Context(), req.Address)
	if err != nil {
		writeNavigationError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, wp)
}
