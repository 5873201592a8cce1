// README: Base handler utilities (JSON helpers, error mapping, session ownership).
package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"navi/internal/http/middleware"
	"navi/internal/modules/navigation"
)

type errorResponse struct {
	Error string `json:"error"`
}

// Sessions is the part of navigation.Manager the handlers use.
type Sessions interface {
	Create(ctx context.Context, owner string, trip *navigation.TripConfig) (*navigation.Session, error)
	Get(id string) (*navigation.Session, bool)
	Close(ctx context.Context, id string) error
}

func writeJSON(c *gin.Context, status int, v any) {
	c.JSON(status, v)
}

func writeError(c *gin.Context, status int, msg string) {
	writeJSON(c, status, errorResponse{Error: msg})
}

func writeNavigationError(c *gin.Context, err error) {
	var engineErr *navigation.EngineError
	switch {
	case errors.Is(err, navigation.ErrInvalidLocation), errors.Is(err, navigation.ErrUnknownTravelMode):
		writeError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, navigation.ErrAddressUnresolvable):
		writeError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, navigation.ErrNoRouteAvailable), errors.Is(err, navigation.ErrRouteSuperseded),
		errors.Is(err, navigation.ErrNavigationStopped):
		writeError(c, http.StatusConflict, err.Error())
	case errors.Is(err, navigation.ErrSessionNotFound):
		writeError(c, http.StatusNotFound, err.Error())
	case errors.As(err, &engineErr), errors.Is(err, navigation.ErrRecalculationFailed):
		writeError(c, http.StatusBadGateway, err.Error())
	default:
		writeError(c, http.StatusInternalServerError, "internal error")
	}
}

// ownedSession loads the :id session and checks the caller owns it. It writes
// the error response itself and reports false on failure.
func ownedSession(c *gin.Context, sessions Sessions) (*navigation.Session, bool) {
	id := c.Param("id")
	if id == "" {
		writeError(c, http.StatusBadRequest, "missing session id")
		return nil, false
	}
	s, ok := sessions.Get(id)
	if !ok {
		writeError(c, http.StatusNotFound, navigation.ErrSessionNotFound.Error())
		return nil, false
	}
	if s.Owner() != middleware.CallerUID(c) {
		writeError(c, http.StatusForbidden, "forbidden: session belongs to another user")
		return nil, false
	}
	return s, true
}
