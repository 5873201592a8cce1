// README: API gateway; registers HTTP routes and delegates to module services.
package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"navi/internal/http/handlers"
	"navi/internal/http/middleware"
	"navi/internal/infra"
	"navi/internal/logging"
	"navi/internal/modules/journal"
	"navi/internal/modules/location"
	"navi/internal/modules/navigation"
)

type historyStore interface {
	ListBySession(ctx context.Context, sessionID string, limit int) ([]journal.Entry, error)
}

type geocoder interface {
	Resolve(ctx context.Context, address string) (navigation.Waypoint, error)
}

type ServerDeps struct {
	Sessions handlers.Sessions
	Location *location.Service
	History  historyStore
	Geocoder geocoder
	Verifier infra.TokenVerifier
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Logger  logging.Logger
}

type Server struct {
	deps ServerDeps
	log  logging.Logger
}

func NewServer(deps ServerDeps) *Server {
	return &Server{deps: deps, log: logging.OrNoop(deps.Logger)}
}

func (s *Server) Routes() http.Handler {
	r := gin.New()
	r.Use(middleware.Recovery(s.log), middleware.Logging(s.log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	api := r.Group("/api", middleware.Auth(s.deps.Verifier))

	sessionHandler := handlers.NewSessionHandler(s.deps.Sessions)
	api.POST("/sessions", sessionHandler.Create)
	api.GET("/sessions/:id", sessionHandler.Get)
	api.PUT("/sessions/:id/config", sessionHandler.Configure)
	api.POST("/sessions/:id/route", sessionHandler.AcquireRoute)
	api.POST("/sessions/:id/navigation/start", sessionHandler.Start)
	api.POST("/sessions/:id/navigation/stop", sessionHandler.Stop)
	api.DELETE("/sessions/:id", sessionHandler.Close)

	if s.deps.Location != nil {
		locationHandler := handlers.NewLocationHandler(s.deps.Sessions, s.deps.Location)
		api.PUT("/sessions/:id/location", locationHandler.Update)
		api.GET("/travelers/nearby", locationHandler.Nearby)
	}

	eventsHandler := handlers.NewEventsHandler(s.deps.Sessions, s.log)
	api.GET("/sessions/:id/events", eventsHandler.Stream)

	if s.deps.History != nil {
		historyHandler := handlers.NewHistoryHandler(s.deps.Sessions, s.deps.History)
		api.GET("/sessions/:id/history", historyHandler.List)
	}
	if s.deps.Geocoder != nil {
		geocodeHandler := handlers.NewGeocodeHandler(s.deps.Geocoder)
		api.POST("/geocode", geocodeHandler.Resolve)
	}
	return r
}
