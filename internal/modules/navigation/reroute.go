// README: Rerouting controller: single-flight recalculation on off-route signals.
package navigation

import (
	"context"
	"fmt"

	"navi/internal/logging"
)

// onOffRoute handles an engine off-route signal. At most one recalculation runs
// per session; signals arriving during an episode are dropped.
func (s *Session) onOffRoute(gen uint64, sig OffRouteSignal) {
	s.mu.Lock()
	if gen != s.listenerGen || !s.navigationActive {
		s.mu.Unlock()
		return
	}
	if sig.Location != nil && sig.Location.Valid() {
		wp := NewWaypoint("", sig.Location.Lat, sig.Location.Lng)
		s.currentLocation = &wp
	}
	if s.recalculating || s.currentLocation == nil || len(s.pendingStops) == 0 {
		recalculating := s.recalculating
		s.mu.Unlock()
		s.log.Debug(context.Background(), "off-route signal ignored",
			logging.Any("recalculating", recalculating))
		return
	}

	from := s.phaseLocked()
	s.recalculating = true
	origin := *s.currentLocation
	stops := append([]Waypoint{origin}, s.pendingStops...)
	req := routeRequest{stops: stops, mode: s.travelMode, viaDirections: len(stops) > 2}
	s.touchLocked()
	s.logTransitionLocked(context.Background(), from)
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.rerouteTimeout)
	defer cancel()

	loc := origin.Point()
	s.notify(EventRouteRecalculation, Notification{Location: &loc})

	route, err := s.recalculate(ctx, gen, req)

	s.mu.Lock()
	from = s.phaseLocked()
	s.recalculating = false
	s.logTransitionLocked(ctx, from)
	s.mu.Unlock()

	if err != nil {
		s.log.Warn(ctx, "route recalculation failed", logging.Err(err))
		s.fail(EventNavigationError, fmt.Errorf("%w: %w", ErrRecalculationFailed, err))
		return
	}
	if route == nil {
		return
	}
	s.notify(EventRecalculated, Notification{Route: route})
}

// recalculate acquires a route from the live position and resumes guidance on
// it. It returns a nil route when navigation stopped during the episode.
func (s *Session) recalculate(ctx context.Context, gen uint64, req routeRequest) (*Route, error) {
	route, err := s.acquire(ctx, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	stillActive := gen == s.listenerGen && s.navigationActive
	s.mu.Unlock()
	if !stillActive {
		s.log.Info(ctx, "navigation stopped during recalculation; not resuming guidance")
		return nil, nil
	}

	if err := s.engine.StartNavigation(ctx, route); err != nil {
		return nil, classifyEngineError("start navigation", err)
	}

	s.mu.Lock()
	stillActive = gen == s.listenerGen && s.navigationActive
	superseded := s.navigationActive || s.removeListener != nil
	s.mu.Unlock()
	if !stillActive {
		if !superseded {
			s.stopEngine(ctx)
		}
		s.log.Info(ctx, "navigation stopped while guidance resumed; ending it")
		return nil, nil
	}
	return route, nil
}
