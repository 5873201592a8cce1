// README: Navigation session: trip configuration, route acquisition and the guidance lifecycle.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"navi/internal/logging"
)

const defaultRerouteTimeout = 15 * time.Second

type Options struct {
	Owner          string
	Normalizer     Normalizer
	Logger         logging.Logger
	RerouteTimeout time.Duration
	// ObserveAcquisition is called after every engine route call.
	ObserveAcquisition func(d time.Duration, err error)
	Now                func() time.Time
}

// TripConfig describes where the traveler is going. Either Destination or a
// waypoint list must be present when a route is requested.
type TripConfig struct {
	Origin      *Waypoint  `json:"origin"`
	Destination *Waypoint  `json:"destination"`
	Waypoints   []Waypoint `json:"waypoints"`
	TravelMode  TravelMode `json:"travel_mode"`
}

type Session struct {
	id                 string
	owner              string
	engine             Engine
	normalizer         Normalizer
	registry           *Registry
	log                logging.Logger
	rerouteTimeout     time.Duration
	observeAcquisition func(time.Duration, error)
	now                func() time.Time

	mu               sync.Mutex
	origin           *Waypoint
	destination      *Waypoint
	waypoints        []Waypoint
	travelMode       TravelMode
	currentLocation  *Waypoint
	route            *Route
	pendingStops     []Waypoint
	navigationActive bool
	recalculating    bool
	routeGen         uint64
	listenerGen      uint64
	removeListener   func()
	lastActivity     time.Time
}

// NewSession configures the engine credentials once and returns an idle session.
func NewSession(id string, engine Engine, credentials string, opts Options) (*Session, error) {
	if engine == nil {
		return nil, errors.New("navigation: engine is required")
	}
	if err := engine.SetCredentials(credentials); err != nil {
		return nil, fmt.Errorf("navigation: set credentials: %w", err)
	}
	log := logging.OrNoop(opts.Logger).With(logging.String("session_id", id))
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	timeout := opts.RerouteTimeout
	if timeout <= 0 {
		timeout = defaultRerouteTimeout
	}
	normalizer := opts.Normalizer
	if normalizer.OutputPrecision <= 0 {
		normalizer.OutputPrecision = DefaultOutputPrecision
	}
	return &Session{
		id:                 id,
		owner:              opts.Owner,
		engine:             engine,
		normalizer:         normalizer,
		registry:           NewRegistry(log),
		log:                log,
		rerouteTimeout:     timeout,
		observeAcquisition: opts.ObserveAcquisition,
		now:                now,
		travelMode:         TravelModeDriving,
		lastActivity:       now(),
	}, nil
}

func (s *Session) ID() string    { return s.id }
func (s *Session) Owner() string { return s.owner }

func (s *Session) Subscribe(id string, handlers Handlers) error {
	return s.registry.Subscribe(id, handlers)
}

func (s *Session) Unsubscribe(id string) { s.registry.Unsubscribe(id) }

// Configure replaces the trip. It does not touch an in-flight request, which
// keeps the travel mode it was issued with.
func (s *Session) Configure(cfg TripConfig) error {
	mode := cfg.TravelMode
	if mode == "" {
		mode = TravelModeDriving
	}
	if !travelModes[mode] {
		return fmt.Errorf("%w: %q", ErrUnknownTravelMode, string(mode))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.origin = copyWaypoint(cfg.Origin)
	s.destination = copyWaypoint(cfg.Destination)
	s.waypoints = append([]Waypoint(nil), cfg.Waypoints...)
	s.travelMode = mode
	s.touchLocked()
	return nil
}

func (s *Session) SetTravelMode(mode TravelMode) error {
	if !travelModes[mode] {
		return fmt.Errorf("%w: %q", ErrUnknownTravelMode, string(mode))
	}
	s.mu.Lock()
	s.travelMode = mode
	s.touchLocked()
	s.mu.Unlock()
	return nil
}

// UpdateLocation records the traveler's live position and passes it on to
// engines that track positions while guidance is running.
func (s *Session) UpdateLocation(ctx context.Context, wp Waypoint) error {
	if err := wp.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	s.currentLocation = &wp
	active := s.navigationActive
	s.touchLocked()
	s.mu.Unlock()

	if !active {
		return nil
	}
	if feeder, ok := s.engine.(PositionFeeder); ok {
		if err := feeder.UpdatePosition(ctx, wp.Point()); err != nil {
			return classifyEngineError("update position", err)
		}
	}
	return nil
}

// Route returns the current route snapshot, or nil.
func (s *Session) Route() *Route {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.route
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:               s.id,
		Phase:            s.phaseLocked(),
		Origin:           copyWaypoint(s.origin),
		Destination:      copyWaypoint(s.destination),
		Waypoints:        append([]Waypoint(nil), s.waypoints...),
		TravelMode:       s.travelMode,
		CurrentLocation:  copyWaypoint(s.currentLocation),
		Route:            s.route,
		NavigationActive: s.navigationActive,
		Recalculating:    s.recalculating,
		LastActivity:     s.lastActivity,
	}
}

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phaseLocked()
}

// IdleFor reports how long the session has gone without activity. Navigating
// sessions are never idle.
func (s *Session) IdleFor(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.navigationActive {
		return 0
	}
	return now.Sub(s.lastActivity)
}

// AcquireRoute requests a route for the configured trip, stores it and
// notifies subscribers of the outcome.
func (s *Session) AcquireRoute(ctx context.Context) (*Route, error) {
	s.mu.Lock()
	req, err := s.tripRequestLocked()
	s.mu.Unlock()
	if err != nil {
		s.notifyAcquisitionFailure(req, err)
		return nil, err
	}

	route, err := s.acquire(ctx, req)
	if err != nil {
		if errors.Is(err, ErrRouteSuperseded) {
			s.log.Debug(ctx, "discarding superseded route response")
			return nil, err
		}
		s.log.Warn(ctx, "route acquisition failed", logging.Err(err))
		s.notifyAcquisitionFailure(req, err)
		return nil, err
	}

	event := EventCalculatedRoute
	if req.viaDirections {
		event = EventGetDirections
	}
	s.notify(event, Notification{Route: route})
	return route, nil
}

// Start begins guidance on the current route. Engine events are accepted from
// here until Stop.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	route := s.route
	if route == nil {
		s.mu.Unlock()
		s.fail(EventNavigationError, ErrNoRouteAvailable)
		return ErrNoRouteAvailable
	}
	attached := s.removeListener == nil
	if attached {
		s.attachListenerLocked()
	}
	gen := s.listenerGen
	s.mu.Unlock()

	if err := s.engine.StartNavigation(ctx, route); err != nil {
		err = classifyEngineError("start navigation", err)
		if attached {
			s.mu.Lock()
			var remove func()
			if s.listenerGen == gen {
				remove = s.detachListenerLocked()
			}
			s.mu.Unlock()
			if remove != nil {
				remove()
			}
		}
		s.log.Warn(ctx, "start navigation failed", logging.Err(err))
		s.fail(EventNavigationError, err)
		return err
	}

	s.mu.Lock()
	if s.listenerGen != gen {
		superseded := s.navigationActive || s.removeListener != nil
		s.mu.Unlock()
		// Stop ran while the engine was starting, so its engine stop may have
		// landed before this start. Unless a newer start owns the engine now,
		// end the guidance that was just begun.
		if !superseded {
			s.stopEngine(ctx)
		}
		s.log.Info(ctx, "navigation stopped before start completed")
		return ErrNavigationStopped
	}
	from := s.phaseLocked()
	s.navigationActive = true
	s.touchLocked()
	s.logTransitionLocked(ctx, from)
	s.mu.Unlock()

	s.notify(EventStartNavigation, Notification{Route: route})
	return nil
}

// Stop ends guidance. The listener is torn down before the engine call so no
// engine event is processed once Stop has been requested. Engine failures are
// logged only.
func (s *Session) Stop(ctx context.Context) {
	s.mu.Lock()
	from := s.phaseLocked()
	s.navigationActive = false
	remove := s.detachListenerLocked()
	s.touchLocked()
	s.logTransitionLocked(ctx, from)
	s.mu.Unlock()

	if remove != nil {
		remove()
	}
	s.stopEngine(ctx)
	s.notify(EventStopNavigation, Notification{})
}

// stopEngine ends engine guidance; failures are logged only.
func (s *Session) stopEngine(ctx context.Context) {
	if err := s.engine.StopNavigation(context.WithoutCancel(ctx)); err != nil {
		s.log.Warn(ctx, "engine stop navigation failed", logging.Err(err))
	}
}

// routeRequest is an immutable snapshot of what to ask the engine for.
type routeRequest struct {
	stops         []Waypoint
	mode          TravelMode
	viaDirections bool
}

func (r routeRequest) validate() error {
	if len(r.stops) < 2 {
		return fmt.Errorf("%w: at least an origin and a destination are required", ErrInvalidLocation)
	}
	for _, wp := range r.stops {
		if err := wp.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (s *Session) tripRequestLocked() (routeRequest, error) {
	if len(s.waypoints) > 0 {
		stops := make([]Waypoint, 0, len(s.waypoints)+1)
		if s.origin != nil {
			stops = append(stops, *s.origin)
		}
		stops = append(stops, s.waypoints...)
		return routeRequest{stops: stops, mode: s.travelMode, viaDirections: true}, nil
	}
	req := routeRequest{mode: s.travelMode}
	if s.origin == nil {
		return req, fmt.Errorf("%w: origin has not been set", ErrInvalidLocation)
	}
	if s.destination == nil {
		return req, fmt.Errorf("%w: destination has not been set", ErrInvalidLocation)
	}
	req.stops = []Waypoint{*s.origin, *s.destination}
	return req, nil
}

// acquire validates, calls the engine and stores the normalized route unless a
// newer acquisition was issued meanwhile.
func (s *Session) acquire(ctx context.Context, req routeRequest) (*Route, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.routeGen++
	gen := s.routeGen
	s.mu.Unlock()

	started := time.Now()
	raw, err := s.callEngine(ctx, req)
	if s.observeAcquisition != nil {
		s.observeAcquisition(time.Since(started), err)
	}
	if err != nil {
		return nil, err
	}

	route, err := s.buildRoute(raw)
	if err != nil {
		return nil, &EngineError{Op: "normalize route", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.routeGen {
		return nil, ErrRouteSuperseded
	}
	s.route = route
	s.pendingStops = append([]Waypoint(nil), req.stops[1:]...)
	s.touchLocked()
	return route, nil
}

func (s *Session) callEngine(ctx context.Context, req routeRequest) (*EngineRoute, error) {
	var (
		raw *EngineRoute
		err error
	)
	if req.viaDirections {
		raw, err = s.engine.GetDirections(ctx, req.stops, req.mode)
	} else {
		raw, err = s.engine.CalculateRoute(ctx, req.stops[0], req.stops[1], req.mode)
	}
	if err != nil {
		return nil, classifyEngineError("calculate route", err)
	}
	if raw == nil {
		return nil, &EngineError{Op: "calculate route", Err: errors.New("No routes found for the supplied coordinates")}
	}
	return raw, nil
}

func (s *Session) buildRoute(raw *EngineRoute) (*Route, error) {
	norm, err := s.normalizer.Normalize(raw.Polyline)
	if err != nil {
		return nil, err
	}
	return &Route{
		Raw:             raw.Polyline,
		Coordinates:     norm.Coordinates,
		EncodedPolyline: norm.EncodedPolyline,
		DistanceM:       raw.DistanceM,
		Duration:        raw.Duration,
		Summary:         raw.Summary,
		Legs:            raw.Legs,
		Extra:           raw.Extra,
		CalculatedAt:    s.now(),
	}, nil
}

func (s *Session) attachListenerLocked() {
	s.listenerGen++
	gen := s.listenerGen
	remove := s.engine.AddListener(Listener{
		ProgressUpdated:      func(p Progress) { s.onProgress(gen, p) },
		OffRoute:             func(sig OffRouteSignal) { s.onOffRoute(gen, sig) },
		WillArriveAtWaypoint: func(a Arrival) { s.onArrival(gen, a) },
	})
	if remove == nil {
		remove = func() {}
	}
	s.removeListener = remove
}

// detachListenerLocked invalidates the current listener generation and hands
// back the engine removal func for the caller to run outside the lock.
func (s *Session) detachListenerLocked() func() {
	s.listenerGen++
	remove := s.removeListener
	s.removeListener = nil
	return remove
}

func (s *Session) onProgress(gen uint64, p Progress) {
	s.mu.Lock()
	if gen != s.listenerGen {
		s.mu.Unlock()
		return
	}
	if p.Location.Valid() {
		wp := NewWaypoint("", p.Location.Lat, p.Location.Lng)
		s.currentLocation = &wp
	}
	s.touchLocked()
	s.mu.Unlock()

	loc := p.Location
	s.notify(EventRouteProgressChange, Notification{Progress: &p, Location: &loc})
}

func (s *Session) onArrival(gen uint64, a Arrival) {
	s.mu.Lock()
	if gen != s.listenerGen {
		s.mu.Unlock()
		return
	}
	if !a.Final && len(s.pendingStops) > 1 {
		s.pendingStops = s.pendingStops[1:]
	}
	s.touchLocked()
	s.mu.Unlock()

	wp := a.Waypoint
	s.notify(EventWillArriveAtWaypoint, Notification{Arrival: &a, Location: &wp})
}

func (s *Session) notifyAcquisitionFailure(req routeRequest, err error) {
	event := EventCalculatedRouteError
	if req.viaDirections {
		event = EventDirectionsError
	}
	s.fail(event, err)
}

// fail publishes err on event and on the catch-all error event.
func (s *Session) fail(event Event, err error) {
	s.notify(event, Notification{Err: err})
	if event != EventError {
		s.notify(EventError, Notification{Err: err})
	}
}

func (s *Session) notify(event Event, n Notification) {
	n.SessionID = s.id
	if n.At.IsZero() {
		n.At = s.now()
	}
	s.registry.Notify(event, n)
}

func (s *Session) phaseLocked() Phase {
	return derivePhase(s.route != nil, s.navigationActive, s.recalculating)
}

func (s *Session) logTransitionLocked(ctx context.Context, from Phase) {
	to := s.phaseLocked()
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		s.log.Warn(ctx, "unexpected phase transition",
			logging.String("from", string(from)), logging.String("to", string(to)))
		return
	}
	s.log.Debug(ctx, "phase transition",
		logging.String("from", string(from)), logging.String("to", string(to)))
}

func (s *Session) touchLocked() {
	s.lastActivity = s.now()
}

func copyWaypoint(w *Waypoint) *Waypoint {
	if w == nil {
		return nil
	}
	c := *w
	return &c
}
