// README: Navigator: Google Maps backed routing engine with position-driven guidance events.
package maps

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"navi/internal/logging"
	"navi/internal/modules/navigation"
	"navi/internal/types"
)

var (
	ErrNotSetUp      = errors.New("navigation has not been set up")
	ErrNoCredentials = errors.New("routing engine credentials have not been set")
	ErrEmptyGeometry = errors.New("route has no geometry")
	errNilRoute      = errors.New("route is required")
)

const (
	defaultToleranceM  = 50.0
	defaultArrivalM    = 30.0
	defaultEventBuffer = 32
)

type NavigatorConfig struct {
	Client             ClientConfig
	OffRouteToleranceM float64
	ArrivalRadiusM     float64
	EventBuffer        int
}

// router is the slice of RouteService the navigator uses.
type router interface {
	Route(ctx context.Context, stops []navigation.Waypoint, mode navigation.TravelMode) (*navigation.EngineRoute, error)
}

// Navigator implements navigation.Engine and navigation.PositionFeeder for one
// session. Listener callbacks run on a dedicated goroutine that exists while
// guidance is active; events queued before a stop or a restart are dropped.
type Navigator struct {
	cfg NavigatorConfig
	log logging.Logger

	mu        sync.Mutex
	routes    router
	listeners map[uint64]navigation.Listener
	nextID    uint64
	guide     *guidance
	gen       uint64
	events    chan engineEvent
}

func NewNavigator(cfg NavigatorConfig, log logging.Logger) *Navigator {
	if cfg.OffRouteToleranceM <= 0 {
		cfg.OffRouteToleranceM = defaultToleranceM
	}
	if cfg.ArrivalRadiusM <= 0 {
		cfg.ArrivalRadiusM = defaultArrivalM
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = defaultEventBuffer
	}
	return &Navigator{
		cfg:       cfg,
		log:       logging.OrNoop(log),
		listeners: make(map[uint64]navigation.Listener),
	}
}

// SetCredentials builds the Directions client for key.
func (n *Navigator) SetCredentials(key string) error {
	rs, err := NewRouteService(key, n.cfg.Client)
	if err != nil {
		return err
	}
	n.mu.Lock()
	n.routes = rs
	n.mu.Unlock()
	return nil
}

func (n *Navigator) CalculateRoute(ctx context.Context, origin, destination navigation.Waypoint, mode navigation.TravelMode) (*navigation.EngineRoute, error) {
	return n.route(ctx, []navigation.Waypoint{origin, destination}, mode)
}

func (n *Navigator) GetDirections(ctx context.Context, waypoints []navigation.Waypoint, mode navigation.TravelMode) (*navigation.EngineRoute, error) {
	return n.route(ctx, waypoints, mode)
}

func (n *Navigator) route(ctx context.Context, stops []navigation.Waypoint, mode navigation.TravelMode) (*navigation.EngineRoute, error) {
	n.mu.Lock()
	rs := n.routes
	n.mu.Unlock()
	if rs == nil {
		return nil, ErrNoCredentials
	}
	return rs.Route(ctx, stops, mode)
}

// StartNavigation begins guidance on route, replacing any active guidance.
func (n *Navigator) StartNavigation(ctx context.Context, route *navigation.Route) error {
	if route == nil {
		return errNilRoute
	}
	if len(route.Coordinates) == 0 {
		return ErrEmptyGeometry
	}
	g := newGuidance(route)

	n.mu.Lock()
	defer n.mu.Unlock()
	n.gen++
	n.guide = g
	if n.events == nil {
		n.events = make(chan engineEvent, n.cfg.EventBuffer)
		go n.loop(n.events)
	}
	n.log.Debug(ctx, "guidance started",
		logging.Any("route_length_m", g.path.length()),
		logging.Int("legs", len(g.legEnds)))
	return nil
}

// StopNavigation ends guidance. It fails when no guidance is active.
func (n *Navigator) StopNavigation(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.guide == nil {
		return ErrNotSetUp
	}
	n.guide = nil
	n.gen++
	close(n.events)
	n.events = nil
	n.log.Debug(ctx, "guidance stopped")
	return nil
}

func (n *Navigator) AddListener(l navigation.Listener) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.listeners[id] = l
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.listeners, id)
	}
}

// UpdatePosition advances guidance with a live position. Positions received
// while no guidance is active are ignored.
func (n *Navigator) UpdatePosition(ctx context.Context, p types.Point) error {
	if !p.Valid() {
		return fmt.Errorf("%w: (%v, %v)", navigation.ErrInvalidLocation, p.Lat, p.Lng)
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.guide == nil {
		return nil
	}
	for _, ev := range n.guide.advance(p, n.cfg) {
		ev.gen = n.gen
		select {
		case n.events <- ev:
		default:
			n.log.Warn(ctx, "guidance event dropped; listener backlog full")
		}
	}
	return nil
}

func (n *Navigator) loop(events <-chan engineEvent) {
	for ev := range events {
		n.mu.Lock()
		if ev.gen != n.gen {
			n.mu.Unlock()
			continue
		}
		targets := n.listenersLocked()
		n.mu.Unlock()

		for _, l := range targets {
			n.deliver(l, ev)
		}
	}
}

func (n *Navigator) listenersLocked() []navigation.Listener {
	ids := make([]uint64, 0, len(n.listeners))
	for id := range n.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]navigation.Listener, len(ids))
	for i, id := range ids {
		out[i] = n.listeners[id]
	}
	return out
}

func (n *Navigator) deliver(l navigation.Listener, ev engineEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			n.log.Error(context.Background(), "guidance listener panicked", logging.Any("panic", rec))
		}
	}()
	switch {
	case ev.progress != nil && l.ProgressUpdated != nil:
		l.ProgressUpdated(*ev.progress)
	case ev.offRoute != nil && l.OffRoute != nil:
		l.OffRoute(*ev.offRoute)
	case ev.arrival != nil && l.WillArriveAtWaypoint != nil:
		l.WillArriveAtWaypoint(*ev.arrival)
	}
}

// engineEvent carries exactly one of its payloads.
type engineEvent struct {
	gen      uint64
	progress *navigation.Progress
	offRoute *navigation.OffRouteSignal
	arrival  *navigation.Arrival
}

type legEnd struct {
	point types.Point
	final bool
}

type stepMark struct {
	step navigation.Step
	endM float64 // cumulative distance at the end of the step, scaled to the path
}

// guidance is the per-route tracking state.
type guidance struct {
	route   *navigation.Route
	path    path
	legEnds []legEnd
	nextLeg int
	steps   []stepMark
}

func newGuidance(route *navigation.Route) *guidance {
	g := &guidance{route: route, path: newPath(route.Coordinates)}

	for i, leg := range route.Legs {
		g.legEnds = append(g.legEnds, legEnd{point: leg.End, final: i == len(route.Legs)-1})
	}
	if len(g.legEnds) == 0 {
		g.legEnds = []legEnd{{point: route.Coordinates[len(route.Coordinates)-1], final: true}}
	}

	var stepTotal float64
	for _, leg := range route.Legs {
		for _, st := range leg.Steps {
			stepTotal += st.DistanceM
		}
	}
	if stepTotal > 0 {
		scale := g.path.length() / stepTotal
		var cum float64
		for _, leg := range route.Legs {
			for _, st := range leg.Steps {
				cum += st.DistanceM * scale
				g.steps = append(g.steps, stepMark{step: st, endM: cum})
			}
		}
	}
	return g
}

// advance turns one position into the events it implies.
func (g *guidance) advance(p types.Point, cfg NavigatorConfig) []engineEvent {
	var out []engineEvent
	loc := p

	f := g.path.locate(p)
	if f.crossTrackM > cfg.OffRouteToleranceM && len(g.path.points) > 1 {
		out = append(out, engineEvent{offRoute: &navigation.OffRouteSignal{Location: &loc, DeviationM: f.crossTrackM}})
		return out
	}

	total := g.path.length()
	remaining := total - f.alongM
	if remaining < 0 {
		remaining = 0
	}
	prog := navigation.Progress{Location: p, RemainingDistanceM: remaining}
	if total > 0 {
		prog.FractionTraveled = f.alongM / total
		prog.RemainingDuration = scaleDuration(g.route, remaining/total)
	}
	if sm, ok := g.currentStep(f.alongM); ok {
		prog.CurrentStep = &navigation.StepProgress{
			Text:          sm.step.Instruction,
			Direction:     sm.step.Maneuver,
			DistanceToEnd: sm.endM - f.alongM,
		}
	}
	out = append(out, engineEvent{progress: &prog})

	if g.nextLeg < len(g.legEnds) {
		end := g.legEnds[g.nextLeg]
		if HaversineM(p, end.point) <= cfg.ArrivalRadiusM {
			out = append(out, engineEvent{arrival: &navigation.Arrival{
				LegIndex: g.nextLeg,
				Waypoint: end.point,
				Final:    end.final,
			}})
			g.nextLeg++
		}
	}
	return out
}

func (g *guidance) currentStep(alongM float64) (stepMark, bool) {
	for _, sm := range g.steps {
		if alongM <= sm.endM {
			return sm, true
		}
	}
	return stepMark{}, false
}

func scaleDuration(route *navigation.Route, frac float64) time.Duration {
	return time.Duration(float64(route.Duration) * frac).Round(time.Second)
}
