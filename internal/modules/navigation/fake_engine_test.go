package navigation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"navi/internal/types"
)

// googleSample is the canonical encoded polyline example; read at precision 6
// it yields (3.85,-12.02), (4.07,-12.095), (4.3252,-12.6453).
const googleSample = "_p~iF~ps|U_ulLnnqC_mqNvxq`@"

type calcCall struct {
	origin      Waypoint
	destination Waypoint
	mode        TravelMode
}

type fakeEngine struct {
	mu sync.Mutex

	key        string
	calcCalls  []calcCall
	dirCalls   [][]Waypoint
	startCalls []*Route
	stopCalls  int
	positions  []types.Point

	listeners map[int]Listener
	nextID    int

	calcFn   func(ctx context.Context, origin, destination Waypoint, mode TravelMode) (*EngineRoute, error)
	dirFn    func(ctx context.Context, waypoints []Waypoint, mode TravelMode) (*EngineRoute, error)
	startFn  func(ctx context.Context, route *Route) error
	startErr error
	stopErr  error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{listeners: make(map[int]Listener)}
}

func sampleRoute() *EngineRoute {
	return &EngineRoute{
		Polyline:  RawPolyline{Encoded: googleSample},
		DistanceM: 1200,
		Duration:  3 * time.Minute,
		Summary:   "sample",
	}
}

func (f *fakeEngine) SetCredentials(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.key = key
	return nil
}

func (f *fakeEngine) CalculateRoute(ctx context.Context, origin, destination Waypoint, mode TravelMode) (*EngineRoute, error) {
	f.mu.Lock()
	f.calcCalls = append(f.calcCalls, calcCall{origin: origin, destination: destination, mode: mode})
	fn := f.calcFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, origin, destination, mode)
	}
	return sampleRoute(), nil
}

func (f *fakeEngine) GetDirections(ctx context.Context, waypoints []Waypoint, mode TravelMode) (*EngineRoute, error) {
	f.mu.Lock()
	f.dirCalls = append(f.dirCalls, append([]Waypoint(nil), waypoints...))
	fn := f.dirFn
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, waypoints, mode)
	}
	return sampleRoute(), nil
}

func (f *fakeEngine) StartNavigation(ctx context.Context, route *Route) error {
	f.mu.Lock()
	fn := f.startFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, route); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls = append(f.startCalls, route)
	return f.startErr
}

func (f *fakeEngine) StopNavigation(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopCalls++
	return f.stopErr
}

func (f *fakeEngine) AddListener(l Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.listeners[id] = l
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, id)
	}
}

func (f *fakeEngine) UpdatePosition(_ context.Context, p types.Point) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.positions = append(f.positions, p)
	return nil
}

func (f *fakeEngine) snapshot() []Listener {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Listener, 0, len(f.listeners))
	for _, l := range f.listeners {
		out = append(out, l)
	}
	return out
}

func (f *fakeEngine) emitOffRoute(sig OffRouteSignal) {
	for _, l := range f.snapshot() {
		if l.OffRoute != nil {
			l.OffRoute(sig)
		}
	}
}

func (f *fakeEngine) emitProgress(p Progress) {
	for _, l := range f.snapshot() {
		if l.ProgressUpdated != nil {
			l.ProgressUpdated(p)
		}
	}
}

func (f *fakeEngine) emitArrival(a Arrival) {
	for _, l := range f.snapshot() {
		if l.WillArriveAtWaypoint != nil {
			l.WillArriveAtWaypoint(a)
		}
	}
}

func (f *fakeEngine) listenerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

func (f *fakeEngine) calcCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calcCalls)
}

func (f *fakeEngine) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stopCalls
}

func (f *fakeEngine) startCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.startCalls)
}

// recorder collects notifications for assertions.
type recorder struct {
	mu     sync.Mutex
	events []Notification
}

func (r *recorder) handler(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, n)
}

func (r *recorder) names() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	for i, n := range r.events {
		out[i] = n.Event
	}
	return out
}

func (r *recorder) last(e Event) (Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.events) - 1; i >= 0; i-- {
		if r.events[i].Event == e {
			return r.events[i], true
		}
	}
	return Notification{}, false
}

func (r *recorder) count(e Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Event == e {
			n++
		}
	}
	return n
}

func newTestSession(t *testing.T, engine *fakeEngine) (*Session, *recorder) {
	t.Helper()
	s, err := NewSession("s1", engine, "test-key", Options{
		Normalizer:     NewNormalizer(FormatEncoded, 5),
		RerouteTimeout: time.Second,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	rec := &recorder{}
	if err := s.Subscribe("rec", AllHandlers(rec.handler)); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	return s, rec
}

func configureTrip(t *testing.T, s *Session) {
	t.Helper()
	origin := NewWaypoint("pickup", 40.0, -74.0)
	dest := NewWaypoint("dropoff", 40.1, -74.1)
	if err := s.Configure(TripConfig{Origin: &origin, Destination: &dest}); err != nil {
		t.Fatalf("configure: %v", err)
	}
}

func mustStartNavigating(t *testing.T, s *Session) {
	t.Helper()
	ctx := context.Background()
	configureTrip(t, s)
	if _, err := s.AcquireRoute(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
}

var errBoom = errors.New("boom")
