// README: Session tests (acquisition, start/stop lifecycle, stale responses, live position).
package navigation

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"navi/internal/types"
)

func TestAcquireRouteOriginDestination(t *testing.T) {
	eng := newFakeEngine()
	s, rec := newTestSession(t, eng)
	configureTrip(t, s)

	route, err := s.AcquireRoute(context.Background())
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if eng.calcCount() != 1 || len(eng.dirCalls) != 0 {
		t.Fatalf("calc=%d dir=%d, want one CalculateRoute", eng.calcCount(), len(eng.dirCalls))
	}
	call := eng.calcCalls[0]
	if call.origin.Latitude != 40.0 || call.destination.Longitude != -74.1 || call.mode != TravelModeDriving {
		t.Errorf("engine call = %+v", call)
	}
	assertPoints(t, route.Coordinates, []types.Point{
		{Lat: 3.85, Lng: -12.02},
		{Lat: 4.07, Lng: -12.095},
		{Lat: 4.3252, Lng: -12.6453},
	}, 1e-9)
	if route.EncodedPolyline == "" {
		t.Error("expected encoded polyline")
	}
	if s.Route() != route || s.Phase() != PhaseReady {
		t.Errorf("route not stored: phase=%s", s.Phase())
	}
	if want := []Event{EventCalculatedRoute}; !reflect.DeepEqual(rec.names(), want) {
		t.Errorf("events = %v, want %v", rec.names(), want)
	}
	n, _ := rec.last(EventCalculatedRoute)
	if n.Route != route || n.SessionID != "s1" {
		t.Errorf("notification = %+v", n)
	}
}

func TestAcquireRouteWaypointList(t *testing.T) {
	eng := newFakeEngine()
	s, rec := newTestSession(t, eng)
	origin := NewWaypoint("start", 40.0, -74.0)
	err := s.Configure(TripConfig{
		Origin: &origin,
		Waypoints: []Waypoint{
			NewWaypoint("a", 40.01, -74.01),
			NewWaypoint("b", 40.02, -74.02),
		},
		TravelMode: TravelModeWalking,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}

	if _, err := s.AcquireRoute(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if eng.calcCount() != 0 || len(eng.dirCalls) != 1 {
		t.Fatalf("calc=%d dir=%d, want one GetDirections", eng.calcCount(), len(eng.dirCalls))
	}
	if got := eng.dirCalls[0]; len(got) != 3 || got[0].Name != "start" || got[2].Name != "b" {
		t.Errorf("directions stops = %+v", got)
	}
	if want := []Event{EventGetDirections}; !reflect.DeepEqual(rec.names(), want) {
		t.Errorf("events = %v, want %v", rec.names(), want)
	}
}

func TestAcquireRouteInvalidLocationSkipsEngine(t *testing.T) {
	eng := newFakeEngine()
	s, rec := newTestSession(t, eng)
	origin := ParseWaypoint("pickup", "not-a-number", "-74.0")
	dest := NewWaypoint("dropoff", 40.1, -74.1)
	_ = s.Configure(TripConfig{Origin: &origin, Destination: &dest})

	_, err := s.AcquireRoute(context.Background())
	if !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("got %v, want ErrInvalidLocation", err)
	}
	if eng.calcCount() != 0 {
		t.Errorf("engine was called %d times", eng.calcCount())
	}
	if want := []Event{EventCalculatedRouteError, EventError}; !reflect.DeepEqual(rec.names(), want) {
		t.Errorf("events = %v, want %v", rec.names(), want)
	}
	if s.Route() != nil {
		t.Error("route must stay unset")
	}
}

func TestAcquireRouteOutOfRangeLatitude(t *testing.T) {
	eng := newFakeEngine()
	s, _ := newTestSession(t, eng)
	origin := NewWaypoint("pickup", 91, -74.0)
	dest := NewWaypoint("dropoff", 40.1, -74.1)
	_ = s.Configure(TripConfig{Origin: &origin, Destination: &dest})

	if _, err := s.AcquireRoute(context.Background()); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("got %v, want ErrInvalidLocation", err)
	}
	if eng.calcCount() != 0 {
		t.Errorf("engine was called")
	}
}

func TestAcquireRouteWithoutTrip(t *testing.T) {
	s, rec := newTestSession(t, newFakeEngine())
	if _, err := s.AcquireRoute(context.Background()); !errors.Is(err, ErrInvalidLocation) {
		t.Fatalf("got %v, want ErrInvalidLocation", err)
	}
	if rec.count(EventCalculatedRouteError) != 1 {
		t.Errorf("events = %v", rec.names())
	}
}

func TestAcquireRouteAddressUnresolvable(t *testing.T) {
	eng := newFakeEngine()
	eng.calcFn = func(context.Context, Waypoint, Waypoint, TravelMode) (*EngineRoute, error) {
		return nil, errors.New("Waypoint 1 could not be associated with a roadway or pathway.")
	}
	s, rec := newTestSession(t, eng)
	configureTrip(t, s)

	_, err := s.AcquireRoute(context.Background())
	if !errors.Is(err, ErrAddressUnresolvable) {
		t.Fatalf("got %v, want ErrAddressUnresolvable", err)
	}
	if err.Error() != "One of the addresses may be incomplete or invalid" {
		t.Errorf("message = %q", err.Error())
	}
	n, ok := rec.last(EventError)
	if !ok || !errors.Is(n.Err, ErrAddressUnresolvable) {
		t.Errorf("onError = %+v", n)
	}
}

func TestAcquireRouteEngineErrorVerbatim(t *testing.T) {
	eng := newFakeEngine()
	eng.calcFn = func(context.Context, Waypoint, Waypoint, TravelMode) (*EngineRoute, error) {
		return nil, errors.New("OVER_QUERY_LIMIT: quota exceeded")
	}
	s, rec := newTestSession(t, eng)
	configureTrip(t, s)

	_, err := s.AcquireRoute(context.Background())
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("got %T %v, want *EngineError", err, err)
	}
	if err.Error() != "OVER_QUERY_LIMIT: quota exceeded" {
		t.Errorf("message = %q", err.Error())
	}
	if want := []Event{EventCalculatedRouteError, EventError}; !reflect.DeepEqual(rec.names(), want) {
		t.Errorf("events = %v, want %v", rec.names(), want)
	}
}

func TestAcquireRouteEmptyEngineResult(t *testing.T) {
	eng := newFakeEngine()
	eng.calcFn = func(context.Context, Waypoint, Waypoint, TravelMode) (*EngineRoute, error) {
		return nil, nil
	}
	s, _ := newTestSession(t, eng)
	configureTrip(t, s)

	_, err := s.AcquireRoute(context.Background())
	var ee *EngineError
	if !errors.As(err, &ee) {
		t.Fatalf("got %v, want *EngineError", err)
	}
}

func TestAcquireRouteSupersededResponseDiscarded(t *testing.T) {
	eng := newFakeEngine()
	entered := make(chan struct{})
	release := make(chan struct{})
	var mu sync.Mutex
	calls := 0
	eng.calcFn = func(ctx context.Context, _, _ Waypoint, _ TravelMode) (*EngineRoute, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		r := sampleRoute()
		if n == 1 {
			close(entered)
			<-release
			r.Summary = "stale"
			return r, nil
		}
		r.Summary = "fresh"
		return r, nil
	}
	s, rec := newTestSession(t, eng)
	configureTrip(t, s)

	errc := make(chan error, 1)
	go func() {
		_, err := s.AcquireRoute(context.Background())
		errc <- err
	}()
	<-entered

	fresh, err := s.AcquireRoute(context.Background())
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	close(release)
	if err := <-errc; !errors.Is(err, ErrRouteSuperseded) {
		t.Fatalf("first acquire: got %v, want ErrRouteSuperseded", err)
	}

	if got := s.Route(); got != fresh || got.Summary != "fresh" {
		t.Errorf("stored route = %+v, want the fresh one", got)
	}
	if rec.count(EventCalculatedRoute) != 1 || rec.count(EventError) != 0 {
		t.Errorf("events = %v", rec.names())
	}
}

func TestTravelModeFrozenForInFlightRequest(t *testing.T) {
	eng := newFakeEngine()
	entered := make(chan struct{})
	release := make(chan struct{})
	eng.calcFn = func(ctx context.Context, _, _ Waypoint, _ TravelMode) (*EngineRoute, error) {
		select {
		case <-entered:
		default:
			close(entered)
			<-release
		}
		return sampleRoute(), nil
	}
	s, _ := newTestSession(t, eng)
	configureTrip(t, s)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.AcquireRoute(context.Background())
	}()
	<-entered
	if err := s.SetTravelMode(TravelModeCycling); err != nil {
		t.Fatalf("set mode: %v", err)
	}
	close(release)
	<-done

	if _, err := s.AcquireRoute(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if got := eng.calcCalls[0].mode; got != TravelModeDriving {
		t.Errorf("in-flight mode = %s, want driving", got)
	}
	if got := eng.calcCalls[1].mode; got != TravelModeCycling {
		t.Errorf("next mode = %s, want cycling", got)
	}
}

func TestConfigureRejectsUnknownTravelMode(t *testing.T) {
	s, _ := newTestSession(t, newFakeEngine())
	if err := s.Configure(TripConfig{TravelMode: "hovercraft"}); !errors.Is(err, ErrUnknownTravelMode) {
		t.Errorf("got %v, want ErrUnknownTravelMode", err)
	}
	if err := s.SetTravelMode("teleport"); !errors.Is(err, ErrUnknownTravelMode) {
		t.Errorf("got %v, want ErrUnknownTravelMode", err)
	}
}

func TestStartWithoutRoute(t *testing.T) {
	eng := newFakeEngine()
	s, rec := newTestSession(t, eng)

	if err := s.Start(context.Background()); !errors.Is(err, ErrNoRouteAvailable) {
		t.Fatalf("got %v, want ErrNoRouteAvailable", err)
	}
	if eng.startCount() != 0 || eng.listenerCount() != 0 {
		t.Errorf("engine touched: start=%d listeners=%d", eng.startCount(), eng.listenerCount())
	}
	if want := []Event{EventNavigationError, EventError}; !reflect.DeepEqual(rec.names(), want) {
		t.Errorf("events = %v, want %v", rec.names(), want)
	}
}

func TestStartNavigation(t *testing.T) {
	eng := newFakeEngine()
	s, rec := newTestSession(t, eng)
	mustStartNavigating(t, s)

	if s.Phase() != PhaseNavigating || !s.State().NavigationActive {
		t.Errorf("phase = %s", s.Phase())
	}
	if eng.listenerCount() != 1 {
		t.Errorf("listeners = %d, want 1", eng.listenerCount())
	}
	if eng.startCalls[0] != s.Route() {
		t.Error("engine started on a different route")
	}
	if want := []Event{EventCalculatedRoute, EventStartNavigation}; !reflect.DeepEqual(rec.names(), want) {
		t.Errorf("events = %v, want %v", rec.names(), want)
	}
}

func TestStartFailureKeepsReady(t *testing.T) {
	eng := newFakeEngine()
	eng.startErr = errBoom
	s, rec := newTestSession(t, eng)
	configureTrip(t, s)
	if _, err := s.AcquireRoute(context.Background()); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	err := s.Start(context.Background())
	if !errors.Is(err, errBoom) {
		t.Fatalf("got %v, want wrapped boom", err)
	}
	if s.Phase() != PhaseReady {
		t.Errorf("phase = %s, want ready", s.Phase())
	}
	if eng.listenerCount() != 0 {
		t.Errorf("listener left attached after failed start")
	}
	if rec.count(EventNavigationError) != 1 || rec.count(EventStartNavigation) != 0 {
		t.Errorf("events = %v", rec.names())
	}
}

func TestStopDuringEngineStart(t *testing.T) {
	eng := newFakeEngine()
	entered := make(chan struct{})
	release := make(chan struct{})
	eng.startFn = func(context.Context, *Route) error {
		close(entered)
		<-release
		return nil
	}
	s, rec := newTestSession(t, eng)
	configureTrip(t, s)
	ctx := context.Background()
	if _, err := s.AcquireRoute(ctx); err != nil {
		t.Fatalf("acquire: %v", err)
	}

	started := make(chan error, 1)
	go func() { started <- s.Start(ctx) }()
	<-entered
	s.Stop(ctx)
	close(release)

	if err := <-started; !errors.Is(err, ErrNavigationStopped) {
		t.Fatalf("start returned %v, want ErrNavigationStopped", err)
	}
	if s.Phase() != PhaseReady {
		t.Errorf("phase = %s, want ready", s.Phase())
	}
	// The engine start landed after Stop's engine stop, so it is stopped again.
	if eng.startCount() != 1 || eng.stopCount() != 2 {
		t.Errorf("engine start=%d stop=%d, want 1/2", eng.startCount(), eng.stopCount())
	}
	if eng.listenerCount() != 0 {
		t.Errorf("listeners = %d after stop", eng.listenerCount())
	}
	if rec.count(EventStartNavigation) != 0 || rec.count(EventStopNavigation) != 1 {
		t.Errorf("events = %v", rec.names())
	}
}

func TestStopNotifiesSubscribersInOrder(t *testing.T) {
	eng := newFakeEngine()
	s, _ := newTestSession(t, eng)
	var order []string
	_ = s.Subscribe("first", Handlers{EventStopNavigation: func(Notification) { order = append(order, "first") }})
	_ = s.Subscribe("second", Handlers{EventStopNavigation: func(Notification) { order = append(order, "second") }})
	mustStartNavigating(t, s)

	s.Stop(context.Background())

	if want := []string{"first", "second"}; !reflect.DeepEqual(order, want) {
		t.Errorf("order = %v, want %v", order, want)
	}
	if eng.listenerCount() != 0 || eng.stopCalls != 1 {
		t.Errorf("listeners=%d stops=%d", eng.listenerCount(), eng.stopCalls)
	}
	if s.Phase() != PhaseReady {
		t.Errorf("phase = %s, want ready", s.Phase())
	}
}

func TestStopSwallowsEngineError(t *testing.T) {
	eng := newFakeEngine()
	eng.stopErr = errors.New("navigation has not been set up")
	s, rec := newTestSession(t, eng)

	s.Stop(context.Background())

	if rec.count(EventStopNavigation) != 1 || rec.count(EventError) != 0 {
		t.Errorf("events = %v", rec.names())
	}
}

func TestStoppedSessionIgnoresLateEngineEvents(t *testing.T) {
	eng := newFakeEngine()
	s, rec := newTestSession(t, eng)
	mustStartNavigating(t, s)
	stale := eng.snapshot()

	s.Stop(context.Background())
	before := len(rec.names())

	loc := types.Point{Lat: 40.05, Lng: -74.05}
	for _, l := range stale {
		l.OffRoute(OffRouteSignal{Location: &loc})
		l.ProgressUpdated(Progress{Location: loc})
		l.WillArriveAtWaypoint(Arrival{Final: true})
	}
	eng.emitOffRoute(OffRouteSignal{Location: &loc})

	if eng.calcCount() != 1 {
		t.Errorf("recalculation ran after stop: calc=%d", eng.calcCount())
	}
	if got := len(rec.names()); got != before {
		t.Errorf("events after stop: %v", rec.names()[before:])
	}
}

func TestProgressUpdatesLocation(t *testing.T) {
	eng := newFakeEngine()
	s, rec := newTestSession(t, eng)
	mustStartNavigating(t, s)

	eng.emitProgress(Progress{
		Location:           types.Point{Lat: 40.03, Lng: -74.03},
		RemainingDistanceM: 800,
		FractionTraveled:   0.3,
	})

	n, ok := rec.last(EventRouteProgressChange)
	if !ok || n.Progress == nil || n.Progress.RemainingDistanceM != 800 {
		t.Fatalf("progress notification = %+v", n)
	}
	cur := s.State().CurrentLocation
	if cur == nil || cur.Latitude != 40.03 {
		t.Errorf("current location = %+v", cur)
	}
}

func TestUpdateLocationForwardsOnlyWhileNavigating(t *testing.T) {
	eng := newFakeEngine()
	s, _ := newTestSession(t, eng)
	ctx := context.Background()

	if err := s.UpdateLocation(ctx, NewWaypoint("", 40.0, -74.0)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(eng.positions) != 0 {
		t.Errorf("position forwarded before navigation")
	}

	mustStartNavigating(t, s)
	if err := s.UpdateLocation(ctx, NewWaypoint("", 40.01, -74.01)); err != nil {
		t.Fatalf("update: %v", err)
	}
	if len(eng.positions) != 1 || eng.positions[0].Lat != 40.01 {
		t.Errorf("positions = %v", eng.positions)
	}

	if err := s.UpdateLocation(ctx, NewWaypoint("", math.NaN(), 0)); !errors.Is(err, ErrInvalidLocation) {
		t.Errorf("got %v, want ErrInvalidLocation", err)
	}
}

func TestIdleFor(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	eng := newFakeEngine()
	s, err := NewSession("idle", eng, "k", Options{Normalizer: NewNormalizer(FormatEncoded, 5), Now: clock})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if got := s.IdleFor(now.Add(time.Hour)); got != time.Hour {
		t.Errorf("idle = %v, want 1h", got)
	}
	mustStartNavigating(t, s)
	if got := s.IdleFor(now.Add(time.Hour)); got != 0 {
		t.Errorf("navigating session idle = %v, want 0", got)
	}
}

func TestNewSessionSetsCredentials(t *testing.T) {
	eng := newFakeEngine()
	if _, err := NewSession("x", eng, "secret", Options{}); err != nil {
		t.Fatalf("new session: %v", err)
	}
	if eng.key != "secret" {
		t.Errorf("key = %q", eng.key)
	}
	if _, err := NewSession("x", nil, "secret", Options{}); err == nil {
		t.Error("expected error for nil engine")
	}
}

func TestWaypointJSON(t *testing.T) {
	var wps []Waypoint
	body := `[{"name":"a","latitude":"40.5","longitude":-74},{"name":"b","latitude":"abc","longitude":1},{"name":"c"}]`
	if err := json.Unmarshal([]byte(body), &wps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if wps[0].Latitude != 40.5 || wps[0].Validate() != nil {
		t.Errorf("numeric string not parsed: %+v", wps[0])
	}
	if !errors.Is(wps[1].Validate(), ErrInvalidLocation) {
		t.Errorf("unparsable latitude accepted: %+v", wps[1])
	}
	if !math.IsNaN(wps[2].Latitude) || !errors.Is(wps[2].Validate(), ErrInvalidLocation) {
		t.Errorf("missing coordinates accepted: %+v", wps[2])
	}

	out, err := json.Marshal(wps[2])
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != `{"name":"c","latitude":null,"longitude":null}` {
		t.Errorf("marshal = %s", out)
	}
}

func TestPhaseTransitions(t *testing.T) {
	cases := []struct {
		from, to Phase
		want     bool
	}{
		{PhaseIdle, PhaseReady, true},
		{PhaseReady, PhaseNavigating, true},
		{PhaseNavigating, PhaseRecalculating, true},
		{PhaseRecalculating, PhaseNavigating, true},
		{PhaseRecalculating, PhaseReady, true},
		{PhaseNavigating, PhaseReady, true},
		{PhaseIdle, PhaseNavigating, false},
		{PhaseReady, PhaseRecalculating, false},
		{PhaseReady, PhaseIdle, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
	if got := derivePhase(true, true, true); got != PhaseRecalculating {
		t.Errorf("derivePhase = %s", got)
	}
	if got := derivePhase(false, false, false); got != PhaseIdle {
		t.Errorf("derivePhase = %s", got)
	}
}

func TestParseTravelMode(t *testing.T) {
	if m, err := ParseTravelMode(""); err != nil || m != TravelModeDriving {
		t.Errorf("empty = %v, %v", m, err)
	}
	if m, err := ParseTravelMode(" Walking "); err != nil || m != TravelModeWalking {
		t.Errorf("walking = %v, %v", m, err)
	}
	if _, err := ParseTravelMode("rocket"); !errors.Is(err, ErrUnknownTravelMode) {
		t.Errorf("rocket: %v", err)
	}
}
