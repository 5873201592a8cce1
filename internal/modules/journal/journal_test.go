// README: Journal tests (entry mapping, recorder queueing, Postgres round trip).
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"navi/internal/modules/navigation"
	"navi/internal/types"
)

func TestFromNotificationRoute(t *testing.T) {
	at := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	n := navigation.Notification{
		Event:     navigation.EventCalculatedRoute,
		SessionID: "s1",
		At:        at,
		Route: &navigation.Route{
			Coordinates:     []types.Point{{Lat: 57.64911, Lng: 10.40744}, {Lat: 57.65, Lng: 10.41}},
			EncodedPolyline: "abc",
			DistanceM:       1500,
			Summary:         "E45",
		},
	}
	e, err := FromNotification(n)
	if err != nil {
		t.Fatalf("from notification: %v", err)
	}
	if e.SessionID != "s1" || e.Event != "onCalculatedRoute" || !e.CreatedAt.Equal(at) {
		t.Errorf("entry = %+v", e)
	}
	if e.RouteDistanceM == nil || *e.RouteDistanceM != 1500 {
		t.Errorf("distance = %v", e.RouteDistanceM)
	}
	if e.Geohash != "u4pruyd" {
		t.Errorf("geohash = %q, want u4pruyd", e.Geohash)
	}
	var p map[string]any
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if p["summary"] != "E45" || p["points"] != float64(2) || p["encoded_polyline"] != "abc" {
		t.Errorf("payload = %v", p)
	}
}

func TestFromNotificationErrorAndLocation(t *testing.T) {
	loc := types.Point{Lat: 57.64911, Lng: 10.40744}
	e, err := FromNotification(navigation.Notification{
		Event:    navigation.EventNavigationError,
		Err:      errors.New("engine exploded"),
		Location: &loc,
	})
	if err != nil {
		t.Fatalf("from notification: %v", err)
	}
	if e.Error != "engine exploded" || e.RouteDistanceM != nil || e.Payload != nil {
		t.Errorf("entry = %+v", e)
	}
	if e.Geohash != "u4pruyd" || e.CreatedAt.IsZero() {
		t.Errorf("geohash=%q created=%v", e.Geohash, e.CreatedAt)
	}
}

type memAppender struct {
	mu      sync.Mutex
	entries []Entry
	fail    bool
}

func (m *memAppender) Append(_ context.Context, e Entry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return 0, errors.New("db down")
	}
	m.entries = append(m.entries, e)
	return int64(len(m.entries)), nil
}

func (m *memAppender) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func TestRecorderWritesQueuedNotifications(t *testing.T) {
	store := &memAppender{}
	r := newRecorder(store, nil, 8)
	h := r.Handlers("s1")
	if r.Name() != "journal" || len(h) != len(navigation.AllEvents) {
		t.Fatalf("name=%q handlers=%d", r.Name(), len(h))
	}

	h[navigation.EventStartNavigation](navigation.Notification{Event: navigation.EventStartNavigation, SessionID: "s1"})
	h[navigation.EventStopNavigation](navigation.Notification{Event: navigation.EventStopNavigation, SessionID: "s1"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.Run(ctx)
	}()
	deadline := time.Now().Add(2 * time.Second)
	for store.len() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if store.len() != 2 {
		t.Fatalf("entries = %d, want 2", store.len())
	}
	if store.entries[0].Event != "onStartNavigation" || store.entries[1].Event != "onStopNavigation" {
		t.Errorf("entries = %+v", store.entries)
	}
}

func TestRecorderDropsWhenFull(t *testing.T) {
	store := &memAppender{}
	r := newRecorder(store, nil, 1)
	h := r.Handlers("s1")
	for i := 0; i < 3; i++ {
		h[navigation.EventRouteProgressChange](navigation.Notification{Event: navigation.EventRouteProgressChange})
	}
	if len(r.queue) != 1 {
		t.Errorf("queued = %d, want 1", len(r.queue))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)
	if store.len() != 1 {
		t.Errorf("drained = %d, want 1", store.len())
	}
}

func TestRecorderSurvivesStoreFailure(t *testing.T) {
	store := &memAppender{fail: true}
	r := newRecorder(store, nil, 4)
	r.Handlers("s1")[navigation.EventError](navigation.Notification{Event: navigation.EventError})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r.Run(ctx)
	if len(r.queue) != 0 {
		t.Errorf("queue not drained")
	}
}

func TestStoreRoundTrip(t *testing.T) {
	dsn := os.Getenv("NAVI_DB_DSN")
	if dsn == "" {
		t.Skip("NAVI_DB_DSN not set; skipping integration test")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer pool.Close()

	store := NewStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		t.Fatalf("schema: %v", err)
	}

	sessionID := fmt.Sprintf("journal_test_%d", time.Now().UnixNano())
	d := 900.0
	first := Entry{SessionID: sessionID, Event: "onCalculatedRoute", RouteDistanceM: &d, Geohash: "dr5regw", Payload: json.RawMessage(`{"summary":"x"}`), CreatedAt: time.Now()}
	second := Entry{SessionID: sessionID, Event: "onError", Error: "boom", CreatedAt: time.Now().Add(time.Second)}
	for _, e := range []Entry{first, second} {
		if _, err := store.Append(ctx, e); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	defer pool.Exec(ctx, `DELETE FROM navigation_events WHERE session_id = $1`, sessionID)

	got, err := store.ListBySession(ctx, sessionID, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("entries = %d, want 2", len(got))
	}
	if got[0].Event != "onCalculatedRoute" || got[0].RouteDistanceM == nil || *got[0].RouteDistanceM != 900 {
		t.Errorf("first = %+v", got[0])
	}
	if got[1].Error != "boom" || got[1].Payload != nil {
		t.Errorf("second = %+v", got[1])
	}
}
