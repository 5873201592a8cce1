// README: Subscriber registry: typed event names, handler tables and ordered fan-out.
package navigation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"navi/internal/logging"
	"navi/internal/types"
)

// Event is the closed set of notifications a session publishes.
type Event string

const (
	EventGetDirections        Event = "onGetDirections"
	EventCalculatedRoute      Event = "onCalculatedRoute"
	EventDirectionsError      Event = "onDirectionsError"
	EventCalculatedRouteError Event = "onCalculatedRouteError"
	EventStartNavigation      Event = "onStartNavigation"
	EventStopNavigation       Event = "onStopNavigation"
	EventNavigationError      Event = "onNavigationError"
	EventError                Event = "onError"
	EventRouteRecalculation   Event = "onRouteRecalculation"
	EventRecalculated         Event = "onRecalculated"
	EventRouteProgressChange  Event = "onRouteProgressChange"
	EventWillArriveAtWaypoint Event = "onWillArriveAtWaypoint"
)

// AllEvents lists every event in a stable order.
var AllEvents = []Event{
	EventGetDirections,
	EventCalculatedRoute,
	EventDirectionsError,
	EventCalculatedRouteError,
	EventStartNavigation,
	EventStopNavigation,
	EventNavigationError,
	EventError,
	EventRouteRecalculation,
	EventRecalculated,
	EventRouteProgressChange,
	EventWillArriveAtWaypoint,
}

var knownEvents = func() map[Event]bool {
	m := make(map[Event]bool, len(AllEvents))
	for _, e := range AllEvents {
		m[e] = true
	}
	return m
}()

func (e Event) Valid() bool { return knownEvents[e] }

// ParseEvent validates a wire event name.
func ParseEvent(s string) (Event, error) {
	e := Event(s)
	if !e.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownEvent, s)
	}
	return e, nil
}

var (
	ErrUnknownEvent    = errors.New("unknown event")
	ErrEmptySubscriber = errors.New("subscriber id is required")
	ErrNilHandler      = errors.New("nil handler")
)

// Notification is the payload delivered to handlers. Only the fields relevant
// to Event are set.
type Notification struct {
	Event     Event
	SessionID string
	At        time.Time
	Route     *Route
	Progress  *Progress
	Arrival   *Arrival
	Location  *types.Point
	Err       error
}

type Handler func(Notification)

// Handlers binds events to handlers for one subscriber.
type Handlers map[Event]Handler

// AllHandlers binds h to every event.
func AllHandlers(h Handler) Handlers {
	out := make(Handlers, len(AllEvents))
	for _, e := range AllEvents {
		out[e] = h
	}
	return out
}

type subscriber struct {
	id       string
	handlers Handlers
}

// Registry is an ordered, keyed set of subscribers. Notify is synchronous.
type Registry struct {
	mu   sync.RWMutex
	subs []subscriber
	log  logging.Logger
}

func NewRegistry(log logging.Logger) *Registry {
	return &Registry{log: logging.OrNoop(log)}
}

// Subscribe registers or replaces the table for id. A replaced subscriber keeps
// its original position in notification order.
func (r *Registry) Subscribe(id string, handlers Handlers) error {
	if id == "" {
		return ErrEmptySubscriber
	}
	table := make(Handlers, len(handlers))
	for e, h := range handlers {
		if !e.Valid() {
			return fmt.Errorf("%w: %q", ErrUnknownEvent, string(e))
		}
		if h == nil {
			return fmt.Errorf("%w for %s", ErrNilHandler, e)
		}
		table[e] = h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].id == id {
			r.subs[i].handlers = table
			return nil
		}
	}
	r.subs = append(r.subs, subscriber{id: id, handlers: table})
	return nil
}

func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.subs {
		if r.subs[i].id == id {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return
		}
	}
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Notify calls every subscriber bound to event in registration order. A panic in
// one handler is logged and does not stop the rest.
func (r *Registry) Notify(event Event, n Notification) {
	n.Event = event
	if n.At.IsZero() {
		n.At = time.Now()
	}

	r.mu.RLock()
	targets := make([]subscriber, 0, len(r.subs))
	for _, s := range r.subs {
		if _, ok := s.handlers[event]; ok {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	for _, s := range targets {
		r.invoke(s.id, s.handlers[event], n)
	}
}

func (r *Registry) invoke(id string, h Handler, n Notification) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error(context.Background(), "subscriber handler panicked",
				logging.String("subscriber", id),
				logging.String("event", string(n.Event)),
				logging.Any("panic", rec))
		}
	}()
	h(n)
}
