// README: Routing engine contract consumed by sessions, plus the engine event payloads.
package navigation

import (
	"context"
	"time"

	"navi/internal/types"
)

// EngineRoute is a route as the engine returns it, before normalization.
type EngineRoute struct {
	Polyline  RawPolyline
	DistanceM float64
	Duration  time.Duration
	Summary   string
	Legs      []Leg
	Extra     map[string]any
}

// Engine computes routes and drives turn-by-turn guidance.
// Listeners must not be invoked synchronously from AddListener, StartNavigation
// or StopNavigation.
type Engine interface {
	SetCredentials(key string) error
	CalculateRoute(ctx context.Context, origin, destination Waypoint, mode TravelMode) (*EngineRoute, error)
	GetDirections(ctx context.Context, waypoints []Waypoint, mode TravelMode) (*EngineRoute, error)
	StartNavigation(ctx context.Context, route *Route) error
	StopNavigation(ctx context.Context) error
	// AddListener registers l for engine events and returns its removal func.
	AddListener(l Listener) (remove func())
}

// PositionFeeder is implemented by engines that consume live positions.
type PositionFeeder interface {
	UpdatePosition(ctx context.Context, p types.Point) error
}

// Listener receives the engine's event streams. Nil funcs are skipped.
type Listener struct {
	ProgressUpdated      func(Progress)
	OffRoute             func(OffRouteSignal)
	WillArriveAtWaypoint func(Arrival)
}

type StepProgress struct {
	Text          string  `json:"text"`
	Direction     string  `json:"direction,omitempty"`
	DistanceToEnd float64 `json:"distance_to_end"`
}

type Progress struct {
	Location           types.Point   `json:"location"`
	RemainingDistanceM float64       `json:"remaining_distance_m"`
	RemainingDuration  time.Duration `json:"remaining_duration"`
	FractionTraveled   float64       `json:"fraction_traveled"`
	CurrentStep        *StepProgress `json:"current_step,omitempty"`
}

// OffRouteSignal reports a deviation; Location is nil when the engine does not attach one.
type OffRouteSignal struct {
	Location   *types.Point `json:"location,omitempty"`
	DeviationM float64      `json:"deviation_m"`
}

type Arrival struct {
	LegIndex int         `json:"leg_index"`
	Waypoint types.Point `json:"waypoint"`
	Final    bool        `json:"final"`
}
