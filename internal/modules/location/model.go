// README: Live position updates and their outcome.
package location

import (
	"time"

	"navi/internal/types"
)

// Update is one position report from a traveler's device.
type Update struct {
	SessionID  string      `json:"session_id"`
	Position   types.Point `json:"position"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Reason explains why an update was not applied.
type Reason string

const (
	ReasonThrottled       Reason = "throttled"
	ReasonImplausibleJump Reason = "implausible_jump"
	ReasonStale           Reason = "stale"
)

type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
}

// Nearby is a session found by a proximity search.
type Nearby struct {
	SessionID string      `json:"session_id"`
	Position  types.Point `json:"position"`
	DistanceM float64     `json:"distance_m"`
}

// fix is the last accepted position of a session.
type fix struct {
	pos types.Point
	at  time.Time
}
