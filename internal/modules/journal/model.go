// README: Journal entries: one persisted row per session notification.
package journal

import (
	"encoding/json"
	"time"

	"github.com/mmcloughlin/geohash"

	"navi/internal/modules/navigation"
)

// geohashPrecision of 7 characters is a cell of roughly 150m.
const geohashPrecision = 7

type Entry struct {
	ID             int64           `json:"id"`
	SessionID      string          `json:"session_id"`
	Event          string          `json:"event"`
	RouteDistanceM *float64        `json:"route_distance_m,omitempty"`
	Error          string          `json:"error,omitempty"`
	Geohash        string          `json:"geohash,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

type payload struct {
	Summary  string               `json:"summary,omitempty"`
	Points   int                  `json:"points,omitempty"`
	Encoded  string               `json:"encoded_polyline,omitempty"`
	Progress *navigation.Progress `json:"progress,omitempty"`
	Arrival  *navigation.Arrival  `json:"arrival,omitempty"`
}

// FromNotification flattens a notification into a journal entry.
func FromNotification(n navigation.Notification) (Entry, error) {
	e := Entry{
		SessionID: n.SessionID,
		Event:     string(n.Event),
		CreatedAt: n.At,
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	if n.Err != nil {
		e.Error = n.Err.Error()
	}

	p := payload{Progress: n.Progress, Arrival: n.Arrival}
	if n.Route != nil {
		d := n.Route.DistanceM
		e.RouteDistanceM = &d
		p.Summary = n.Route.Summary
		p.Points = len(n.Route.Coordinates)
		p.Encoded = n.Route.EncodedPolyline
	}

	switch {
	case n.Location != nil && n.Location.Valid():
		e.Geohash = geohash.EncodeWithPrecision(n.Location.Lat, n.Location.Lng, geohashPrecision)
	case n.Route != nil && len(n.Route.Coordinates) > 0:
		start := n.Route.Coordinates[0]
		e.Geohash = geohash.EncodeWithPrecision(start.Lat, start.Lng, geohashPrecision)
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return Entry{}, err
	}
	if string(raw) != "{}" {
		e.Payload = raw
	}
	return e, nil
}
