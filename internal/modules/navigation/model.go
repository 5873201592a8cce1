// README: Navigation session data model: waypoints, travel modes, routes and lifecycle phases.
package navigation

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"navi/internal/types"
)

// Waypoint is a named position handed to the routing engine.
type Waypoint struct {
	Name      string  `json:"name,omitempty"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

func NewWaypoint(name string, lat, lng float64) Waypoint {
	return Waypoint{Name: name, Latitude: lat, Longitude: lng}
}

// ParseWaypoint builds a waypoint from textual coordinates. Unparsable values
// become NaN so that Validate rejects them.
func ParseWaypoint(name, lat, lng string) Waypoint {
	return Waypoint{Name: name, Latitude: parseCoord(lat), Longitude: parseCoord(lng)}
}

func (w Waypoint) Point() types.Point {
	return types.Point{Lat: w.Latitude, Lng: w.Longitude}
}

func (w Waypoint) Validate() error {
	if !w.Point().Valid() {
		return fmt.Errorf("%w: %s", ErrInvalidLocation, w.describe())
	}
	return nil
}

func (w Waypoint) describe() string {
	label := w.Name
	if label == "" {
		label = "waypoint"
	}
	return fmt.Sprintf("%s (%v, %v)", label, w.Latitude, w.Longitude)
}

// UnmarshalJSON accepts coordinates as JSON numbers or numeric strings.
// Missing coordinates decode to NaN.
func (w *Waypoint) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name      string          `json:"name"`
		Latitude  json.RawMessage `json:"latitude"`
		Longitude json.RawMessage `json:"longitude"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	w.Name = raw.Name
	w.Latitude = rawCoord(raw.Latitude)
	w.Longitude = rawCoord(raw.Longitude)
	return nil
}

// MarshalJSON writes non-finite coordinates as null.
func (w Waypoint) MarshalJSON() ([]byte, error) {
	out := struct {
		Name      string   `json:"name,omitempty"`
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}{Name: w.Name}
	if !math.IsNaN(w.Latitude) && !math.IsInf(w.Latitude, 0) {
		out.Latitude = &w.Latitude
	}
	if !math.IsNaN(w.Longitude) && !math.IsInf(w.Longitude, 0) {
		out.Longitude = &w.Longitude
	}
	return json.Marshal(out)
}

func rawCoord(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return math.NaN()
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return math.NaN()
		}
		return parseCoord(s)
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return math.NaN()
	}
	return f
}

func parseCoord(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

type TravelMode string

const (
	TravelModeDriving TravelMode = "driving"
	TravelModeWalking TravelMode = "walking"
	TravelModeCycling TravelMode = "cycling"
	TravelModeTransit TravelMode = "transit"
)

var travelModes = map[TravelMode]bool{
	TravelModeDriving: true,
	TravelModeWalking: true,
	TravelModeCycling: true,
	TravelModeTransit: true,
}

// ParseTravelMode maps an empty string to driving and rejects unknown modes.
func ParseTravelMode(s string) (TravelMode, error) {
	if s == "" {
		return TravelModeDriving, nil
	}
	m := TravelMode(strings.ToLower(strings.TrimSpace(s)))
	if !travelModes[m] {
		return "", fmt.Errorf("%w: %q", ErrUnknownTravelMode, s)
	}
	return m, nil
}

// Step is one manoeuvre inside a leg.
type Step struct {
	Name        string        `json:"name,omitempty"`
	Instruction string        `json:"instruction,omitempty"`
	Maneuver    string        `json:"maneuver,omitempty"`
	DistanceM   float64       `json:"distance_m"`
	Duration    time.Duration `json:"duration"`
	Polyline    string        `json:"polyline,omitempty"`
}

type Leg struct {
	Summary   string        `json:"summary,omitempty"`
	DistanceM float64       `json:"distance_m"`
	Duration  time.Duration `json:"duration"`
	End       types.Point   `json:"end"`
	Steps     []Step        `json:"steps,omitempty"`
}

// Route is produced by route acquisition and replaced wholesale on every
// recalculation. Coordinates and EncodedPolyline are derived from Raw.
type Route struct {
	Raw             RawPolyline    `json:"-"`
	Coordinates     []types.Point  `json:"coordinates"`
	EncodedPolyline string         `json:"encoded_polyline"`
	DistanceM       float64        `json:"distance_m"`
	Duration        time.Duration  `json:"duration"`
	Summary         string         `json:"summary,omitempty"`
	Legs            []Leg          `json:"legs,omitempty"`
	Extra           map[string]any `json:"extra,omitempty"`
	CalculatedAt    time.Time      `json:"calculated_at"`
}

// Phase is derived from session flags; it is never stored.
type Phase string

const (
	PhaseIdle          Phase = "idle"
	PhaseReady         Phase = "ready"
	PhaseNavigating    Phase = "navigating"
	PhaseRecalculating Phase = "recalculating"
)

// AllowedTransitions represents the session lifecycle diagram as code.
var AllowedTransitions = map[Phase][]Phase{
	PhaseIdle:          {PhaseReady},
	PhaseReady:         {PhaseReady, PhaseNavigating},
	PhaseNavigating:    {PhaseNavigating, PhaseRecalculating, PhaseReady},
	PhaseRecalculating: {PhaseNavigating, PhaseReady},
}

func CanTransition(from, to Phase) bool {
	for _, p := range AllowedTransitions[from] {
		if p == to {
			return true
		}
	}
	return false
}

func derivePhase(hasRoute, active, recalculating bool) Phase {
	switch {
	case active && recalculating:
		return PhaseRecalculating
	case active:
		return PhaseNavigating
	case hasRoute:
		return PhaseReady
	default:
		return PhaseIdle
	}
}

// State is a point-in-time copy of a session.
type State struct {
	ID               string     `json:"id"`
	Phase            Phase      `json:"phase"`
	Origin           *Waypoint  `json:"origin,omitempty"`
	Destination      *Waypoint  `json:"destination,omitempty"`
	Waypoints        []Waypoint `json:"waypoints,omitempty"`
	TravelMode       TravelMode `json:"travel_mode"`
	CurrentLocation  *Waypoint  `json:"current_location,omitempty"`
	Route            *Route     `json:"route,omitempty"`
	NavigationActive bool       `json:"navigation_active"`
	Recalculating    bool       `json:"recalculating"`
	LastActivity     time.Time  `json:"last_activity"`
}
