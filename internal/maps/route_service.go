// README: Directions-backed route lookups for the navigation engine.
package maps

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"googlemaps.github.io/maps"

	"navi/internal/modules/navigation"
	"navi/internal/types"
)

// ErrNoRoadway is reported when Directions cannot place a stop on the road
// network or finds no route between the stops.
var ErrNoRoadway = errors.New("One or more waypoints could not be associated with a roadway or pathway")

// PolylineFormat is the geometry shape RouteService hands back: the overview
// polyline is decoded here, never passed through as a string.
const PolylineFormat = navigation.FormatDecoded

// CheckSourceFormat fails when a normalizer configured for f could not read
// the routes this engine produces.
func CheckSourceFormat(f navigation.SourceFormat) error {
	if f != PolylineFormat {
		return fmt.Errorf("polyline format %q does not match the maps engine, which produces %q", f, PolylineFormat)
	}
	return nil
}

// ClientConfig holds the request defaults shared by the Google Maps services.
type ClientConfig struct {
	Language string
	Region   string
	// BaseURL overrides the Google endpoint host.
	BaseURL string
	// Timeout bounds each request; zero leaves it to the caller's context.
	Timeout time.Duration
}

func (c ClientConfig) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.Timeout)
}

func newClient(apiKey string, cfg ClientConfig) (*maps.Client, error) {
	opts := []maps.ClientOption{maps.WithAPIKey(apiKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, maps.WithBaseURL(cfg.BaseURL))
	}
	client, err := maps.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create maps client: %w", err)
	}
	return client, nil
}

// RouteService handles interactions with the Google Directions API.
type RouteService struct {
	client *maps.Client
	cfg    ClientConfig
}

// NewRouteService creates a new RouteService with the given API Key.
func NewRouteService(apiKey string, cfg ClientConfig) (*RouteService, error) {
	client, err := newClient(apiKey, cfg)
	if err != nil {
		return nil, err
	}
	return &RouteService{client: client, cfg: cfg}, nil
}

var travelModes = map[navigation.TravelMode]maps.Mode{
	navigation.TravelModeDriving: maps.TravelModeDriving,
	navigation.TravelModeWalking: maps.TravelModeWalking,
	navigation.TravelModeCycling: maps.TravelModeBicycling,
	navigation.TravelModeTransit: maps.TravelModeTransit,
}

// Route asks Directions for a route through stops in order. The first stop is
// the origin and the last the destination.
func (s *RouteService) Route(ctx context.Context, stops []navigation.Waypoint, mode navigation.TravelMode) (*navigation.EngineRoute, error) {
	if len(stops) < 2 {
		return nil, fmt.Errorf("directions need at least two stops, got %d", len(stops))
	}
	m, ok := travelModes[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %q", navigation.ErrUnknownTravelMode, string(mode))
	}

	r := &maps.DirectionsRequest{
		Origin:      latLngString(stops[0]),
		Destination: latLngString(stops[len(stops)-1]),
		Mode:        m,
		Language:    s.cfg.Language,
		Region:      s.cfg.Region,
	}
	for _, wp := range stops[1 : len(stops)-1] {
		r.Waypoints = append(r.Waypoints, latLngString(wp))
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()
	routes, _, err := s.client.Directions(ctx, r)
	if err != nil {
		if strings.Contains(err.Error(), "NOT_FOUND") {
			return nil, ErrNoRoadway
		}
		return nil, fmt.Errorf("maps api error: %w", err)
	}
	if len(routes) == 0 {
		return nil, ErrNoRoadway
	}
	return toEngineRoute(routes[0])
}

func toEngineRoute(r maps.Route) (*navigation.EngineRoute, error) {
	coords, err := maps.DecodePolyline(r.OverviewPolyline.Points)
	if err != nil {
		return nil, fmt.Errorf("decode overview polyline: %w", err)
	}
	pairs := make([][2]float64, len(coords))
	for i, c := range coords {
		pairs[i] = [2]float64{c.Lat, c.Lng}
	}

	out := &navigation.EngineRoute{
		Polyline: navigation.RawPolyline{Points: pairs},
		Summary:  r.Summary,
		Extra: map[string]any{
			"copyrights": r.Copyrights,
		},
	}
	if len(r.Warnings) > 0 {
		out.Extra["warnings"] = r.Warnings
	}
	if len(r.WaypointOrder) > 0 {
		out.Extra["waypoint_order"] = r.WaypointOrder
	}

	for _, leg := range r.Legs {
		if leg == nil {
			continue
		}
		l := navigation.Leg{
			Summary:   leg.EndAddress,
			DistanceM: float64(leg.Distance.Meters),
			Duration:  leg.Duration,
			End:       types.Point{Lat: leg.EndLocation.Lat, Lng: leg.EndLocation.Lng},
		}
		for _, step := range leg.Steps {
			if step == nil {
				continue
			}
			text := plainText(step.HTMLInstructions)
			l.Steps = append(l.Steps, navigation.Step{
				Instruction: text,
				Maneuver:    maneuverOf(text),
				DistanceM:   float64(step.Distance.Meters),
				Duration:    step.Duration,
				Polyline:    step.Polyline.Points,
			})
		}
		out.Legs = append(out.Legs, l)
		out.DistanceM += l.DistanceM
		out.Duration += l.Duration
	}
	return out, nil
}

func latLngString(wp navigation.Waypoint) string {
	return strconv.FormatFloat(wp.Latitude, 'f', -1, 64) + "," + strconv.FormatFloat(wp.Longitude, 'f', -1, 64)
}

var htmlTag = regexp.MustCompile(`<[^>]*>`)

func plainText(html string) string {
	return strings.Join(strings.Fields(htmlTag.ReplaceAllString(html, " ")), " ")
}

// maneuverOf derives a coarse manoeuvre from the instruction text.
func maneuverOf(instruction string) string {
	s := strings.ToLower(instruction)
	switch {
	case strings.Contains(s, "u-turn"):
		return "uturn"
	case strings.Contains(s, "left"):
		return "turn-left"
	case strings.Contains(s, "right"):
		return "turn-right"
	case strings.Contains(s, "roundabout"):
		return "roundabout"
	default:
		return "straight"
	}
}
