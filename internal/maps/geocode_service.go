// README: Address lookups through the Google Geocoding API.
package maps

import (
	"context"
	"fmt"
	"strings"

	"googlemaps.github.io/maps"

	"navi/internal/modules/navigation"
)

// GeocodeService resolves free-text addresses to waypoints.
type GeocodeService struct {
	client *maps.Client
	cfg    ClientConfig
}

// NewGeocodeService creates a new GeocodeService with the given API Key.
func NewGeocodeService(apiKey string, cfg ClientConfig) (*GeocodeService, error) {
	client, err := newClient(apiKey, cfg)
	if err != nil {
		return nil, err
	}
	return &GeocodeService{client: client, cfg: cfg}, nil
}

// Resolve returns the best match for address, named by its formatted address.
// An address with no match reports navigation.ErrAddressUnresolvable.
func (s *GeocodeService) Resolve(ctx context.Context, address string) (navigation.Waypoint, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return navigation.Waypoint{}, navigation.ErrAddressUnresolvable
	}

	ctx, cancel := s.cfg.withTimeout(ctx)
	defer cancel()
	results, err := s.client.Geocode(ctx, &maps.GeocodingRequest{
		Address:  address,
		Language: s.cfg.Language,
		Region:   s.cfg.Region,
	})
	if err != nil {
		return navigation.Waypoint{}, fmt.Errorf("geocoding api error: %w", err)
	}
	if len(results) == 0 {
		return navigation.Waypoint{}, navigation.ErrAddressUnresolvable
	}

	best := results[0]
	loc := best.Geometry.Location
	return navigation.NewWaypoint(best.FormattedAddress, loc.Lat, loc.Lng), nil
}
