// README: Last-known traveler positions backed by Redis GEO.
package location

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"navi/internal/types"
)

const (
	geoKey      = "navi:travelers"
	seenKeyFmt  = "navi:traveler:%s:seen"
	seenKeyTTL  = 24 * time.Hour
	unitMetres  = "m"
	nearbyLimit = 50
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// SetPosition records pos as the session's last known position.
func (s *Store) SetPosition(ctx context.Context, sessionID string, pos types.Point, at time.Time) error {
	pipe := s.redis.TxPipeline()
	pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
		Name:      sessionID,
		Longitude: pos.Lng,
		Latitude:  pos.Lat,
	})
	pipe.Set(ctx, fmt.Sprintf(seenKeyFmt, sessionID), at.UnixMilli(), seenKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis geoadd: %w", err)
	}
	return nil
}

// Position returns the last known position of a session.
func (s *Store) Position(ctx context.Context, sessionID string) (types.Point, bool, error) {
	res, err := s.redis.GeoPos(ctx, geoKey, sessionID).Result()
	if err != nil {
		return types.Point{}, false, fmt.Errorf("redis geopos: %w", err)
	}
	if len(res) == 0 || res[0] == nil {
		return types.Point{}, false, nil
	}
	return types.Point{Lat: res[0].Latitude, Lng: res[0].Longitude}, true, nil
}

// Nearby lists sessions whose last position lies within radiusM of center,
// closest first.
func (s *Store) Nearby(ctx context.Context, center types.Point, radiusM float64) ([]Nearby, error) {
	res, err := s.redis.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusM,
			RadiusUnit: unitMetres,
			Sort:       "ASC",
			Count:      nearbyLimit,
		},
		WithCoord: true,
		WithDist:  true,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("redis geosearch: %w", err)
	}
	out := make([]Nearby, 0, len(res))
	for _, loc := range res {
		out = append(out, Nearby{
			SessionID: loc.Name,
			Position:  types.Point{Lat: loc.Latitude, Lng: loc.Longitude},
			DistanceM: loc.Dist,
		})
	}
	return out, nil
}

func (s *Store) Remove(ctx context.Context, sessionID string) error {
	pipe := s.redis.TxPipeline()
	pipe.ZRem(ctx, geoKey, sessionID)
	pipe.Del(ctx, fmt.Sprintf(seenKeyFmt, sessionID))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis remove position: %w", err)
	}
	return nil
}
