// README: Location service: validates, throttles and records live positions, then feeds the session.
package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"navi/internal/logging"
	"navi/internal/maps"
	"navi/internal/modules/navigation"
	"navi/internal/types"
)

// Sessions looks up open navigation sessions.
type Sessions interface {
	Get(id string) (*navigation.Session, bool)
}

// positionStore is the part of Store the service writes to.
type positionStore interface {
	SetPosition(ctx context.Context, sessionID string, pos types.Point, at time.Time) error
	Remove(ctx context.Context, sessionID string) error
	Nearby(ctx context.Context, center types.Point, radiusM float64) ([]Nearby, error)
}

// maxNearbyRadiusM caps proximity searches.
const maxNearbyRadiusM = 50_000

var ErrInvalidRadius = errors.New("invalid search radius")

type Config struct {
	// MinInterval is the shortest accepted gap between two updates of a session.
	MinInterval time.Duration
	// MaxSpeedMps bounds the speed implied by two consecutive fixes.
	MaxSpeedMps float64
}

type Service struct {
	sessions Sessions
	store    positionStore
	cfg      Config
	log      logging.Logger
	now      func() time.Time

	mu   sync.Mutex
	last map[string]fix
}

// NewService builds the service. A nil store skips position recording.
func NewService(sessions Sessions, store *Store, cfg Config, log logging.Logger) *Service {
	s := &Service{
		sessions: sessions,
		cfg:      cfg,
		log:      logging.OrNoop(log),
		now:      time.Now,
		last:     make(map[string]fix),
	}
	if store != nil {
		s.store = store
	}
	return s
}

// Update applies one position report. Throttled, stale and implausible
// reports are answered with Accepted=false and no error.
func (s *Service) Update(ctx context.Context, u Update) (Result, error) {
	if !u.Position.Valid() {
		return Result{}, fmt.Errorf("%w: (%v, %v)", navigation.ErrInvalidLocation, u.Position.Lat, u.Position.Lng)
	}
	sess, ok := s.sessions.Get(u.SessionID)
	if !ok {
		return Result{}, navigation.ErrSessionNotFound
	}
	at := u.RecordedAt
	if at.IsZero() {
		at = s.now()
	}

	s.mu.Lock()
	prev, seen := s.last[u.SessionID]
	if seen {
		if reason, reject := s.screen(prev, u.Position, at); reject {
			s.mu.Unlock()
			s.log.Debug(ctx, "location update rejected",
				logging.String("session_id", u.SessionID),
				logging.String("reason", string(reason)))
			return Result{Reason: reason}, nil
		}
	}
	s.last[u.SessionID] = fix{pos: u.Position, at: at}
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.SetPosition(ctx, u.SessionID, u.Position, at); err != nil {
			s.log.Warn(ctx, "recording position failed",
				logging.String("session_id", u.SessionID), logging.Err(err))
		}
	}

	if err := sess.UpdateLocation(ctx, navigation.NewWaypoint("", u.Position.Lat, u.Position.Lng)); err != nil {
		return Result{}, err
	}
	return Result{Accepted: true}, nil
}

func (s *Service) screen(prev fix, pos types.Point, at time.Time) (Reason, bool) {
	elapsed := at.Sub(prev.at)
	if elapsed < 0 {
		return ReasonStale, true
	}
	if elapsed < s.cfg.MinInterval {
		return ReasonThrottled, true
	}
	if s.cfg.MaxSpeedMps > 0 && elapsed > 0 {
		if speed := maps.HaversineM(prev.pos, pos) / elapsed.Seconds(); speed > s.cfg.MaxSpeedMps {
			return ReasonImplausibleJump, true
		}
	}
	return "", false
}

// Forget drops the throttle state and stored position of a closed session.
func (s *Service) Forget(ctx context.Context, sessionID string) {
	s.mu.Lock()
	delete(s.last, sessionID)
	s.mu.Unlock()

	if s.store != nil {
		if err := s.store.Remove(ctx, sessionID); err != nil {
			s.log.Warn(ctx, "removing position failed",
				logging.String("session_id", sessionID), logging.Err(err))
		}
	}
}

// Nearby lists sessions last seen within radiusM of center. Without a store
// nothing is recorded, so nothing is found.
func (s *Service) Nearby(ctx context.Context, center types.Point, radiusM float64) ([]Nearby, error) {
	if !center.Valid() {
		return nil, fmt.Errorf("%w: (%v, %v)", navigation.ErrInvalidLocation, center.Lat, center.Lng)
	}
	if radiusM <= 0 || radiusM > maxNearbyRadiusM {
		return nil, fmt.Errorf("%w: must be in (0, %d] metres", ErrInvalidRadius, maxNearbyRadiusM)
	}
	if s.store == nil {
		return []Nearby{}, nil
	}
	return s.store.Nearby(ctx, center, radiusM)
}
