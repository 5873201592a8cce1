// README: Session manager: creates sessions, attaches observers and reaps idle sessions.
package navigation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"navi/internal/logging"
)

// EngineFactory returns a fresh engine for each session.
type EngineFactory func() Engine

// Observer is attached to every session the manager creates.
type Observer interface {
	Name() string
	Handlers(sessionID string) Handlers
}

// SessionGauge is told the number of open and navigating sessions after each change.
type SessionGauge interface {
	SetSessions(open, navigating int)
}

// CloseHook runs after a session has been closed, whoever closed it.
type CloseHook func(ctx context.Context, sessionID string)

// managerSubscriber is the registry id of the manager's own gauge subscription.
const managerSubscriber = "manager"

type ManagerConfig struct {
	Credentials    string
	Normalizer     Normalizer
	RerouteTimeout time.Duration
	IdleTTL        time.Duration
	JanitorTick    time.Duration
}

type Manager struct {
	newEngine EngineFactory
	cfg       ManagerConfig
	log       logging.Logger

	observers          []Observer
	gauge              SessionGauge
	observeAcquisition func(time.Duration, error)

	mu         sync.RWMutex
	sessions   map[string]*Session
	closeHooks []CloseHook
}

type ManagerOption func(*Manager)

func WithObserver(o Observer) ManagerOption {
	return func(m *Manager) { m.observers = append(m.observers, o) }
}

func WithSessionGauge(g SessionGauge) ManagerOption {
	return func(m *Manager) { m.gauge = g }
}

func WithAcquisitionObserver(fn func(time.Duration, error)) ManagerOption {
	return func(m *Manager) { m.observeAcquisition = fn }
}

func NewManager(newEngine EngineFactory, cfg ManagerConfig, log logging.Logger, opts ...ManagerOption) *Manager {
	m := &Manager{
		newEngine: newEngine,
		cfg:       cfg,
		log:       logging.OrNoop(log),
		sessions:  make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create opens a session for owner and applies trip when it is non-nil.
func (m *Manager) Create(ctx context.Context, owner string, trip *TripConfig) (*Session, error) {
	id := uuid.NewString()
	s, err := NewSession(id, m.newEngine(), m.cfg.Credentials, Options{
		Owner:              owner,
		Normalizer:         m.cfg.Normalizer,
		Logger:             m.log,
		RerouteTimeout:     m.cfg.RerouteTimeout,
		ObserveAcquisition: m.observeAcquisition,
	})
	if err != nil {
		return nil, err
	}
	if trip != nil {
		if err := s.Configure(*trip); err != nil {
			return nil, err
		}
	}
	for _, o := range m.observers {
		if err := s.Subscribe(o.Name(), o.Handlers(id)); err != nil {
			return nil, err
		}
	}
	// Gauge refresh rides on the session's own lifecycle events.
	_ = s.Subscribe(managerSubscriber, Handlers{
		EventStartNavigation: func(Notification) { m.refreshGauge() },
		EventStopNavigation:  func(Notification) { m.refreshGauge() },
	})

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	m.refreshGauge()

	m.log.Info(ctx, "session created", logging.String("session_id", id), logging.String("owner", owner))
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// OnClose registers h to run after every session close, including janitor
// reaps and CloseAll.
func (m *Manager) OnClose(h CloseHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeHooks = append(m.closeHooks, h)
}

// Close stops guidance if needed, detaches every observer and forgets the
// session. Notifications raised by work still in flight on the session are
// no longer delivered to observers.
func (m *Manager) Close(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	hooks := append([]CloseHook(nil), m.closeHooks...)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	if p := s.Phase(); p == PhaseNavigating || p == PhaseRecalculating {
		s.Stop(ctx)
	}
	for _, o := range m.observers {
		s.Unsubscribe(o.Name())
	}
	s.Unsubscribe(managerSubscriber)
	m.refreshGauge()

	for _, h := range hooks {
		h(ctx, id)
	}
	m.log.Info(ctx, "session closed", logging.String("session_id", id))
	return nil
}

// CloseAll stops every session; used on shutdown.
func (m *Manager) CloseAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	for _, id := range ids {
		_ = m.Close(ctx, id)
	}
}

// RunJanitor closes sessions idle longer than IdleTTL until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context) {
	tick := m.cfg.JanitorTick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.reapIdle(ctx, now)
		}
	}
}

func (m *Manager) reapIdle(ctx context.Context, now time.Time) int {
	if m.cfg.IdleTTL <= 0 {
		return 0
	}
	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		if s.IdleFor(now) > m.cfg.IdleTTL {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range stale {
		if err := m.Close(ctx, id); err == nil {
			m.log.Info(ctx, "reaped idle session", logging.String("session_id", id))
		}
	}
	return len(stale)
}

func (m *Manager) refreshGauge() {
	if m.gauge == nil {
		return
	}
	m.mu.RLock()
	open, navigating := len(m.sessions), 0
	for _, s := range m.sessions {
		if p := s.Phase(); p == PhaseNavigating || p == PhaseRecalculating {
			navigating++
		}
	}
	m.mu.RUnlock()
	m.gauge.SetSessions(open, navigating)
}
