package workflow

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/caregap/internal/platform/metrics"
)

const DefaultSessionTTL = 30 * time.Minute

// Session is one dashboard: a controller plus the context its background
// fetches run under. Deleting the session cancels those fetches.
type Session struct {
	ID         string
	Controller *Controller
	ctx        context.Context
	cancel     context.CancelFunc

	mu       sync.Mutex
	lastSeen time.Time
}

// Context is canceled when the session is deleted or expires.
func (s *Session) Context() context.Context { return s.ctx }

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastSeen)
}

// Manager keeps the live sessions.
type Manager struct {
	svc    *Service
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewManager(svc *Service, ttl time.Duration, logger zerolog.Logger) *Manager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Manager{
		svc:      svc,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// Create starts an empty session.
func (m *Manager) Create() *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ID:         uuid.NewString(),
		Controller: m.svc.NewController(),
		ctx:        ctx,
		cancel:     cancel,
		lastSeen:   m.now(),
	}
	m.mu.Lock()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.RecordActiveSessions(n)
	m.logger.Debug().Str("session_id", s.ID).Msg("session created")
	return s
}

// Get returns a live session and marks it used.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	s.touch(m.now())
	return s, nil
}

// Delete cancels a session's fetches and forgets it.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	n := len(m.sessions)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.cancel()
	metrics.RecordActiveSessions(n)
	return nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes sessions idle longer than the TTL and returns how many were
// removed.
func (m *Manager) Sweep() int {
	now := m.now()
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.idleSince(now) > m.ttl {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range expired {
		s.cancel()
	}
	if len(expired) > 0 {
		metrics.RecordActiveSessions(n)
		m.logger.Info().Int("expired", len(expired)).Int("active", n).Msg("expired idle sessions")
	}
	return len(expired)
}

// Run sweeps idle sessions until ctx is done, then cancels all sessions.
func (m *Manager) Run(ctx context.Context) {
	interval := m.ttl / 2
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range sessions {
		s.cancel()
	}
	metrics.RecordActiveSessions(0)
}
