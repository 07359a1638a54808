package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"animesearch/internal/metrics"
	"animesearch/internal/search"
)

const DefaultIdleTTL = 30 * time.Minute

// Session is one client's search state, addressed by an opaque ID.
type Session struct {
	ID        string
	CreatedAt time.Time
	Store     *search.Store

	mu       sync.Mutex
	lastSeen time.Time
}

func (s *Session) touch(now time.Time) {
	s.mu.Lock()
	s.lastSeen = now
	s.mu.Unlock()
}

func (s *Session) LastSeen() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeen
}

// StoreFactory builds the state container for a new session.
type StoreFactory func() *search.Store

type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	factory StoreFactory
	idleTTL time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

type Option func(*Manager)

func WithIdleTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		if ttl > 0 {
			m.idleTTL = ttl
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

func NewManager(factory StoreFactory, opts ...Option) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		idleTTL:  DefaultIdleTTL,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create opens a session and starts its initial search. It returns nil once
// the manager has been closed.
func (m *Manager) Create() *Session {
	now := m.now()
	sess := &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		Store:     m.factory(),
		lastSeen:  now,
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		sess.Store.Close()
		return nil
	}
	m.sessions[sess.ID] = sess
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	sess.Store.Start()
	m.logger.Debug("session created", slog.String("session", sess.ID))
	return sess
}

// Get returns the session and marks it as used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	sess.touch(m.now())
	return sess, true
}

// Delete closes the session's store. It reports whether the session existed.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	m.closeSession(sess, "deleted")
	return true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Reap closes every session idle for longer than the TTL and returns how
// many were removed.
func (m *Manager) Reap() int {
	cutoff := m.now().Add(-m.idleTTL)

	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if sess.LastSeen().Before(cutoff) {
			delete(m.sessions, id)
			expired = append(expired, sess)
		}
	}
	m.mu.Unlock()

	for _, sess := range expired {
		m.closeSession(sess, "idle")
	}
	return len(expired)
}

// Run reaps idle sessions until ctx ends, then closes all of them.
func (m *Manager) Run(ctx context.Context) {
	interval := m.idleTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.CloseAll()
			return
		case <-ticker.C:
			if n := m.Reap(); n > 0 {
				m.logger.Info("reaped idle sessions", slog.Int("count", n))
			}
		}
	}
}

// CloseAll closes every session and refuses new ones.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		delete(m.sessions, id)
		sessions = append(sessions, sess)
	}
	m.mu.Unlock()

	for _, sess := range sessions {
		m.closeSession(sess, "shutdown")
	}
}

func (m *Manager) closeSession(sess *Session, reason string) {
	sess.Store.Close()
	metrics.ActiveSessions.Dec()
	m.logger.Debug("session closed", slog.String("session", sess.ID), slog.String("reason", reason))
}
