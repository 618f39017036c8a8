package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager keeps sessions in memory. Nothing is persisted.
type Manager struct {
	loader Loader
	opts   Options
	log    *slog.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

// NewManager creates a manager whose sessions expire after ttl of inactivity.
// A zero ttl disables expiry.
func NewManager(loader Loader, opts Options, ttl time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		loader:   loader,
		opts:     opts,
		log:      log,
		ttl:      ttl,
		sessions: make(map[uuid.UUID]*Session),
	}
}

func (m *Manager) Create() *Session {
	s := New(m.loader, m.opts, m.log)
	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	m.log.Info("session created", "session_id", s.ID())
	return s
}

func (m *Manager) Get(id uuid.UUID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// Delete closes and forgets the session.
func (m *Manager) Delete(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	m.log.Info("session deleted", "session_id", id)
	return s.Close()
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep closes sessions idle since before now-ttl and returns how many it removed.
func (m *Manager) Sweep(now time.Time) int {
	if m.ttl <= 0 {
		return 0
	}
	cutoff := now.Add(-m.ttl)

	m.mu.Lock()
	var expired []*Session
	for id, s := range m.sessions {
		if s.idleSince().Before(cutoff) {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		if err := s.Close(); err != nil {
			m.log.Warn("failed to close expired session", "session_id", s.ID(), "err", err)
		}
	}
	if len(expired) > 0 {
		m.log.Info("expired idle sessions", "count", len(expired))
	}
	return len(expired)
}

// Run sweeps every interval until ctx is done.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if m.ttl <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Sweep(now)
		}
	}
}

// Close closes every session.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[uuid.UUID]*Session)
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
