package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the session lifetime used when the configuration does not
// override it.
const DefaultTTL = time.Hour

// Manager holds sessions with TTL cleanup.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	ttl      time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewManager creates a session manager with TTL and starts the cleanup worker.
func NewManager(ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Manager{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		stopCh:   make(chan struct{}),
	}
	go m.cleanupRoutine()
	return m
}

func (m *Manager) cleanupRoutine() {
	ticker := time.NewTicker(m.ttl / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.CleanupExpired()
		case <-m.stopCh:
			return
		}
	}
}

// Add creates a new empty session and returns it.
func (m *Manager) Add() *Session {
	now := time.Now()
	s := &Session{
		id:        uuid.NewString(),
		createdAt: now,
		updatedAt: now,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	return s
}

// Get retrieves a session by ID. Returns (session, true) if found and not
// expired, and refreshes its last-access timestamp.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}

	if time.Since(s.UpdatedAt()) > m.ttl {
		m.Delete(id)
		return nil, false
	}

	s.Touch()
	return s, true
}

// Delete removes a session by ID. Removing an unknown ID is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// CleanupExpired removes all sessions that have outlived the TTL.
func (m *Manager) CleanupExpired() {
	cutoff := time.Now().Add(-m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UpdatedAt().Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}

// Stop halts the cleanup worker. Safe to call more than once.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
}
