// Package session holds per-caller authenticated state, keyed by an opaque
// tamper-evident token held by the caller in a cookie.
package session

import (
	"sync"
	"time"

	"github.com/gatekeeper-proxy/gatekeeper/pkg/identity"
)

// Session is one caller's server-side state: at most one identity, plus the
// transient redirect continuation used during the login round trip.
//
// Mutation is serialized by the session's own mutex; concurrent requests
// from the same caller follow last-writer-wins.
type Session struct {
	id        string
	createdAt time.Time

	mu        sync.Mutex
	updatedAt time.Time
	identity  *identity.Identity
	nextURL   string
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// CreatedAt returns the session creation time.
func (s *Session) CreatedAt() time.Time {
	return s.createdAt
}

// UpdatedAt returns the time of the last access.
func (s *Session) UpdatedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updatedAt
}

// Touch updates the last-access timestamp.
func (s *Session) Touch() {
	s.mu.Lock()
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Identity returns the authenticated identity, or nil for an anonymous session.
func (s *Session) Identity() *identity.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// SetIdentity stores the identity established by a successful authentication.
func (s *Session) SetIdentity(id *identity.Identity) {
	s.mu.Lock()
	s.identity = id
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// ClearIdentity drops the identity. Clearing an anonymous session is not an
// error; logout is idempotent.
func (s *Session) ClearIdentity() {
	s.mu.Lock()
	s.identity = nil
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// Wipe clears all session state, identity and continuation alike. Used on
// CSRF mismatch as a defensive reset.
func (s *Session) Wipe() {
	s.mu.Lock()
	s.identity = nil
	s.nextURL = ""
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// SetNextURL records the URL the caller asked for before being sent to login.
func (s *Session) SetNextURL(u string) {
	s.mu.Lock()
	s.nextURL = u
	s.updatedAt = time.Now()
	s.mu.Unlock()
}

// PopNextURL returns and clears the recorded continuation URL, or def when
// none was recorded.
func (s *Session) PopNextURL(def string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.nextURL
	s.nextURL = ""
	if u == "" {
		return def
	}
	return u
}
