// Package auth holds the bearer credential used on backend calls.
package auth

import "sync"

// Session owns the portal credential. Components that authenticate
// requests hold a reference to the session rather than a copy of the
// token, so invalidation takes effect on their next call. Multiple
// independent sessions can coexist.
type Session struct {
	mu    sync.RWMutex
	token string
}

// NewSession returns a session holding the given credential. An empty
// token means unauthenticated.
func NewSession(token string) *Session {
	return &Session{token: token}
}

// Init stores a freshly acquired credential.
func (s *Session) Init(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

// Token returns the current credential and whether one is present.
func (s *Session) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Invalidate clears the credential, on logout or backend rejection.
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}

// Authenticated reports whether a credential is present.
func (s *Session) Authenticated() bool {
	_, ok := s.Token()
	return ok
}
