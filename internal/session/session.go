package session

import "sync"

// Session holds the current user identity and credential token. One Session
// is shared by the remote client and the cache store, so a single Set or
// Clear switches the request identity headers and the cache partition
// together. Mutations are last-write-wins; a request already being built may
// still go out with the previous token.
type Session struct {
	mu     sync.RWMutex
	userID string
	token  string
}

// New returns an empty, signed-out session.
func New() *Session {
	return &Session{}
}

// Set replaces the current identity and token. Called on sign-in and on
// token refresh. No validation is performed on either value.
func (s *Session) Set(userID, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.token = token
}

// Clear signs the session out.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.token = ""
}

// UserID returns the current user identifier, or "" when signed out.
func (s *Session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Token returns the current credential token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// Active reports whether a user is signed in.
func (s *Session) Active() bool {
	return s.UserID() != ""
}
