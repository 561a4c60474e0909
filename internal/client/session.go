package client

import (
	"sync"

	"dms-go/internal/dms"
)

// Session is the client-side identity: the bearer token and the account it
// resolved to. It is filled in by Login and emptied by Logout. Safe for
// concurrent use.
type Session struct {
	mu    sync.RWMutex
	token string
	user  *dms.User
}

// NewSession returns a session carrying token. The account is unknown
// until Login succeeds.
func NewSession(token string) *Session {
	return &Session{token: token}
}

// Token returns the bearer token, or "" after Logout.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns a copy of the logged-in account and whether there is one.
func (s *Session) User() (dms.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return dms.User{}, false
	}
	return *s.user, true
}

// LoggedIn reports whether Login has populated the session.
func (s *Session) LoggedIn() bool {
	_, ok := s.User()
	return ok
}

func (s *Session) setUser(u dms.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.user = &u
}

func (s *Session) setNames(first, last string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.user != nil {
		s.user.FirstName = first
		s.user.LastName = last
	}
}

// Clear forgets the token and the account.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.user = nil
}
