package ghosty

import "sync"

// Identity is the signed-in user.
type Identity struct {
	UserID      int64
	Username    string
	DisplayName string
}

// Session holds the bearer token and identity of the signed-in user.
// It is independent of any single transport connection.
type Session struct {
	mu       sync.RWMutex
	token    string
	identity Identity
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{}
}

// Token returns the current token, or "" when signed out.
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// HasToken reports whether a token is present.
func (s *Session) HasToken() bool {
	return s.Token() != ""
}

func (s *Session) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// Identity returns a copy of the signed-in identity.
func (s *Session) Identity() Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// UserID is shorthand for Identity().UserID.
func (s *Session) UserID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity.UserID
}

func (s *Session) SetIdentity(id Identity) {
	s.mu.Lock()
	s.identity = id
	s.mu.Unlock()
}

// Clear drops the token and identity.
func (s *Session) Clear() {
	s.mu.Lock()
	s.token = ""
	s.identity = Identity{}
	s.mu.Unlock()
}
