// Package sessionclient keeps a browser-style auth session against the auth
// API: an in-memory access token, the refresh token in a cookie jar, and a
// single-flight refresh shared by concurrent callers.
package sessionclient

import "sync"

// Account is the public view of the signed-in account.
type Account struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the client-side session state. All accessors are safe for
// concurrent use.
type Session struct {
	mu           sync.RWMutex
	accessToken  string
	account      *Account
	initializing bool
}

// NewSession returns an empty, signed-out session.
func NewSession() *Session {
	return &Session{}
}

// AccessToken returns the current access token, or "" when signed out.
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken
}

// Account returns the signed-in account.
func (s *Session) Account() (Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.account == nil {
		return Account{}, false
	}
	return *s.account, true
}

// Initializing reports whether the startup refresh is still running.
func (s *Session) Initializing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.initializing
}

// Authenticated reports whether both a token and an account are held.
func (s *Session) Authenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken != "" && s.account != nil
}

func (s *Session) set(token string, account Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = token
	s.account = &account
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessToken = ""
	s.account = nil
}

func (s *Session) setInitializing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initializing = v
}
