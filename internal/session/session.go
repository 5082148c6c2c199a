// Package session holds the process-scoped identity: who is signed in and
// the opaque credential the remote service issued. It is created once and
// injected into the api client and facade rather than living as a package
// global, so tests can run many sessions side by side.
package session

import "sync"

// Store carries the current user and credential. Init installs them after
// authentication, Teardown clears them on logout. Zero value is a signed-out
// store.
type Store struct {
	mu     sync.RWMutex
	userID string
	name   string
	token  string
	active bool
}

// New returns a signed-out store.
func New() *Store {
	return &Store{}
}

// Init installs the authenticated identity and credential.
func (s *Store) Init(userID, name, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
	s.name = name
	s.token = token
	s.active = true
}

// Teardown clears the session. Subsequent Token calls return "".
func (s *Store) Teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.name = ""
	s.token = ""
	s.active = false
}

// Active reports whether a user is signed in.
func (s *Store) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// UserID returns the signed-in user id, "" when signed out.
func (s *Store) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

// Name returns the signed-in display name.
func (s *Store) Name() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.name
}

// Token returns the opaque credential for outbound requests.
func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}
