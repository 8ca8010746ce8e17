package client

import "sync"

// TokenStore holds the current access/refresh pair. Reads take a snapshot;
// the single writer is the refresh path, so a request never observes a torn
// pair.
type TokenStore struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

// Set replaces both tokens atomically.
func (s *TokenStore) Set(access, refresh string) {
	s.mu.Lock()
	s.access, s.refresh = access, refresh
	s.mu.Unlock()
}

// Snapshot returns the current pair.
func (s *TokenStore) Snapshot() (access, refresh string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.access, s.refresh
}

// Clear drops both tokens. Called on logout and on refresh failure.
func (s *TokenStore) Clear() {
	s.Set("", "")
}
