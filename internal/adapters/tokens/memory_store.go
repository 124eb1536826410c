// Package tokens provides the in-memory token store.
package tokens

import (
	"sync"

	"github.com/hausofbasquiat/gatekeeper/internal/core/ports"
)

// Store is a process-wide mutable slot for the access and refresh tokens.
// Many components read it; the API client is the only writer.
type Store struct {
	mu      sync.RWMutex
	token   string
	refresh string
}

var _ ports.TokenStore = (*Store)(nil)

func New() *Store {
	return &Store{}
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Store) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *Store) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.refresh
}

func (s *Store) SetRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = token
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.refresh = ""
}

func (s *Store) ClearToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
}
