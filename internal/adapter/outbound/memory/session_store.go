// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"sync"

	"github.com/renovo-works/sessioncore/internal/domain/session"
	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

// SessionStore implements session.Store and vault.Preferences with maps.
// Thread-safe for concurrent access. Nothing survives the process, so it
// suits tests and throwaway CLI runs only.
type SessionStore struct {
	mu     sync.RWMutex
	record *session.Record
	prefs  map[string]string
}

// NewSessionStore creates an empty store.
func NewSessionStore() *SessionStore {
	return &SessionStore{prefs: make(map[string]string)}
}

// Load returns a copy of the stored record.
// Returns session.ErrNoSession if nothing is stored.
func (s *SessionStore) Load(_ context.Context) (*session.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.record == nil {
		return nil, session.ErrNoSession
	}
	// Return a copy to prevent mutation
	cp := *s.record
	return &cp, nil
}

// Save stores a copy of rec.
func (s *SessionStore) Save(_ context.Context, rec *session.Record) error {
	cp := *rec

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = &cp
	return nil
}

// Clear removes the record. Preferences are kept.
func (s *SessionStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	return nil
}

// GetPreference returns a preference value.
func (s *SessionStore) GetPreference(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.prefs[key]
	return v, ok, nil
}

// SetPreference stores a preference value.
func (s *SessionStore) SetPreference(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prefs[key] = value
	return nil
}

// DeletePreference removes a preference.
func (s *SessionStore) DeletePreference(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.prefs, key)
	return nil
}

// Reset drops the record and every preference.
func (s *SessionStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record = nil
	s.prefs = make(map[string]string)
	return nil
}

// Compile-time interface verification.
var (
	_ session.Store     = (*SessionStore)(nil)
	_ vault.Preferences = (*SessionStore)(nil)
)
