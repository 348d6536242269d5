package memory

import (
	"context"
	"sync"

	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

// SecretStore implements vault.SecretStore with a map. The values are held
// in plain process memory.
type SecretStore struct {
	mu      sync.Mutex
	secrets map[string]string
	err     error
}

// NewSecretStore creates an empty secret store.
func NewSecretStore() *SecretStore {
	return &SecretStore{secrets: make(map[string]string)}
}

// FailWith makes every subsequent call return err, simulating a locked or
// unavailable platform store. A nil err restores normal behavior.
func (s *SecretStore) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Set stores a secret.
func (s *SecretStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.secrets[key] = value
	return nil
}

// Get returns a secret or vault.ErrSecretNotFound.
func (s *SecretStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	v, ok := s.secrets[key]
	if !ok {
		return "", vault.ErrSecretNotFound
	}
	return v, nil
}

// Delete removes a secret. Returns vault.ErrSecretNotFound if it is absent.
func (s *SecretStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	if _, ok := s.secrets[key]; !ok {
		return vault.ErrSecretNotFound
	}
	delete(s.secrets, key)
	return nil
}

// Len returns the number of stored secrets.
func (s *SecretStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.secrets)
}

var _ vault.SecretStore = (*SecretStore)(nil)
