// Package keyring stores vault secrets in the operating system credential
// store: the macOS Keychain, the Secret Service on Linux, or the Windows
// Credential Manager.
package keyring

import (
	"context"
	"errors"
	"fmt"

	gokeyring "github.com/zalando/go-keyring"

	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

// DefaultService is the keyring service name secrets are filed under.
const DefaultService = "sessioncore"

// SecretStore implements vault.SecretStore over go-keyring.
type SecretStore struct {
	service string
}

var _ vault.SecretStore = (*SecretStore)(nil)

// New creates a SecretStore for service. An empty service uses DefaultService.
func New(service string) *SecretStore {
	if service == "" {
		service = DefaultService
	}
	return &SecretStore{service: service}
}

// Service returns the keyring service name.
func (s *SecretStore) Service() string { return s.service }

// Set stores value under key.
func (s *SecretStore) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := gokeyring.Set(s.service, key, value); err != nil {
		return fmt.Errorf("keyring set %s: %w", key, mapErr(err))
	}
	return nil
}

// Get returns the value under key or vault.ErrSecretNotFound.
func (s *SecretStore) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := gokeyring.Get(s.service, key)
	if err != nil {
		return "", fmt.Errorf("keyring get %s: %w", key, mapErr(err))
	}
	return v, nil
}

// Delete removes key. Returns vault.ErrSecretNotFound if it is absent.
func (s *SecretStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := gokeyring.Delete(s.service, key); err != nil {
		return fmt.Errorf("keyring delete %s: %w", key, mapErr(err))
	}
	return nil
}

func mapErr(err error) error {
	switch {
	case errors.Is(err, gokeyring.ErrNotFound):
		return vault.ErrSecretNotFound
	case errors.Is(err, gokeyring.ErrUnsupportedPlatform):
		return fmt.Errorf("%w: %w", vault.ErrStorageUnavailable, err)
	default:
		return err
	}
}
