package session

import (
	"context"
	"errors"
	"time"

	"github.com/renovo-works/sessioncore/internal/domain/account"
)

// ErrNoSession is returned by Store.Load when nothing is persisted.
var ErrNoSession = errors.New("no persisted session")

// Record is the canonical persisted session. The refresh token is never
// part of it; it lives in the vault.
type Record struct {
	AccessToken string       `json:"access_token"`
	User        account.User `json:"user"`
	PushToken   string       `json:"push_token,omitempty"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// Store persists the session record in ordinary storage.
// Implementations: file (default), sqlite, in-memory (tests).
type Store interface {
	// Load returns the persisted record or ErrNoSession.
	Load(ctx context.Context) (*Record, error)

	// Save replaces the persisted record.
	Save(ctx context.Context, rec *Record) error

	// Clear removes the persisted record. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// Vault is the subset of the credential vault the manager needs.
type Vault interface {
	IsEnabled(ctx context.Context) bool
	Retrieve(ctx context.Context, requireBiometric bool) (string, bool, error)
	Store(ctx context.Context, refreshToken string) error
	Delete(ctx context.Context) error
	DeviceID(ctx context.Context) (string, error)
}
