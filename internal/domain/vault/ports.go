package vault

import "context"

// SecretStore is the platform secure-storage capability. Adapters exist for
// the OS keyring and for memory. Get returns ErrSecretNotFound for missing
// keys; any other failure should wrap ErrStorageUnavailable.
type SecretStore interface {
	Set(ctx context.Context, key, value string) error
	Get(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// Preferences is ordinary, non-secret key-value storage. Get reports
// ok=false for missing keys.
type Preferences interface {
	GetPreference(ctx context.Context, key string) (value string, ok bool, err error)
	SetPreference(ctx context.Context, key, value string) error
	DeletePreference(ctx context.Context, key string) error
}

// Authenticator is the interactive device-level gate (face, fingerprint or
// passcode). Authenticate returns nil when the user passed, or
// ErrChallengeCancelled / ErrChallengeFailed.
type Authenticator interface {
	Support(ctx context.Context) Support
	Authenticate(ctx context.Context, reason string) error
}
