package vault

import (
	"errors"
	"fmt"
)

var (
	// ErrStorageUnavailable is returned when platform storage is missing or
	// access was denied. Callers treat it as "no persisted credential".
	ErrStorageUnavailable = errors.New("secure storage unavailable")

	// ErrSecretNotFound is returned by a SecretStore when the key is absent.
	ErrSecretNotFound = errors.New("secret not found")

	// ErrChallengeCancelled is returned by an Authenticator when the user
	// dismissed the prompt.
	ErrChallengeCancelled = errors.New("authentication challenge cancelled")

	// ErrChallengeFailed is returned by an Authenticator when the user did
	// not pass the challenge.
	ErrChallengeFailed = errors.New("authentication challenge failed")
)

// StorageError wraps a failure of one of the vault's storage backends.
type StorageError struct {
	// Op is the vault operation that failed, e.g. "store" or "delete".
	Op string
	// Err is the underlying cause.
	Err error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("vault %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if !errors.Is(err, ErrStorageUnavailable) {
		err = fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
	}
	return &StorageError{Op: op, Err: err}
}
