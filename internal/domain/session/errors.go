package session

import (
	"errors"
	"fmt"

	"github.com/renovo-works/sessioncore/internal/domain/refresh"
)

var (
	// ErrInvalidCredentials is returned when the server rejects a login or
	// the inputs fail validation.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrRefreshDeclined matches a refresh that released no token or whose
	// grant was discarded by a logout.
	ErrRefreshDeclined = refresh.ErrDeclined
	// ErrRefreshExpired matches a refresh the server rejected.
	ErrRefreshExpired = refresh.ErrExpired
)

// LoginError describes a failed login.
type LoginError struct {
	// Reason is the server-provided or validation message.
	Reason string
	// Status is the HTTP status, 0 when the request never got an answer.
	Status int
	// Err is ErrInvalidCredentials or the transport error.
	Err error
}

// Error returns the error message.
func (e *LoginError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("login failed [HTTP_%d]: %s", e.Status, e.Reason)
	}
	return fmt.Sprintf("login failed: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *LoginError) Unwrap() error {
	return e.Err
}
