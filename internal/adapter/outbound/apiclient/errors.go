package apiclient

import (
	"errors"
	"fmt"

	"github.com/renovo-works/sessioncore/internal/domain/refresh"
)

// ErrSessionUnavailable is returned when a 401 could not be recovered by a
// refresh.
var ErrSessionUnavailable = errors.New("session unavailable")

// AuthError is returned when a request stayed unauthorized.
type AuthError struct {
	// Outcome is the refresh outcome that ended the attempt.
	Outcome refresh.Outcome
	// Status is the last HTTP status seen.
	Status int
	// Terminal is true when the retry with a fresh token was also rejected.
	Terminal bool
	// Err is the refresh failure cause, if any.
	Err error
}

// Error returns the error message.
func (e *AuthError) Error() string {
	if e.Terminal {
		return fmt.Sprintf("session unavailable [HTTP_%d]: rejected after refresh", e.Status)
	}
	if e.Err != nil {
		return fmt.Sprintf("session unavailable [HTTP_%d]: refresh %s: %v", e.Status, e.Outcome, e.Err)
	}
	return fmt.Sprintf("session unavailable [HTTP_%d]: refresh %s", e.Status, e.Outcome)
}

// Unwrap returns ErrSessionUnavailable, the refresh outcome's sentinel
// (refresh.ErrDeclined or refresh.ErrExpired) and the refresh cause.
func (e *AuthError) Unwrap() []error {
	errs := []error{ErrSessionUnavailable}
	if s := e.Outcome.Sentinel(); s != nil {
		errs = append(errs, s)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// StatusError is returned by DoJSON for non-2xx answers other than 401.
type StatusError struct {
	Status int
	Body   string
}

// Error returns the error message.
func (e *StatusError) Error() string {
	return fmt.Sprintf("api [HTTP_%d]: %s", e.Status, e.Body)
}
