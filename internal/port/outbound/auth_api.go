// Package outbound defines the outbound port interfaces for talking to the
// remote auth API and the push registration service.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/renovo-works/sessioncore/internal/domain/account"
)

// ErrTransientNetwork is returned when the server could not be reached or
// answered with a retryable failure. No session state changes on it.
var ErrTransientNetwork = errors.New("transient network error")

// APIError is returned when the server answers with a status the contract
// does not describe (5xx, unexpected 4xx, malformed body).
type APIError struct {
	// Status is the HTTP status code, 0 when the body could not be decoded.
	Status int
	// Message is the server-provided error text, if any.
	Message string
	// Err is the underlying cause.
	Err error
}

// Error returns the error message.
func (e *APIError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("auth api [HTTP_%d]: %s", e.Status, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("auth api [HTTP_%d]: %v", e.Status, e.Err)
	default:
		return fmt.Sprintf("auth api [HTTP_%d]", e.Status)
	}
}

// Unwrap returns the underlying error.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Is reports whether this error matches the target. 5xx, 408 and 429
// answers are transient: errors.Is(err, ErrTransientNetwork) holds for them.
func (e *APIError) Is(target error) bool {
	return target == ErrTransientNetwork && TransientStatus(e.Status)
}

// TransientStatus reports whether an HTTP status is worth retrying later.
func TransientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// DeviceType identifies the platform a session was created from.
type DeviceType string

const (
	DeviceIOS     DeviceType = "ios"
	DeviceAndroid DeviceType = "android"
	DeviceWeb     DeviceType = "web"
	DeviceDesktop DeviceType = "desktop"
)

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Username   string     `json:"username"`
	Password   string     `json:"password"`
	DeviceID   string     `json:"deviceId"`
	DeviceType DeviceType `json:"deviceType"`
}

// LoginStatus tags a LoginResult.
type LoginStatus int

const (
	// LoginOK carries a token pair and user.
	LoginOK LoginStatus = iota
	// LoginRejected means the server refused the credentials (4xx).
	LoginRejected
)

// LoginResult is the decoded answer of POST /auth/login.
// Token, RefreshToken and User are set only for LoginOK;
// Reason and HTTPStatus only for LoginRejected.
type LoginResult struct {
	Status       LoginStatus
	Token        string
	RefreshToken string
	User         account.User
	Reason       string
	HTTPStatus   int
}

// MeStatus tags a MeResult.
type MeStatus int

const (
	// MeOK means the access token is valid.
	MeOK MeStatus = iota
	// MeUnauthorized means the access token was rejected with 401.
	MeUnauthorized
)

// MeResult is the decoded answer of GET /auth/me.
type MeResult struct {
	Status MeStatus
	User   account.User
}

// RefreshStatus tags a RefreshResult.
type RefreshStatus int

const (
	// RefreshOK carries a new access token and user.
	RefreshOK RefreshStatus = iota
	// RefreshRejected means the refresh token is invalid or expired (401/403).
	RefreshRejected
)

// RefreshResult is the decoded answer of POST /auth/refresh.
// RefreshToken is non-empty only when the server rotated the refresh token.
type RefreshResult struct {
	Status       RefreshStatus
	Token        string
	User         account.User
	RefreshToken string
	HTTPStatus   int
}

// AuthAPI is the outbound port for the four auth endpoints the core consumes.
// Implementations return tagged results for every outcome the contract
// describes and an error (wrapping ErrTransientNetwork or an *APIError)
// for everything else.
type AuthAPI interface {
	// Login exchanges credentials for a token pair.
	Login(ctx context.Context, req LoginRequest) (LoginResult, error)

	// Me validates an access token and returns the current user.
	Me(ctx context.Context, accessToken string) (MeResult, error)

	// Refresh exchanges a refresh token for a new access token.
	Refresh(ctx context.Context, refreshToken string) (RefreshResult, error)

	// Logout revokes a refresh token server-side. Best effort.
	Logout(ctx context.Context, accessToken, refreshToken string) error
}
