// Package refresh coordinates silent access-token refresh so that any number
// of concurrent callers share a single network exchange.
package refresh

import (
	"context"
	"errors"

	"github.com/renovo-works/sessioncore/internal/domain/account"
	"github.com/renovo-works/sessioncore/internal/port/outbound"
)

var (
	// ErrDeclined matches Declined and Superseded outcomes.
	ErrDeclined = errors.New("refresh declined")
	// ErrExpired matches the Expired outcome.
	ErrExpired = errors.New("refresh token expired")
)

// Outcome is the settled result of a refresh ticket.
type Outcome int

const (
	// Success means a new access token was committed to the session.
	Success Outcome = iota
	// Declined means no refresh token was released: none stored, or the
	// biometric challenge was cancelled or failed.
	Declined
	// Expired means the server rejected the refresh token.
	Expired
	// NetworkError means the exchange could not complete.
	NetworkError
	// Superseded means the exchange succeeded but the session generation
	// moved on (logout or a new login) before the grant could be committed.
	Superseded
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case Declined:
		return "declined"
	case Expired:
		return "expired"
	case NetworkError:
		return "network_error"
	case Superseded:
		return "superseded"
	default:
		return "unknown"
	}
}

// Sentinel returns the error an outcome matches with errors.Is, or nil for
// Success and NetworkError. A NetworkError carries its cause in Result.Err.
func (o Outcome) Sentinel() error {
	switch o {
	case Declined, Superseded:
		return ErrDeclined
	case Expired:
		return ErrExpired
	default:
		return nil
	}
}

// Result is delivered to every caller joined to the same ticket.
type Result struct {
	Outcome Outcome
	// Generation is the session generation captured when the ticket started.
	Generation uint64
	// Shared is true for callers that joined an in-flight ticket.
	Shared bool
	// Err carries the underlying cause for NetworkError.
	Err error
}

// OK reports whether the outcome is Success.
func (r Result) OK() bool { return r.Outcome == Success }

// Grant is a fresh access token ready to commit.
type Grant struct {
	AccessToken string
	User        account.User
	// RefreshToken is set when the server rotated the refresh token.
	RefreshToken string
}

// Credentials releases the stored refresh token.
type Credentials interface {
	IsEnabled(ctx context.Context) bool
	Retrieve(ctx context.Context, requireBiometric bool) (string, bool, error)
}

// Exchanger trades a refresh token for a new access token.
type Exchanger interface {
	Refresh(ctx context.Context, refreshToken string) (outbound.RefreshResult, error)
}

// Committer owns the session. The coordinator never writes session state
// itself; it hands grants to the committer, which applies them only while
// the generation is unchanged.
type Committer interface {
	Generation() uint64
	Commit(ctx context.Context, generation uint64, grant Grant) (bool, error)
}
