// Package session owns the authenticated session: its state machine, the
// persisted record, and the ordered change notifications observers receive.
package session

import (
	"github.com/renovo-works/sessioncore/internal/domain/account"
	"github.com/renovo-works/sessioncore/internal/port/outbound"
)

// State is the manager's lifecycle state.
type State int

const (
	Uninitialized State = iota
	Initializing
	Authenticated
	Refreshing
	LoggingOut
	Unauthenticated
)

// AllStates lists every state, in declaration order.
var AllStates = []State{Uninitialized, Initializing, Authenticated, Refreshing, LoggingOut, Unauthenticated}

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Authenticated:
		return "authenticated"
	case Refreshing:
		return "refreshing"
	case LoggingOut:
		return "logging_out"
	case Unauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// Reasons attached to a Change.
const (
	ReasonInitializing   = "initializing"
	ReasonRestored       = "restored"
	ReasonOffline        = "offline"
	ReasonNoSession      = "no session"
	ReasonLogin          = "login"
	ReasonLogout         = "logout"
	ReasonSessionExpired = "session expired"
	ReasonRefreshing     = "refreshing"
	ReasonRefreshed      = "refreshed"
	ReasonStorage        = "storage unavailable"
)

// Session is the in-memory authenticated session.
type Session struct {
	AccessToken string
	User        account.User
	// PushToken is the cached push registration for this session, if any.
	PushToken string
}

// Authenticated reports whether both the access token and user id are set.
func (s Session) Authenticated() bool {
	return s.AccessToken != "" && s.User.ID != ""
}

// Change is delivered to observers after every state transition.
type Change struct {
	From       State
	To         State
	Session    Session
	Reason     string
	Generation uint64
}

// Credentials are the login inputs. They are never logged or persisted.
type Credentials struct {
	Username   string              `validate:"required"`
	Password   string              `validate:"required"`
	DeviceID   string              `validate:"omitempty,max=128"`
	DeviceType outbound.DeviceType `validate:"omitempty,oneof=ios android web desktop"`
}
