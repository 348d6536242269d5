package outbound

import (
	"context"

	"github.com/renovo-works/sessioncore/internal/domain/account"
)

// PushRegistrar registers the device for push notifications on behalf of an
// authenticated user and returns an opaque push token.
type PushRegistrar interface {
	Register(ctx context.Context, accessToken string, userID account.UserID) (string, error)
}
