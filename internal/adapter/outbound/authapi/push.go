package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/renovo-works/sessioncore/internal/domain/account"
	"github.com/renovo-works/sessioncore/internal/port/outbound"
)

// PathPushRegister registers the device for push notifications.
const PathPushRegister = "/notifications/register"

var _ outbound.PushRegistrar = (*Client)(nil)

type pushRequest struct {
	UserID account.UserID `json:"userId"`
}

type pushResponse struct {
	PushToken string `json:"pushToken"`
}

// Register implements outbound.PushRegistrar.
func (c *Client) Register(ctx context.Context, accessToken string, userID account.UserID) (string, error) {
	status, body, err := c.do(ctx, http.MethodPost, PathPushRegister, accessToken, pushRequest{UserID: userID})
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", apiError(status, body)
	}
	var resp pushResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("decode push response: %w", err)
	}
	if resp.PushToken == "" {
		return "", &outbound.APIError{Status: status, Err: errors.New("push response missing pushToken")}
	}
	return resp.PushToken, nil
}
