// Package authapi implements the outbound AuthAPI port over HTTP.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/renovo-works/sessioncore/internal/domain/account"
	"github.com/renovo-works/sessioncore/internal/port/outbound"
)

// DefaultTimeout is the per-request timeout when none is configured.
const DefaultTimeout = 10 * time.Second

// maxBodyBytes caps how much of a response body is read.
const maxBodyBytes = 1 << 20

// Endpoint paths.
const (
	PathLogin   = "/auth/login"
	PathMe      = "/auth/me"
	PathRefresh = "/auth/refresh"
	PathLogout  = "/auth/logout"
)

// Client talks to the auth endpoints of the backend.
type Client struct {
	baseURL    string
	timeout    time.Duration
	userAgent  string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ outbound.AuthAPI = (*Client)(nil)

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		timeout:   DefaultTimeout,
		userAgent: "sessioncore",
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}
	return c
}

type loginResponse struct {
	Token        string       `json:"token"`
	RefreshToken string       `json:"refreshToken"`
	User         account.User `json:"user"`
}

type meResponse struct {
	User account.User `json:"user"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type refreshResponse struct {
	Token        string       `json:"token"`
	User         account.User `json:"user"`
	RefreshToken string       `json:"refreshToken,omitempty"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e errorResponse) text() string {
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// Login exchanges credentials for a token pair.
func (c *Client) Login(ctx context.Context, req outbound.LoginRequest) (outbound.LoginResult, error) {
	status, body, err := c.do(ctx, http.MethodPost, PathLogin, "", req)
	if err != nil {
		return outbound.LoginResult{}, err
	}

	switch {
	case status == http.StatusOK:
		var resp loginResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return outbound.LoginResult{}, &outbound.APIError{Status: status, Err: fmt.Errorf("decode login response: %w", err)}
		}
		if resp.Token == "" || resp.RefreshToken == "" || resp.User.IsZero() {
			return outbound.LoginResult{}, &outbound.APIError{Status: status, Message: "login response missing token, refreshToken or user"}
		}
		return outbound.LoginResult{
			Status:       outbound.LoginOK,
			Token:        resp.Token,
			RefreshToken: resp.RefreshToken,
			User:         resp.User,
		}, nil
	case outbound.TransientStatus(status):
		return outbound.LoginResult{}, apiError(status, body)
	case status >= 400 && status < 500:
		return outbound.LoginResult{
			Status:     outbound.LoginRejected,
			Reason:     reason(body, status),
			HTTPStatus: status,
		}, nil
	default:
		return outbound.LoginResult{}, apiError(status, body)
	}
}

// Me validates an access token.
func (c *Client) Me(ctx context.Context, accessToken string) (outbound.MeResult, error) {
	status, body, err := c.do(ctx, http.MethodGet, PathMe, accessToken, nil)
	if err != nil {
		return outbound.MeResult{}, err
	}

	switch status {
	case http.StatusOK:
		var resp meResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return outbound.MeResult{}, &outbound.APIError{Status: status, Err: fmt.Errorf("decode me response: %w", err)}
		}
		if resp.User.IsZero() {
			return outbound.MeResult{}, &outbound.APIError{Status: status, Message: "me response missing user"}
		}
		return outbound.MeResult{Status: outbound.MeOK, User: resp.User}, nil
	case http.StatusUnauthorized:
		return outbound.MeResult{Status: outbound.MeUnauthorized}, nil
	default:
		return outbound.MeResult{}, apiError(status, body)
	}
}

// Refresh exchanges a refresh token for a new access token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (outbound.RefreshResult, error) {
	status, body, err := c.do(ctx, http.MethodPost, PathRefresh, "", refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return outbound.RefreshResult{}, err
	}

	switch status {
	case http.StatusOK:
		var resp refreshResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return outbound.RefreshResult{}, &outbound.APIError{Status: status, Err: fmt.Errorf("decode refresh response: %w", err)}
		}
		if resp.Token == "" || resp.User.IsZero() {
			return outbound.RefreshResult{}, &outbound.APIError{Status: status, Message: "refresh response missing token or user"}
		}
		return outbound.RefreshResult{
			Status:       outbound.RefreshOK,
			Token:        resp.Token,
			User:         resp.User,
			RefreshToken: resp.RefreshToken,
			HTTPStatus:   status,
		}, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		return outbound.RefreshResult{Status: outbound.RefreshRejected, HTTPStatus: status}, nil
	default:
		return outbound.RefreshResult{}, apiError(status, body)
	}
}

// Logout revokes the refresh token server-side.
func (c *Client) Logout(ctx context.Context, accessToken, refreshToken string) error {
	status, body, err := c.do(ctx, http.MethodPost, PathLogout, accessToken, refreshRequest{RefreshToken: refreshToken})
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return apiError(status, body)
	}
	return nil
}

// do sends one request and returns the status and body. Transport failures
// are wrapped with outbound.ErrTransientNetwork.
func (c *Client) do(ctx context.Context, method, path, bearer string, body any) (int, []byte, error) {
	url := c.baseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", c.userAgent)
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		httpReq.Header.Set("Authorization", "Bearer "+bearer)
	}

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.logger.Debug("auth api unreachable", "method", method, "path", path, "error", err)
		return 0, nil, fmt.Errorf("%w: %s %s: %w", outbound.ErrTransientNetwork, method, path, err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBodyBytes))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: read %s response: %w", outbound.ErrTransientNetwork, path, err)
	}

	c.logger.Debug("auth api call",
		"method", method,
		"path", path,
		"status", httpResp.StatusCode,
		"duration", time.Since(start),
	)
	return httpResp.StatusCode, respBody, nil
}

func reason(body []byte, status int) string {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.text() != "" {
		return e.text()
	}
	return http.StatusText(status)
}

func apiError(status int, body []byte) error {
	var e errorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.text() != "" {
		return &outbound.APIError{Status: status, Message: e.text()}
	}
	return &outbound.APIError{Status: status, Err: errors.New(strings.TrimSpace(string(body)))}
}
