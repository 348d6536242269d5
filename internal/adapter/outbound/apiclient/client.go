// Package apiclient is the HTTP client the rest of the application uses to
// call the backend. It attaches the current access token and recovers from a
// single 401 by refreshing the session.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/renovo-works/sessioncore/internal/ctxkey"
	"github.com/renovo-works/sessioncore/internal/domain/refresh"
	"github.com/renovo-works/sessioncore/internal/telemetry"
)

// HeaderRequestID carries the request id from the context, when present.
const HeaderRequestID = "X-Request-ID"

// Session is what the client needs from the session manager.
type Session interface {
	AccessToken() string
	TriggerRefresh(ctx context.Context) refresh.Result
}

// Client sends authenticated requests.
type Client struct {
	baseURL    string
	session    Session
	httpClient *http.Client
	metrics    *telemetry.Metrics
	logger     *slog.Logger
}

// New creates a Client for the API rooted at baseURL.
func New(baseURL string, session Session, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// Do sends a request with the current access token.
//
// A 401 triggers one refresh (or joins the one in flight) and, on success,
// exactly one retry with the new token. A second 401 yields a terminal
// *AuthError. If the refresh does not succeed, the *AuthError carries its
// outcome. Every other response is returned as-is; the caller closes it.
func (c *Client) Do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("failed to buffer request body: %w", err)
		}
	}

	token := c.session.AccessToken()
	resp, err := c.send(ctx, method, path, payload, token)
	if err != nil {
		c.metrics.ObserveHTTP("error")
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		c.metrics.ObserveHTTP(statusClass(resp.StatusCode))
		return resp, nil
	}
	drain(resp)

	// Another request may have refreshed already; reuse its token.
	current := c.session.AccessToken()
	if current == "" || current == token {
		res := c.session.TriggerRefresh(ctx)
		if res.Outcome != refresh.Success {
			c.metrics.ObserveHTTP("401")
			c.log(ctx).Info("request stayed unauthorized", "method", method, "path", path, "refresh", res.Outcome.String())
			return nil, &AuthError{Outcome: res.Outcome, Status: http.StatusUnauthorized, Err: res.Err}
		}
		current = c.session.AccessToken()
	}

	c.metrics.ObserveRetry()
	resp, err = c.send(ctx, method, path, payload, current)
	if err != nil {
		c.metrics.ObserveHTTP("error")
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		c.metrics.ObserveHTTP("401_terminal")
		c.log(ctx).Warn("request rejected after refresh", "method", method, "path", path)
		return nil, &AuthError{Outcome: refresh.Success, Status: http.StatusUnauthorized, Terminal: true}
	}
	c.metrics.ObserveHTTP(statusClass(resp.StatusCode))
	return resp, nil
}

// DoJSON sends in as a JSON body (if non-nil) and decodes a 2xx answer into
// out (if non-nil). Non-2xx answers become a *StatusError.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	resp, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(respBody))}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if id, ok := ctx.Value(ctxkey.RequestIDKey{}).(string); ok && id != "" {
		req.Header.Set(HeaderRequestID, id)
	}
	return c.httpClient.Do(req)
}

// log returns the logger stored in ctx, or the client's own.
func (c *Client) log(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxkey.LoggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return c.logger
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func statusClass(code int) string {
	return fmt.Sprintf("%dxx", code/100)
}
