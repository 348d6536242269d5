// Package ctxkey defines shared context key types used across multiple packages.
// This package should have no dependencies on other internal packages to avoid import cycles.
package ctxkey

// LoggerKey is the context key type for an enriched *slog.Logger.
// sessionctl stores a logger carrying the command name and request id.
type LoggerKey struct{}

// RequestIDKey is the context key type for the request id string sent as
// X-Request-ID on authenticated API calls.
type RequestIDKey struct{}
