// Package state provides file-based persistence for the session record and
// the non-secret preferences of the session core.
//
// Everything lives in one JSON document (session.json by default). This
// package provides atomic writes, file locking, and backup functionality.
// Secrets never go here; the refresh token lives in the vault.
package state

import (
	"time"

	"github.com/renovo-works/sessioncore/internal/domain/session"
)

// SchemaVersion is the current on-disk schema version.
const SchemaVersion = "1"

// DefaultFileName is the canonical state file name inside the storage dir.
const DefaultFileName = "session.json"

// AppState is the top-level structure persisted in session.json.
type AppState struct {
	// Version is the schema version for forward compatibility. Currently "1".
	Version string `json:"version"`

	// Session is the persisted session record. Nil when logged out.
	Session *session.Record `json:"session,omitempty"`

	// Preferences holds ordinary key/value settings: device id, biometric
	// flags and passcode hash. They survive logout.
	Preferences map[string]string `json:"preferences"`

	// CreatedAt is when this state file was first created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when this state file was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}
