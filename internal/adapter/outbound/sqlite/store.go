// Package sqlite provides a SQLite-backed session record and preference
// store, for hosts that already keep application data in SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/renovo-works/sessioncore/internal/domain/session"
	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

const (
	sessionKey = "session"
	prefPrefix = "pref:"
)

const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
)`

// Store keeps the session record and preferences in a single kv table.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ session.Store     = (*Store)(nil)
	_ vault.Preferences = (*Store)(nil)
)

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dsn := path
	if !strings.HasPrefix(dsn, "file:") {
		dsn = "file:" + dsn
	}
	dsn += "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer keeps SQLite from returning SQLITE_BUSY under concurrent saves.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	logger.Debug("sqlite store opened", "path", path)
	return &Store{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load returns the persisted session record or session.ErrNoSession.
func (s *Store) Load(ctx context.Context) (*session.Record, error) {
	raw, ok, err := s.get(ctx, sessionKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, session.ErrNoSession
	}
	var rec session.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("decode session record: %w", err)
	}
	return &rec, nil
}

// Save replaces the persisted session record.
func (s *Store) Save(ctx context.Context, rec *session.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session record: %w", err)
	}
	return s.put(ctx, sessionKey, string(data))
}

// Clear removes the session record.
func (s *Store) Clear(ctx context.Context) error {
	return s.del(ctx, sessionKey)
}

// GetPreference returns a preference value.
func (s *Store) GetPreference(ctx context.Context, key string) (string, bool, error) {
	return s.get(ctx, prefPrefix+key)
}

// SetPreference stores a preference value.
func (s *Store) SetPreference(ctx context.Context, key, value string) error {
	return s.put(ctx, prefPrefix+key, value)
}

// DeletePreference removes a preference.
func (s *Store) DeletePreference(ctx context.Context, key string) error {
	return s.del(ctx, prefPrefix+key)
}

// Reset removes every row.
func (s *Store) Reset(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv`); err != nil {
		return fmt.Errorf("reset kv: %w", err)
	}
	return nil
}

func (s *Store) get(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("read %s: %w", key, err)
	}
	return v, true, nil
}

func (s *Store) put(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value) VALUES (?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value,
	updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now')`, key, value)
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func (s *Store) del(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
