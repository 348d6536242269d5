package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/renovo-works/sessioncore/internal/domain/account"
	"github.com/renovo-works/sessioncore/internal/domain/session"
	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

// LegacyFileName is the flat key/value file written by older clients.
const LegacyFileName = "legacy_storage.json"

// legacyTokenKeys are the keys older clients stored the access token under,
// in the order they are trusted.
var legacyTokenKeys = []string{"token", "authToken", "accessToken"}

// SecretWriter receives a refresh token found in legacy storage.
type SecretWriter interface {
	Store(ctx context.Context, refreshToken string) error
}

// LegacyMigrator moves a legacy flat key/value file into the canonical
// state file once, then removes it. It never writes the legacy format.
type LegacyMigrator struct {
	legacyPath string
	store      *FileStore
	secrets    SecretWriter
	logger     *slog.Logger
}

// NewLegacyMigrator creates a migrator. secrets may be nil, in which case a
// legacy refresh token is dropped and the user has to log in again.
func NewLegacyMigrator(legacyPath string, store *FileStore, secrets SecretWriter, logger *slog.Logger) *LegacyMigrator {
	return &LegacyMigrator{
		legacyPath: legacyPath,
		store:      store,
		secrets:    secrets,
		logger:     logger,
	}
}

// Migrate imports the legacy file if present and reports whether it did.
// A canonical session that already exists wins over the legacy one.
func (m *LegacyMigrator) Migrate(ctx context.Context) (bool, error) {
	data, err := os.ReadFile(m.legacyPath)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read legacy storage: %w", err)
	}

	var kv map[string]json.RawMessage
	if err := json.Unmarshal(data, &kv); err != nil {
		return false, fmt.Errorf("parse legacy storage: %w", err)
	}

	rec := &session.Record{AccessToken: firstString(kv, legacyTokenKeys...)}
	if raw, ok := kv["user"]; ok {
		user, err := decodeLegacyUser(raw)
		if err != nil {
			m.logger.Warn("ignoring unreadable legacy user", "error", err)
		}
		rec.User = user
	}

	if rec.AccessToken != "" && !rec.User.IsZero() {
		if _, err := m.store.Load(ctx); errors.Is(err, session.ErrNoSession) {
			if err := m.store.Save(ctx, rec); err != nil {
				return false, fmt.Errorf("write migrated session: %w", err)
			}
		} else if err != nil {
			return false, err
		}
	}

	if id := firstString(kv, "deviceId"); id != "" {
		if _, ok, _ := m.store.GetPreference(ctx, vault.KeyDeviceID); !ok {
			if err := m.store.SetPreference(ctx, vault.KeyDeviceID, id); err != nil {
				return false, fmt.Errorf("write migrated device id: %w", err)
			}
		}
	}
	if b, ok := legacyBool(kv, "biometricEnabled"); ok {
		if err := m.store.SetPreference(ctx, vault.KeyBiometricEnabled, strconv.FormatBool(b)); err != nil {
			return false, fmt.Errorf("write migrated biometric flag: %w", err)
		}
	}

	if rt := firstString(kv, "refreshToken"); rt != "" && m.secrets != nil {
		if err := m.secrets.Store(ctx, rt); err != nil {
			return false, fmt.Errorf("move legacy refresh token: %w", err)
		}
	}

	if err := os.Remove(m.legacyPath); err != nil {
		return false, fmt.Errorf("remove legacy storage: %w", err)
	}
	m.logger.Info("migrated legacy storage", "path", m.legacyPath, "had_session", rec.AccessToken != "")
	return true, nil
}

func firstString(kv map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := kv[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil && s != "" {
			return s
		}
	}
	return ""
}

// decodeLegacyUser accepts the user as an object or as a JSON-encoded string.
func decodeLegacyUser(raw json.RawMessage) (account.User, error) {
	var user account.User
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		raw = json.RawMessage(s)
	}
	if err := json.Unmarshal(raw, &user); err != nil {
		return account.User{}, err
	}
	return user, nil
}

func legacyBool(kv map[string]json.RawMessage, key string) (bool, bool) {
	raw, ok := kv[key]
	if !ok {
		return false, false
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if b, err := strconv.ParseBool(s); err == nil {
			return b, true
		}
	}
	return false, false
}
