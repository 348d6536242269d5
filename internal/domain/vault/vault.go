package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"github.com/google/uuid"
)

// Storage keys. The refresh token lives in the SecretStore; everything else
// is non-sensitive and lives in Preferences.
const (
	KeyRefreshToken       = "refresh_token"
	KeyDeviceID           = "device_id"
	KeyBiometricEnabled   = "biometric_enabled"
	KeyBiometricPromptSet = "biometric_prompt_shown"
)

// DefaultPromptReason is shown by the Authenticator when releasing the
// refresh token.
const DefaultPromptReason = "Sign in to continue"

// Vault is the secure credential vault.
// The refresh token is only ever returned from Retrieve.
type Vault struct {
	secrets SecretStore
	prefs   Preferences
	auth    Authenticator
	reason  string
	logger  *slog.Logger

	// deviceMu serializes first-time device id creation.
	deviceMu sync.Mutex
}

// Option configures a Vault.
type Option func(*Vault)

// WithPromptReason overrides the text shown by the biometric prompt.
func WithPromptReason(reason string) Option {
	return func(v *Vault) {
		v.reason = reason
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(v *Vault) {
		v.logger = logger
	}
}

// New creates a Vault. A nil Authenticator means the device has no gate.
func New(secrets SecretStore, prefs Preferences, auth Authenticator, opts ...Option) *Vault {
	if auth == nil {
		auth = NoAuthenticator{}
	}
	v := &Vault{
		secrets: secrets,
		prefs:   prefs,
		auth:    auth,
		reason:  DefaultPromptReason,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Store persists the refresh token in secure storage.
func (v *Vault) Store(ctx context.Context, refreshToken string) error {
	if refreshToken == "" {
		return &StorageError{Op: "store", Err: errors.New("empty refresh token")}
	}
	if err := v.secrets.Set(ctx, KeyRefreshToken, refreshToken); err != nil {
		return storageErr("store", err)
	}
	v.logger.Debug("refresh token stored")
	return nil
}

// Retrieve returns the stored refresh token.
//
// When requireBiometric is set, the user has opted in and the device can run
// a challenge, the challenge must pass first. A cancelled or failed challenge
// yields ok=false with a nil error: the secret stays stored and a later call
// may try again. A missing secret also yields ok=false.
func (v *Vault) Retrieve(ctx context.Context, requireBiometric bool) (token string, ok bool, err error) {
	if requireBiometric && v.IsEnabled(ctx) && v.auth.Support(ctx).Usable() {
		if err := v.auth.Authenticate(ctx, v.reason); err != nil {
			switch {
			case errors.Is(err, ErrChallengeCancelled):
				v.logger.Info("biometric challenge cancelled")
			case errors.Is(err, ErrChallengeFailed):
				v.logger.Warn("biometric challenge failed")
			default:
				return "", false, storageErr("retrieve", err)
			}
			return "", false, nil
		}
	}

	token, err = v.secrets.Get(ctx, KeyRefreshToken)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return "", false, nil
		}
		return "", false, storageErr("retrieve", err)
	}
	if token == "" {
		return "", false, nil
	}
	return token, true, nil
}

// Delete erases the refresh token. A missing token is not an error; any
// other failure is returned so the caller never shows a cleared state over a
// stale secret.
func (v *Vault) Delete(ctx context.Context) error {
	if err := v.secrets.Delete(ctx, KeyRefreshToken); err != nil && !errors.Is(err, ErrSecretNotFound) {
		return storageErr("delete", err)
	}
	v.logger.Debug("refresh token deleted")
	return nil
}

// DeviceID returns the installation's device identifier, generating and
// persisting a UUIDv4 on first use.
func (v *Vault) DeviceID(ctx context.Context) (string, error) {
	v.deviceMu.Lock()
	defer v.deviceMu.Unlock()

	id, ok, err := v.prefs.GetPreference(ctx, KeyDeviceID)
	if err != nil {
		return "", storageErr("device id", err)
	}
	if ok && id != "" {
		return id, nil
	}

	id = uuid.NewString()
	if err := v.prefs.SetPreference(ctx, KeyDeviceID, id); err != nil {
		return "", storageErr("device id", err)
	}
	v.logger.Info("generated device id", "device_id", id)
	return id, nil
}

// CheckBiometricSupport reports the device capability.
func (v *Vault) CheckBiometricSupport(ctx context.Context) Support {
	return v.auth.Support(ctx)
}

// IsEnabled reports whether the user opted in to the biometric gate.
// Unreadable preferences count as disabled.
func (v *Vault) IsEnabled(ctx context.Context) bool {
	return v.flag(ctx, KeyBiometricEnabled)
}

// Enable turns the biometric gate on. It does not check device capability.
func (v *Vault) Enable(ctx context.Context) error {
	return v.setFlag(ctx, KeyBiometricEnabled, true)
}

// Disable turns the biometric gate off.
func (v *Vault) Disable(ctx context.Context) error {
	return v.setFlag(ctx, KeyBiometricEnabled, false)
}

// HasShownPrompt reports whether the enablement nudge was already shown.
func (v *Vault) HasShownPrompt(ctx context.Context) bool {
	return v.flag(ctx, KeyBiometricPromptSet)
}

// MarkPromptShown records that the enablement nudge was shown.
func (v *Vault) MarkPromptShown(ctx context.Context) error {
	return v.setFlag(ctx, KeyBiometricPromptSet, true)
}

// ShouldOfferEnablement reports whether the caller should show the one-time
// biometric enablement nudge now.
func (v *Vault) ShouldOfferEnablement(ctx context.Context) bool {
	return v.CheckBiometricSupport(ctx).Usable() && !v.IsEnabled(ctx) && !v.HasShownPrompt(ctx)
}

func (v *Vault) flag(ctx context.Context, key string) bool {
	raw, ok, err := v.prefs.GetPreference(ctx, key)
	if err != nil {
		v.logger.Warn("failed to read preference", "key", key, "error", err)
		return false
	}
	if !ok {
		return false
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		v.logger.Warn("ignoring malformed preference", "key", key, "value", raw)
		return false
	}
	return b
}

func (v *Vault) setFlag(ctx context.Context, key string, value bool) error {
	if err := v.prefs.SetPreference(ctx, key, strconv.FormatBool(value)); err != nil {
		return storageErr(fmt.Sprintf("set %s", key), err)
	}
	return nil
}
