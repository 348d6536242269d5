// Package biometric provides vault.Authenticator implementations for hosts
// without platform biometrics. PasscodeGate stands in for face or
// fingerprint unlock with a locally enrolled passcode.
package biometric

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alexedwards/argon2id"

	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

// KeyPasscodeHash is the preference key holding the argon2id hash.
const KeyPasscodeHash = "biometric_passcode_hash"

const (
	// DefaultMaxAttempts is how many wrong passcodes a challenge tolerates.
	DefaultMaxAttempts = 3
	// MinPasscodeLength is the shortest passcode Enroll accepts.
	MinPasscodeLength = 4
)

var (
	// ErrPromptCancelled is returned by a Prompt when the user backs out.
	ErrPromptCancelled = errors.New("prompt cancelled")
	// ErrPasscodeTooShort is returned by Enroll.
	ErrPasscodeTooShort = fmt.Errorf("passcode must be at least %d characters", MinPasscodeLength)
)

// Prompt asks the user for their passcode.
type Prompt interface {
	ReadPasscode(ctx context.Context, reason string) (string, error)
}

// PasscodeGate implements vault.Authenticator with an argon2id-hashed
// passcode kept in ordinary preferences.
type PasscodeGate struct {
	prefs       vault.Preferences
	prompt      Prompt
	params      *argon2id.Params
	maxAttempts int
	logger      *slog.Logger
}

var _ vault.Authenticator = (*PasscodeGate)(nil)

// Option configures a PasscodeGate.
type Option func(*PasscodeGate)

// WithMaxAttempts overrides DefaultMaxAttempts.
func WithMaxAttempts(n int) Option {
	return func(g *PasscodeGate) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithParams overrides the argon2id parameters used by Enroll.
func WithParams(p *argon2id.Params) Option {
	return func(g *PasscodeGate) {
		g.params = p
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *PasscodeGate) {
		g.logger = logger
	}
}

// NewPasscodeGate creates a gate reading passcodes from prompt.
func NewPasscodeGate(prefs vault.Preferences, prompt Prompt, opts ...Option) *PasscodeGate {
	g := &PasscodeGate{
		prefs:       prefs,
		prompt:      prompt,
		params:      argon2id.DefaultParams,
		maxAttempts: DefaultMaxAttempts,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Enroll hashes and stores passcode, replacing any previous one.
func (g *PasscodeGate) Enroll(ctx context.Context, passcode string) error {
	if len(passcode) < MinPasscodeLength {
		return ErrPasscodeTooShort
	}
	hash, err := argon2id.CreateHash(passcode, g.params)
	if err != nil {
		return fmt.Errorf("hash passcode: %w", err)
	}
	if err := g.prefs.SetPreference(ctx, KeyPasscodeHash, hash); err != nil {
		return fmt.Errorf("store passcode hash: %w", err)
	}
	g.logger.Info("passcode enrolled")
	return nil
}

// Unenroll removes the stored passcode.
func (g *PasscodeGate) Unenroll(ctx context.Context) error {
	if err := g.prefs.DeletePreference(ctx, KeyPasscodeHash); err != nil {
		return fmt.Errorf("remove passcode hash: %w", err)
	}
	return nil
}

// Support reports a passcode gate, enrolled once a hash is stored.
func (g *PasscodeGate) Support(ctx context.Context) vault.Support {
	_, ok := g.hash(ctx)
	return vault.Support{Supported: true, Enrolled: ok, Kind: vault.KindPasscode}
}

// Authenticate prompts until the passcode matches or attempts run out.
// An empty answer or ErrPromptCancelled counts as a cancel.
func (g *PasscodeGate) Authenticate(ctx context.Context, reason string) error {
	hash, ok := g.hash(ctx)
	if !ok {
		return vault.ErrChallengeFailed
	}

	for attempt := 1; attempt <= g.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", vault.ErrChallengeCancelled, err)
		}
		input, err := g.prompt.ReadPasscode(ctx, reason)
		if errors.Is(err, ErrPromptCancelled) || (err == nil && input == "") {
			return vault.ErrChallengeCancelled
		}
		if err != nil {
			return fmt.Errorf("read passcode: %w", err)
		}

		match, err := argon2id.ComparePasswordAndHash(input, hash)
		if err != nil {
			return fmt.Errorf("compare passcode: %w", err)
		}
		if match {
			return nil
		}
		g.logger.Warn("wrong passcode", "attempt", attempt, "max_attempts", g.maxAttempts)
	}
	return vault.ErrChallengeFailed
}

func (g *PasscodeGate) hash(ctx context.Context) (string, bool) {
	h, ok, err := g.prefs.GetPreference(ctx, KeyPasscodeHash)
	if err != nil {
		g.logger.Warn("failed to read passcode hash", "error", err)
		return "", false
	}
	return h, ok && h != ""
}
