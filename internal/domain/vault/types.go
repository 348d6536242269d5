// Package vault implements the secure credential vault: biometric-gated
// storage for the refresh token plus the stable device identifier and the
// user's biometric preference flags.
package vault

import "context"

// Kind is the type of interactive authentication the device offers.
type Kind string

const (
	KindNone        Kind = "none"
	KindFace        Kind = "face"
	KindFingerprint Kind = "fingerprint"
	KindPasscode    Kind = "passcode"
)

// Support describes the device's biometric capability.
type Support struct {
	// Supported is true when the hardware or fallback gate exists.
	Supported bool `json:"supported" yaml:"supported"`
	// Enrolled is true when the user has registered a face, finger or passcode.
	Enrolled bool `json:"enrolled" yaml:"enrolled"`
	// Kind is the strongest available method.
	Kind Kind `json:"kind" yaml:"kind"`
}

// Usable reports whether a challenge can actually be run.
func (s Support) Usable() bool {
	return s.Supported && s.Enrolled && s.Kind != KindNone
}

// Unsupported is the Support of a device without any gate.
var Unsupported = Support{Kind: KindNone}

// NoAuthenticator is an Authenticator for devices without a gate.
type NoAuthenticator struct{}

// Support always reports Unsupported.
func (NoAuthenticator) Support(_ context.Context) Support { return Unsupported }

// Authenticate always fails; it is never called when Support is unusable.
func (NoAuthenticator) Authenticate(_ context.Context, _ string) error { return ErrChallengeFailed }
