// Package config provides configuration types for sessioncore.
//
// Configuration comes from sessioncore.yaml, SESSIONCORE_* environment
// variables and, in sessionctl, command line flags. Durations are written
// as Go duration strings ("30s", "2m").
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config is the top-level configuration.
type Config struct {
	// API configures the backend the session authenticates against.
	API APIConfig `yaml:"api" mapstructure:"api"`

	// Session configures the session manager timeouts.
	Session SessionConfig `yaml:"session" mapstructure:"session"`

	// Storage configures where the session record and preferences live.
	Storage StorageConfig `yaml:"storage" mapstructure:"storage"`

	// Vault configures where the refresh token lives.
	Vault VaultConfig `yaml:"vault" mapstructure:"vault"`

	// Biometric configures the interactive gate in front of the refresh token.
	Biometric BiometricConfig `yaml:"biometric" mapstructure:"biometric"`

	// Device identifies this installation to the backend.
	Device DeviceConfig `yaml:"device" mapstructure:"device"`

	// Log configures structured logging.
	Log LogConfig `yaml:"log" mapstructure:"log"`

	// Telemetry configures metrics and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry" mapstructure:"telemetry"`
}

// APIConfig configures the backend API.
type APIConfig struct {
	// BaseURL is the API root, e.g. "https://api.example.com".
	BaseURL string `yaml:"base_url" mapstructure:"base_url" validate:"required,url"`
	// Timeout is the per-request HTTP timeout. Default: "10s".
	Timeout string `yaml:"timeout" mapstructure:"timeout" validate:"omitempty,duration"`
}

// SessionConfig configures session manager timeouts.
type SessionConfig struct {
	// InitTimeout bounds startup restore. Default: "15s".
	InitTimeout string `yaml:"init_timeout" mapstructure:"init_timeout" validate:"omitempty,duration"`
	// RefreshTimeout bounds one refresh ticket. Default: "30s".
	RefreshTimeout string `yaml:"refresh_timeout" mapstructure:"refresh_timeout" validate:"omitempty,duration"`
	// RevokeTimeout bounds the background revoke on logout. Default: "5s".
	RevokeTimeout string `yaml:"revoke_timeout" mapstructure:"revoke_timeout" validate:"omitempty,duration"`
}

// StorageConfig configures ordinary storage.
type StorageConfig struct {
	// Backend is file, sqlite or memory. Default: file.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"store_backend"`
	// Dir holds session.json or session.db. Default: ~/.sessioncore.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// VaultConfig configures secure storage.
type VaultConfig struct {
	// Backend is keyring or memory. Default: keyring.
	Backend string `yaml:"backend" mapstructure:"backend" validate:"oneof=keyring memory"`
	// Service is the keyring service name. Default: sessioncore.
	Service string `yaml:"service" mapstructure:"service"`
}

// BiometricConfig configures the gate.
type BiometricConfig struct {
	// Mode is none or passcode. Default: none.
	Mode string `yaml:"mode" mapstructure:"mode" validate:"oneof=none passcode"`
}

// DeviceConfig identifies the installation.
type DeviceConfig struct {
	// Type is sent on login. Default: desktop.
	Type string `yaml:"type" mapstructure:"type" validate:"oneof=ios android web desktop"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is debug, info, warn or error. Default: info.
	Level string `yaml:"level" mapstructure:"level" validate:"oneof=debug info warn error"`
}

// TelemetryConfig configures metrics and tracing.
type TelemetryConfig struct {
	// MetricsAddr, when set, serves /metrics on this address.
	MetricsAddr string `yaml:"metrics_addr" mapstructure:"metrics_addr" validate:"omitempty,hostname_port"`
	// Trace writes spans to stderr.
	Trace bool `yaml:"trace" mapstructure:"trace"`
}

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// SetDefaults applies default values to unset fields.
func (c *Config) SetDefaults() {
	if c.API.Timeout == "" {
		c.API.Timeout = "10s"
	}

	if c.Session.InitTimeout == "" {
		c.Session.InitTimeout = "15s"
	}
	if c.Session.RefreshTimeout == "" {
		c.Session.RefreshTimeout = "30s"
	}
	if c.Session.RevokeTimeout == "" {
		c.Session.RevokeTimeout = "5s"
	}

	if c.Storage.Backend == "" {
		c.Storage.Backend = BackendFile
	}
	if c.Storage.Dir == "" {
		c.Storage.Dir = DefaultDir()
	}

	if c.Vault.Backend == "" {
		c.Vault.Backend = "keyring"
	}
	if c.Vault.Service == "" {
		c.Vault.Service = "sessioncore"
	}

	if c.Biometric.Mode == "" {
		c.Biometric.Mode = "none"
	}
	if c.Device.Type == "" {
		c.Device.Type = "desktop"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// DefaultDir returns ~/.sessioncore, or .sessioncore when the home
// directory is unknown.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sessioncore"
	}
	return filepath.Join(home, ".sessioncore")
}

// APITimeout returns the parsed API timeout.
func (c *Config) APITimeout() time.Duration { return mustDuration(c.API.Timeout) }

// InitTimeout returns the parsed init timeout.
func (c *Config) InitTimeout() time.Duration { return mustDuration(c.Session.InitTimeout) }

// RefreshTimeout returns the parsed refresh timeout.
func (c *Config) RefreshTimeout() time.Duration { return mustDuration(c.Session.RefreshTimeout) }

// RevokeTimeout returns the parsed revoke timeout.
func (c *Config) RevokeTimeout() time.Duration { return mustDuration(c.Session.RevokeTimeout) }

// mustDuration parses a validated duration. Invalid or empty input yields 0,
// which every consumer treats as "use the default".
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}
