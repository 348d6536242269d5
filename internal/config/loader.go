package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"
)

// FileName is the base name of the configuration file.
const FileName = "sessioncore"

// InitViper initializes Viper with the configuration file and environment variables.
// If configFile is empty, it searches for sessioncore.yaml/.yml in standard locations.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// ReadInConfig then returns ConfigFileNotFoundError, handled by callers.
		viper.SetConfigName(FileName)
		viper.SetConfigType("yaml")
	}

	// Environment variable support: SESSIONCORE_API_BASE_URL
	viper.SetEnvPrefix("SESSIONCORE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".sessioncore"),
	}
	if runtime.GOOS == "windows" {
		if pd := os.Getenv("ProgramData"); pd != "" {
			paths = append(paths, filepath.Join(pd, "sessioncore"))
		}
	} else {
		paths = append(paths, "/etc/sessioncore")
	}
	return findConfigFileInPaths(paths)
}

// findConfigFileInPaths searches the given directories for sessioncore.yaml or .yml.
// Returns the full path of the first match, or empty string if none found.
func findConfigFileInPaths(paths []string) string {
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, FileName+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// envKeys lists every key that can be overridden from the environment.
// Example: SESSIONCORE_STORAGE_BACKEND overrides storage.backend
var envKeys = []string{
	"api.base_url",
	"api.timeout",
	"session.init_timeout",
	"session.refresh_timeout",
	"session.revoke_timeout",
	"storage.backend",
	"storage.dir",
	"vault.backend",
	"vault.service",
	"biometric.mode",
	"device.type",
	"log.level",
	"telemetry.metrics_addr",
	"telemetry.trace",
}

// Viper only consults AutomaticEnv for keys it already knows about, so
// Unmarshal misses nested keys absent from the config file unless bound.
func bindNestedEnvKeys() {
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}
}

// LoadConfig reads the configuration file, applies environment overrides,
// sets defaults and validates.
func LoadConfig() (*Config, error) {
	cfg, err := LoadConfigRaw()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// LoadConfigRaw reads the configuration file and applies defaults,
// but does NOT validate. Use this when CLI flags may still override values.
func LoadConfigRaw() (*Config, error) {
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found: continue with env vars and flags only.
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.SetDefaults()
	return &cfg, nil
}

// ConfigFileUsed returns the path to the configuration file that was loaded.
// Returns an empty string if no config file was found.
func ConfigFileUsed() string {
	return viper.ConfigFileUsed()
}
