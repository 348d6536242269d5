// Package cmd provides the CLI commands for sessionctl.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/renovo-works/sessioncore/internal/config"
	"github.com/renovo-works/sessioncore/internal/ctxkey"
)

var (
	cfgFile         string
	flagBaseURL     string
	flagLogLevel    string
	flagStorage     string
	flagMetricsAddr string
	flagTrace       bool
)

var rootCmd = &cobra.Command{
	Use:   "sessionctl",
	Short: "sessionctl - session and credential lifecycle client",
	Long: `sessionctl signs in to the backend, keeps the session fresh, and sends
authenticated requests with it.

The access token and user are kept in ordinary storage; the refresh token is
kept in the OS keyring, optionally behind a passcode gate.

Configuration:
  Config is loaded from sessioncore.yaml in the current directory,
  $HOME/.sessioncore/, or /etc/sessioncore/.

  Environment variables can override config values with the SESSIONCORE_ prefix.
  Example: SESSIONCORE_API_BASE_URL=https://api.example.com

Commands:
  login       Sign in with username and password
  logout      Sign out and erase local credentials
  status      Show the current session
  refresh     Exchange the refresh token for a new access token
  request     Send an authenticated request
  biometric   Manage the passcode gate in front of the refresh token
  device-id   Print the stable device identifier
  reset       Remove all local session state
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), gracefulSignals()...)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./sessioncore.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "API base URL (overrides api.base_url)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&flagStorage, "storage", "", "storage backend: file, sqlite, memory")
	rootCmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port while the command runs")
	rootCmd.PersistentFlags().BoolVar(&flagTrace, "trace", false, "write OpenTelemetry spans to stderr")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads the configuration, applies command line overrides and
// validates the result.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyFlags(cfg *config.Config) {
	if flagBaseURL != "" {
		cfg.API.BaseURL = flagBaseURL
	}
	if flagLogLevel != "" {
		cfg.Log.Level = flagLogLevel
	}
	if flagStorage != "" {
		cfg.Storage.Backend = flagStorage
	}
	if flagMetricsAddr != "" {
		cfg.Telemetry.MetricsAddr = flagMetricsAddr
	}
	if flagTrace {
		cfg.Telemetry.Trace = true
	}
}

// newLogger writes text logs to stderr; stdout is reserved for command output.
func newLogger(level string) *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(level),
	}))
}

// parseLogLevel converts a string log level to slog.Level.
// Returns slog.LevelInfo for unrecognized values.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// commandContext tags ctx with a request id and a logger carrying it and
// the command name.
func commandContext(ctx context.Context, name string, logger *slog.Logger) (context.Context, *slog.Logger) {
	id := uuid.NewString()
	logger = logger.With("command", name, "request_id", id)
	ctx = context.WithValue(ctx, ctxkey.RequestIDKey{}, id)
	ctx = context.WithValue(ctx, ctxkey.LoggerKey{}, logger)
	return ctx, logger
}

// withApp loads config, builds the app, runs fn and closes the app.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, logger := commandContext(cmd.Context(), cmd.Name(), newLogger(cfg.Log.Level))
	if f := config.ConfigFileUsed(); f != "" {
		logger.Debug("loaded config", "file", f)
	}

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.RevokeTimeout()+defaultCloseSlack)
	defer cancel()
	if err := a.Close(closeCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	return runErr
}
