package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renovo-works/sessioncore/internal/adapter/outbound/apiclient"
	"github.com/renovo-works/sessioncore/internal/adapter/outbound/authapi"
	"github.com/renovo-works/sessioncore/internal/adapter/outbound/biometric"
	"github.com/renovo-works/sessioncore/internal/adapter/outbound/keyring"
	"github.com/renovo-works/sessioncore/internal/adapter/outbound/memory"
	"github.com/renovo-works/sessioncore/internal/adapter/outbound/sqlite"
	"github.com/renovo-works/sessioncore/internal/adapter/outbound/state"
	"github.com/renovo-works/sessioncore/internal/config"
	"github.com/renovo-works/sessioncore/internal/domain/session"
	"github.com/renovo-works/sessioncore/internal/domain/vault"
	"github.com/renovo-works/sessioncore/internal/port/outbound"
	"github.com/renovo-works/sessioncore/internal/service"
	"github.com/renovo-works/sessioncore/internal/telemetry"
)

// defaultCloseSlack is added to the revoke timeout when closing the app.
const defaultCloseSlack = 2 * time.Second

// SQLiteFileName is the database file used by the sqlite backend.
const SQLiteFileName = "session.db"

// backingStore is ordinary storage: the session record plus preferences.
type backingStore interface {
	session.Store
	vault.Preferences
	Reset(ctx context.Context) error
}

// app holds the wired session core for one command run.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *telemetry.Metrics

	store   backingStore
	secrets vault.SecretStore
	gate    *biometric.PasscodeGate
	vault   *vault.Vault

	api     *authapi.Client
	manager *session.Manager
	client  *apiclient.Client
	push    *service.PushService

	closers []func(context.Context) error
}

// appOptions lets tests swap platform pieces.
type appOptions struct {
	secrets vault.SecretStore
	prompt  biometric.Prompt
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	return buildApp(ctx, cfg, logger, appOptions{})
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.WithoutCancel(ctx))
		}
	}()

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = telemetry.NewMetrics(a.registry)

	if cfg.Telemetry.Trace {
		shutdown, err := telemetry.SetupStdoutTracing(os.Stderr)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, shutdown)
	}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	a.secrets = opts.secrets
	if a.secrets == nil {
		switch cfg.Vault.Backend {
		case "memory":
			a.secrets = memory.NewSecretStore()
		default:
			a.secrets = keyring.New(cfg.Vault.Service)
		}
	}

	var auth vault.Authenticator
	if cfg.Biometric.Mode == "passcode" {
		prompt := opts.prompt
		if prompt == nil {
			prompt = biometric.NewTerminalPrompt()
		}
		a.gate = biometric.NewPasscodeGate(a.store, prompt, biometric.WithLogger(logger))
		auth = a.gate
	}
	a.vault = vault.New(a.secrets, a.store, auth, vault.WithLogger(logger))

	if fs, ok := a.store.(*state.FileStore); ok {
		a.migrateLegacy(ctx, fs)
	}

	a.api = authapi.New(cfg.API.BaseURL,
		authapi.WithTimeout(cfg.APITimeout()),
		authapi.WithUserAgent(userAgent()),
		authapi.WithLogger(logger),
	)
	a.manager = session.NewManager(a.api, a.store, a.vault,
		session.WithInitTimeout(cfg.InitTimeout()),
		session.WithRefreshTimeout(cfg.RefreshTimeout()),
		session.WithRevokeTimeout(cfg.RevokeTimeout()),
		session.WithDeviceType(outbound.DeviceType(cfg.Device.Type)),
		session.WithMetrics(a.metrics),
		session.WithTracer(telemetry.Tracer()),
		session.WithLogger(logger),
	)
	a.closers = append(a.closers, a.manager.Close)

	a.client = apiclient.New(cfg.API.BaseURL, a.manager,
		apiclient.WithMetrics(a.metrics),
		apiclient.WithLogger(logger),
	)

	a.push = service.NewPushService(a.manager, a.api, logger)
	a.push.Start()
	a.closers = append(a.closers, a.push.Close)

	if cfg.Telemetry.MetricsAddr != "" {
		if err := a.serveMetrics(cfg.Telemetry.MetricsAddr); err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	dir := a.cfg.Storage.Dir
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		a.store = memory.NewSessionStore()
	case config.BackendSQLite:
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("create storage dir: %w", err)
		}
		db, err := sqlite.Open(ctx, filepath.Join(dir, SQLiteFileName), a.logger)
		if err != nil {
			return err
		}
		a.store = db
		a.closers = append(a.closers, func(context.Context) error { return db.Close() })
	default:
		a.store = state.NewFileStore(filepath.Join(dir, state.DefaultFileName), a.logger)
	}
	a.logger.Debug("storage ready", "backend", a.cfg.Storage.Backend, "dir", dir)
	return nil
}

// migrateLegacy imports a legacy key-value file once. Failures keep the
// legacy file for the next run.
func (a *app) migrateLegacy(ctx context.Context, fs *state.FileStore) {
	legacy := filepath.Join(a.cfg.Storage.Dir, state.LegacyFileName)
	if _, err := os.Stat(legacy); err != nil {
		return
	}
	if _, err := state.NewLegacyMigrator(legacy, fs, a.vault, a.logger).Migrate(ctx); err != nil {
		a.logger.Warn("legacy storage migration failed", "path", legacy, "error", err)
	}
}

func (a *app) serveMetrics(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{
		Registry: a.registry,
	}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", "error", err)
		}
	}()
	a.logger.Info("serving metrics", "addr", ln.Addr().String())
	a.closers = append(a.closers, srv.Shutdown)
	return nil
}

// Close releases everything in reverse order of construction.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
