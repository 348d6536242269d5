package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/renovo-works/sessioncore/internal/domain/refresh"
	"github.com/renovo-works/sessioncore/internal/port/outbound"
	"github.com/renovo-works/sessioncore/internal/telemetry"
)

// Default timeouts.
const (
	DefaultInitTimeout   = 15 * time.Second
	DefaultRevokeTimeout = 5 * time.Second
)

// Manager is the single writer of the session and its persisted record.
//
// All session mutations happen under mu and are guarded by a generation
// counter. Logout and login bump the generation; a refresh grant computed
// under an older generation is discarded instead of committed.
type Manager struct {
	api   outbound.AuthAPI
	store Store
	vault Vault
	coord *refresh.Coordinator

	mu       sync.Mutex
	state    State
	session  Session
	gen      uint64
	inflight int
	nextSeq  uint64

	// opMu serializes Login, Logout and rotated refresh token writes.
	opMu sync.Mutex

	// notifyMu guards delivered; notifyCond hands out delivery turns.
	notifyMu   sync.Mutex
	notifyCond *sync.Cond
	delivered  uint64

	obsMu     sync.Mutex
	observers []observer
	nextObs   uint64

	revokes sync.WaitGroup

	initTimeout   time.Duration
	revokeTimeout time.Duration
	deviceType    outbound.DeviceType
	refreshOpts   []refresh.Option
	validate      *validator.Validate
	metrics       *telemetry.Metrics
	tracer        trace.Tracer
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithInitTimeout bounds Initialize. Non-positive values are ignored.
func WithInitTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.initTimeout = d
		}
	}
}

// WithRevokeTimeout bounds the background logout revoke call.
func WithRevokeTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.revokeTimeout = d
		}
	}
}

// WithRefreshTimeout bounds a single refresh ticket.
func WithRefreshTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.refreshOpts = append(m.refreshOpts, refresh.WithTimeout(d))
	}
}

// WithDeviceType sets the device type sent on login when the credentials
// leave it empty. Defaults to desktop.
func WithDeviceType(t outbound.DeviceType) Option {
	return func(m *Manager) {
		m.deviceType = t
	}
}

// WithMetrics records session and refresh metrics.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithTracer sets the tracer used for login and refresh spans.
func WithTracer(t trace.Tracer) Option {
	return func(m *Manager) {
		m.tracer = t
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a Manager in the Uninitialized state.
func NewManager(api outbound.AuthAPI, store Store, vault Vault, opts ...Option) *Manager {
	m := &Manager{
		api:           api,
		store:         store,
		vault:         vault,
		state:         Uninitialized,
		initTimeout:   DefaultInitTimeout,
		revokeTimeout: DefaultRevokeTimeout,
		deviceType:    outbound.DeviceDesktop,
		validate:      validator.New(validator.WithRequiredStructEnabled()),
		tracer:        telemetry.Tracer(),
		logger:        slog.Default(),
		now:           time.Now,
	}
	m.notifyCond = sync.NewCond(&m.notifyMu)
	for _, opt := range opts {
		opt(m)
	}

	copts := append([]refresh.Option{
		refresh.WithMetrics(m.metrics),
		refresh.WithTracer(m.tracer),
		refresh.WithLogger(m.logger),
	}, m.refreshOpts...)
	m.coord = refresh.NewCoordinator(vault, api, m, copts...)
	m.metrics.SetState(m.state.String(), stateNames())
	return m
}

// Current returns a copy of the session.
func (m *Manager) Current() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// AccessToken returns the current access token, empty when unauthenticated.
func (m *Manager) AccessToken() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.AccessToken
}

// Generation returns the session generation.
func (m *Manager) Generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Commit applies a refresh grant if gen is still current. It reports whether
// the grant was applied; a non-nil error with true means the session is live
// in memory but could not be persisted.
func (m *Manager) Commit(ctx context.Context, gen uint64, grant refresh.Grant) (bool, error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false, nil
	}

	next := Session{AccessToken: grant.AccessToken, User: grant.User}
	if m.session.User.ID == grant.User.ID {
		next.PushToken = m.session.PushToken
	}
	m.session = next
	err := m.saveLocked(ctx)

	var ch *Change
	if m.state == Unauthenticated {
		ch = m.transitionLocked(Authenticated, ReasonRefreshed)
	}
	m.unlockAndNotify(ch)

	m.logger.Debug("refresh grant committed", "generation", gen, "token_fp", fingerprint(grant.AccessToken))

	if grant.RefreshToken != "" {
		m.storeRotated(ctx, gen, grant.RefreshToken)
	}
	return true, err
}

// storeRotated persists a rotated refresh token. It holds opMu, so no login
// or logout can move the generation between the check and the write.
func (m *Manager) storeRotated(ctx context.Context, gen uint64, token string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.Generation() != gen {
		m.logger.Debug("dropping rotated refresh token of an ended session", "generation", gen)
		return
	}
	if err := m.vault.Store(ctx, token); err != nil {
		m.logger.Error("failed to store rotated refresh token", "error", err)
	}
}

// Initialize restores the session at cold start. It is bounded by the init
// timeout and always settles the state to Authenticated or Unauthenticated.
// The returned error is non-nil only when the timeout expired; the state is
// still settled in that case.
func (m *Manager) Initialize(ctx context.Context) (State, error) {
	m.mu.Lock()
	if m.state != Uninitialized {
		s := m.state
		m.mu.Unlock()
		return s, nil
	}
	gen := m.gen
	m.unlockAndNotify(m.transitionLocked(Initializing, ReasonInitializing))

	ctx, cancel := context.WithTimeout(ctx, m.initTimeout)
	defer cancel()

	to, reason := m.restore(ctx, gen)

	m.mu.Lock()
	m.unlockAndNotify(m.settleLocked(Initializing, to, reason))

	if err := ctx.Err(); err != nil {
		return m.State(), fmt.Errorf("initialize: %w", err)
	}
	return m.State(), nil
}

func (m *Manager) restore(ctx context.Context, gen uint64) (State, string) {
	rec, err := m.store.Load(ctx)
	switch {
	case errors.Is(err, ErrNoSession):
		return m.restoreFromVault(ctx)
	case err != nil:
		m.logger.Error("session store unavailable", "error", err)
		return Unauthenticated, ReasonStorage
	case rec.AccessToken == "":
		return m.restoreFromVault(ctx)
	}

	stored := Session{AccessToken: rec.AccessToken, User: rec.User, PushToken: rec.PushToken}
	me, err := m.api.Me(ctx, rec.AccessToken)
	switch {
	case errors.Is(err, outbound.ErrTransientNetwork):
		// Offline start: trust the persisted record until the server says otherwise.
		m.logger.Warn("could not validate session, continuing offline", "error", err)
		if m.apply(ctx, gen, stored, false) {
			return Authenticated, ReasonOffline
		}
		return Unauthenticated, ReasonLogout
	case err != nil:
		m.logger.Warn("server refused persisted session", "error", err)
		if err := m.store.Clear(ctx); err != nil {
			m.logger.Error("failed to clear session store", "error", err)
		}
		return m.restoreFromVault(ctx)
	}

	if me.Status == outbound.MeOK {
		stored.User = me.User
		if m.apply(ctx, gen, stored, true) {
			return Authenticated, ReasonRestored
		}
		return Unauthenticated, ReasonLogout
	}

	res := m.coord.Trigger(ctx)
	switch res.Outcome {
	case refresh.Success:
		return Authenticated, ReasonRefreshed
	case refresh.Expired:
		m.clearLocal(ctx, true)
		return Unauthenticated, ReasonSessionExpired
	case refresh.Declined, refresh.Superseded:
		m.clearLocal(ctx, false)
		return Unauthenticated, res.Outcome.String()
	default:
		return Unauthenticated, res.Outcome.String()
	}
}

func (m *Manager) restoreFromVault(ctx context.Context) (State, string) {
	res := m.coord.Trigger(ctx)
	switch res.Outcome {
	case refresh.Success:
		return Authenticated, ReasonRefreshed
	case refresh.Expired:
		m.clearLocal(ctx, true)
		return Unauthenticated, ReasonSessionExpired
	case refresh.Declined:
		return Unauthenticated, ReasonNoSession
	default:
		return Unauthenticated, res.Outcome.String()
	}
}

// apply installs s if gen is still current, optionally persisting it.
func (m *Manager) apply(ctx context.Context, gen uint64, s Session, persist bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}
	m.session = s
	if persist {
		if err := m.saveLocked(ctx); err != nil {
			m.logger.Warn("failed to persist restored session", "error", err)
		}
	}
	return true
}

// Login exchanges credentials for a session. On failure the state is
// unchanged and the error is a *LoginError.
func (m *Manager) Login(ctx context.Context, creds Credentials) (Session, error) {
	if err := m.validate.Struct(creds); err != nil {
		m.metrics.ObserveLogin("rejected")
		return Session{}, &LoginError{Reason: validationReason(err), Err: ErrInvalidCredentials}
	}

	m.opMu.Lock()
	defer m.opMu.Unlock()

	ctx, span := m.tracer.Start(ctx, "session.login")
	defer span.End()

	req := outbound.LoginRequest{
		Username:   creds.Username,
		Password:   creds.Password,
		DeviceID:   creds.DeviceID,
		DeviceType: creds.DeviceType,
	}
	if req.DeviceType == "" {
		req.DeviceType = m.deviceType
	}
	if req.DeviceID == "" {
		id, err := m.vault.DeviceID(ctx)
		if err != nil {
			m.logger.Warn("device id unavailable, logging in without it", "error", err)
		}
		req.DeviceID = id
	}
	span.SetAttributes(attribute.String("device.type", string(req.DeviceType)))

	res, err := m.api.Login(ctx, req)
	if err != nil {
		m.metrics.ObserveLogin("error")
		span.RecordError(err)
		span.SetStatus(codes.Error, "login request failed")
		return Session{}, &LoginError{Reason: err.Error(), Err: err}
	}
	if res.Status == outbound.LoginRejected {
		m.metrics.ObserveLogin("rejected")
		span.SetStatus(codes.Error, "rejected")
		m.logger.Info("login rejected", "status", res.HTTPStatus)
		return Session{}, &LoginError{Reason: res.Reason, Status: res.HTTPStatus, Err: ErrInvalidCredentials}
	}

	if err := m.vault.Store(ctx, res.RefreshToken); err != nil {
		// The access token is still good for this run; only silent
		// refresh after it expires will be unavailable.
		m.logger.Error("failed to store refresh token", "error", err)
	}

	m.mu.Lock()
	m.gen++
	m.session = Session{AccessToken: res.Token, User: res.User}
	if err := m.saveLocked(ctx); err != nil {
		m.logger.Error("failed to persist session", "error", err)
	}
	s := m.session
	m.unlockAndNotify(m.transitionLocked(Authenticated, ReasonLogin))

	m.metrics.ObserveLogin("ok")
	m.logger.Info("logged in", "user_id", s.User.ID, "role", s.User.Role, "token_fp", fingerprint(s.AccessToken))
	return s, nil
}

// Logout ends the session. The server-side revoke runs in the background;
// local storage and the vault are cleared unconditionally and the state is
// Unauthenticated when Logout returns, even if clearing failed.
func (m *Manager) Logout(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	return m.logout(ctx, ReasonLogout)
}

// logoutIfCurrent logs out only if gen is still current.
func (m *Manager) logoutIfCurrent(ctx context.Context, gen uint64, reason string) {
	m.opMu.Lock()
	defer m.opMu.Unlock()
	if m.Generation() != gen {
		return
	}
	if err := m.logout(ctx, reason); err != nil {
		m.logger.Error("forced logout left local data behind", "error", err)
	}
}

func (m *Manager) logout(ctx context.Context, reason string) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	prev := m.session
	m.session = Session{}
	m.unlockAndNotify(m.transitionLocked(LoggingOut, reason))

	refreshToken, _, err := m.vault.Retrieve(ctx, false)
	if err != nil {
		m.logger.Warn("could not read refresh token for revoke", "error", err)
	}
	if prev.AccessToken != "" || refreshToken != "" {
		m.revoke(ctx, prev.AccessToken, refreshToken)
	}

	errs := m.clearLocal(ctx, true)

	m.mu.Lock()
	m.unlockAndNotify(m.settleLocked(LoggingOut, Unauthenticated, reason))

	m.logger.Info("logged out", "reason", reason, "generation", gen)
	return errs
}

// revoke calls POST /auth/logout on its own goroutine.
func (m *Manager) revoke(ctx context.Context, accessToken, refreshToken string) {
	m.revokes.Add(1)
	go func() {
		defer m.revokes.Done()
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.revokeTimeout)
		defer cancel()
		if err := m.api.Logout(rctx, accessToken, refreshToken); err != nil {
			m.logger.Warn("server-side revoke failed", "error", err)
		}
	}()
}

// clearLocal erases the persisted record and, if withVault, the refresh token.
func (m *Manager) clearLocal(ctx context.Context, withVault bool) error {
	var errs []error
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Error("failed to clear session store", "error", err)
		errs = append(errs, fmt.Errorf("clear session store: %w", err))
	}
	if withVault {
		if err := m.vault.Delete(ctx); err != nil {
			m.logger.Error("failed to erase refresh token", "error", err)
			errs = append(errs, fmt.Errorf("erase refresh token: %w", err))
		}
	}
	return errors.Join(errs...)
}

// TriggerRefresh runs or joins a refresh ticket. While it is in flight an
// authenticated session shows Refreshing. An Expired outcome for the current
// generation forces a logout.
func (m *Manager) TriggerRefresh(ctx context.Context) refresh.Result {
	m.mu.Lock()
	m.inflight++
	var ch *Change
	if m.state == Authenticated {
		ch = m.transitionLocked(Refreshing, ReasonRefreshing)
	}
	m.unlockAndNotify(ch)

	res := m.coord.Trigger(ctx)

	m.mu.Lock()
	m.inflight--
	expired := res.Outcome == refresh.Expired && res.Generation == m.gen
	ch = nil
	if m.inflight == 0 && !expired && m.state == Refreshing {
		to := Unauthenticated
		if m.session.Authenticated() {
			to = Authenticated
		}
		ch = m.transitionLocked(to, res.Outcome.String())
	}
	m.unlockAndNotify(ch)

	if expired {
		m.logoutIfCurrent(ctx, res.Generation, ReasonSessionExpired)
	}
	return res
}

// CachePushToken stores the push token on the session if gen is current.
func (m *Manager) CachePushToken(ctx context.Context, gen uint64, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.session.Authenticated() {
		return nil
	}
	m.session.PushToken = token
	return m.saveLocked(ctx)
}

// Close waits for background revoke calls to finish or ctx to be done.
func (m *Manager) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.revokes.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// saveLocked persists the session. Caller holds m.mu.
func (m *Manager) saveLocked(ctx context.Context) error {
	rec := &Record{
		AccessToken: m.session.AccessToken,
		User:        m.session.User,
		PushToken:   m.session.PushToken,
		UpdatedAt:   m.now().UTC(),
	}
	if err := m.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// transitionLocked moves to the given state and returns the change to
// deliver. Caller holds m.mu.
func (m *Manager) transitionLocked(to State, reason string) *Change {
	from := m.state
	m.state = to
	m.metrics.SetState(to.String(), stateNames())
	m.logger.Debug("session state changed", "from", from.String(), "to", to.String(), "reason", reason)
	return &Change{From: from, To: to, Session: m.session, Reason: reason, Generation: m.gen}
}

// settleLocked transitions only if the state is still from.
func (m *Manager) settleLocked(from, to State, reason string) *Change {
	if m.state != from {
		return nil
	}
	return m.transitionLocked(to, reason)
}

func stateNames() []string {
	names := make([]string, len(AllStates))
	for i, s := range AllStates {
		names[i] = s.String()
	}
	return names
}

func validationReason(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(e.Field())))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of: %s", strings.ToLower(e.Field()), e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s is invalid", strings.ToLower(e.Field())))
		}
	}
	return strings.Join(msgs, "; ")
}
