package service

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/renovo-works/sessioncore/internal/adapter/outbound/authapi"
	"github.com/renovo-works/sessioncore/internal/adapter/outbound/memory"
	"github.com/renovo-works/sessioncore/internal/domain/account"
	"github.com/renovo-works/sessioncore/internal/domain/session"
	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSession delivers changes by hand.
type fakeSession struct {
	mu     sync.Mutex
	fn     func(session.Change)
	cached map[uint64]string
}

func newFakeSession() *fakeSession {
	return &fakeSession{cached: map[uint64]string{}}
}

func (f *fakeSession) Subscribe(fn func(session.Change)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fn = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.fn = nil
	}
}

func (f *fakeSession) CachePushToken(_ context.Context, gen uint64, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached[gen] = token
	return nil
}

func (f *fakeSession) emit(ch session.Change) {
	f.mu.Lock()
	fn := f.fn
	f.mu.Unlock()
	if fn != nil {
		fn(ch)
	}
}

func (f *fakeSession) token(gen uint64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cached[gen]
}

// blockingRegistrar blocks until release is closed or ctx is done.
type blockingRegistrar struct {
	calls   atomic.Int32
	release chan struct{}
}

func (b *blockingRegistrar) Register(ctx context.Context, _ string, _ account.UserID) (string, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
		return "P1", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func authed(gen uint64, push string) session.Change {
	return session.Change{
		From:       session.Unauthenticated,
		To:         session.Authenticated,
		Generation: gen,
		Session: session.Session{
			AccessToken: "T1",
			User:        account.User{ID: "7"},
			PushToken:   push,
		},
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPushService_RegistersOncePerGeneration(t *testing.T) {
	defer goleak.VerifyNone(t)

	sessions := newFakeSession()
	reg := &blockingRegistrar{release: make(chan struct{})}
	svc := NewPushService(sessions, reg, discard())
	svc.Start()

	sessions.emit(authed(1, ""))
	sessions.emit(authed(1, ""))
	waitFor(t, "registration call", func() bool { return reg.calls.Load() == 1 })
	if svc.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", svc.Pending())
	}

	close(reg.release)
	if err := svc.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if got := sessions.token(1); got != "P1" {
		t.Errorf("cached push token = %q, want P1", got)
	}

	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := reg.calls.Load(); got != 1 {
		t.Errorf("Register calls = %d, want 1", got)
	}
}

func TestPushService_SkipsCachedToken(t *testing.T) {
	t.Parallel()

	sessions := newFakeSession()
	reg := &blockingRegistrar{release: make(chan struct{})}
	svc := NewPushService(sessions, reg, discard())
	svc.Start()
	defer svc.Close(context.Background())

	sessions.emit(authed(1, "P0"))
	sessions.emit(session.Change{From: session.Uninitialized, To: session.Authenticated, Generation: 2})

	if got := reg.calls.Load(); got != 0 {
		t.Errorf("Register calls = %d, want 0", got)
	}
}

func TestPushService_LogoutCancelsPending(t *testing.T) {
	defer goleak.VerifyNone(t)

	sessions := newFakeSession()
	reg := &blockingRegistrar{release: make(chan struct{})}
	svc := NewPushService(sessions, reg, discard())
	svc.Start()

	sessions.emit(authed(1, ""))
	waitFor(t, "registration call", func() bool { return reg.calls.Load() == 1 })

	sessions.emit(session.Change{From: session.Authenticated, To: session.LoggingOut, Generation: 2})
	waitFor(t, "registration abandoned", func() bool { return svc.Pending() == 0 })

	if got := sessions.token(1); got != "" {
		t.Errorf("push token cached after logout: %q", got)
	}
	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}

func TestPushService_CloseStopsListening(t *testing.T) {
	defer goleak.VerifyNone(t)

	sessions := newFakeSession()
	reg := &blockingRegistrar{release: make(chan struct{})}
	svc := NewPushService(sessions, reg, discard())
	svc.Start()

	if err := svc.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	sessions.emit(authed(1, ""))
	if got := reg.calls.Load(); got != 0 {
		t.Errorf("Register calls after Close() = %d, want 0", got)
	}
}

func TestPushService_WithManager(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case authapi.PathLogin:
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token":        "T1",
				"refreshToken": "R1",
				"user":         map[string]any{"id": 7, "username": "alice"},
			})
		case authapi.PathPushRegister:
			if r.Header.Get("Authorization") != "Bearer T1" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			_, _ = w.Write([]byte(`{"pushToken":"P1"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	api := authapi.New(server.URL, authapi.WithLogger(discard()))
	store := memory.NewSessionStore()
	v := vault.New(memory.NewSecretStore(), store, nil, vault.WithLogger(discard()))
	mgr := session.NewManager(api, store, v, session.WithLogger(discard()))

	svc := NewPushService(mgr, api, discard())
	svc.Start()

	if _, err := mgr.Login(ctx, session.Credentials{Username: "alice", Password: "pw"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	waitFor(t, "push token on session", func() bool { return mgr.Current().PushToken == "P1" })

	rec, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if rec.PushToken != "P1" {
		t.Errorf("persisted push token = %q, want P1", rec.PushToken)
	}

	if err := svc.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := mgr.Close(ctx); err != nil {
		t.Fatalf("manager Close() error = %v", err)
	}
}
