package apiclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/renovo-works/sessioncore/internal/adapter/outbound/authapi"
	"github.com/renovo-works/sessioncore/internal/adapter/outbound/memory"
	"github.com/renovo-works/sessioncore/internal/ctxkey"
	"github.com/renovo-works/sessioncore/internal/domain/refresh"
	"github.com/renovo-works/sessioncore/internal/domain/session"
	"github.com/renovo-works/sessioncore/internal/domain/vault"
	"github.com/renovo-works/sessioncore/internal/telemetry"
)

// fakeSession swaps to next on a successful refresh.
type fakeSession struct {
	mu       sync.Mutex
	token    string
	next     string
	outcome  refresh.Outcome
	err      error
	refreshN atomic.Int32
}

func (s *fakeSession) AccessToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

func (s *fakeSession) TriggerRefresh(context.Context) refresh.Result {
	s.refreshN.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.outcome == refresh.Success {
		s.token = s.next
	}
	return refresh.Result{Outcome: s.outcome, Err: s.err}
}

func (s *fakeSession) set(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

// scriptedServer answers with statuses in order and records tokens and bodies.
type scriptedServer struct {
	mu       sync.Mutex
	statuses []int
	tokens   []string
	bodies   []string
}

func (s *scriptedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	i := len(s.tokens)
	s.tokens = append(s.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
	s.bodies = append(s.bodies, string(b))
	status := s.statuses[len(s.statuses)-1]
	if i < len(s.statuses) {
		status = s.statuses[i]
	}
	s.mu.Unlock()
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"ok":true}`))
}

func (s *scriptedServer) seen() (tokens, bodies []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.tokens...), append([]string(nil), s.bodies...)
}

func (s *scriptedServer) attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}

func TestDo_RetriesOnceAfterRefresh(t *testing.T) {
	t.Parallel()
	srv := &scriptedServer{statuses: []int{http.StatusUnauthorized, http.StatusOK}}
	server := httptest.NewServer(srv)
	defer server.Close()

	sess := &fakeSession{token: "T1", next: "T2", outcome: refresh.Success}
	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	c := New(server.URL, sess, WithMetrics(metrics))

	resp, err := c.Do(context.Background(), http.MethodPost, "/jobs", strings.NewReader(`{"name":"roof"}`))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if got := srv.attempts(); got != 2 {
		t.Fatalf("attempts = %d, want 2", got)
	}
	tokens, bodies := srv.seen()
	if tokens[0] != "T1" || tokens[1] != "T2" {
		t.Errorf("tokens = %v, want [T1 T2]", tokens)
	}
	if bodies[1] != `{"name":"roof"}` {
		t.Errorf("retried body = %q, want original body resent", bodies[1])
	}
	if got := testutil.ToFloat64(metrics.HTTPRetries); got != 1 {
		t.Errorf("http_retries_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("2xx")); got != 1 {
		t.Errorf("http_requests_total{2xx} = %v, want 1", got)
	}
}

func TestDo_SecondUnauthorizedIsTerminal(t *testing.T) {
	t.Parallel()
	srv := &scriptedServer{statuses: []int{http.StatusUnauthorized, http.StatusUnauthorized}}
	server := httptest.NewServer(srv)
	defer server.Close()

	sess := &fakeSession{token: "T1", next: "T2", outcome: refresh.Success}
	_, err := New(server.URL, sess).Do(context.Background(), http.MethodGet, "/jobs", nil)

	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("Do() error = %v, want *AuthError", err)
	}
	if !ae.Terminal {
		t.Error("AuthError.Terminal = false, want true")
	}
	if !errors.Is(err, ErrSessionUnavailable) {
		t.Errorf("Do() error = %v, want wrapping ErrSessionUnavailable", err)
	}
	if got := srv.attempts(); got != 2 {
		t.Errorf("attempts = %d, want exactly 2", got)
	}
	if got := sess.refreshN.Load(); got != 1 {
		t.Errorf("refreshes = %d, want 1", got)
	}
}

func TestDo_RefreshFailureSurfacesOutcome(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		outcome  refresh.Outcome
		err      error
		sentinel error
	}{
		{name: "declined", outcome: refresh.Declined, sentinel: session.ErrRefreshDeclined},
		{name: "expired", outcome: refresh.Expired, sentinel: session.ErrRefreshExpired},
		{name: "network error", outcome: refresh.NetworkError, err: errors.New("dial tcp: refused")},
		{name: "superseded", outcome: refresh.Superseded, sentinel: session.ErrRefreshDeclined},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := &scriptedServer{statuses: []int{http.StatusUnauthorized}}
			server := httptest.NewServer(srv)
			defer server.Close()

			sess := &fakeSession{token: "T1", outcome: tt.outcome, err: tt.err}
			_, err := New(server.URL, sess).Do(context.Background(), http.MethodGet, "/jobs", nil)

			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("Do() error = %v, want *AuthError", err)
			}
			if ae.Outcome != tt.outcome || ae.Status != http.StatusUnauthorized || ae.Terminal {
				t.Errorf("AuthError = %+v, want outcome %v status 401 non-terminal", ae, tt.outcome)
			}
			if !errors.Is(err, ErrSessionUnavailable) {
				t.Errorf("Do() error = %v, want wrapping ErrSessionUnavailable", err)
			}
			if tt.err != nil && !errors.Is(err, tt.err) {
				t.Errorf("Do() error = %v, want wrapping %v", err, tt.err)
			}
			if tt.sentinel != nil && !errors.Is(err, tt.sentinel) {
				t.Errorf("Do() error = %v, want wrapping %v", err, tt.sentinel)
			}
			if tt.sentinel == nil && (errors.Is(err, session.ErrRefreshDeclined) || errors.Is(err, session.ErrRefreshExpired)) {
				t.Errorf("Do() error = %v, want no refresh sentinel", err)
			}
			if got := srv.attempts(); got != 1 {
				t.Errorf("attempts = %d, want 1 (no retry)", got)
			}
		})
	}
}

func TestDo_StaleTokenRetriesWithoutRefresh(t *testing.T) {
	t.Parallel()
	sess := &fakeSession{token: "T1", outcome: refresh.Success}

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Another request refreshed while this one was on the wire.
			sess.set("T2")
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer T2" {
			t.Errorf("retry auth = %q, want Bearer T2", got)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	resp, err := New(server.URL, sess).Do(context.Background(), http.MethodGet, "/jobs", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()
	if got := sess.refreshN.Load(); got != 0 {
		t.Errorf("refreshes = %d, want 0", got)
	}
}

func TestDo_PassesThroughOtherStatuses(t *testing.T) {
	t.Parallel()
	for _, status := range []int{http.StatusOK, http.StatusForbidden, http.StatusNotFound, http.StatusInternalServerError} {
		srv := &scriptedServer{statuses: []int{status}}
		server := httptest.NewServer(srv)
		sess := &fakeSession{token: "T1"}

		resp, err := New(server.URL, sess).Do(context.Background(), http.MethodGet, "/x", nil)
		if err != nil {
			t.Fatalf("Do() status %d error = %v", status, err)
		}
		resp.Body.Close()
		if resp.StatusCode != status {
			t.Errorf("status = %d, want %d", resp.StatusCode, status)
		}
		if sess.refreshN.Load() != 0 || srv.attempts() != 1 {
			t.Errorf("status %d: refreshes=%d attempts=%d, want 0 and 1", status, sess.refreshN.Load(), srv.attempts())
		}
		server.Close()
	}
}

func TestDoJSON(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected content-type: %s", r.Header.Get("Content-Type"))
		}
		b, _ := io.ReadAll(r.Body)
		if string(b) != `{"name":"roof"}` {
			t.Errorf("body = %s", b)
		}
		_, _ = w.Write([]byte(`{"id":42}`))
	}))
	defer server.Close()

	var out struct {
		ID int `json:"id"`
	}
	in := map[string]string{"name": "roof"}
	if err := New(server.URL, &fakeSession{token: "T1"}).DoJSON(context.Background(), http.MethodPost, "/jobs", in, &out); err != nil {
		t.Fatalf("DoJSON() error = %v", err)
	}
	if out.ID != 42 {
		t.Errorf("out.ID = %d, want 42", out.ID)
	}
}

func TestDoJSON_StatusError(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such job", http.StatusNotFound)
	}))
	defer server.Close()

	err := New(server.URL, &fakeSession{token: "T1"}).DoJSON(context.Background(), http.MethodGet, "/jobs/9", nil, nil)
	var se *StatusError
	if !errors.As(err, &se) || se.Status != http.StatusNotFound || se.Body != "no such job" {
		t.Errorf("DoJSON() error = %v, want 404 StatusError", err)
	}
}

func TestDo_ForwardsRequestID(t *testing.T) {
	t.Parallel()
	var got atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.Header.Get(HeaderRequestID))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := New(server.URL, &fakeSession{token: "T1"})
	ctx := context.WithValue(context.Background(), ctxkey.RequestIDKey{}, "req-42")
	resp, err := c.Do(ctx, http.MethodGet, "/jobs", nil)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	resp.Body.Close()

	if id, _ := got.Load().(string); id != "req-42" {
		t.Errorf("%s = %q, want req-42", HeaderRequestID, id)
	}
}

func TestDo_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	t.Parallel()
	const n = 10

	var (
		jobHits      atomic.Int32
		refreshCalls atomic.Int32
		staleSeen    atomic.Int32
		release      = make(chan struct{})
	)
	user := `{"id":7,"username":"alice"}`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case authapi.PathLogin:
			_, _ = w.Write([]byte(`{"token":"T1","refreshToken":"R1","user":` + user + `}`))
		case authapi.PathRefresh:
			refreshCalls.Add(1)
			time.Sleep(100 * time.Millisecond)
			_, _ = w.Write([]byte(`{"token":"T2","user":` + user + `}`))
		case "/jobs":
			jobHits.Add(1)
			if r.Header.Get("Authorization") == "Bearer T2" {
				_, _ = w.Write([]byte(`[]`))
				return
			}
			// Hold every first attempt until all callers sent one.
			if staleSeen.Add(1) == n {
				close(release)
			}
			<-release
			w.WriteHeader(http.StatusUnauthorized)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	ctx := context.Background()
	store := memory.NewSessionStore()
	mgr := session.NewManager(authapi.New(server.URL), store, vault.New(memory.NewSecretStore(), store, nil))
	defer mgr.Close(ctx)
	if _, err := mgr.Login(ctx, session.Credentials{Username: "alice", Password: "pw"}); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	client := New(server.URL, mgr)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := client.Do(ctx, http.MethodGet, "/jobs", nil)
			if err != nil {
				errs <- err
				return
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				errs <- errors.New(resp.Status)
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("Do() = %v, want 200", err)
	}
	if got := refreshCalls.Load(); got != 1 {
		t.Errorf("refresh calls = %d, want 1", got)
	}
	if got := jobHits.Load(); got != 2*n {
		t.Errorf("request hits = %d, want %d (one retry per call)", got, 2*n)
	}
	if got := mgr.AccessToken(); got != "T2" {
		t.Errorf("AccessToken() = %q, want T2", got)
	}
}
