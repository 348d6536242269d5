package sqlite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/renovo-works/sessioncore/internal/domain/account"
	"github.com/renovo-works/sessioncore/internal/domain/session"
)

func openTest(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "session.db")
	s, err := Open(context.Background(), path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func TestStore_SessionRoundTrip(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTest(t)

	if _, err := s.Load(ctx); !errors.Is(err, session.ErrNoSession) {
		t.Fatalf("Load() on empty db error = %v, want ErrNoSession", err)
	}

	rec := &session.Record{AccessToken: "T1", User: account.User{ID: "7", Username: "alice"}, PushToken: "P1"}
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rec.AccessToken = "T2"
	if err := s.Save(ctx, rec); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	got, err := s.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.AccessToken != "T2" || got.User.ID != "7" || got.PushToken != "P1" {
		t.Errorf("Load() = %+v, want T2/7/P1", got)
	}

	if err := s.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := s.Load(ctx); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("Load() after Clear() error = %v, want ErrNoSession", err)
	}
	if err := s.Clear(ctx); err != nil {
		t.Errorf("Clear() on empty db error = %v", err)
	}
}

func TestStore_PreferencesSurviveClear(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTest(t)

	if err := s.SetPreference(ctx, "device_id", "dev-1"); err != nil {
		t.Fatal(err)
	}
	_ = s.Save(ctx, &session.Record{AccessToken: "T1", User: account.User{ID: "7"}})
	_ = s.Clear(ctx)

	v, ok, err := s.GetPreference(ctx, "device_id")
	if err != nil || !ok || v != "dev-1" {
		t.Errorf("GetPreference() = (%q, %v, %v), want dev-1", v, ok, err)
	}

	// A preference named like the session key does not collide with it.
	_ = s.SetPreference(ctx, "session", "x")
	if _, err := s.Load(ctx); !errors.Is(err, session.ErrNoSession) {
		t.Errorf("preference leaked into the session row: %v", err)
	}

	if err := s.DeletePreference(ctx, "device_id"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetPreference(ctx, "device_id"); ok {
		t.Error("preference still present after DeletePreference()")
	}
}

func TestStore_Reopen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, path := openTest(t)
	_ = s.SetPreference(ctx, "biometric_enabled", "true")
	_ = s.Close()

	again, err := Open(ctx, path, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer again.Close()
	if v, _, _ := again.GetPreference(ctx, "biometric_enabled"); v != "true" {
		t.Errorf("preference after reopen = %q, want true", v)
	}
}

func TestStore_Reset(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTest(t)
	_ = s.SetPreference(ctx, "device_id", "dev-1")
	_ = s.Save(ctx, &session.Record{AccessToken: "T1", User: account.User{ID: "7"}})

	if err := s.Reset(ctx); err != nil {
		t.Fatalf("Reset() error = %v", err)
	}
	if _, ok, _ := s.GetPreference(ctx, "device_id"); ok {
		t.Error("device_id survived Reset()")
	}
}

func TestStore_ConcurrentWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, _ := openTest(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.SetPreference(ctx, fmt.Sprintf("k%d", i), "v"); err != nil {
				t.Errorf("SetPreference() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 20; i++ {
		if _, ok, _ := s.GetPreference(ctx, fmt.Sprintf("k%d", i)); !ok {
			t.Errorf("k%d missing", i)
		}
	}
}
