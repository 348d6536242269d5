package vault

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
)

// mockSecrets is a simple in-memory SecretStore for testing.
type mockSecrets struct {
	mu      sync.Mutex
	values  map[string]string
	failAll error
}

func newMockSecrets() *mockSecrets {
	return &mockSecrets{values: make(map[string]string)}
}

func (m *mockSecrets) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	m.values[key] = value
	return nil
}

func (m *mockSecrets) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return "", m.failAll
	}
	v, ok := m.values[key]
	if !ok {
		return "", ErrSecretNotFound
	}
	return v, nil
}

func (m *mockSecrets) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failAll != nil {
		return m.failAll
	}
	if _, ok := m.values[key]; !ok {
		return ErrSecretNotFound
	}
	delete(m.values, key)
	return nil
}

// mockPrefs is a simple in-memory Preferences for testing.
type mockPrefs struct {
	mu     sync.Mutex
	values map[string]string
}

func newMockPrefs() *mockPrefs {
	return &mockPrefs{values: make(map[string]string)}
}

func (m *mockPrefs) GetPreference(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *mockPrefs) SetPreference(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *mockPrefs) DeletePreference(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, key)
	return nil
}

// scriptedAuth answers every challenge with the same result.
type scriptedAuth struct {
	support Support
	result  error
	calls   int
}

func (s *scriptedAuth) Support(_ context.Context) Support { return s.support }

func (s *scriptedAuth) Authenticate(_ context.Context, _ string) error {
	s.calls++
	return s.result
}

var faceID = Support{Supported: true, Enrolled: true, Kind: KindFace}

func TestVault_StoreAndRetrieve(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v := New(newMockSecrets(), newMockPrefs(), nil)

	if err := v.Store(ctx, "R1"); err != nil {
		t.Fatalf("Store() error = %v", err)
	}
	got, ok, err := v.Retrieve(ctx, false)
	if err != nil || !ok || got != "R1" {
		t.Errorf("Retrieve(false) = (%q, %v, %v), want (R1, true, nil)", got, ok, err)
	}
}

func TestVault_RetrieveEmpty(t *testing.T) {
	t.Parallel()
	v := New(newMockSecrets(), newMockPrefs(), nil)

	got, ok, err := v.Retrieve(context.Background(), true)
	if err != nil || ok || got != "" {
		t.Errorf("Retrieve() on empty vault = (%q, %v, %v), want (\"\", false, nil)", got, ok, err)
	}
}

func TestVault_StoreRejectsEmptyToken(t *testing.T) {
	t.Parallel()
	v := New(newMockSecrets(), newMockPrefs(), nil)

	err := v.Store(context.Background(), "")
	var se *StorageError
	if !errors.As(err, &se) {
		t.Fatalf("Store(\"\") error = %v, want *StorageError", err)
	}
}

func TestVault_RetrieveBiometricGate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		enabled        bool
		requireBio     bool
		support        Support
		result         error
		wantOK         bool
		wantChallenges int
	}{
		{name: "passes challenge", enabled: true, requireBio: true, support: faceID, wantOK: true, wantChallenges: 1},
		{name: "cancel is a soft decline", enabled: true, requireBio: true, support: faceID, result: ErrChallengeCancelled, wantOK: false, wantChallenges: 1},
		{name: "failure is a soft decline", enabled: true, requireBio: true, support: faceID, result: ErrChallengeFailed, wantOK: false, wantChallenges: 1},
		{name: "not opted in skips challenge", enabled: false, requireBio: true, support: faceID, result: ErrChallengeCancelled, wantOK: true},
		{name: "caller does not require it", enabled: true, requireBio: false, support: faceID, result: ErrChallengeCancelled, wantOK: true},
		{name: "device unsupported skips challenge", enabled: true, requireBio: true, support: Unsupported, result: ErrChallengeCancelled, wantOK: true},
		{name: "not enrolled skips challenge", enabled: true, requireBio: true, support: Support{Supported: true, Kind: KindFingerprint}, result: ErrChallengeCancelled, wantOK: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			auth := &scriptedAuth{support: tt.support, result: tt.result}
			v := New(newMockSecrets(), newMockPrefs(), auth)
			if err := v.Store(ctx, "R1"); err != nil {
				t.Fatalf("Store() error = %v", err)
			}
			if tt.enabled {
				if err := v.Enable(ctx); err != nil {
					t.Fatalf("Enable() error = %v", err)
				}
			}

			got, ok, err := v.Retrieve(ctx, tt.requireBio)
			if err != nil {
				t.Fatalf("Retrieve() error = %v", err)
			}
			if ok != tt.wantOK {
				t.Errorf("Retrieve() ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != "R1" {
				t.Errorf("Retrieve() token = %q, want R1", got)
			}
			if auth.calls != tt.wantChallenges {
				t.Errorf("challenges = %d, want %d", auth.calls, tt.wantChallenges)
			}

			// A declined challenge must leave the secret in place.
			if still, ok, _ := v.Retrieve(ctx, false); !ok || still != "R1" {
				t.Errorf("secret after Retrieve() = (%q, %v), want (R1, true)", still, ok)
			}
		})
	}
}

func TestVault_StorageUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	secrets := newMockSecrets()
	secrets.failAll = errors.New("keychain locked")
	v := New(secrets, newMockPrefs(), nil)

	checks := map[string]error{
		"store":  v.Store(ctx, "R1"),
		"delete": v.Delete(ctx),
	}
	_, _, checks["retrieve"] = v.Retrieve(ctx, false)

	for op, err := range checks {
		var se *StorageError
		if !errors.As(err, &se) {
			t.Errorf("%s error = %v, want *StorageError", op, err)
			continue
		}
		if !errors.Is(err, ErrStorageUnavailable) {
			t.Errorf("%s error = %v, want wrapping ErrStorageUnavailable", op, err)
		}
	}
}

func TestVault_DeleteIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v := New(newMockSecrets(), newMockPrefs(), nil)

	_ = v.Store(ctx, "R1")
	if err := v.Delete(ctx); err != nil {
		t.Fatalf("first Delete() error = %v", err)
	}
	if err := v.Delete(ctx); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
	if _, ok, _ := v.Retrieve(ctx, false); ok {
		t.Error("Retrieve() after Delete() should find nothing")
	}
}

func TestVault_DeviceIDStable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prefs := newMockPrefs()
	v := New(newMockSecrets(), prefs, nil)

	first, err := v.DeviceID(ctx)
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if _, err := uuid.Parse(first); err != nil {
		t.Errorf("DeviceID() = %q, not a UUID: %v", first, err)
	}

	// A second vault over the same storage sees the same id.
	again, err := New(newMockSecrets(), prefs, nil).DeviceID(ctx)
	if err != nil {
		t.Fatalf("DeviceID() error = %v", err)
	}
	if again != first {
		t.Errorf("DeviceID() = %q, want stable %q", again, first)
	}
}

func TestVault_DeviceIDConcurrentFirstUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v := New(newMockSecrets(), newMockPrefs(), nil)

	const n = 16
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], _ = v.DeviceID(ctx)
		}(i)
	}
	wg.Wait()

	for i := 1; i < n; i++ {
		if ids[i] != ids[0] {
			t.Fatalf("DeviceID() returned %q and %q concurrently", ids[0], ids[i])
		}
	}
}

func TestVault_PromptTracking(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v := New(newMockSecrets(), newMockPrefs(), &scriptedAuth{support: faceID})

	if !v.ShouldOfferEnablement(ctx) {
		t.Fatal("ShouldOfferEnablement() = false on fresh capable device")
	}
	if err := v.MarkPromptShown(ctx); err != nil {
		t.Fatalf("MarkPromptShown() error = %v", err)
	}
	if !v.HasShownPrompt(ctx) {
		t.Error("HasShownPrompt() = false after MarkPromptShown()")
	}
	if v.ShouldOfferEnablement(ctx) {
		t.Error("ShouldOfferEnablement() = true after prompt was shown")
	}
}

func TestVault_EnableDisable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	v := New(newMockSecrets(), newMockPrefs(), nil)

	if v.IsEnabled(ctx) {
		t.Fatal("IsEnabled() = true by default")
	}
	if err := v.Enable(ctx); err != nil {
		t.Fatalf("Enable() error = %v", err)
	}
	if !v.IsEnabled(ctx) {
		t.Error("IsEnabled() = false after Enable()")
	}
	if err := v.Disable(ctx); err != nil {
		t.Fatalf("Disable() error = %v", err)
	}
	if v.IsEnabled(ctx) {
		t.Error("IsEnabled() = true after Disable()")
	}
}

func TestVault_MalformedFlagIsDisabled(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	prefs := newMockPrefs()
	_ = prefs.SetPreference(ctx, KeyBiometricEnabled, "yes please")
	v := New(newMockSecrets(), prefs, nil)

	if v.IsEnabled(ctx) {
		t.Error("IsEnabled() = true for malformed flag")
	}
}
