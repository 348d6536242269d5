package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/renovo-works/sessioncore/internal/domain/session"
	"github.com/renovo-works/sessioncore/internal/domain/vault"
)

// FileStore manages reading and writing the session.json file.
// It provides atomic writes (write-tmp-then-rename), automatic backups, and
// file locking (flock for cross-process, mutex for in-process). Every
// mutation is a locked read-modify-write of the whole document.
type FileStore struct {
	path   string
	mu     sync.Mutex
	logger *slog.Logger
}

var (
	_ session.Store     = (*FileStore)(nil)
	_ vault.Preferences = (*FileStore)(nil)
)

// NewFileStore creates a new FileStore for the given file path.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Load returns the persisted session record or session.ErrNoSession.
func (s *FileStore) Load(_ context.Context) (*session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.ReadState()
	if err != nil {
		return nil, err
	}
	if st.Session == nil {
		return nil, session.ErrNoSession
	}
	return st.Session, nil
}

// Save replaces the persisted session record.
func (s *FileStore) Save(_ context.Context, rec *session.Record) error {
	cp := *rec
	return s.update(func(st *AppState) {
		st.Session = &cp
	})
}

// Clear removes the session record. Preferences are kept.
func (s *FileStore) Clear(_ context.Context) error {
	if !s.Exists() {
		return nil
	}
	return s.update(func(st *AppState) {
		st.Session = nil
	})
}

// GetPreference returns a preference value.
func (s *FileStore) GetPreference(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.ReadState()
	if err != nil {
		return "", false, err
	}
	v, ok := st.Preferences[key]
	return v, ok, nil
}

// SetPreference stores a preference value.
func (s *FileStore) SetPreference(_ context.Context, key, value string) error {
	return s.update(func(st *AppState) {
		st.Preferences[key] = value
	})
}

// DeletePreference removes a preference. Removing a missing key is not an error.
func (s *FileStore) DeletePreference(_ context.Context, key string) error {
	return s.update(func(st *AppState) {
		delete(st.Preferences, key)
	})
}

// Reset deletes the state file and its backup. The device id goes with it.
func (s *FileStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for _, p := range []string{s.path, s.path + ".bak", s.path + ".tmp", s.path + ".lock"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// update runs fn on the current state and writes the result, holding both
// the in-process mutex and the cross-process file lock.
func (s *FileStore) update(fn func(*AppState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	// Acquire cross-process file lock.
	lockPath := s.path + ".lock"
	lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	defer func() { _ = lockFile.Close() }()

	if err := lockExclusive(lockFile); err != nil {
		return fmt.Errorf("acquire file lock: %w", err)
	}
	defer unlock(lockFile) //nolint:errcheck

	st, err := s.ReadState()
	if err != nil {
		return err
	}
	fn(st)
	return s.WriteState(st)
}

// ReadState reads and parses the state file.
// If the file does not exist, it returns DefaultState().
// If the file contains invalid JSON, it returns an error.
// Warns if an existing file has permissions more open than 0600.
func (s *FileStore) ReadState() (*AppState, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug("state file not found, using default state", "path", s.path)
			return s.DefaultState(), nil
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	// Skip on Windows where Unix file permission bits are not supported.
	if runtime.GOOS != "windows" {
		if info, statErr := os.Stat(s.path); statErr == nil {
			mode := info.Mode().Perm()
			if mode&0077 != 0 { // group or other has access
				s.logger.Warn("session.json has too-open permissions, should be 0600",
					"path", s.path, "current_mode", fmt.Sprintf("%04o", mode))
			}
		}
	}

	var st AppState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if st.Preferences == nil {
		st.Preferences = make(map[string]string)
	}
	return &st, nil
}

// WriteState writes the AppState to disk atomically. Callers outside this
// package must not run it concurrently with other FileStore methods.
//
// The write sequence is:
//  1. Copy current file to path+".bak" (ignored if no current file)
//  2. Marshal state as indented JSON
//  3. Write to path+".tmp" with 0600 permissions
//  4. Fsync the temp file
//  5. Rename path+".tmp" -> path
func (s *FileStore) WriteState(st *AppState) error {
	st.UpdatedAt = time.Now().UTC()

	// Create backup of current file (ignore error if file doesn't exist).
	if currentData, readErr := os.ReadFile(s.path); readErr == nil {
		bakPath := s.path + ".bak"
		if writeErr := os.WriteFile(bakPath, currentData, 0600); writeErr != nil {
			s.logger.Warn("failed to create backup", "error", writeErr)
		}
	}

	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	data = append(data, '\n')

	if err := s.writeAtomic(data); err != nil {
		return err
	}

	// The temp file is created 0600, but an existing file may have been widened.
	if err := os.Chmod(s.path, 0600); err != nil {
		s.logger.Warn("failed to set permissions on state file", "error", err)
	}

	s.logger.Debug("state saved", "path", s.path)
	return nil
}

// writeAtomic writes data to a temp file, fsyncs it, and renames it
// over the target path. On any error the temp file is cleaned up.
func (s *FileStore) writeAtomic(data []byte) error {
	tmpPath := s.path + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	// cleanup closes and removes the temp file on error.
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp to state: %w", err)
	}
	return nil
}

// DefaultState returns an empty AppState: no session, no preferences.
func (s *FileStore) DefaultState() *AppState {
	now := time.Now().UTC()
	return &AppState{
		Version:     SchemaVersion,
		Preferences: make(map[string]string),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Exists returns true if the state file exists on disk.
func (s *FileStore) Exists() bool {
	_, err := os.Stat(s.path)
	return err == nil
}

// Path returns the configured file path.
func (s *FileStore) Path() string {
	return s.path
}
