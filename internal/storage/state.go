// Package storage persists application and watcher state as JSON
// documents guarded by advisory file locks, plus a SQLite alert archive.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/Fershtater/fomo-calc-app/internal/logger"
	"github.com/Fershtater/fomo-calc-app/internal/models"
)

// StateStore persists the application State. A mutex serializes
// goroutines in this process; the advisory lock at <path>.lock guards
// against other processes.
type StateStore struct {
	path string
	mu   sync.Mutex
	fl   *flock.Flock
}

// NewStateStore prepares a store at path, creating parent directories.
func NewStateStore(path string) (*StateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &StateStore{
		path: path,
		fl:   flock.New(path + ".lock"),
	}, nil
}

// Load reads the persisted state. Missing and unreadable files yield
// fresh defaults; older schema versions are migrated in place.
func (s *StateStore) Load() (*models.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = s.fl.Unlock() }()

	return s.load(), nil
}

// Save persists the state via a temp file rename, so readers never see
// a partial document.
func (s *StateStore) Save(state *models.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = s.fl.Unlock() }()

	return s.save(state)
}

// UpdateAtomic applies fn to the freshly loaded state and persists the
// result under a single lock hold.
func (s *StateStore) UpdateAtomic(fn func(*models.State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock state file: %w", err)
	}
	defer func() { _ = s.fl.Unlock() }()

	state := s.load()
	fn(state)
	return s.save(state)
}

func (s *StateStore) load() *models.State {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read state file %s: %v, starting fresh", s.path, err)
		}
		return models.NewState()
	}

	var state models.State
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("Failed to decode state file %s: %v, starting fresh", s.path, err)
		return models.NewState()
	}
	state.Migrate()
	return &state
}

func (s *StateStore) save(state *models.State) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// writeFileAtomic writes data to a sibling temp file and renames it
// over path.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", path, err)
	}
	return nil
}
