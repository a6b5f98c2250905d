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

// WatchStateStore persists the watcher state with the same locking
// discipline as StateStore.
type WatchStateStore struct {
	path string
	mu   sync.Mutex
	fl   *flock.Flock
}

// NewWatchStateStore prepares a store at path, creating parent
// directories.
func NewWatchStateStore(path string) (*WatchStateStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create watch state directory: %w", err)
	}
	return &WatchStateStore{
		path: path,
		fl:   flock.New(path + ".lock"),
	}, nil
}

// Load reads the persisted watcher state. Missing and unreadable files
// yield fresh defaults. The running flag never survives a restart.
func (s *WatchStateStore) Load() (*models.WatchState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return nil, fmt.Errorf("failed to lock watch state file: %w", err)
	}
	defer func() { _ = s.fl.Unlock() }()

	return s.load(), nil
}

// Save persists the watcher state, trimming the alert history to its
// bound. The running flag is never persisted as true.
func (s *WatchStateStore) Save(state *models.WatchState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock watch state file: %w", err)
	}
	defer func() { _ = s.fl.Unlock() }()

	return s.save(state)
}

// UpdateAtomic applies fn to the freshly loaded watcher state and
// persists the result under a single lock hold.
func (s *WatchStateStore) UpdateAtomic(fn func(*models.WatchState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fl.Lock(); err != nil {
		return fmt.Errorf("failed to lock watch state file: %w", err)
	}
	defer func() { _ = s.fl.Unlock() }()

	state := s.load()
	fn(state)
	return s.save(state)
}

func (s *WatchStateStore) load() *models.WatchState {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("Failed to read watch state file %s: %v, starting fresh", s.path, err)
		}
		return models.NewWatchState()
	}

	var state models.WatchState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn("Failed to decode watch state file %s: %v, starting fresh", s.path, err)
		return models.NewWatchState()
	}
	state.Normalize()
	return &state
}

func (s *WatchStateStore) save(state *models.WatchState) error {
	if len(state.LastAlerts) > models.MaxAlertHistory {
		state.LastAlerts = state.LastAlerts[len(state.LastAlerts)-models.MaxAlertHistory:]
	}
	persisted := *state
	persisted.IsRunning = false

	data, err := json.MarshalIndent(&persisted, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode watch state: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
