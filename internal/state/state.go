// Package state persists the client session across restarts: auth token,
// cached profile, and the last-known coin balance. Read at startup, written
// on successful auth or refresh, cleared on logout.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fiqir/dating-app/internal/api"
)

// Snapshot is the persisted session state.
type Snapshot struct {
	Token   string       `json:"token,omitempty"`
	Profile *api.Profile `json:"profile,omitempty"`
	Coins   int64        `json:"coins"`
	SavedAt int64        `json:"saved_at"`
}

// Store loads and persists session snapshots.
type Store interface {
	Load() (*Snapshot, error)
	Save(*Snapshot) error
	Clear() error
}

// FileStore keeps the snapshot in a single JSON file. The token rides along,
// so the file is written 0600 and replaced atomically.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore at the given path, creating parent
// directories as needed on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads the persisted snapshot. A missing file yields an empty
// snapshot, not an error; a first run is not a failure.
func (s *FileStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return &Snapshot{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read session state: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode session state: %w", err)
	}
	return &snap, nil
}

// Save writes the snapshot atomically via a temp file rename.
func (s *FileStore) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write session state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}

// Clear removes the persisted snapshot. Clearing an already-clean store is
// a no-op.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear session state: %w", err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests and ephemeral sessions.
type MemoryStore struct {
	mu   sync.Mutex
	snap *Snapshot
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return &Snapshot{}, nil
	}
	out := *s.snap
	return &out, nil
}

func (s *MemoryStore) Save(snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *snap
	s.snap = &cp
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = nil
	return nil
}
