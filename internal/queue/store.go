package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/risalo/backend/internal/interactions"
)

// Store persists the ordered pending-mutation list. Implementations must be
// safe for use from multiple queue instances sharing one store.
type Store interface {
	Load() ([]interactions.Mutation, error)
	Save(pending []interactions.Mutation) error
}

// FileStore keeps the queue in a single JSON file, replaced atomically on
// every save so a crashed writer never leaves a torn file behind.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore constructs a FileStore rooted at the given path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.New("queue: store path is required")
	}
	return &FileStore{path: path}, nil
}

type storeDocument struct {
	Pending []interactions.Mutation `json:"pending"`
}

// Load reads the persisted queue; a missing file is an empty queue.
func (s *FileStore) Load() ([]interactions.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("queue: read store: %w", err)
	}

	var document storeDocument
	if err := json.Unmarshal(raw, &document); err != nil {
		return nil, fmt.Errorf("queue: decode store: %w", err)
	}
	return document.Pending, nil
}

// Save writes the full queue through a temp file and rename.
func (s *FileStore) Save(pending []interactions.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := json.Marshal(storeDocument{Pending: pending})
	if err != nil {
		return fmt.Errorf("queue: encode store: %w", err)
	}

	directory := filepath.Dir(s.path)
	temp, err := os.CreateTemp(directory, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("queue: create temp store: %w", err)
	}
	tempPath := temp.Name()
	if _, err := temp.Write(raw); err != nil {
		temp.Close()
		os.Remove(tempPath)
		return fmt.Errorf("queue: write temp store: %w", err)
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("queue: close temp store: %w", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("queue: replace store: %w", err)
	}
	return nil
}

// MemoryStore holds the queue in memory only. It backs tests and the
// degraded mode entered when a durable store keeps failing.
type MemoryStore struct {
	mu      sync.Mutex
	pending []interactions.Mutation
	failing bool
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// SetFailing forces subsequent saves to fail; used to exercise degraded mode.
func (s *MemoryStore) SetFailing(failing bool) {
	s.mu.Lock()
	s.failing = failing
	s.mu.Unlock()
}

// Load returns a copy of the held queue.
func (s *MemoryStore) Load() ([]interactions.Mutation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]interactions.Mutation, len(s.pending))
	copy(copied, s.pending)
	return copied, nil
}

// Save replaces the held queue.
func (s *MemoryStore) Save(pending []interactions.Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing {
		return errors.New("queue: memory store failing")
	}
	s.pending = make([]interactions.Mutation, len(pending))
	copy(s.pending, pending)
	return nil
}
