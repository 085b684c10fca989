// Package tombstone persists delete markers for notes: an append-only list
// guarded by a mutex bound to the tombstones file path, written via
// write-temp-then-rename.
package tombstone

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/carverauto/footnote/pkg/lamport"
)

const dirPerms = 0o700

// Tombstone is a single delete marker.
type Tombstone struct {
	UUID      uuid.UUID     `json:"uuid"`
	DeletedAt lamport.Clock `json:"deleted_at"`
}

// Store is the append-only tombstone list for one vault, serialized through
// a mutex bound to its backing file path.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore opens (without yet reading) the tombstone store at path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// load reads the current tombstone list. A missing file is an empty list,
// not an error.
func (s *Store) load() ([]Tombstone, error) {
	data, err := os.ReadFile(s.path) //nolint:gosec // vault-relative path under operator control
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("read tombstones: %w", err)
	}

	var list []Tombstone
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("decode tombstones: %w", err)
	}

	return list, nil
}

// save rewrites the full list via write-temp-then-rename.
func (s *Store) save(list []Tombstone) error {
	if err := os.MkdirAll(filepath.Dir(s.path), dirPerms); err != nil {
		return fmt.Errorf("create tombstones directory: %w", err)
	}

	payload, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("encode tombstones: %w", err)
	}

	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o600); err != nil {
		return fmt.Errorf("write temporary tombstones file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persist tombstones file: %w", err)
	}

	return nil
}

// Create appends a tombstone for uuid at ts, reading, mutating, and
// rewriting the full list atomically.
func (s *Store) Create(id uuid.UUID, ts lamport.Clock) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}

	list = append(list, Tombstone{UUID: id, DeletedAt: ts})

	return s.save(list)
}

// Delete removes any tombstone entry for uuid, reading, mutating, and
// rewriting the full list atomically. A no-op if uuid is not present.
func (s *Store) Delete(id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list, err := s.load()
	if err != nil {
		return err
	}

	out := list[:0]

	for _, t := range list {
		if t.UUID != id {
			out = append(out, t)
		}
	}

	return s.save(out)
}

// List returns the current tombstone list.
func (s *Store) List() ([]Tombstone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}
