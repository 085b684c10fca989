// Package syncstatus persists the crash-consistent per-peer/per-direction
// sync status record described in the spec: a single file holding the
// in-progress, last-success, and last-failure slots, written via
// write-temp-then-rename so readers always see a complete record.
package syncstatus

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/carverauto/footnote/pkg/lamport"
)

const dirPerms = 0o700

// Type distinguishes mirror (same device group) from share (cross-user) sync.
type Type string

const (
	Mirror Type = "mirror"
	Share  Type = "share"
)

// Direction is which side of the transfer this record describes.
type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Progress is the in-flight transfer counter set.
type Progress struct {
	FilesTransferred int `json:"files_transferred"`
	FilesTotal       int `json:"files_total"`
}

// Success is a completed transfer's terminal counters.
type Success struct {
	At               lamport.Clock `json:"at"`
	FilesTransferred int           `json:"files_transferred"`
}

// Failure is a terminal error for one attempt.
type Failure struct {
	At     lamport.Clock `json:"at"`
	Reason string        `json:"reason"`
}

// Record is the full persisted status document for one (endpoint, direction).
type Record struct {
	EndpointID  string    `json:"endpoint_id"`
	SyncType    Type      `json:"sync_type"`
	Direction   Direction `json:"direction"`
	Current     *Progress `json:"current,omitempty"`
	LastSuccess *Success  `json:"last_success,omitempty"`
	LastFailure *Failure  `json:"last_failure,omitempty"`
}

// Journal manages one Record's file, serialized through a mutex bound to its
// path (records are partitioned by (endpoint_id, direction) so distinct
// journals never contend).
type Journal struct {
	path string
	mu   sync.Mutex
}

// Path returns the on-disk location of a status record for the given vault
// root, endpoint, and direction.
func Path(vaultRoot, endpointID string, direction Direction) string {
	return filepath.Join(vaultRoot, ".footnote", "status", endpointID, string(direction), "status.json")
}

// Open returns a Journal bound to the status file for (endpointID, direction)
// under vaultRoot.
func Open(vaultRoot, endpointID string, direction Direction) *Journal {
	return &Journal{path: Path(vaultRoot, endpointID, direction)}
}

func (j *Journal) load() (Record, error) {
	data, err := os.ReadFile(j.path) //nolint:gosec // vault-relative path under operator control
	if os.IsNotExist(err) {
		return Record{}, nil
	}

	if err != nil {
		return Record{}, fmt.Errorf("read sync status: %w", err)
	}

	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode sync status: %w", err)
	}

	return r, nil
}

func (j *Journal) save(r Record) error {
	if err := os.MkdirAll(filepath.Dir(j.path), dirPerms); err != nil {
		return fmt.Errorf("create sync status directory: %w", err)
	}

	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encode sync status: %w", err)
	}

	tmpPath := j.path + ".tmp"
	if err := os.WriteFile(tmpPath, payload, 0o600); err != nil {
		return fmt.Errorf("write temporary sync status: %w", err)
	}

	if err := os.Rename(tmpPath, j.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persist sync status: %w", err)
	}

	return nil
}

// Start opens a new in-progress attempt, preserving any pre-existing
// last_success/last_failure slots.
func (j *Journal) Start(endpointID string, syncType Type, direction Direction) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, err := j.load()
	if err != nil {
		return err
	}

	r.EndpointID = endpointID
	r.SyncType = syncType
	r.Direction = direction
	r.Current = &Progress{}

	return j.save(r)
}

// Update sets the in-progress counters.
func (j *Journal) Update(filesTransferred int, filesTotal *int) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, err := j.load()
	if err != nil {
		return err
	}

	if r.Current == nil {
		r.Current = &Progress{}
	}

	r.Current.FilesTransferred = filesTransferred
	if filesTotal != nil {
		r.Current.FilesTotal = *filesTotal
	}

	return j.save(r)
}

// RecordSuccess clears Current and sets LastSuccess from the current
// progress counters.
func (j *Journal) RecordSuccess() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, err := j.load()
	if err != nil {
		return err
	}

	transferred := 0
	if r.Current != nil {
		transferred = r.Current.FilesTransferred
	}

	r.Current = nil
	r.LastSuccess = &Success{At: lamport.Next(nil), FilesTransferred: transferred}

	return j.save(r)
}

// RecordFailure clears Current and sets LastFailure to reason.
func (j *Journal) RecordFailure(reason string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, err := j.load()
	if err != nil {
		return err
	}

	r.Current = nil
	r.LastFailure = &Failure{At: lamport.Next(nil), Reason: reason}

	return j.save(r)
}

// ClearOrphaned removes any surviving Current slot, treating it as an
// abandoned attempt from a previous process. Called for every record when a
// vault opens (via ClearAllOrphaned), and by syncproto to end a session that
// transferred no files.
func (j *Journal) ClearOrphaned() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	r, err := j.load()
	if err != nil {
		return err
	}

	if r.Current == nil {
		return nil
	}

	r.Current = nil

	return j.save(r)
}

// ClearAllOrphaned walks every status record under vaultRoot and clears any
// surviving Current slot. Intended to run once when a vault is opened.
func ClearAllOrphaned(vaultRoot string) error {
	statusRoot := filepath.Join(vaultRoot, ".footnote", "status")

	entries, err := os.ReadDir(statusRoot)
	if os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("list sync status directory: %w", err)
	}

	for _, endpointEntry := range entries {
		if !endpointEntry.IsDir() {
			continue
		}

		for _, direction := range []Direction{Inbound, Outbound} {
			j := Open(vaultRoot, endpointEntry.Name(), direction)
			if err := j.ClearOrphaned(); err != nil {
				return err
			}
		}
	}

	return nil
}
