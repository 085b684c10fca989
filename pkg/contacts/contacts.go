// Package contacts stores imported peer identity records under a vault's
// .footnote/contacts directory, resolving between a local nickname and a
// contact's public key or device endpoint ids.
package contacts

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/carverauto/footnote/pkg/identity"
)

const dirPerms = 0o700

// ErrNotFound is returned when a nickname has no imported contact.
var ErrNotFound = errors.New("contact not found")

// Store manages the imported contact records for one vault.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at <vaultRoot>/.footnote/contacts.
func NewStore(vaultRoot string) *Store {
	return &Store{dir: filepath.Join(vaultRoot, ".footnote", "contacts")}
}

func (s *Store) pathFor(nickname string) string {
	return filepath.Join(s.dir, strings.ToLower(nickname)+".json")
}

// Import verifies u and persists it under nickname, setting u.Nickname to
// the local annotation (not covered by the signature, so this never
// invalidates verification).
func (s *Store) Import(u identity.User, nickname string) error {
	if err := identity.Verify(u); err != nil {
		return err
	}

	u.Nickname = nickname

	if err := os.MkdirAll(s.dir, dirPerms); err != nil {
		return fmt.Errorf("create contacts directory: %w", err)
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("encode contact: %w", err)
	}

	path := s.pathFor(nickname)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, payload, 0o600); err != nil {
		return fmt.Errorf("write temporary contact file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persist contact file: %w", err)
	}

	return nil
}

// Read loads the contact record stored under nickname.
func (s *Store) Read(nickname string) (identity.User, error) {
	data, err := os.ReadFile(s.pathFor(nickname)) //nolint:gosec // vault-relative path under operator control
	if os.IsNotExist(err) {
		return identity.User{}, ErrNotFound
	}

	if err != nil {
		return identity.User{}, fmt.Errorf("read contact: %w", err)
	}

	var u identity.User
	if err := json.Unmarshal(data, &u); err != nil {
		return identity.User{}, fmt.Errorf("decode contact: %w", err)
	}

	return u, nil
}

// Export returns the raw JSON bytes for a stored contact record. The CLI's
// `contact export` command does not use it; that command prints the vault's
// own user record.
func (s *Store) Export(nickname string) ([]byte, error) {
	data, err := os.ReadFile(s.pathFor(nickname)) //nolint:gosec // vault-relative path under operator control
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("read contact: %w", err)
	}

	return data, nil
}

// List returns every imported contact.
func (s *Store) List() ([]identity.User, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("list contacts directory: %w", err)
	}

	var out []identity.User

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}

		nickname := strings.TrimSuffix(e.Name(), ".json")

		u, err := s.Read(nickname)
		if err != nil {
			return nil, err
		}

		out = append(out, u)
	}

	return out, nil
}

// FindByEndpoint searches every imported contact for a device with the
// given endpoint id, returning the owning contact's nickname.
func (s *Store) FindByEndpoint(endpointID string) (identity.User, bool, error) {
	all, err := s.List()
	if err != nil {
		return identity.User{}, false, err
	}

	for _, u := range all {
		if u.HasDevice(endpointID) {
			return u, true, nil
		}
	}

	return identity.User{}, false, nil
}
