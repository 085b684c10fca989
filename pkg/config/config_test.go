package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/carverauto/footnote/pkg/logger"
	"github.com/stretchr/testify/require"
)

var errEmptyVaultPath = errors.New("vault_path is required")

type testDoc struct {
	VaultPath string `json:"vault_path"`
	Nickname  string `json:"nickname,omitempty"`
}

func (d *testDoc) Validate() error {
	if d.VaultPath == "" {
		return errEmptyVaultPath
	}

	return nil
}

func TestLoadAndValidateFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "footnote.json")

	payload, err := json.Marshal(testDoc{VaultPath: "/home/alice/vault", Nickname: "alice"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	cfg := NewConfig(logger.NewTestLogger())

	var doc testDoc
	require.NoError(t, cfg.LoadAndValidate(context.Background(), path, &doc))
	require.Equal(t, "/home/alice/vault", doc.VaultPath)
	require.Equal(t, "alice", doc.Nickname)
}

func TestLoadAndValidateMissingFileLeavesDstUnchanged(t *testing.T) {
	cfg := NewConfig(logger.NewTestLogger())

	doc := testDoc{VaultPath: "/already/set"}
	err := cfg.LoadAndValidate(context.Background(), filepath.Join(t.TempDir(), "missing.json"), &doc)
	require.NoError(t, err)
	require.Equal(t, "/already/set", doc.VaultPath)
}

func TestLoadAndValidateRejectsUnknownSource(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "bogus")

	cfg := NewConfig(logger.NewTestLogger())

	var doc testDoc
	err := cfg.LoadAndValidate(context.Background(), "", &doc)
	require.ErrorIs(t, err, errInvalidConfigSource)
}

func TestLoadAndValidateFromEnv(t *testing.T) {
	t.Setenv("CONFIG_SOURCE", "env")
	t.Setenv("FOOTNOTE_VAULT_PATH", "/env/vault")

	cfg := NewConfig(logger.NewTestLogger())

	var doc testDoc
	require.NoError(t, cfg.LoadAndValidate(context.Background(), "", &doc))
	require.Equal(t, "/env/vault", doc.VaultPath)
}
