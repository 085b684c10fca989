// Package manifest builds the uuid-indexed view of a vault's notes used to
// compute sync deltas, and diffs two such views.
package manifest

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/carverauto/footnote/pkg/frontmatter"
	"github.com/carverauto/footnote/pkg/lamport"
	"github.com/carverauto/footnote/pkg/logger"
)

// Entry is one note's position and Lamport timestamp within a Manifest.
type Entry struct {
	Path     string        `json:"path"`
	Modified lamport.Clock `json:"modified"`
}

// Manifest maps a note's uuid to its location and Lamport timestamp.
type Manifest map[uuid.UUID]Entry

// footnotesDir is the subtree name excluded from share manifests. BuildFull
// does not skip it; only dot-prefixed entries are skipped there.
const footnotesDir = "footnotes"

// BuildFull walks every .md file under root, regardless of share_with.
func BuildFull(root string, log logger.Logger) (Manifest, error) {
	return walk(root, log, func(string, []string) bool { return true })
}

// BuildShare walks root, including only notes whose share_with contains
// nickname, and pruning any directory named "footnotes" at any depth.
func BuildShare(root, nickname string, log logger.Logger) (Manifest, error) {
	return walk(root, log, func(relPath string, shareWith []string) bool {
		for _, seg := range strings.Split(filepath.ToSlash(filepath.Dir(relPath)), "/") {
			if seg == footnotesDir {
				return false
			}
		}

		for _, n := range shareWith {
			if n == nickname {
				return true
			}
		}

		return false
	})
}

// BuildLocal walks root, excluding hidden directories only (no share_with
// filtering) — the view used for computing what the local side already has.
func BuildLocal(root string, log logger.Logger) (Manifest, error) {
	return walk(root, log, func(string, []string) bool { return true })
}

// walk is the shared depth-first traversal: skips dotfiles/dot-directories,
// parses frontmatter on every .md file, and includes an entry when include
// returns true for its relative path and share_with list. Files that fail
// to parse are logged and skipped, never fatal.
func walk(root string, log logger.Logger, include func(relPath string, shareWith []string) bool) (Manifest, error) {
	m := make(Manifest)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		name := d.Name()
		if name != "." && strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		if d.IsDir() || !strings.HasSuffix(name, ".md") {
			return nil
		}

		relPath, err := filepath.Rel(root, path)
		if err != nil {
			return err //nolint:wrapcheck // walk callback, caller wraps
		}

		raw, err := os.ReadFile(path) //nolint:gosec // vault-relative path under the walked root
		if err != nil {
			if log != nil {
				log.Warn().Err(err).Str("path", relPath).Msg("failed to read note, skipping")
			}

			return nil
		}

		note, err := frontmatter.Parse(raw)
		if err != nil {
			if log != nil {
				log.Warn().Err(err).Str("path", relPath).Msg("failed to parse frontmatter, skipping")
			}

			return nil
		}

		if !include(relPath, note.Header.ShareWith) {
			return nil
		}

		m[note.Header.UUID] = Entry{Path: filepath.ToSlash(relPath), Modified: note.Header.Modified}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return m, nil
}

// Diff returns the uuids present in remote that local either lacks or has
// strictly older: last-writer-wins, additive only. Ties and local-wins are
// silent no-ops.
func Diff(local, remote Manifest) []uuid.UUID {
	var out []uuid.UUID

	for id, rEntry := range remote {
		lEntry, ok := local[id]
		if !ok || rEntry.Modified > lEntry.Modified {
			out = append(out, id)
		}
	}

	return out
}
