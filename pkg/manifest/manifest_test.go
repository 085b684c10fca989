package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/footnote/pkg/frontmatter"
	"github.com/carverauto/footnote/pkg/logger"
)

func writeNote(t *testing.T, dir, relPath string, h frontmatter.Header, body string) {
	t.Helper()

	full := filepath.Join(dir, relPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))

	raw, err := frontmatter.Render(frontmatter.Note{Header: h, Body: body})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(full, raw, 0o600))
}

func TestBuildFullIncludesAllNotes(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	writeNote(t, dir, "n1.md", frontmatter.Header{UUID: id, Modified: 10}, "body")

	m, err := BuildFull(dir, logger.NewTestLogger())
	require.NoError(t, err)
	require.Contains(t, m, id)
	require.Equal(t, "n1.md", m[id].Path)
}

func TestBuildShareFiltersByNicknameAndPrunesFootnotes(t *testing.T) {
	dir := t.TempDir()
	shared := uuid.New()
	unshared := uuid.New()
	peerCopy := uuid.New()

	writeNote(t, dir, "shared.md", frontmatter.Header{UUID: shared, Modified: 1, ShareWith: []string{"bob"}}, "")
	writeNote(t, dir, "private.md", frontmatter.Header{UUID: unshared, Modified: 1}, "")
	writeNote(t, dir, "footnotes/carol/x.md", frontmatter.Header{UUID: peerCopy, Modified: 1, ShareWith: []string{"bob"}}, "")

	m, err := BuildShare(dir, "bob", logger.NewTestLogger())
	require.NoError(t, err)

	require.Contains(t, m, shared)
	require.NotContains(t, m, unshared)
	require.NotContains(t, m, peerCopy)
}

func TestBuildSkipsHiddenDirectories(t *testing.T) {
	dir := t.TempDir()
	id := uuid.New()

	writeNote(t, dir, ".footnote/cache/x.md", frontmatter.Header{UUID: id, Modified: 1}, "")

	m, err := BuildFull(dir, logger.NewTestLogger())
	require.NoError(t, err)
	require.NotContains(t, m, id)
}

func TestBuildSkipsUnparseableNotes(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("not frontmatter"), 0o600))

	m, err := BuildFull(dir, logger.NewTestLogger())
	require.NoError(t, err)
	require.Empty(t, m)
}

func TestDiffEmptyForIdenticalManifests(t *testing.T) {
	id := uuid.New()
	m := Manifest{id: {Path: "a.md", Modified: 5}}

	require.Empty(t, Diff(m, m))
}

func TestDiffReturnsAllEntriesAgainstEmptyLocal(t *testing.T) {
	id := uuid.New()
	m := Manifest{id: {Path: "a.md", Modified: 5}}

	require.ElementsMatch(t, []uuid.UUID{id}, Diff(Manifest{}, m))
}

func TestDiffIncludesStrictlyNewerRemote(t *testing.T) {
	id := uuid.New()
	local := Manifest{id: {Path: "a.md", Modified: 5}}
	remote := Manifest{id: {Path: "a.md", Modified: 6}}

	require.ElementsMatch(t, []uuid.UUID{id}, Diff(local, remote))
}

func TestDiffSilentWhenLocalNewerOrEqual(t *testing.T) {
	id := uuid.New()
	local := Manifest{id: {Path: "a.md", Modified: 6}}
	remote := Manifest{id: {Path: "a.md", Modified: 6}}

	require.Empty(t, Diff(local, remote))

	remote[id] = Entry{Path: "a.md", Modified: 3}
	require.Empty(t, Diff(local, remote))
}
