package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/carverauto/footnote/pkg/frontmatter"
	"github.com/carverauto/footnote/pkg/lamport"
	"github.com/carverauto/footnote/pkg/vault"
)

func runNote(action string, args []string) (interface{}, error) {
	switch action {
	case "create":
		return noteCreate(args)
	case "update":
		return noteUpdate(args)
	case "delete":
		return noteDelete(args)
	default:
		return nil, fmt.Errorf("%w: unknown note action %q", ErrUsage, action)
	}
}

func splitShareWith(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}

	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}

	return out
}

func readBody(bodyFlag string) (string, error) {
	if bodyFlag != "" {
		return bodyFlag, nil
	}

	if stat, err := os.Stdin.Stat(); err == nil && (stat.Mode()&os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("read body from stdin: %w", err)
		}

		return string(data), nil
	}

	return "", nil
}

func noteCreate(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("note create", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")
	path := fs.String("path", "", "note path, relative to the vault root")
	shareWith := fs.String("share-with", "", "comma-separated nicknames this note is shared with")
	body := fs.String("body", "", "note body text (reads stdin if omitted)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if *path == "" {
		return nil, fmt.Errorf("%w: -path is required", ErrUsage)
	}

	bodyText, err := readBody(*body)
	if err != nil {
		return nil, err
	}

	header := frontmatter.NewHeader()
	header.ShareWith = splitShareWith(*shareWith)

	note := frontmatter.Note{Header: header, Body: bodyText}

	out, err := frontmatter.Render(note)
	if err != nil {
		return nil, err
	}

	full := filepath.Join(*root, filepath.FromSlash(*path))
	if err := os.MkdirAll(filepath.Dir(full), 0o700); err != nil {
		return nil, fmt.Errorf("create note directory: %w", err)
	}

	if err := os.WriteFile(full, out, 0o600); err != nil {
		return nil, fmt.Errorf("write note: %w", err)
	}

	return map[string]interface{}{
		"path":       *path,
		"uuid":       header.UUID,
		"modified":   header.Modified,
		"share_with": header.ShareWith,
	}, nil
}

func noteUpdate(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("note update", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")
	path := fs.String("path", "", "note path, relative to the vault root")
	body := fs.String("body", "", "replacement body text (reads stdin if omitted, keeps existing body if neither is given)")
	shareWith := fs.String("share-with", "", "comma-separated nicknames this note is shared with (replaces the existing list)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if *path == "" {
		return nil, fmt.Errorf("%w: -path is required", ErrUsage)
	}

	full := filepath.Join(*root, filepath.FromSlash(*path))

	raw, err := os.ReadFile(full) //nolint:gosec // vault-relative path under operator control
	if err != nil {
		return nil, fmt.Errorf("read note: %w", err)
	}

	note, err := frontmatter.Parse(raw)
	if err != nil {
		return nil, err
	}

	note.Header = frontmatter.Touch(note.Header)

	if *shareWith != "" {
		note.Header.ShareWith = splitShareWith(*shareWith)
	}

	bodyText, err := readBody(*body)
	if err != nil {
		return nil, err
	}

	if bodyText != "" {
		note.Body = bodyText
	}

	out, err := frontmatter.Render(note)
	if err != nil {
		return nil, err
	}

	tmp := full + ".tmp"
	if err := os.WriteFile(tmp, out, 0o600); err != nil {
		return nil, fmt.Errorf("write temporary note: %w", err)
	}

	if err := os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return nil, fmt.Errorf("persist note: %w", err)
	}

	return map[string]interface{}{
		"path":       *path,
		"uuid":       note.Header.UUID,
		"modified":   note.Header.Modified,
		"share_with": note.Header.ShareWith,
	}, nil
}

// noteDelete implements the behavior spec.md's Open Questions left
// unresolved in the source: it removes the file and records a tombstone,
// without attempting any cleanup of peer copies under footnotes/, since
// sync is additive and deletion propagation is explicitly out of scope.
func noteDelete(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("note delete", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")
	path := fs.String("path", "", "note path, relative to the vault root")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if *path == "" {
		return nil, fmt.Errorf("%w: -path is required", ErrUsage)
	}

	log, err := newCLILogger()
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(*root, log)
	if err != nil {
		return nil, err
	}

	full := filepath.Join(*root, filepath.FromSlash(*path))

	raw, err := os.ReadFile(full) //nolint:gosec // vault-relative path under operator control
	if err != nil {
		return nil, fmt.Errorf("read note: %w", err)
	}

	note, err := frontmatter.Parse(raw)
	if err != nil {
		return nil, err
	}

	deletedAt := lamport.Next(&note.Header.Modified)

	if err := v.Tombstones().Create(note.Header.UUID, deletedAt); err != nil {
		return nil, err
	}

	if err := os.Remove(full); err != nil {
		return nil, fmt.Errorf("remove note: %w", err)
	}

	return map[string]interface{}{
		"path":       *path,
		"uuid":       note.Header.UUID,
		"deleted_at": deletedAt,
	}, nil
}
