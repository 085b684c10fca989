// Package cli implements the footnote command-line surface described in
// spec.md section 6: vault {create-primary,create-standalone,doctor},
// service {join-listen,join,replicate-listen,replicate,share-listen,share},
// note {create,update,delete}, contact {export,import,read}. Each handler
// constructs the relevant core type, runs one operation, and emits a single
// JSON object to stdout on completion.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/carverauto/footnote/pkg/version"
)

// ErrUsage is returned for any malformed invocation: unknown domain/action,
// missing required flags, or flag parse failure.
var ErrUsage = errors.New("cli: invalid usage")

// Run dispatches args (conventionally os.Args[1:]) to the matching
// domain/action handler and writes its JSON result to stdout.
func Run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) == 1 && args[0] == "version" {
		return emit(stdout, map[string]interface{}{
			"version":  version.GetVersion(),
			"build_id": version.GetBuildID(),
		})
	}

	if len(args) < 2 {
		return fmt.Errorf("%w: usage: footnote <vault|service|note|contact> <action> [flags]", ErrUsage)
	}

	domain, action, rest := args[0], args[1], args[2:]

	var (
		result interface{}
		err    error
	)

	switch domain {
	case "vault":
		result, err = runVault(action, rest)
	case "service":
		result, err = runService(ctx, action, rest)
	case "note":
		result, err = runNote(action, rest)
	case "contact":
		result, err = runContact(action, rest)
	default:
		return fmt.Errorf("%w: unknown domain %q", ErrUsage, domain)
	}

	if err != nil {
		return err
	}

	return emit(stdout, result)
}

// emit writes v as a single indented JSON object, per spec.md section 6:
// "Each command emits a single JSON object on stdout on completion."
func emit(stdout io.Writer, v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")

	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	return nil
}
