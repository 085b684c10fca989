package cli

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/carverauto/footnote/pkg/identity"
	"github.com/carverauto/footnote/pkg/vault"
)

func runContact(action string, args []string) (interface{}, error) {
	switch action {
	case "export":
		return contactExport(args)
	case "import":
		return contactImport(args)
	case "read":
		return contactRead(args)
	default:
		return nil, fmt.Errorf("%w: unknown contact action %q", ErrUsage, action)
	}
}

// contactExport prints this vault's own signed user record, the document a
// peer imports under contact import to establish a share relationship.
func contactExport(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("contact export", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	log, err := newCLILogger()
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(*root, log)
	if err != nil {
		return nil, err
	}

	u, ok := v.User()
	if !ok {
		return nil, fmt.Errorf("%w: vault %s has no user record to export", vault.ErrCorruptState, *root)
	}

	return u, nil
}

func contactImport(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("contact import", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")
	nickname := fs.String("nickname", "", "local nickname to file this contact under")
	file := fs.String("file", "", "path to the exported contact's JSON record")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if *nickname == "" || *file == "" {
		return nil, fmt.Errorf("%w: -nickname and -file are required", ErrUsage)
	}

	log, err := newCLILogger()
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(*root, log)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(*file) //nolint:gosec // operator-supplied import file
	if err != nil {
		return nil, fmt.Errorf("read contact file: %w", err)
	}

	var u identity.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("decode contact file: %w", err)
	}

	if err := v.Contacts().Import(u, *nickname); err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"nickname":      *nickname,
		"username":      u.Username,
		"id_public_key": u.IDPublicKey,
		"devices":       u.Devices,
	}, nil
}

func contactRead(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("contact read", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")
	nickname := fs.String("nickname", "", "imported contact's local nickname; omitted lists every contact")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	log, err := newCLILogger()
	if err != nil {
		return nil, err
	}

	v, err := vault.Open(*root, log)
	if err != nil {
		return nil, err
	}

	if *nickname == "" {
		all, err := v.Contacts().List()
		if err != nil {
			return nil, err
		}

		if all == nil {
			all = []identity.User{}
		}

		return map[string]interface{}{"contacts": all}, nil
	}

	u, err := v.Contacts().Read(*nickname)
	if err != nil {
		return nil, err
	}

	return u, nil
}
