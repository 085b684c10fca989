package cli

import (
	"flag"
	"fmt"

	"github.com/carverauto/footnote/pkg/vault"
)

func runVault(action string, args []string) (interface{}, error) {
	switch action {
	case "create-primary":
		return vaultCreatePrimary(args)
	case "create-standalone":
		return vaultCreateStandalone(args)
	case "doctor":
		return vaultDoctor(args)
	default:
		return nil, fmt.Errorf("%w: unknown vault action %q", ErrUsage, action)
	}
}

func vaultCreatePrimary(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("vault create-primary", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")
	username := fs.String("username", "", "this user's stable username")
	device := fs.String("device", "", "this device's human-readable name")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if *username == "" || *device == "" {
		return nil, fmt.Errorf("%w: -username and -device are required", ErrUsage)
	}

	log, err := newCLILogger()
	if err != nil {
		return nil, err
	}

	v, err := vault.CreatePrimary(*root, *username, *device, log)
	if err != nil {
		return nil, err
	}

	u, _ := v.User()

	return map[string]interface{}{
		"state":         v.State(),
		"root":          v.Root(),
		"username":      *username,
		"device":        v.Device(),
		"id_public_key": u.IDPublicKey,
	}, nil
}

func vaultCreateStandalone(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("vault create-standalone", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")
	device := fs.String("device", "", "this device's human-readable name")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUsage, err)
	}

	if *device == "" {
		return nil, fmt.Errorf("%w: -device is required", ErrUsage)
	}

	log, err := newCLILogger()
	if err != nil {
		return nil, err
	}

	v, err := vault.CreateStandalone(*root, *device, log)
	if err != nil {
		return nil, err
	}

	return map[string]interface{}{
		"state":  v.State(),
		"root":   v.Root(),
		"device": v.Device(),
	}, nil
}

func vaultDoctor(args []string) (interface{}, error) {
	fs := flag.NewFlagSet("vault doctor", flag.ContinueOnError)
	root := fs.String("root", ".", "vault root directory")
	fix := fs.Bool("fix", false, "reassign a fresh uuid to every duplicate after the earliest occurrence")

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

	findings, err := v.Doctor(*fix)
	if err != nil {
		return nil, err
	}

	if findings == nil {
		findings = []vault.DoctorFinding{}
	}

	return map[string]interface{}{
		"root":           v.Root(),
		"fixed":          *fix,
		"duplicate_uuid": findings,
	}, nil
}
