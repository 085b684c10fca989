// Package vault implements the on-disk layout and state machine for a
// footnote vault: Uninitialized, Standalone, Primary, and SecondaryJoined,
// plus the doctor integrity check and the read-authorization predicate that
// gates what a remote device may pull during sync.
package vault

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/carverauto/footnote/pkg/contacts"
	"github.com/carverauto/footnote/pkg/cryptoutil"
	"github.com/carverauto/footnote/pkg/frontmatter"
	"github.com/carverauto/footnote/pkg/identity"
	"github.com/carverauto/footnote/pkg/lamport"
	"github.com/carverauto/footnote/pkg/logger"
	"github.com/carverauto/footnote/pkg/manifest"
	"github.com/carverauto/footnote/pkg/syncstatus"
	"github.com/carverauto/footnote/pkg/tombstone"
)

// State is one of the four vault lifecycle states.
type State string

const (
	Uninitialized   State = "uninitialized"
	Standalone      State = "standalone"
	Primary         State = "primary"
	SecondaryJoined State = "secondary_joined"
)

var (
	ErrAlreadyInitialized = errors.New("vault already initialized")
	ErrNotStandalone      = errors.New("vault is not standalone")
	ErrNotPrimary         = errors.New("vault is not primary")
	ErrCorruptState       = errors.New("vault state is corrupt")
)

const (
	footnoteDir  = ".footnote"
	dirPerms     = 0o700
	filePerms    = 0o600
	peerShareDir = "footnotes"
)

// Vault is an open handle on a footnote vault directory.
type Vault struct {
	root   string
	log    logger.Logger
	state  State
	device identity.Device

	deviceSeed []byte // 32-byte Ed25519 seed, never leaves the device

	identitySeed []byte // present only when Primary
	username     string

	user      *identity.User
	contacts  *contacts.Store
	tombs     *tombstone.Store
}

func footnotePath(root string, parts ...string) string {
	return filepath.Join(append([]string{root, footnoteDir}, parts...)...)
}

// Open inspects root and returns a Vault reflecting its current state.
// A missing .footnote directory yields a Vault in the Uninitialized state
// (not an error).
func Open(root string, log logger.Logger) (*Vault, error) {
	v := &Vault{
		root:     root,
		log:      log,
		contacts: contacts.NewStore(root),
		tombs:    tombstone.NewStore(footnotePath(root, "tombstones.json")),
	}

	if _, err := os.Stat(footnotePath(root)); os.IsNotExist(err) {
		v.state = Uninitialized
		return v, nil
	}

	deviceSeed, deviceName, err := readKeyFile(footnotePath(root, "device_key"))
	if err != nil {
		if os.IsNotExist(err) {
			v.state = Uninitialized
			return v, nil
		}

		return nil, err
	}

	v.deviceSeed = deviceSeed
	dkp := cryptoutil.KeyPairFromSeed(deviceSeed)
	v.device = identity.Device{Name: deviceName, EndpointID: dkp.PublicHex()}

	identitySeed, username, idErr := readKeyFile(footnotePath(root, "id_key"))
	hasIdentity := idErr == nil

	if hasIdentity {
		v.identitySeed = identitySeed
		v.username = username
	} else if !os.IsNotExist(idErr) {
		return nil, idErr
	}

	user, userErr := loadUser(footnotePath(root, "user.json"))
	hasUser := userErr == nil

	if userErr != nil && !os.IsNotExist(userErr) {
		return nil, userErr
	}

	switch {
	case hasIdentity && hasUser:
		v.user = &user
		v.state = Primary
	case !hasIdentity && hasUser:
		v.user = &user
		v.state = SecondaryJoined
	case !hasIdentity && !hasUser:
		v.state = Standalone
	default: // identity present but no user record: inconsistent on-disk state
		return nil, ErrCorruptState
	}

	if err := syncstatus.ClearAllOrphaned(root); err != nil {
		return nil, err
	}

	return v, nil
}

func readKeyFile(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path) //nolint:gosec // vault-relative path under operator control
	if err != nil {
		return nil, "", err
	}

	fields := strings.SplitN(strings.TrimSpace(string(data)), " ", 2)
	if len(fields) != 2 {
		return nil, "", fmt.Errorf("%w: malformed key file %s", ErrCorruptState, path)
	}

	seed, err := hex.DecodeString(fields[0])
	if err != nil || len(seed) != ed25519.SeedSize {
		return nil, "", fmt.Errorf("%w: malformed key material in %s", ErrCorruptState, path)
	}

	return seed, fields[1], nil
}

func writeKeyFile(path string, seed []byte, label string) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}

	content := hex.EncodeToString(seed) + " " + label

	return os.WriteFile(path, []byte(content), filePerms)
}

func loadUser(path string) (identity.User, error) {
	data, err := os.ReadFile(path) //nolint:gosec // vault-relative path under operator control
	if err != nil {
		return identity.User{}, err
	}

	var u identity.User
	if err := json.Unmarshal(data, &u); err != nil {
		return identity.User{}, fmt.Errorf("decode user record: %w", err)
	}

	return u, nil
}

func saveUser(path string, u identity.User) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerms); err != nil {
		return fmt.Errorf("create user record directory: %w", err)
	}

	payload, err := json.Marshal(u)
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, payload, filePerms); err != nil {
		return fmt.Errorf("write temporary user record: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persist user record: %w", err)
	}

	return nil
}

// CreatePrimary initializes root as a fresh Primary vault: generates an
// identity key pair, derives this device's key pair from it via HKDF (index
// 0), and persists a signed user record listing this single device.
func CreatePrimary(root, username, deviceName string, log logger.Logger) (*Vault, error) {
	if _, err := os.Stat(footnotePath(root)); err == nil {
		return nil, ErrAlreadyInitialized
	}

	idKP, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	devSeed, err := cryptoutil.DeriveDeviceSeed(idKP.Private.Seed(), 0)
	if err != nil {
		return nil, err
	}

	devKP := cryptoutil.KeyPairFromSeed(devSeed)

	device := identity.Device{Name: deviceName, EndpointID: devKP.PublicHex()}

	u := identity.User{
		Username:    username,
		IDPublicKey: idKP.PublicHex(),
		Devices:     []identity.Device{device},
		UpdatedAt:   lamport.Next(nil),
	}
	u = identity.Sign(u, idKP.Private)

	if err := writeKeyFile(footnotePath(root, "id_key"), idKP.Private.Seed(), username); err != nil {
		return nil, err
	}

	if err := writeKeyFile(footnotePath(root, "device_key"), devKP.Private.Seed(), deviceName); err != nil {
		return nil, err
	}

	if err := saveUser(footnotePath(root, "user.json"), u); err != nil {
		return nil, err
	}

	return Open(root, log)
}

// CreateStandalone initializes root as a fresh Standalone vault: generates
// only a device key pair, with no identity or user record yet.
func CreateStandalone(root, deviceName string, log logger.Logger) (*Vault, error) {
	if _, err := os.Stat(footnotePath(root)); err == nil {
		return nil, ErrAlreadyInitialized
	}

	devKP, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return nil, err
	}

	if err := writeKeyFile(footnotePath(root, "device_key"), devKP.Private.Seed(), deviceName); err != nil {
		return nil, err
	}

	return Open(root, log)
}

// TransitionToPrimary lifts a Standalone vault into Primary: generates an
// identity key pair and produces a signed self user record containing this
// vault's existing device.
func (v *Vault) TransitionToPrimary(username string) error {
	if v.state != Standalone {
		return ErrNotStandalone
	}

	idKP, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return err
	}

	u := identity.User{
		Username:    username,
		IDPublicKey: idKP.PublicHex(),
		Devices:     []identity.Device{v.device},
		UpdatedAt:   lamport.Next(nil),
	}
	u = identity.Sign(u, idKP.Private)

	if err := writeKeyFile(footnotePath(v.root, "id_key"), idKP.Private.Seed(), username); err != nil {
		return err
	}

	if err := saveUser(footnotePath(v.root, "user.json"), u); err != nil {
		return err
	}

	v.identitySeed = idKP.Private.Seed()
	v.username = username
	v.user = &u
	v.state = Primary

	return nil
}

// TransitionToStandalone removes identity and user-record data, backing
// them up under a timestamped sibling directory, returning the vault to
// Standalone. Used to recover from a corrupt identity/user state.
func (v *Vault) TransitionToStandalone(nowUnix int64) error {
	backupDir := v.root + ".footnote.backup." + strconv.FormatInt(nowUnix, 10)
	if err := os.MkdirAll(backupDir, dirPerms); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	for _, name := range []string{"id_key", "user.json"} {
		src := footnotePath(v.root, name)

		data, err := os.ReadFile(src) //nolint:gosec // vault-relative path under operator control
		if os.IsNotExist(err) {
			continue
		}

		if err != nil {
			return fmt.Errorf("read %s for backup: %w", name, err)
		}

		if err := os.WriteFile(filepath.Join(backupDir, name), data, filePerms); err != nil {
			return fmt.Errorf("write backup %s: %w", name, err)
		}

		if err := os.Remove(src); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}

	v.identitySeed = nil
	v.username = ""
	v.user = nil
	v.state = Standalone

	return nil
}

// State returns the vault's current lifecycle state.
func (v *Vault) State() State { return v.state }

// Root returns the vault's filesystem root.
func (v *Vault) Root() string { return v.root }

// Device returns this vault's own device record.
func (v *Vault) Device() identity.Device { return v.device }

// User returns the current signed user record, if any.
func (v *Vault) User() (identity.User, bool) {
	if v.user == nil {
		return identity.User{}, false
	}

	return *v.user, true
}

// Contacts returns the contact store for this vault.
func (v *Vault) Contacts() *contacts.Store { return v.contacts }

// Tombstones returns the tombstone store for this vault.
func (v *Vault) Tombstones() *tombstone.Store { return v.tombs }

// IdentityPrivateKey returns the identity private key, only available in
// the Primary state.
func (v *Vault) IdentityPrivateKey() (ed25519.PrivateKey, error) {
	if v.state != Primary || v.identitySeed == nil {
		return nil, ErrNotPrimary
	}

	return ed25519.NewKeyFromSeed(v.identitySeed), nil
}

// DevicePrivateKey returns this device's own private key.
func (v *Vault) DevicePrivateKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(v.deviceSeed)
}

// IsDeviceLeader reports whether this vault holds the identity signing key.
func (v *Vault) IsDeviceLeader() bool {
	return v.state == Primary
}

// AdoptUser persists u as this vault's user record (used by the pairing
// joiner/listener once a successor record has been validated) and updates
// in-memory state to SecondaryJoined if not already Primary.
func (v *Vault) AdoptUser(u identity.User) error {
	if err := saveUser(footnotePath(v.root, "user.json"), u); err != nil {
		return err
	}

	v.user = &u
	if v.state != Primary {
		v.state = SecondaryJoined
	}

	return nil
}

// AdoptDeviceKey overwrites this vault's device key with seed, labelled
// name, and updates the in-memory device record to match. Used by the
// pairing listener once the joiner's blessed user record has been verified:
// per spec.md the listener's ephemeral pairing key becomes this device's
// permanent transport identity.
func (v *Vault) AdoptDeviceKey(seed []byte, name string) error {
	if err := writeKeyFile(footnotePath(v.root, "device_key"), seed, name); err != nil {
		return err
	}

	v.deviceSeed = seed
	dkp := cryptoutil.KeyPairFromSeed(seed)
	v.device = identity.Device{Name: name, EndpointID: dkp.PublicHex()}

	return nil
}

// FindContactByEndpoint resolves a remote endpoint id to an imported
// contact, if one owns a device with that endpoint.
func (v *Vault) FindContactByEndpoint(endpointID string) (identity.User, bool, error) {
	return v.contacts.FindByEndpoint(endpointID)
}

// FindPrimaryDeviceByNickname resolves a contact nickname to one of its
// devices, used to address a dial target for share sync.
func (v *Vault) FindPrimaryDeviceByNickname(nickname string) (identity.Device, error) {
	u, err := v.contacts.Read(nickname)
	if err != nil {
		return identity.Device{}, err
	}

	if len(u.Devices) == 0 {
		return identity.Device{}, fmt.Errorf("%w: contact %s has no devices", ErrCorruptState, nickname)
	}

	return u.Devices[0], nil
}

// CanDeviceReadNote is the sync-protocol authorization gate: our own
// devices may read anything; a contact may read a note whose share_with
// list includes their nickname; everyone else is denied.
func (v *Vault) CanDeviceReadNote(endpointID, relPath string) bool {
	if v.user != nil && v.user.HasDevice(endpointID) {
		return true
	}

	contact, ok, err := v.FindContactByEndpoint(endpointID)
	if err != nil || !ok {
		return false
	}

	raw, err := os.ReadFile(filepath.Join(v.root, relPath)) //nolint:gosec // vault-relative path
	if err != nil {
		return false
	}

	note, err := frontmatter.Parse(raw)
	if err != nil {
		return false
	}

	for _, n := range note.Header.ShareWith {
		if n == contact.Nickname {
			return true
		}
	}

	return false
}

// DoctorFinding reports a note path sharing a UUID with at least one other
// note.
type DoctorFinding struct {
	UUID  uuid.UUID
	Paths []string
}

// Doctor scans every .md file under the vault root and reports UUIDs shared
// by more than one file. With fix=true, every occurrence after the earliest
// (in depth-first walk order) is assigned a fresh UUID and rewritten.
func (v *Vault) Doctor(fix bool) ([]DoctorFinding, error) {
	byUUID := make(map[uuid.UUID][]string)

	err := filepath.WalkDir(v.root, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
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

		relPath, err := filepath.Rel(v.root, path)
		if err != nil {
			return err //nolint:wrapcheck // walk callback, caller wraps
		}

		raw, err := os.ReadFile(path) //nolint:gosec // vault-relative path under operator control
		if err != nil {
			return nil
		}

		note, err := frontmatter.Parse(raw)
		if err != nil {
			if v.log != nil {
				v.log.Warn().Err(err).Str("path", relPath).Msg("doctor: failed to parse frontmatter, skipping")
			}

			return nil
		}

		byUUID[note.Header.UUID] = append(byUUID[note.Header.UUID], relPath)

		return nil
	})
	if err != nil {
		return nil, err
	}

	var findings []DoctorFinding

	for id, paths := range byUUID {
		if len(paths) < 2 {
			continue
		}

		findings = append(findings, DoctorFinding{UUID: id, Paths: paths})

		if fix {
			for _, p := range paths[1:] {
				if err := v.reassignUUID(p); err != nil {
					return nil, err
				}
			}
		}
	}

	return findings, nil
}

func (v *Vault) reassignUUID(relPath string) error {
	full := filepath.Join(v.root, relPath)

	raw, err := os.ReadFile(full) //nolint:gosec // vault-relative path under operator control
	if err != nil {
		return fmt.Errorf("read %s: %w", relPath, err)
	}

	note, err := frontmatter.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", relPath, err)
	}

	note.Header.UUID = uuid.New()
	note.Header = frontmatter.Touch(note.Header)

	out, err := frontmatter.Render(note)
	if err != nil {
		return fmt.Errorf("render %s: %w", relPath, err)
	}

	tmpPath := full + ".tmp"
	if err := os.WriteFile(tmpPath, out, filePerms); err != nil {
		return fmt.Errorf("write temporary %s: %w", relPath, err)
	}

	if err := os.Rename(tmpPath, full); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("persist %s: %w", relPath, err)
	}

	return nil
}

// BuildManifest builds the named manifest flavor over this vault.
func (v *Vault) BuildManifest(flavor string, nickname string) (manifest.Manifest, error) {
	switch flavor {
	case "share":
		return manifest.BuildShare(v.root, nickname, v.log)
	case "local":
		return manifest.BuildLocal(v.root, v.log)
	default:
		return manifest.BuildFull(v.root, v.log)
	}
}

// PeerShareDir returns the destination directory for notes shared to us by
// the contact nicknamed nickname.
func (v *Vault) PeerShareDir(nickname string) string {
	return filepath.Join(v.root, peerShareDir, nickname)
}
