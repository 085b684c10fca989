package vault

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/footnote/pkg/cryptoutil"
	"github.com/carverauto/footnote/pkg/frontmatter"
	"github.com/carverauto/footnote/pkg/identity"
	"github.com/carverauto/footnote/pkg/logger"
)

func TestOpenUninitializedDirectory(t *testing.T) {
	v, err := Open(t.TempDir(), logger.NewTestLogger())
	require.NoError(t, err)
	require.Equal(t, Uninitialized, v.State())
}

func TestCreatePrimaryThenOpenYieldsPrimary(t *testing.T) {
	root := t.TempDir()

	v, err := CreatePrimary(root, "alice", "desktop", logger.NewTestLogger())
	require.NoError(t, err)
	require.Equal(t, Primary, v.State())
	require.Equal(t, "desktop", v.Device().Name)

	reopened, err := Open(root, logger.NewTestLogger())
	require.NoError(t, err)
	require.Equal(t, Primary, reopened.State())

	u, ok := reopened.User()
	require.True(t, ok)
	require.NoError(t, identity.Verify(u))
	require.Len(t, u.Devices, 1)
}

func TestCreateStandaloneThenTransitionToPrimary(t *testing.T) {
	root := t.TempDir()

	v, err := CreateStandalone(root, "laptop", logger.NewTestLogger())
	require.NoError(t, err)
	require.Equal(t, Standalone, v.State())

	require.NoError(t, v.TransitionToPrimary("bob"))
	require.Equal(t, Primary, v.State())

	u, ok := v.User()
	require.True(t, ok)
	require.NoError(t, identity.Verify(u))
	require.Equal(t, v.Device().EndpointID, u.Devices[0].EndpointID)
}

func TestCreatePrimaryTwiceFails(t *testing.T) {
	root := t.TempDir()

	_, err := CreatePrimary(root, "alice", "desktop", logger.NewTestLogger())
	require.NoError(t, err)

	_, err = CreatePrimary(root, "alice", "desktop2", logger.NewTestLogger())
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestAdoptDeviceKeyReplacesDeviceIdentity(t *testing.T) {
	root := t.TempDir()

	v, err := CreateStandalone(root, "laptop", logger.NewTestLogger())
	require.NoError(t, err)

	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	require.NoError(t, v.AdoptDeviceKey(kp.Private.Seed(), "tablet"))
	require.Equal(t, "tablet", v.Device().Name)
	require.Equal(t, kp.PublicHex(), v.Device().EndpointID)

	reopened, err := Open(root, logger.NewTestLogger())
	require.NoError(t, err)
	require.Equal(t, kp.PublicHex(), reopened.Device().EndpointID)
}

func TestAdoptUserMovesStandaloneDeviceToSecondaryJoined(t *testing.T) {
	root := t.TempDir()

	v, err := CreateStandalone(root, "laptop", logger.NewTestLogger())
	require.NoError(t, err)

	idKP, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := identity.User{
		Username:    "alice",
		IDPublicKey: idKP.PublicHex(),
		Devices:     []identity.Device{v.Device()},
		UpdatedAt:   1,
	}
	u = identity.Sign(u, idKP.Private)

	require.NoError(t, v.AdoptUser(u))
	require.Equal(t, SecondaryJoined, v.State())

	got, ok := v.User()
	require.True(t, ok)
	require.Equal(t, u.Signature, got.Signature)
}

func TestCanDeviceReadNoteOwnDeviceAlwaysAllowed(t *testing.T) {
	root := t.TempDir()

	v, err := CreatePrimary(root, "alice", "desktop", logger.NewTestLogger())
	require.NoError(t, err)

	require.True(t, v.CanDeviceReadNote(v.Device().EndpointID, "anything.md"))
}

func TestCanDeviceReadNoteGatesOnShareWith(t *testing.T) {
	root := t.TempDir()

	v, err := CreatePrimary(root, "alice", "desktop", logger.NewTestLogger())
	require.NoError(t, err)

	contactKP, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	contact := identity.User{
		Username:    "bob",
		IDPublicKey: contactKP.PublicHex(),
		Devices:     []identity.Device{{Name: "phone", EndpointID: "deadbeef"}},
		UpdatedAt:   1,
	}
	contact = identity.Sign(contact, contactKP.Private)
	require.NoError(t, v.Contacts().Import(contact, "bob"))

	shared := frontmatter.Note{Header: frontmatter.NewHeader(), Body: "shared"}
	shared.Header.ShareWith = []string{"bob"}
	sharedBytes, err := frontmatter.Render(shared)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "shared.md"), sharedBytes, 0o600))

	private := frontmatter.Note{Header: frontmatter.NewHeader(), Body: "private"}
	privateBytes, err := frontmatter.Render(private)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(root, "private.md"), privateBytes, 0o600))

	require.True(t, v.CanDeviceReadNote("deadbeef", "shared.md"))
	require.False(t, v.CanDeviceReadNote("deadbeef", "private.md"))
	require.False(t, v.CanDeviceReadNote("unknown-endpoint", "shared.md"))
}

func TestDoctorFindsAndFixesDuplicateUUIDs(t *testing.T) {
	root := t.TempDir()

	v, err := CreateStandalone(root, "laptop", logger.NewTestLogger())
	require.NoError(t, err)

	header := frontmatter.NewHeader()

	for _, name := range []string{"a.md", "b.md"} {
		n := frontmatter.Note{Header: header, Body: name}

		out, err := frontmatter.Render(n)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(root, name), out, 0o600))
	}

	findings, err := v.Doctor(false)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Len(t, findings[0].Paths, 2)

	findings, err = v.Doctor(true)
	require.NoError(t, err)
	require.Len(t, findings, 1)

	findings, err = v.Doctor(false)
	require.NoError(t, err)
	require.Empty(t, findings)
}
