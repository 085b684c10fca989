package contacts

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/footnote/pkg/cryptoutil"
	"github.com/carverauto/footnote/pkg/identity"
)

func signedContact(t *testing.T, devices ...identity.Device) identity.User {
	t.Helper()

	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := identity.User{
		Username:    "bob",
		IDPublicKey: kp.PublicHex(),
		Devices:     devices,
		UpdatedAt:   1,
	}

	return identity.Sign(u, kp.Private)
}

func TestImportReadRoundTrip(t *testing.T) {
	s := NewStore(t.TempDir())
	u := signedContact(t, identity.Device{Name: "phone", EndpointID: "cc"})

	require.NoError(t, s.Import(u, "bob"))

	got, err := s.Read("bob")
	require.NoError(t, err)
	require.Equal(t, "bob", got.Nickname)
	require.Equal(t, u.IDPublicKey, got.IDPublicKey)
}

func TestImportRejectsInvalidSignature(t *testing.T) {
	s := NewStore(t.TempDir())
	u := signedContact(t)
	u.Username = "mallory"

	err := s.Import(u, "bob")
	require.Error(t, err)
}

func TestReadMissingReturnsErrNotFound(t *testing.T) {
	s := NewStore(t.TempDir())

	_, err := s.Read("nobody")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFindByEndpointLocatesOwningContact(t *testing.T) {
	s := NewStore(t.TempDir())
	u := signedContact(t, identity.Device{Name: "phone", EndpointID: "cc"})
	require.NoError(t, s.Import(u, "bob"))

	found, ok, err := s.FindByEndpoint("cc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "bob", found.Nickname)

	_, ok, err = s.FindByEndpoint("unknown")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestListReturnsAllImportedContacts(t *testing.T) {
	s := NewStore(t.TempDir())
	require.NoError(t, s.Import(signedContact(t), "bob"))
	require.NoError(t, s.Import(signedContact(t), "carol"))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
}
