package identity

import (
	"testing"

	"github.com/carverauto/footnote/pkg/cryptoutil"
	"github.com/stretchr/testify/require"
)

func newSignedUser(t *testing.T, kp cryptoutil.KeyPair, devices ...Device) User {
	t.Helper()

	u := User{
		Username:    "alice",
		IDPublicKey: kp.PublicHex(),
		Devices:     devices,
		UpdatedAt:   10,
	}

	return Sign(u, kp.Private)
}

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := newSignedUser(t, kp, Device{Name: "desktop", EndpointID: "aa"})
	require.NoError(t, Verify(u))
}

func TestVerifyFailsWhenSignedFieldMutated(t *testing.T) {
	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := newSignedUser(t, kp, Device{Name: "desktop", EndpointID: "aa"})
	u.Username = "mallory"

	require.Error(t, Verify(u))
}

func TestVerifyIgnoresNicknameMutation(t *testing.T) {
	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := newSignedUser(t, kp, Device{Name: "desktop", EndpointID: "aa"})
	u.Nickname = "anything"

	require.NoError(t, Verify(u))
}

func TestBlessDeviceProducesValidSuccessor(t *testing.T) {
	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := newSignedUser(t, kp, Device{Name: "desktop", EndpointID: "aa"})

	next, err := BlessDevice(u, Device{Name: "laptop", EndpointID: "bb"}, kp.Private)
	require.NoError(t, err)

	require.True(t, ValidSuccessor(u, next))
	require.True(t, next.HasDevice("aa"))
	require.True(t, next.HasDevice("bb"))
}

func TestBlessDeviceRejectsDuplicateEndpoint(t *testing.T) {
	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := newSignedUser(t, kp, Device{Name: "desktop", EndpointID: "aa"})

	_, err = BlessDevice(u, Device{Name: "dup", EndpointID: "aa"}, kp.Private)
	require.ErrorIs(t, err, ErrAlreadyMember)
}

func TestValidSuccessorRejectsStaleTimestamp(t *testing.T) {
	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := newSignedUser(t, kp, Device{Name: "desktop", EndpointID: "aa"})

	// Same UpdatedAt, extra device, re-signed: timestamp must strictly advance.
	stale := u
	stale.Devices = append(append([]Device(nil), u.Devices...), Device{Name: "laptop", EndpointID: "bb"})
	stale = Sign(stale, kp.Private)

	require.False(t, ValidSuccessor(u, stale))
}

func TestValidSuccessorRejectsRevocation(t *testing.T) {
	kp, err := cryptoutil.GenerateKeyPair()
	require.NoError(t, err)

	u := newSignedUser(t, kp, Device{Name: "desktop", EndpointID: "aa"}, Device{Name: "laptop", EndpointID: "bb"})

	revoked := u
	revoked.Devices = []Device{{Name: "desktop", EndpointID: "aa"}}
	revoked.UpdatedAt = u.UpdatedAt + 1
	revoked = Sign(revoked, kp.Private)

	require.False(t, ValidSuccessor(u, revoked))
}
