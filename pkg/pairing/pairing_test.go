package pairing

import (
	"context"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carverauto/footnote/pkg/identity"
	"github.com/carverauto/footnote/pkg/logger"
	"github.com/carverauto/footnote/pkg/transport"
	"github.com/carverauto/footnote/pkg/transport/localnet"
	"github.com/carverauto/footnote/pkg/vault"
)

func TestJoinListenHappyPath(t *testing.T) {
	net := localnet.NewNetwork()
	factory := func(priv ed25519.PrivateKey) transport.Endpoint { return localnet.NewEndpoint(net, priv) }

	log := logger.NewTestLogger()

	vA, err := vault.CreatePrimary(t.TempDir(), "alice", "desktop", log)
	require.NoError(t, err)

	vB, err := vault.CreateStandalone(t.TempDir(), "placeholder", log)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events, err := Listen(ctx, vB, factory, log)
	require.NoError(t, err)

	listening := <-events
	require.Equal(t, EventListening, listening.Kind)
	require.Contains(t, listening.URL, Scheme)

	epA := localnet.NewEndpoint(net, vA.DevicePrivateKey())

	require.NoError(t, Join(ctx, vA, epA, listening.URL, "laptop"))

	result := <-events
	require.Equal(t, EventSuccess, result.Kind, "unexpected failure: %v", result.Err)
	require.Equal(t, "laptop", result.Device.Name)

	uA, ok := vA.User()
	require.True(t, ok)
	require.Len(t, uA.Devices, 2)
	require.NoError(t, identity.Verify(uA))

	require.Equal(t, vault.SecondaryJoined, vB.State())

	uB, ok := vB.User()
	require.True(t, ok)
	require.Equal(t, uA.Signature, uB.Signature)
	require.Equal(t, result.Device.EndpointID, vB.Device().EndpointID)
}

func TestJoinRejectsNonPrimaryJoiner(t *testing.T) {
	net := localnet.NewNetwork()
	log := logger.NewTestLogger()

	vA, err := vault.CreateStandalone(t.TempDir(), "desktop", log)
	require.NoError(t, err)

	epA := localnet.NewEndpoint(net, vA.DevicePrivateKey())

	err = Join(context.Background(), vA, epA, ConnectionString("deadbeef"), "laptop")
	require.ErrorIs(t, err, ErrNotPrimary)
}

func TestListenRejectsNonStandaloneVault(t *testing.T) {
	net := localnet.NewNetwork()
	factory := func(priv ed25519.PrivateKey) transport.Endpoint { return localnet.NewEndpoint(net, priv) }
	log := logger.NewTestLogger()

	v, err := vault.CreatePrimary(t.TempDir(), "alice", "desktop", log)
	require.NoError(t, err)

	_, err = Listen(context.Background(), v, factory, log)
	require.ErrorIs(t, err, vault.ErrNotStandalone)
}

func TestParseConnectionStringRejectsMalformedInput(t *testing.T) {
	_, err := ParseConnectionString("not-a-pairing-url")
	require.ErrorIs(t, err, ErrMalformedURL)

	_, err = ParseConnectionString(Scheme + "not-hex")
	require.ErrorIs(t, err, ErrMalformedURL)
}
