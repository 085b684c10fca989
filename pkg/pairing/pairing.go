// Package pairing implements the bounded handshake that admits a new device
// into an existing user's device group: a Standalone vault listens on an
// ephemeral device key and emits a connection string, a Primary device
// dials it, blesses the listener's key into a new signed user record, and
// both sides persist the result.
package pairing

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/carverauto/footnote/pkg/cryptoutil"
	"github.com/carverauto/footnote/pkg/identity"
	"github.com/carverauto/footnote/pkg/logger"
	"github.com/carverauto/footnote/pkg/transport"
	"github.com/carverauto/footnote/pkg/vault"
)

// Scheme prefixes every pairing connection string.
const Scheme = "footnote+pair://"

const (
	maxEnvelopeBytes = 100 * 1024
	eventDepth       = 32
)

var (
	// ErrNotPrimary is returned by Join when the local vault does not hold
	// the identity private key.
	ErrNotPrimary = errors.New("pairing: joiner must hold the identity private key")
	// ErrMalformedURL is returned when a connection string is not a valid
	// footnote+pair:// URL.
	ErrMalformedURL = errors.New("pairing: malformed connection string")
	// ErrDeserialize is returned when the joiner's envelope cannot be parsed.
	ErrDeserialize = errors.New("pairing: malformed envelope")
	// ErrDeviceNotInRecord is returned when the blessed record the listener
	// received does not list the listener's own ephemeral device key.
	ErrDeviceNotInRecord = errors.New("pairing: blessed record does not include listener device")
	// ErrNoAck is returned when the joiner does not receive "OK" in response.
	ErrNoAck = errors.New("pairing: peer did not acknowledge")
)

// EndpointFactory mints a transport.Endpoint bound to an arbitrary private
// key, letting Listen bind its ephemeral pairing key to a fresh transport
// identity distinct from the vault's permanent device endpoint.
type EndpointFactory func(priv ed25519.PrivateKey) transport.Endpoint

// EventKind distinguishes the three events a listen session may emit.
type EventKind string

const (
	EventListening EventKind = "listening"
	EventSuccess   EventKind = "success"
	EventError     EventKind = "error"
)

// Event is one entry in a listen session's bounded event stream: exactly
// Listening{url} followed by one terminal Success or Error.
type Event struct {
	Kind   EventKind
	URL    string
	Device identity.Device
	Err    error
}

// envelope is the wire wrapper the joiner sends: the blessed user record as
// a nested raw JSON value, per spec section 4.5 step 3.
type envelope struct {
	ContactJSON json.RawMessage `json:"contact_json"`
}

// ConnectionString formats a pairing connection string for the given
// hex-encoded endpoint id.
func ConnectionString(endpointID string) string {
	return Scheme + endpointID
}

// ParseConnectionString extracts and validates the hex-encoded endpoint id
// from a footnote+pair:// connection string.
func ParseConnectionString(s string) (string, error) {
	hexPart, ok := strings.CutPrefix(s, Scheme)
	if !ok {
		return "", ErrMalformedURL
	}

	if _, err := cryptoutil.DecodePublicHex(hexPart); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedURL, err)
	}

	return hexPart, nil
}

// Listen starts a listener session on v, which must currently be
// Standalone. It generates an ephemeral device key, binds a transport
// listener on it via newEndpoint, and returns a bounded event channel
// reporting Listening{url} followed by exactly one Success or Error. The
// returned channel is closed once the terminal event has been emitted.
func Listen(ctx context.Context, v *vault.Vault, newEndpoint EndpointFactory, log logger.Logger) (<-chan Event, error) {
	if v.State() != vault.Standalone {
		return nil, vault.ErrNotStandalone
	}

	listenKP, err := cryptoutil.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral pairing key: %w", err)
	}

	ep := newEndpoint(listenKP.Private)

	l, err := ep.Listen(ctx, transport.ALPNPairing)
	if err != nil {
		return nil, fmt.Errorf("bind pairing listener: %w", err)
	}

	events := make(chan Event, eventDepth)

	emit(events, Event{Kind: EventListening, URL: ConnectionString(ep.PublicKey())})

	go runListenSession(ctx, v, l, listenKP, events, log)

	return events, nil
}

func runListenSession(ctx context.Context, v *vault.Vault, l transport.Listener, listenKP cryptoutil.KeyPair, events chan Event, log logger.Logger) {
	defer close(events)
	defer func() { _ = l.Close() }()

	stream, err := l.Accept(ctx)
	if err != nil {
		emit(events, Event{Kind: EventError, Err: err})
		return
	}
	defer func() { _ = stream.Close() }()

	candidate, err := receiveEnvelope(stream, listenKP.PublicHex())
	if err != nil {
		if log != nil {
			log.Warn().Err(err).Msg("pairing: listen session failed")
		}

		emit(events, Event{Kind: EventError, Err: err})

		return
	}

	device, _ := deviceByEndpoint(candidate, listenKP.PublicHex())

	if err := v.AdoptDeviceKey(listenKP.Private.Seed(), device.Name); err != nil {
		emit(events, Event{Kind: EventError, Err: err})
		return
	}

	if err := v.AdoptUser(candidate); err != nil {
		emit(events, Event{Kind: EventError, Err: err})
		return
	}

	if err := ackAndWaitClose(stream); err != nil {
		emit(events, Event{Kind: EventError, Err: err})
		return
	}

	emit(events, Event{Kind: EventSuccess, Device: device})
}

// receiveEnvelope reads up to maxEnvelopeBytes, parses the envelope, and
// validates the resulting user record, returning ErrDeviceNotInRecord if it
// does not list listenerEndpointID.
func receiveEnvelope(r io.Reader, listenerEndpointID string) (identity.User, error) {
	data, err := readLimited(r, maxEnvelopeBytes)
	if err != nil {
		return identity.User{}, err
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return identity.User{}, fmt.Errorf("%w: %w", ErrDeserialize, err)
	}

	var candidate identity.User
	if err := json.Unmarshal(env.ContactJSON, &candidate); err != nil {
		return identity.User{}, fmt.Errorf("%w: %w", ErrDeserialize, err)
	}

	if err := identity.Verify(candidate); err != nil {
		return identity.User{}, err
	}

	if !candidate.HasDevice(listenerEndpointID) {
		return identity.User{}, ErrDeviceNotInRecord
	}

	return candidate, nil
}

func deviceByEndpoint(u identity.User, endpointID string) (identity.Device, bool) {
	for _, d := range u.Devices {
		if d.EndpointID == endpointID {
			return d, true
		}
	}

	return identity.Device{}, false
}

func ackAndWaitClose(s transport.Stream) error {
	if _, err := s.Write([]byte("OK")); err != nil {
		return fmt.Errorf("write ack: %w", err)
	}

	if err := s.CloseWrite(); err != nil {
		return fmt.Errorf("close ack send half: %w", err)
	}

	if _, err := io.Copy(io.Discard, s); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("await peer close: %w", err)
	}

	return nil
}

// emit performs a non-blocking send, matching spec section 5's "producers
// drop events silently on overflow" backpressure policy.
func emit(events chan Event, e Event) {
	select {
	case events <- e:
	default:
	}
}

func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, fmt.Errorf("read envelope: %w", err)
	}

	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: envelope exceeds %d bytes", ErrDeserialize, limit)
	}

	return data, nil
}

// Join dials the listener named by connString and blesses its ephemeral
// device key into v's user record under deviceName. v must be Primary
// (hold the identity private key). On success both sides' user.json agree:
// Join persists the new record locally before returning.
func Join(ctx context.Context, v *vault.Vault, ep transport.Endpoint, connString, deviceName string) error {
	if !v.IsDeviceLeader() {
		return ErrNotPrimary
	}

	listenerEndpointID, err := ParseConnectionString(connString)
	if err != nil {
		return err
	}

	idPriv, err := v.IdentityPrivateKey()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotPrimary, err)
	}

	current, ok := v.User()
	if !ok {
		return ErrNotPrimary
	}

	blessed, err := identity.BlessDevice(current, identity.Device{Name: deviceName, EndpointID: listenerEndpointID}, idPriv)
	if err != nil {
		return err
	}

	stream, err := ep.Dial(ctx, transport.ALPNPairing, listenerEndpointID)
	if err != nil {
		return fmt.Errorf("%w: %w", transport.ErrConnectFailed, err)
	}
	defer func() { _ = stream.Close() }()

	contactJSON, err := json.Marshal(blessed)
	if err != nil {
		return fmt.Errorf("encode blessed record: %w", err)
	}

	payload, err := json.Marshal(envelope{ContactJSON: contactJSON})
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	if _, err := stream.Write(payload); err != nil {
		return fmt.Errorf("write envelope: %w", err)
	}

	if err := stream.CloseWrite(); err != nil {
		return fmt.Errorf("close send half: %w", err)
	}

	ack := make([]byte, 2)
	if _, err := io.ReadFull(stream, ack); err != nil {
		return fmt.Errorf("%w: %w", ErrNoAck, err)
	}

	if string(ack) != "OK" {
		return ErrNoAck
	}

	_, _ = io.Copy(io.Discard, stream)

	return v.AdoptUser(blessed)
}
