// Package transport defines the black-box bidirectional stream abstraction
// that the pairing and sync protocols are built on: an authenticated
// point-to-point connection keyed by a 32-byte Ed25519 public key (the
// "endpoint id"). Concrete transports (real network sockets, the in-process
// reference implementation under transport/localnet, or a test mock) satisfy
// these interfaces; neither protocol package knows or cares which one it is
// handed.
//
//go:generate mockgen -destination=mock_transport.go -package=transport github.com/carverauto/footnote/pkg/transport Stream,Listener,Endpoint
package transport

import (
	"context"
	"errors"
	"io"
)

// Application-layer protocol identifiers negotiated at stream open, per
// spec.md section 6.
const (
	ALPNSync    = "footnote/sync/1"
	ALPNPairing = "footnote/vault-join"
)

var (
	// ErrConnectFailed is returned by Dial when no authenticated connection
	// to the target endpoint could be established.
	ErrConnectFailed = errors.New("transport: connect failed")
	// ErrStreamClosed is returned by Read/Write once the remote or local
	// side has closed the stream.
	ErrStreamClosed = errors.New("transport: stream closed")
	// ErrUnknownPeer is returned by Dial when the target endpoint id is not
	// a recognized 32-byte public key.
	ErrUnknownPeer = errors.New("transport: unknown peer")
)

// Stream is one bidirectional, half-duplex-per-message byte stream between
// two authenticated endpoints. Reads and writes block the calling
// goroutine; per spec.md section 5 this is acceptable because per-file byte
// volumes are modest.
type Stream interface {
	io.Reader
	io.Writer

	// CloseWrite finishes this side's send half without closing the
	// receive half, so the peer observes EOF on its next read past the
	// last byte written.
	CloseWrite() error

	// Close tears down the stream entirely.
	Close() error

	// RemoteEndpointID returns the hex-encoded 32-byte public key the
	// transport authenticated the remote side as.
	RemoteEndpointID() string
}

// Listener accepts inbound streams on one bound endpoint.
type Listener interface {
	// Accept blocks until a stream arrives or ctx is cancelled.
	Accept(ctx context.Context) (Stream, error)
	Close() error
}

// Endpoint is a local identity (a key pair) bound to the transport, capable
// of listening for and dialing out authenticated streams keyed by endpoint
// id (the hex-encoded Ed25519 public key).
type Endpoint interface {
	// PublicKey returns this endpoint's own hex-encoded public key.
	PublicKey() string

	// Listen binds a listener for the given ALPN identifier.
	Listen(ctx context.Context, alpn string) (Listener, error)

	// Dial opens an authenticated stream to remoteEndpointID for the given
	// ALPN identifier.
	Dial(ctx context.Context, alpn string, remoteEndpointID string) (Stream, error)
}
