// Package localnet is an in-process reference implementation of
// pkg/transport: every endpoint it creates shares one Network, and Dial
// delivers directly to the matching Listen call's accept channel over a
// pair of half-closable io.Pipe connections. It stands in for the real
// authenticated transport that spec.md treats as an external black box
// (never implemented here), used by the CLI's single-process demo mode and
// by the pairing/sync protocol tests that need two real, wired endpoints
// rather than a scripted mock.
package localnet

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/carverauto/footnote/pkg/transport"
)

// Network is the shared switchboard for a set of in-process endpoints.
type Network struct {
	mu        sync.Mutex
	listeners map[string]chan *pipeEnd
}

// NewNetwork returns an empty switchboard.
func NewNetwork() *Network {
	return &Network{listeners: make(map[string]chan *pipeEnd)}
}

func routeKey(endpointID, alpn string) string {
	return endpointID + "|" + alpn
}

// NewEndpoint binds priv to net, identified by its hex-encoded public key.
func NewEndpoint(net *Network, priv ed25519.PrivateKey) transport.Endpoint {
	pub := priv.Public().(ed25519.PublicKey) //nolint:forcetypeassert // ed25519 guarantees this type

	return &endpoint{net: net, priv: priv, pub: hex.EncodeToString(pub)}
}

type endpoint struct {
	net  *Network
	priv ed25519.PrivateKey
	pub  string
}

func (e *endpoint) PublicKey() string { return e.pub }

func (e *endpoint) Listen(_ context.Context, alpn string) (transport.Listener, error) {
	k := routeKey(e.pub, alpn)

	e.net.mu.Lock()
	defer e.net.mu.Unlock()

	if _, exists := e.net.listeners[k]; exists {
		return nil, fmt.Errorf("localnet: %s is already listening on %s", e.pub, alpn)
	}

	ch := make(chan *pipeEnd, 8)
	e.net.listeners[k] = ch

	return &listener{ch: ch, net: e.net, key: k}, nil
}

func (e *endpoint) Dial(ctx context.Context, alpn, remoteEndpointID string) (transport.Stream, error) {
	k := routeKey(remoteEndpointID, alpn)

	e.net.mu.Lock()
	ch, ok := e.net.listeners[k]
	e.net.mu.Unlock()

	if !ok {
		return nil, transport.ErrConnectFailed
	}

	local, remote := newPipePair(remoteEndpointID, e.pub)

	select {
	case ch <- remote:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return local, nil
}

type listener struct {
	ch  chan *pipeEnd
	net *Network
	key string
}

func (l *listener) Accept(ctx context.Context) (transport.Stream, error) {
	select {
	case s := <-l.ch:
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *listener) Close() error {
	l.net.mu.Lock()
	delete(l.net.listeners, l.key)
	l.net.mu.Unlock()

	return nil
}

// pipeEnd is one side of a pair of cross-wired io.Pipes: writes on one end
// are readable on the other, and closing the write half (CloseWrite) makes
// the peer observe io.EOF on its next Read without tearing down its own
// send direction.
type pipeEnd struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	remote string
}

func newPipePair(dialerSeesRemoteAs, listenerSeesRemoteAs string) (dialerSide, listenerSide *pipeEnd) {
	toListener, fromDialer := io.Pipe()
	toDialer, fromListener := io.Pipe()

	dialerSide = &pipeEnd{r: toDialer, w: fromDialer, remote: dialerSeesRemoteAs}
	listenerSide = &pipeEnd{r: toListener, w: fromListener, remote: listenerSeesRemoteAs}

	return dialerSide, listenerSide
}

func (p *pipeEnd) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *pipeEnd) Write(b []byte) (int, error) { return p.w.Write(b) }
func (p *pipeEnd) CloseWrite() error           { return p.w.Close() }

func (p *pipeEnd) Close() error {
	_ = p.w.Close()
	_ = p.r.CloseWithError(io.ErrClosedPipe)

	return nil
}

func (p *pipeEnd) RemoteEndpointID() string { return p.remote }
