// Package transport defines the dial/listen abstraction TCP (and
// supplemental WebSocket) implement, and the upgrader that assembles the
// secure+muxed pipeline over a raw connection (spec.md §4.6).
package transport

import (
	"context"
	"io"
	"net"

	"github.com/erwin-kok/go-libp2p-core-engine/core/muxer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// CapableConn is a fully upgraded connection: authenticated, encrypted,
// and multiplexed, ready for the swarm to wrap as a network.Conn.
type CapableConn interface {
	muxer.MuxedConn

	LocalPeer() peer.ID
	RemotePeer() peer.ID
	LocalMultiaddr() ma.Multiaddr
	RemoteMultiaddr() ma.Multiaddr
	Direction() network.Direction
}

// Listener accepts raw (pre-upgrade) connections on one bound address.
type Listener interface {
	io.Closer
	Accept() (CapableConn, error)
	Multiaddr() ma.Multiaddr
}

// Transport dials and listens on addresses of one transport family.
type Transport interface {
	Dial(ctx context.Context, raddr ma.Multiaddr, p peer.ID) (CapableConn, error)
	CanDial(addr ma.Multiaddr) bool
	Listen(laddr ma.Multiaddr) (Listener, error)
	Proxy() bool
}

// Upgrader composes a raw net.Conn into a CapableConn via a
// sec.SecureTransport and a muxer.Multiplexer.
type Upgrader interface {
	UpgradeListener(t Transport, list net.Listener) Listener
	UpgradeOutbound(ctx context.Context, t Transport, raw net.Conn, dir network.Direction, p peer.ID, raddr ma.Multiaddr) (CapableConn, error)
	UpgradeInbound(ctx context.Context, t Transport, raw net.Conn, dir network.Direction, raddr ma.Multiaddr) (CapableConn, error)
}
