// Package network defines the swarm-level connection and stream
// abstractions (spec.md §3 Connection/Stream, §4.3 stream muxer semantics
// surfaced upward).
package network

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// Direction records which side of a connection or stream initiated it.
type Direction int

const (
	DirUnknown Direction = iota
	DirInbound
	DirOutbound
)

func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "Inbound"
	case DirOutbound:
		return "Outbound"
	default:
		return "Unknown"
	}
}

// Connectedness records whether we have an open connection to a peer.
type Connectedness int

const (
	NotConnected Connectedness = iota
	Connected
)

// Error taxonomy (spec.md §7). These are sentinels for errors.Is checks;
// concrete errors wrap one of these with %w.
var (
	ErrReset             = errors.New("network: stream reset")
	ErrClosed            = errors.New("network: closed")
	ErrProtocolViolation = errors.New("network: protocol violation")
	ErrHandshakeFailure  = errors.New("network: handshake failure")
	ErrNoAddresses       = errors.New("network: no known addresses")
	ErrGaterDenied       = errors.New("network: connection gater denied")
	ErrNoConn            = errors.New("network: no connection to peer")
)

// Stat records the circumstances under which a connection was created.
type Stat struct {
	Direction Direction
	Opened    time.Time
	// Transient connections are usable for a single negotiation (identify)
	// but not reused/returned from NewConn reuse checks.
	Transient bool
}

// MuxedStream is the minimal bidirectional byte-stream a muxer hands to
// the connection layer; network.Stream adds identity and protocol
// negotiation state on top of it.
type MuxedStream interface {
	io.Reader
	io.Writer
	// Close closes both halves after flushing pending writes.
	Close() error
	// CloseWrite half-closes the write side (emits a Close frame).
	CloseWrite() error
	// CloseRead half-closes the read side; further reads return EOF.
	CloseRead() error
	// Reset aborts the stream immediately (emits a Reset frame).
	Reset() error
	SetDeadline(time.Time) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// Stream is a single multiplexed, bidirectional channel over a Conn,
// dedicated to one negotiated application protocol (spec.md §3 Stream).
type Stream interface {
	MuxedStream

	ID() string
	Protocol() protocol.ID
	SetProtocol(protocol.ID) error
	Stat() Stat
	Conn() Conn
}

// Conn is an authenticated, encrypted, multiplexed connection to exactly
// one remote peer (spec.md §3 Connection).
type Conn interface {
	io.Closer

	ID() string
	LocalPeer() peer.ID
	RemotePeer() peer.ID
	LocalMultiaddr() ma.Multiaddr
	RemoteMultiaddr() ma.Multiaddr
	Stat() Stat
	IsClosed() bool

	NewStream(ctx context.Context) (Stream, error)
	GetStreams() []Stream
}

// Notifiee is informed of connection/listener lifecycle events as they
// happen on a Network.
type Notifiee interface {
	Listen(Network, ma.Multiaddr)
	ListenClose(Network, ma.Multiaddr)
	Connected(Network, Conn)
	Disconnected(Network, Conn)
}

// StreamHandler is invoked once multistream negotiation selects a
// protocol for an inbound stream.
type StreamHandler func(Stream)

// Network is the peer-to-many-peers connectivity surface the swarm
// implements: dialing, accepting, and enumerating connections.
type Network interface {
	io.Closer

	LocalPeer() peer.ID

	DialPeer(ctx context.Context, p peer.ID) (Conn, error)
	ClosePeer(peer.ID) error
	Connectedness(peer.ID) Connectedness

	Peers() []peer.ID
	Conns() []Conn
	ConnsToPeer(p peer.ID) []Conn

	Notify(Notifiee)
	StopNotify(Notifiee)

	NewStream(ctx context.Context, p peer.ID) (Stream, error)

	Listen(...ma.Multiaddr) error
	ListenAddresses() []ma.Multiaddr
	InterfaceListenAddresses() ([]ma.Multiaddr, error)
}
