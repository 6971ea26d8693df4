// Package muxer defines the transport-facing stream multiplexer
// abstraction (spec.md §4.3), implemented by p2p/muxer/mplex.
package muxer

import (
	"context"
	"net"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
)

// MuxedConn multiplexes many logical byte streams over one underlying
// net.Conn.
type MuxedConn interface {
	Close() error
	IsClosed() bool

	OpenStream(ctx context.Context) (network.MuxedStream, error)
	// AcceptStream blocks until the peer opens a new stream.
	AcceptStream() (network.MuxedStream, error)
}

// Multiplexer constructs a MuxedConn over an established secure connection.
// isServer reports whether the local side accepted the underlying
// connection; mplex ignores it, since its stream ids are scoped per
// (initiator, id) rather than per connection role (spec.md §4.2).
type Multiplexer interface {
	NewConn(c net.Conn, isServer bool) (MuxedConn, error)
}
