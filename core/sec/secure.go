// Package sec defines the secure-channel abstraction the Noise handshake
// implements (spec.md §4.4, §4.5).
package sec

import (
	"context"
	"net"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
)

// SecureConn is a net.Conn that has been mutually authenticated and is
// encrypted in both directions.
type SecureConn interface {
	net.Conn

	LocalPeer() peer.ID
	RemotePeer() peer.ID
	RemotePublicKey() crypto.PubKey
}

// SecureTransport upgrades a raw connection to an authenticated encrypted
// one. remote, if non-empty, pins the expected peer identity for an
// outbound dial (spec.md §4.4 peer-id check).
type SecureTransport interface {
	SecureInbound(ctx context.Context, insecure net.Conn) (SecureConn, error)
	SecureOutbound(ctx context.Context, insecure net.Conn, remote peer.ID) (SecureConn, error)
}
