// Package host defines the top-level libp2p node surface: stream handler
// table, stream open, and event bus access (spec.md §4.10).
package host

import (
	"context"
	"io"

	"github.com/erwin-kok/go-libp2p-core-engine/core/event"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
	ma "github.com/multiformats/go-multiaddr"
)

// Host is a libp2p node: it owns a Network, a Peerstore, and a table of
// registered protocol handlers.
type Host interface {
	io.Closer

	ID() peer.ID
	Peerstore() peerstore.Peerstore
	Addrs() []ma.Multiaddr
	Network() network.Network
	EventBus() event.Bus

	SetStreamHandler(pid protocol.ID, handler network.StreamHandler)
	SetStreamHandlerMatch(pid protocol.ID, m protocol.Match, handler network.StreamHandler)
	RemoveStreamHandler(pid protocol.ID)

	NewStream(ctx context.Context, p peer.ID, pids ...protocol.ID) (network.Stream, error)
	Connect(ctx context.Context, pi peer.AddrInfo) error
}
