// Package connmgr defines the connection-gater policy hook consulted by
// the dialer and listener before admitting a peer or connection
// (spec.md §4.8, §7 GaterDenied).
package connmgr

import (
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	ma "github.com/multiformats/go-multiaddr"
)

// ConnectionGater is consulted at each stage of connection establishment.
// Any false return aborts the operation with ErrGaterDenied.
type ConnectionGater interface {
	InterceptPeerDial(p peer.ID) bool
	InterceptAddrDial(p peer.ID, addr ma.Multiaddr) bool
	InterceptAccept(dir network.Direction, addr ma.Multiaddr) bool
	InterceptSecured(dir network.Direction, p peer.ID, addr ma.Multiaddr) bool
	InterceptUpgraded(c network.Conn) (allow bool, reason int)
}
