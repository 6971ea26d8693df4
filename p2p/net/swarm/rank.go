package swarm

import (
	"time"

	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	corema "github.com/erwin-kok/go-libp2p-core-engine/core/ma"
)

// Address ranking offsets (spec.md §4.8): direct addresses dial first,
// then private TCP, then public TCP, then circuit relay.
const (
	delayDirect  = 0
	delayPrivate = 30 * time.Millisecond
	delayPublic  = 250 * time.Millisecond
	delayRelay   = 500 * time.Millisecond
)

// rankDelay scores addr for the dialer's priority queue: lower delay
// dials sooner.
func rankDelay(addr ma.Multiaddr) time.Duration {
	if corema.TagFor(addr) == corema.TransportCircuitRelay {
		return delayRelay
	}
	if ip, err := manet.ToIP(addr); err == nil && ip.IsLoopback() {
		return delayDirect
	}
	if corema.IsPrivate(addr) {
		return delayPrivate
	}
	return delayPublic
}
