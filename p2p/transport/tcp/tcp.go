// Package tcp implements the TCP transport family (spec.md §4.6):
// listen/dial/can_dial, composing a raw net.Conn through the upgrader.
package tcp

import (
	"context"
	"net"

	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	mafmt "github.com/multiformats/go-multiaddr-fmt"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	coretransport "github.com/erwin-kok/go-libp2p-core-engine/core/transport"
)

var log = logging.Logger("transport/tcp")

// tcpPattern matches any ip4|ip6 address ending in a tcp component.
var tcpPattern = mafmt.And(
	mafmt.Or(mafmt.Base(ma.P_IP4), mafmt.Base(ma.P_IP6)),
	mafmt.Base(ma.P_TCP),
)

// Transport dials and listens on /ip4|ip6/.../tcp/... addresses (spec.md
// §4.6).
type Transport struct {
	upgrader coretransport.Upgrader
}

func New(upgrader coretransport.Upgrader) *Transport {
	return &Transport{upgrader: upgrader}
}

func (t *Transport) CanDial(addr ma.Multiaddr) bool {
	return tcpPattern.Matches(addr)
}

func (t *Transport) Proxy() bool { return false }

func (t *Transport) Dial(ctx context.Context, raddr ma.Multiaddr, p peer.ID) (coretransport.CapableConn, error) {
	netaddr, err := manet.ToNetAddr(raddr)
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	raw, err := d.DialContext(ctx, netaddr.Network(), netaddr.String())
	if err != nil {
		return nil, err
	}
	return t.upgrader.UpgradeOutbound(ctx, t, raw, network.DirOutbound, p, raddr)
}

func (t *Transport) Listen(laddr ma.Multiaddr) (coretransport.Listener, error) {
	netaddr, err := manet.ToNetAddr(laddr)
	if err != nil {
		return nil, err
	}
	l, err := net.Listen(netaddr.Network(), netaddr.String())
	if err != nil {
		return nil, err
	}
	return t.upgrader.UpgradeListener(t, l), nil
}

var _ coretransport.Transport = (*Transport)(nil)
