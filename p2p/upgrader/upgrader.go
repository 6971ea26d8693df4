// Package upgrader assembles the raw-connection → secure → muxer
// pipeline into a transport.CapableConn (spec.md §4.6, §4.9).
package upgrader

import (
	"context"
	"fmt"
	"net"

	logging "github.com/ipfs/go-log/v2"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/erwin-kok/go-libp2p-core-engine/core/muxer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/sec"
	"github.com/erwin-kok/go-libp2p-core-engine/core/transport"
)

var log = logging.Logger("upgrader")

// Upgrader composes a sec.SecureTransport and a muxer.Multiplexer into
// the transport.Upgrader the swarm relies on (spec.md §4.6: "The
// upgrader composes: raw connection → Noise(secure) → Mplex(muxer) →
// SwarmConnection").
type Upgrader struct {
	secure sec.SecureTransport
	muxer  muxer.Multiplexer
}

func New(secure sec.SecureTransport, mux muxer.Multiplexer) *Upgrader {
	return &Upgrader{secure: secure, muxer: mux}
}

func (u *Upgrader) UpgradeOutbound(ctx context.Context, t transport.Transport, raw net.Conn, dir network.Direction, p peer.ID, raddr ma.Multiaddr) (transport.CapableConn, error) {
	sc, err := u.secure.SecureOutbound(ctx, raw, p)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	// spec.md §4.6: if the handshake's remote peer id != requested peer
	// id, abort with WrongPeer before any application bytes flow.
	if p != "" && sc.RemotePeer() != p {
		_ = sc.Close()
		return nil, fmt.Errorf("upgrader: wrong peer: expected %s got %s", p, sc.RemotePeer())
	}
	mc, err := u.muxer.NewConn(sc, false)
	if err != nil {
		_ = sc.Close()
		return nil, err
	}
	return newConn(mc, sc, dir, raddr), nil
}

func (u *Upgrader) UpgradeInbound(ctx context.Context, t transport.Transport, raw net.Conn, dir network.Direction, raddr ma.Multiaddr) (transport.CapableConn, error) {
	sc, err := u.secure.SecureInbound(ctx, raw)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	mc, err := u.muxer.NewConn(sc, true)
	if err != nil {
		_ = sc.Close()
		return nil, err
	}
	return newConn(mc, sc, dir, raddr), nil
}

func (u *Upgrader) UpgradeListener(t transport.Transport, list net.Listener) transport.Listener {
	laddr, err := manet.FromNetAddr(list.Addr())
	if err != nil {
		log.Warnf("upgrader: could not convert listen address %s: %s", list.Addr(), err)
	}
	return &upgradedListener{u: u, t: t, inner: list, laddr: laddr}
}

type upgradedListener struct {
	u     *Upgrader
	t     transport.Transport
	inner net.Listener
	laddr ma.Multiaddr
}

func (l *upgradedListener) Accept() (transport.CapableConn, error) {
	raw, err := l.inner.Accept()
	if err != nil {
		return nil, err
	}
	raddr, err := manet.FromNetAddr(raw.RemoteAddr())
	if err != nil {
		raddr = nil
	}
	return l.u.UpgradeInbound(context.Background(), l.t, raw, network.DirInbound, raddr)
}

func (l *upgradedListener) Close() error        { return l.inner.Close() }
func (l *upgradedListener) Multiaddr() ma.Multiaddr { return l.laddr }

var _ transport.Upgrader = (*Upgrader)(nil)
var _ transport.Listener = (*upgradedListener)(nil)
