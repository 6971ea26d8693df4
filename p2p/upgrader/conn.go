package upgrader

import (
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"github.com/erwin-kok/go-libp2p-core-engine/core/muxer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/sec"
	"github.com/erwin-kok/go-libp2p-core-engine/core/transport"
)

// conn implements transport.CapableConn by pairing a muxer.MuxedConn
// with the sec.SecureConn it was built over, for identity and address
// metadata (spec.md §4.6).
type conn struct {
	muxer.MuxedConn
	sc    sec.SecureConn
	dir   network.Direction
	raddr ma.Multiaddr
}

func newConn(mc muxer.MuxedConn, sc sec.SecureConn, dir network.Direction, raddr ma.Multiaddr) *conn {
	return &conn{MuxedConn: mc, sc: sc, dir: dir, raddr: raddr}
}

func (c *conn) LocalPeer() peer.ID  { return c.sc.LocalPeer() }
func (c *conn) RemotePeer() peer.ID { return c.sc.RemotePeer() }

func (c *conn) LocalMultiaddr() ma.Multiaddr {
	if m, err := manet.FromNetAddr(c.sc.LocalAddr()); err == nil {
		return m
	}
	return nil
}

func (c *conn) RemoteMultiaddr() ma.Multiaddr {
	if c.raddr != nil {
		return c.raddr
	}
	if m, err := manet.FromNetAddr(c.sc.RemoteAddr()); err == nil {
		return m
	}
	return nil
}

func (c *conn) Direction() network.Direction { return c.dir }

var _ transport.CapableConn = (*conn)(nil)
