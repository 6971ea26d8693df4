package swarm

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/transport"
)

var connCounter uint64

// conn wraps an upgraded transport.CapableConn with the swarm-level
// stream bookkeeping network.Conn exposes (spec.md §3 Connection).
type conn struct {
	cc   transport.CapableConn
	id   string
	sw   *Swarm
	stat network.Stat

	mu      sync.Mutex
	streams map[*stream]struct{}
	closed  bool
}

func newConn(cc transport.CapableConn, sw *Swarm, dir network.Direction) *conn {
	n := atomic.AddUint64(&connCounter, 1)
	return &conn{
		cc:      cc,
		id:      fmt.Sprintf("conn-%d", n),
		sw:      sw,
		stat:    network.Stat{Direction: dir, Opened: time.Now()},
		streams: make(map[*stream]struct{}),
	}
}

func (c *conn) ID() string                    { return c.id }
func (c *conn) LocalPeer() peer.ID            { return c.cc.LocalPeer() }
func (c *conn) RemotePeer() peer.ID           { return c.cc.RemotePeer() }
func (c *conn) LocalMultiaddr() ma.Multiaddr  { return c.cc.LocalMultiaddr() }
func (c *conn) RemoteMultiaddr() ma.Multiaddr { return c.cc.RemoteMultiaddr() }
func (c *conn) Stat() network.Stat            { return c.stat }

func (c *conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	streams := make([]*stream, 0, len(c.streams))
	for s := range c.streams {
		streams = append(streams, s)
	}
	c.streams = nil
	c.mu.Unlock()

	for _, s := range streams {
		_ = s.Reset()
	}
	err := c.cc.Close()
	c.sw.removeConn(c)
	c.sw.notifyDisconnected(c)
	return err
}

func (c *conn) NewStream(ctx context.Context) (network.Stream, error) {
	ms, err := c.cc.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	s := newStream(ms, c)
	c.mu.Lock()
	c.streams[s] = struct{}{}
	c.mu.Unlock()
	return s, nil
}

func (c *conn) GetStreams() []network.Stream {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]network.Stream, 0, len(c.streams))
	for s := range c.streams {
		out = append(out, s)
	}
	return out
}

// acceptLoop hands each peer-opened muxed stream to the multistream
// server handler (spec.md: "Data flow, accept side").
func (c *conn) acceptLoop(handle func(network.Stream)) {
	for {
		ms, err := c.cc.AcceptStream()
		if err != nil {
			return
		}
		s := newStream(ms, c)
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			_ = s.Reset()
			return
		}
		c.streams[s] = struct{}{}
		c.mu.Unlock()
		go handle(s)
	}
}

var _ network.Conn = (*conn)(nil)
