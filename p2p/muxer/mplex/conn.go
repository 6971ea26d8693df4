// Package mplex implements the mplex stream multiplexer frame format
// and state machine (spec.md §4.2, §4.3).
package mplex

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	logging "github.com/ipfs/go-log/v2"

	"github.com/erwin-kok/go-libp2p-core-engine/core/muxer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
)

var log = logging.Logger("muxer/mplex")

// outboundQueueSize is the default outbound frame queue depth (spec.md
// §4.3 "the outbound queue drains").
const outboundQueueSize = 16

// Conn implements muxer.MuxedConn over one net.Conn (spec.md §4.2, §4.3).
type Conn struct {
	nc net.Conn
	br *bufio.Reader

	isServer bool
	nextID   uint64 // atomic, local stream-id counter

	outbound chan frame

	mu       sync.Mutex
	streams  map[streamKey]*stream
	acceptCh chan *stream

	closedCh  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewConn wraps nc in an mplex connection. isServer only affects
// nothing on the wire (stream ids are scoped per (initiator, id), not
// per role) but is kept to mirror muxer.Multiplexer's signature.
func NewConn(nc net.Conn, isServer bool) (*Conn, error) {
	c := &Conn{
		nc:       nc,
		br:       bufio.NewReader(nc),
		isServer: isServer,
		outbound: make(chan frame, outboundQueueSize),
		streams:  make(map[streamKey]*stream),
		acceptCh: make(chan *stream, 64),
		closedCh: make(chan struct{}),
	}
	go c.writeLoop()
	go c.readLoop()
	return c, nil
}

func (c *Conn) IsClosed() bool {
	select {
	case <-c.closedCh:
		return true
	default:
		return false
	}
}

// Close implements spec.md §4.3 Shutdown: stop accepting, reset every
// open stream locally, then close the transport. Frames still waiting
// in the outbound queue are not flushed: the write loop stops as soon as
// the connection is marked closed.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closedCh)
		c.mu.Lock()
		streams := make([]*stream, 0, len(c.streams))
		for _, s := range c.streams {
			streams = append(streams, s)
		}
		c.streams = make(map[streamKey]*stream)
		c.mu.Unlock()

		for _, s := range streams {
			s.applyRemoteReset()
		}
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

func (c *Conn) writeLoop() {
	for {
		select {
		case f := <-c.outbound:
			if err := writeFrame(c.nc, f); err != nil {
				log.Debugf("mplex: write error: %s", err)
				_ = c.Close()
				return
			}
		case <-c.closedCh:
			return
		}
	}
}

func (c *Conn) sendFrame(f frame) error {
	select {
	case c.outbound <- f:
		return nil
	case <-c.closedCh:
		return network.ErrClosed
	}
}

func (c *Conn) sendResetFor(key streamKey) error {
	t := tagResetReceiver
	if key.initiator {
		t = tagResetInitiator
	}
	return c.sendFrame(frame{streamID: key.id, t: t})
}

func (c *Conn) readLoop() {
	defer c.Close()
	for {
		f, err := readFrame(c.br)
		if err != nil {
			log.Debugf("mplex: read error: %s", err)
			return
		}
		c.handleFrame(f)
	}
}

func (c *Conn) handleFrame(f frame) {
	switch f.t {
	case tagNewStream:
		key := streamKey{initiator: false, id: f.streamID}
		name := string(f.data)
		releaseFrameData(f.data)
		if name == "" {
			name = fmt.Sprintf("stream%08x", f.streamID)
		}
		s := newStream(key, name, c)
		c.mu.Lock()
		c.streams[key] = s
		c.mu.Unlock()
		select {
		case c.acceptCh <- s:
		case <-c.closedCh:
		}
	case tagMessageInitiator, tagMessageReceiver:
		key := streamKey{initiator: !isInitiatorTag(f.t), id: f.streamID}
		c.dispatch(key, streamEvent{data: f.data})
	case tagCloseInitiator, tagCloseReceiver:
		key := streamKey{initiator: !isInitiatorTag(f.t), id: f.streamID}
		c.dispatch(key, streamEvent{close: true})
	case tagResetInitiator, tagResetReceiver:
		key := streamKey{initiator: !isInitiatorTag(f.t), id: f.streamID}
		c.dispatch(key, streamEvent{reset: true})
		c.removeStream(key)
	}
}

func (c *Conn) dispatch(key streamKey, ev streamEvent) {
	c.mu.Lock()
	s, ok := c.streams[key]
	c.mu.Unlock()
	if !ok {
		releaseFrameData(ev.data)
		return
	}
	select {
	case s.pending <- ev:
	case <-c.closedCh:
		releaseFrameData(ev.data)
	}
}

func (c *Conn) removeStream(key streamKey) {
	c.mu.Lock()
	delete(c.streams, key)
	c.mu.Unlock()
}

// maybeRemoveStream drops a stream once both halves are closed
// (neither reset).
func (c *Conn) maybeRemoveStream(key streamKey) {
	c.mu.Lock()
	s, ok := c.streams[key]
	c.mu.Unlock()
	if !ok {
		return
	}
	s.mu.Lock()
	done := s.closedLocal && s.closedRemote
	s.mu.Unlock()
	if done {
		c.removeStream(key)
	}
}

// OpenStream implements muxer.MuxedConn: allocate a fresh local stream
// id, announce it with a NewStream frame, and register the stream
// (spec.md §4.2 Stream id scope, §4.3 NewStream(name)).
func (c *Conn) OpenStream(ctx context.Context) (network.MuxedStream, error) {
	id := atomic.AddUint64(&c.nextID, 1) - 1
	key := streamKey{initiator: true, id: id}
	s := newStream(key, "", c)

	c.mu.Lock()
	c.streams[key] = s
	c.mu.Unlock()

	if err := c.sendFrame(frame{streamID: id, t: tagNewStream}); err != nil {
		c.removeStream(key)
		return nil, err
	}
	return s, nil
}

// AcceptStream implements muxer.MuxedConn: block until the peer opens a
// new stream.
func (c *Conn) AcceptStream() (network.MuxedStream, error) {
	select {
	case s := <-c.acceptCh:
		return s, nil
	case <-c.closedCh:
		return nil, network.ErrClosed
	}
}

var _ muxer.MuxedConn = (*Conn)(nil)

// Transport implements muxer.Multiplexer for mplex (spec.md §4.3).
type Transport struct{}

func NewTransport() Transport { return Transport{} }

func (Transport) NewConn(nc net.Conn, isServer bool) (muxer.MuxedConn, error) {
	return NewConn(nc, isServer)
}

var _ muxer.Multiplexer = Transport{}
