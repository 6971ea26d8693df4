package swarm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
)

// stream wraps a muxed byte stream with the identity and protocol
// negotiation state the network.Stream contract adds (spec.md §3
// Stream).
type stream struct {
	network.MuxedStream
	id   string
	conn *conn

	mu       sync.Mutex
	protocol protocol.ID
}

var streamCounter uint64

func newStream(ms network.MuxedStream, c *conn) *stream {
	n := atomic.AddUint64(&streamCounter, 1)
	return &stream{
		MuxedStream: ms,
		id:          fmt.Sprintf("%s-%d", c.id, n),
		conn:        c,
	}
}

// Read and Write shadow the embedded network.MuxedStream so every byte
// that crosses the stream is reported to the owning Swarm's bandwidth
// reporter, if one is configured (p2p/metrics).
func (s *stream) Read(p []byte) (int, error) {
	n, err := s.MuxedStream.Read(p)
	if n > 0 {
		if r := s.conn.sw.bandwidthReporter(); r != nil {
			r.LogRecvMessageStream(int64(n), s.Protocol(), s.conn.RemotePeer())
		}
	}
	return n, err
}

func (s *stream) Write(p []byte) (int, error) {
	n, err := s.MuxedStream.Write(p)
	if n > 0 {
		if r := s.conn.sw.bandwidthReporter(); r != nil {
			r.LogSentMessageStream(int64(n), s.Protocol(), s.conn.RemotePeer())
		}
	}
	return n, err
}

func (s *stream) ID() string { return s.id }

func (s *stream) Protocol() protocol.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.protocol
}

func (s *stream) SetProtocol(p protocol.ID) error {
	s.mu.Lock()
	s.protocol = p
	s.mu.Unlock()
	return nil
}

func (s *stream) Stat() network.Stat { return s.conn.Stat() }
func (s *stream) Conn() network.Conn { return s.conn }

var _ network.Stream = (*stream)(nil)
