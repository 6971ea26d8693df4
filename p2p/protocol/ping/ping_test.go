package ping

import (
	"context"
	"net"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/muxer/mplex"
)

// fakeConn satisfies network.Conn with just enough behavior for a
// ping stream's Conn() accessor to be safe to call.
type fakeConn struct{ remote peer.ID }

func (c *fakeConn) ID() string                                         { return "fake-conn" }
func (c *fakeConn) LocalPeer() peer.ID                                 { return "local" }
func (c *fakeConn) RemotePeer() peer.ID                                { return c.remote }
func (c *fakeConn) LocalMultiaddr() ma.Multiaddr                       { return nil }
func (c *fakeConn) RemoteMultiaddr() ma.Multiaddr                      { return nil }
func (c *fakeConn) Stat() network.Stat                                { return network.Stat{} }
func (c *fakeConn) IsClosed() bool                                     { return false }
func (c *fakeConn) Close() error                                       { return nil }
func (c *fakeConn) NewStream(context.Context) (network.Stream, error)  { return nil, nil }
func (c *fakeConn) GetStreams() []network.Stream                      { return nil }

type fakeStream struct {
	network.MuxedStream
	conn     *fakeConn
	protocol protocol.ID
}

func (s *fakeStream) ID() string                      { return "fake-stream" }
func (s *fakeStream) Protocol() protocol.ID           { return s.protocol }
func (s *fakeStream) SetProtocol(p protocol.ID) error { s.protocol = p; return nil }
func (s *fakeStream) Stat() network.Stat              { return network.Stat{} }
func (s *fakeStream) Conn() network.Conn              { return s.conn }

func pipeStreams(t *testing.T) (network.Stream, network.Stream) {
	t.Helper()
	a, b := net.Pipe()
	ca, err := mplex.NewConn(a, false)
	require.NoError(t, err)
	cb, err := mplex.NewConn(b, true)
	require.NoError(t, err)
	t.Cleanup(func() {
		ca.Close()
		cb.Close()
	})

	sa, err := ca.OpenStream(context.Background())
	require.NoError(t, err)
	sb, err := cb.AcceptStream()
	require.NoError(t, err)

	return &fakeStream{MuxedStream: sa, conn: &fakeConn{remote: "server"}},
		&fakeStream{MuxedStream: sb, conn: &fakeConn{remote: "client"}}
}

func TestPingOnceRoundTrip(t *testing.T) {
	client, server := pipeStreams(t)
	done := make(chan struct{})
	go func() {
		defer close(done)
		svc := &PingService{}
		svc.handleStream(server)
	}()

	rtt, err := pingOnce(client)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rtt, time.Duration(0))

	require.NoError(t, client.Close())
	<-done
}

func TestPingOnceMismatchDetected(t *testing.T) {
	client, server := pipeStreams(t)
	go func() {
		buf := make([]byte, PingSize)
		_, _ = server.Read(buf)
		corrupted := make([]byte, PingSize)
		copy(corrupted, buf)
		corrupted[0] ^= 0xFF
		_, _ = server.Write(corrupted)
	}()

	_, err := pingOnce(client)
	require.ErrorIs(t, err, network.ErrProtocolViolation)
}
