package swarm

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	matransport "github.com/erwin-kok/go-libp2p-core-engine/core/ma"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/metrics"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/muxer/mplex"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/peerstore/pstoreds"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/peerstore/pstoremem"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/security/noise"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/transport/tcp"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/upgrader"
)

// TestMain fails the package if any swarm-owned goroutine (accept
// loop, dial workers, mplex read/write/forward loops) outlives its
// Close(): every test here closes every swarm it creates.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestSwarm builds a fully wired Swarm (TCP + Noise + mplex) bound
// to an ephemeral loopback port.
func newTestSwarm(t *testing.T) (*Swarm, peer.ID) {
	t.Helper()

	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)

	secTransport, err := noise.NewTransport(priv)
	require.NoError(t, err)
	up := upgrader.New(secTransport, mplex.NewTransport())

	kv := pstoremem.NewKVStore()
	ps, err := pstoreds.NewPeerstore(kv)
	require.NoError(t, err)

	sw := New(id, ps, nil)
	tr := tcp.New(up)
	sw.AddTransport(matransport.TransportTCP, tr)

	laddr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/0")
	require.NoError(t, err)
	require.NoError(t, sw.Listen(laddr))

	return sw, id
}

func TestSwarmDialAndStreamRoundTrip(t *testing.T) {
	serverSw, serverID := newTestSwarm(t)
	defer serverSw.Close()
	clientSw, _ := newTestSwarm(t)
	defer clientSw.Close()

	serverAddrs := serverSw.ListenAddresses()
	require.Len(t, serverAddrs, 1)
	clientSw.peerstore.AddAddrs(serverID, serverAddrs, time.Hour)

	received := make(chan string, 1)
	serverSw.SetStreamHandler(func(s network.Stream) {
		buf := make([]byte, 5)
		_, err := s.Read(buf)
		if err == nil {
			received <- string(buf)
		}
		_ = s.Close()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := clientSw.DialPeer(ctx, serverID)
	require.NoError(t, err)
	require.Equal(t, serverID, conn.RemotePeer())

	s, err := conn.NewStream(ctx)
	require.NoError(t, err)
	_, err = s.Write([]byte("hello"))
	require.NoError(t, err)

	select {
	case got := <-received:
		require.Equal(t, "hello", got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server to receive stream data")
	}
	require.NoError(t, s.Close())
}

func TestSwarmBandwidthReporterRecordsStreamTraffic(t *testing.T) {
	serverSw, serverID := newTestSwarm(t)
	defer serverSw.Close()
	clientSw, _ := newTestSwarm(t)
	defer clientSw.Close()

	bwc := metrics.NewBandwidthCounter()
	clientSw.SetBandwidthReporter(bwc)

	serverAddrs := serverSw.ListenAddresses()
	clientSw.peerstore.AddAddrs(serverID, serverAddrs, time.Hour)

	done := make(chan struct{})
	serverSw.SetStreamHandler(func(s network.Stream) {
		buf := make([]byte, 3)
		_, _ = s.Read(buf)
		_ = s.Close()
		close(done)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := clientSw.DialPeer(ctx, serverID)
	require.NoError(t, err)

	s, err := conn.NewStream(ctx)
	require.NoError(t, err)
	_, err = s.Write([]byte("abc"))
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for server")
	}
	_ = s.Close()

	totals := bwc.GetBandwidthTotals()
	require.GreaterOrEqual(t, totals.TotalOut, int64(3))
}
