package identify

import (
	"context"
	"crypto/rand"
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/crypto"
	"github.com/erwin-kok/go-libp2p-core-engine/core/event"
	"github.com/erwin-kok/go-libp2p-core-engine/core/host"
	"github.com/erwin-kok/go-libp2p-core-engine/core/network"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/peerstore/pstoreds"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/peerstore/pstoremem"
	"github.com/erwin-kok/go-libp2p-core-engine/p2p/protocol/identify/pb"
)

func newTestPeerstore(t *testing.T) peerstore.Peerstore {
	t.Helper()
	kv := pstoremem.NewKVStore()
	ps, err := pstoreds.NewPeerstore(kv)
	require.NoError(t, err)
	return ps
}

// fakeHost implements host.Host with only the methods the snapshot/
// consume paths exercise; everything else panics if reached.
type fakeHost struct {
	id    peer.ID
	ps    peerstore.Peerstore
	addrs []ma.Multiaddr
}

func (h *fakeHost) ID() peer.ID                    { return h.id }
func (h *fakeHost) Peerstore() peerstore.Peerstore { return h.ps }
func (h *fakeHost) Addrs() []ma.Multiaddr          { return h.addrs }
func (h *fakeHost) Network() network.Network       { return nil }
func (h *fakeHost) EventBus() event.Bus            { return nil }
func (h *fakeHost) SetStreamHandler(protocol.ID, network.StreamHandler)                     {}
func (h *fakeHost) SetStreamHandlerMatch(protocol.ID, protocol.Match, network.StreamHandler) {}
func (h *fakeHost) RemoveStreamHandler(protocol.ID)                                          {}
func (h *fakeHost) NewStream(context.Context, peer.ID, ...protocol.ID) (network.Stream, error) {
	panic("not implemented")
}
func (h *fakeHost) Connect(context.Context, peer.AddrInfo) error { panic("not implemented") }
func (h *fakeHost) Close() error                                 { return nil }

var _ host.Host = (*fakeHost)(nil)

func TestMessageRoundTrip(t *testing.T) {
	msg := &pb.Identify{
		ProtocolVersion: "test/1.0.0",
		AgentVersion:    "test-agent",
		PublicKey:       []byte{1, 2, 3},
		ListenAddrs:     [][]byte{{4, 5, 6}},
		Protocols:       []string{"/a/1.0.0", "/b/1.0.0"},
		ObservedAddr:    []byte{7, 8, 9},
	}
	raw := pb.Marshal(msg)
	got, err := pb.Unmarshal(raw)
	require.NoError(t, err)
	require.Equal(t, msg, got)
}

func TestSnapshotIncludesLocalState(t *testing.T) {
	priv, _, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)

	addr, err := ma.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	require.NoError(t, err)

	h := &fakeHost{id: "local-peer", ps: newTestPeerstore(t), addrs: []ma.Multiaddr{addr}}
	ids := &IDService{host: h, priv: priv, userAgent: "test-agent", observedAddrs: make(map[string]ma.Multiaddr)}

	msg := ids.snapshot(nil)
	require.Equal(t, DefaultProtocolVersion, msg.ProtocolVersion)
	require.Equal(t, "test-agent", msg.AgentVersion)
	require.NotEmpty(t, msg.PublicKey)
	require.Len(t, msg.ListenAddrs, 1)
	require.NotEmpty(t, msg.SignedPeerRecord)
}

func TestConsumeRecordsProtocolsAndKey(t *testing.T) {
	priv, pub, err := crypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	pubRaw, err := crypto.MarshalPublicKey(pub)
	require.NoError(t, err)

	h := &fakeHost{id: "local-peer", ps: newTestPeerstore(t)}
	ids := &IDService{host: h, priv: priv, observedAddrs: make(map[string]ma.Multiaddr)}

	remote := peer.ID("remote-peer")
	msg := &pb.Identify{
		Protocols: []string{"/chat/1.0.0"},
		PublicKey: pubRaw,
	}
	ids.consume(&fakeConsumeConn{remote: remote}, msg)

	protos, err := h.ps.GetProtocols(remote)
	require.NoError(t, err)
	require.Equal(t, []protocol.ID{"/chat/1.0.0"}, protos)
	require.Equal(t, pub, h.ps.PubKey(remote))
}

type fakeConsumeConn struct{ remote peer.ID }

func (c *fakeConsumeConn) ID() string                                        { return "fake" }
func (c *fakeConsumeConn) LocalPeer() peer.ID                                 { return "local-peer" }
func (c *fakeConsumeConn) RemotePeer() peer.ID                                { return c.remote }
func (c *fakeConsumeConn) LocalMultiaddr() ma.Multiaddr                       { return nil }
func (c *fakeConsumeConn) RemoteMultiaddr() ma.Multiaddr                      { return nil }
func (c *fakeConsumeConn) Stat() network.Stat                                 { return network.Stat{} }
func (c *fakeConsumeConn) IsClosed() bool                                     { return false }
func (c *fakeConsumeConn) Close() error                                      { return nil }
func (c *fakeConsumeConn) NewStream(context.Context) (network.Stream, error) { return nil, nil }
func (c *fakeConsumeConn) GetStreams() []network.Stream                     { return nil }

var _ network.Conn = (*fakeConsumeConn)(nil)
