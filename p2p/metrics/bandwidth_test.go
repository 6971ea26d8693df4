package metrics

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
)

func TestBandwidthCounterTotals(t *testing.T) {
	bwc := NewBandwidthCounter()
	bwc.LogSentMessage(10)
	bwc.LogRecvMessage(20)

	totals := bwc.GetBandwidthTotals()
	require.EqualValues(t, 10, totals.TotalOut)
	require.EqualValues(t, 20, totals.TotalIn)
}

func TestBandwidthCounterPerPeerAndProtocol(t *testing.T) {
	bwc := NewBandwidthCounter()
	bwc.LogSentMessageStream(5, protocol.ID("/chat/1.0.0"), peer.ID("peer-a"))
	bwc.LogRecvMessageStream(7, protocol.ID("/chat/1.0.0"), peer.ID("peer-a"))

	peerStats := bwc.GetBandwidthForPeer("peer-a")
	require.EqualValues(t, 5, peerStats.TotalOut)
	require.EqualValues(t, 7, peerStats.TotalIn)

	protoStats := bwc.GetBandwidthForProtocol("/chat/1.0.0")
	require.EqualValues(t, 5, protoStats.TotalOut)
	require.EqualValues(t, 7, protoStats.TotalIn)

	// Per-stream logging also feeds the running totals.
	totals := bwc.GetBandwidthTotals()
	require.EqualValues(t, 5, totals.TotalOut)
	require.EqualValues(t, 7, totals.TotalIn)
}
