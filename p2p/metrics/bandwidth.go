// Package metrics tracks per-connection byte-rate bandwidth usage
// (spec.md's domain-stack supplement: "per-stream/per-connection
// byte-rate metrics exposed via peerstore metrics") and exports it
// through Prometheus for scraping.
package metrics

import (
	flow "github.com/libp2p/go-flow-metrics"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/protocol"
)

// Stats is a point-in-time bandwidth snapshot: cumulative byte counts
// plus the flow-metrics exponentially-weighted moving rate.
type Stats struct {
	TotalIn  int64
	TotalOut int64
	RateIn   float64
	RateOut  float64
}

// Reporter records message sizes as they cross the wire, keyed by
// protocol and by peer, and reports back cumulative/rate snapshots.
type Reporter interface {
	LogSentMessage(size int64)
	LogRecvMessage(size int64)
	LogSentMessageStream(size int64, proto protocol.ID, p peer.ID)
	LogRecvMessageStream(size int64, proto protocol.ID, p peer.ID)
	GetBandwidthForPeer(p peer.ID) Stats
	GetBandwidthForProtocol(proto protocol.ID) Stats
	GetBandwidthTotals() Stats
}

// BandwidthCounter is the default Reporter: one pair of flow.Meters for
// the running total, and one flow.MeterRegistry per (protocol, peer) x
// (in, out) for the breakdowns.
type BandwidthCounter struct {
	totalIn, totalOut       flow.Meter
	protocolIn, protocolOut flow.MeterRegistry
	peerIn, peerOut         flow.MeterRegistry
}

func NewBandwidthCounter() *BandwidthCounter {
	return &BandwidthCounter{}
}

func (bwc *BandwidthCounter) LogSentMessage(size int64) { bwc.totalOut.Mark(uint64(size)) }
func (bwc *BandwidthCounter) LogRecvMessage(size int64) { bwc.totalIn.Mark(uint64(size)) }

func (bwc *BandwidthCounter) LogSentMessageStream(size int64, proto protocol.ID, p peer.ID) {
	if proto != "" {
		bwc.protocolOut.Get(string(proto)).Mark(uint64(size))
	}
	if p != "" {
		bwc.peerOut.Get(string(p)).Mark(uint64(size))
	}
	bwc.LogSentMessage(size)
}

func (bwc *BandwidthCounter) LogRecvMessageStream(size int64, proto protocol.ID, p peer.ID) {
	if proto != "" {
		bwc.protocolIn.Get(string(proto)).Mark(uint64(size))
	}
	if p != "" {
		bwc.peerIn.Get(string(p)).Mark(uint64(size))
	}
	bwc.LogRecvMessage(size)
}

func (bwc *BandwidthCounter) GetBandwidthTotals() Stats {
	in := bwc.totalIn.Snapshot()
	out := bwc.totalOut.Snapshot()
	return Stats{TotalIn: int64(in.Total), TotalOut: int64(out.Total), RateIn: in.Rate, RateOut: out.Rate}
}

func (bwc *BandwidthCounter) GetBandwidthForPeer(p peer.ID) Stats {
	in := bwc.peerIn.Get(string(p)).Snapshot()
	out := bwc.peerOut.Get(string(p)).Snapshot()
	return Stats{TotalIn: int64(in.Total), TotalOut: int64(out.Total), RateIn: in.Rate, RateOut: out.Rate}
}

func (bwc *BandwidthCounter) GetBandwidthForProtocol(proto protocol.ID) Stats {
	in := bwc.protocolIn.Get(string(proto)).Snapshot()
	out := bwc.protocolOut.Get(string(proto)).Snapshot()
	return Stats{TotalIn: int64(in.Total), TotalOut: int64(out.Total), RateIn: in.Rate, RateOut: out.Rate}
}

var _ Reporter = (*BandwidthCounter)(nil)
