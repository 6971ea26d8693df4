package pstoreds

import (
	"sync"
	"time"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peer"
	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
)

// latencyEWMASmoothing is the smoothing factor for the latency moving
// average (spec.md §4.7: "EWMA latency per peer, smoothing 0.1").
const latencyEWMASmoothing = 0.1

// metrics tracks a per-peer EWMA round-trip latency.
type metrics struct {
	mu      sync.RWMutex
	latency map[peer.ID]time.Duration
}

func NewMetrics() *metrics {
	return &metrics{latency: make(map[peer.ID]time.Duration)}
}

func (m *metrics) RecordLatency(p peer.ID, rtt time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.latency[p]
	if !ok {
		m.latency[p] = rtt
		return
	}
	m.latency[p] = time.Duration(latencyEWMASmoothing*float64(rtt) + (1-latencyEWMASmoothing)*float64(cur))
}

func (m *metrics) LatencyEWMA(p peer.ID) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latency[p]
}

var _ peerstore.Metrics = (*metrics)(nil)
