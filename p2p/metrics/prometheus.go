package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/erwin-kok/go-libp2p-core-engine/core/peerstore"
)

// PrometheusCollector exports a BandwidthCounter's running totals and a
// peerstore's per-peer EWMA ping latency (core/peerstore.Metrics) as
// Prometheus metrics.
type PrometheusCollector struct {
	bwc *BandwidthCounter
	ps  peerstore.Peerstore

	bytesSentDesc *prometheus.Desc
	bytesRecvDesc *prometheus.Desc
	latencyDesc   *prometheus.Desc
}

func NewPrometheusCollector(bwc *BandwidthCounter, ps peerstore.Peerstore) *PrometheusCollector {
	return &PrometheusCollector{
		bwc: bwc,
		ps:  ps,
		bytesSentDesc: prometheus.NewDesc(
			"libp2p_bandwidth_bytes_sent_total", "Cumulative bytes sent across every connection.", nil, nil),
		bytesRecvDesc: prometheus.NewDesc(
			"libp2p_bandwidth_bytes_recv_total", "Cumulative bytes received across every connection.", nil, nil),
		latencyDesc: prometheus.NewDesc(
			"libp2p_peer_latency_seconds", "EWMA round-trip ping latency to a peer.", []string{"peer"}, nil),
	}
}

func (c *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.bytesSentDesc
	ch <- c.bytesRecvDesc
	ch <- c.latencyDesc
}

func (c *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	if c.bwc != nil {
		totals := c.bwc.GetBandwidthTotals()
		ch <- prometheus.MustNewConstMetric(c.bytesSentDesc, prometheus.CounterValue, float64(totals.TotalOut))
		ch <- prometheus.MustNewConstMetric(c.bytesRecvDesc, prometheus.CounterValue, float64(totals.TotalIn))
	}

	if c.ps == nil {
		return
	}
	for _, p := range c.ps.Peers() {
		ewma := c.ps.LatencyEWMA(p)
		if ewma == 0 {
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.latencyDesc, prometheus.GaugeValue, ewma.Seconds(), p.String())
	}
}

var _ prometheus.Collector = (*PrometheusCollector)(nil)
