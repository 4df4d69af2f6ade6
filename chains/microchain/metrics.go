package microchain

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	blocks        *prometheus.CounterVec
	blockDuration *prometheus.HistogramVec
	envelopes     *prometheus.CounterVec
	mailboxDepth  *prometheus.GaugeVec
	dropped       *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		blocks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microswap",
			Subsystem: "chain",
			Name:      "blocks_total",
			Help:      "Blocks produced per chain.",
		}, []string{"chain"}),
		blockDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "microswap",
			Subsystem: "chain",
			Name:      "block_duration_seconds",
			Help:      "Time spent executing one block.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 4, 10),
		}, []string{"chain"}),
		envelopes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microswap",
			Subsystem: "chain",
			Name:      "envelopes_total",
			Help:      "Envelopes executed per chain, by kind and result.",
		}, []string{"chain", "kind", "result"}),
		mailboxDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "microswap",
			Subsystem: "chain",
			Name:      "mailbox_depth",
			Help:      "Items waiting in a chain mailbox after a block.",
		}, []string{"chain"}),
		dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microswap",
			Subsystem: "chain",
			Name:      "subscriber_dropped_total",
			Help:      "States not delivered to a slow subscriber.",
		}, []string{"chain"}),
	}
	reg.MustRegister(m.blocks, m.blockDuration, m.envelopes, m.mailboxDepth, m.dropped)
	return m
}

func (m *metrics) observeBlock(chain string, d time.Duration, depth int) {
	m.blocks.WithLabelValues(chain).Inc()
	m.blockDuration.WithLabelValues(chain).Observe(d.Seconds())
	m.mailboxDepth.WithLabelValues(chain).Set(float64(depth))
}

func (m *metrics) observeEnvelope(chain string, kind EnvelopeKind, err error) {
	res := "ok"
	if err != nil {
		res = "rejected"
	}
	m.envelopes.WithLabelValues(chain, kind.String(), res).Inc()
}
