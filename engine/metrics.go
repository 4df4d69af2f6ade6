package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the handler metrics shared by every application on a node.
// A nil *Metrics records nothing.
type Metrics struct {
	handled  *prometheus.CounterVec
	duration *prometheus.HistogramVec
	sent     *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		handled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microswap",
			Subsystem: "handler",
			Name:      "handled_total",
			Help:      "Operations and messages handled, by application, kind and result.",
		}, []string{"application", "kind", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "microswap",
			Subsystem: "handler",
			Name:      "duration_seconds",
			Help:      "Handler execution time.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"application", "kind"}),
		sent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microswap",
			Subsystem: "handler",
			Name:      "messages_sent_total",
			Help:      "Outbound messages drained from handler outcomes.",
		}, []string{"application"}),
	}
	reg.MustRegister(m.handled, m.duration, m.sent)
	return m
}

func (m *Metrics) observeHandled(application, kind string, err error) {
	if m == nil {
		return
	}
	m.handled.WithLabelValues(application, kind, resultLabel(err)).Inc()
}

func (m *Metrics) observeDuration(application, kind string, d time.Duration) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(application, kind).Observe(d.Seconds())
}

func (m *Metrics) observeSent(application string) {
	if m == nil {
		return
	}
	m.sent.WithLabelValues(application).Inc()
}
