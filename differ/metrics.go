package differ

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	diffDuration *prometheus.HistogramVec
	applications *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		diffDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "microswap",
			Subsystem: "differ",
			Name:      "diff_duration_seconds",
			Help:      "Time spent diffing two chain states.",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{}),
		applications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "microswap",
			Subsystem: "differ",
			Name:      "application_diffs_total",
			Help:      "Application diffs produced, by schema.",
		}, []string{"schema"}),
	}
	reg.MustRegister(m.diffDuration, m.applications)
	return m
}
