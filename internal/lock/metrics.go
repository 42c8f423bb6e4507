package lock

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes lock instrumentation. Collectors are registered on the
// supplied registerer so each process (and each test) owns its registry.
type Metrics struct {
	waitSeconds   prometheus.Histogram
	staleReclaims prometheus.Counter
}

// NewMetrics builds and registers lock collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		waitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "arxcore",
			Subsystem: "lock",
			Name:      "wait_seconds",
			Help:      "Time spent waiting to acquire the exclusive repository lock.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		staleReclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "lock",
			Name:      "stale_reclaims_total",
			Help:      "Number of abandoned lock markers reclaimed.",
		}),
	}
	reg.MustRegister(m.waitSeconds, m.staleReclaims)
	return m
}

func (m *Metrics) observeWait(d time.Duration) {
	m.waitSeconds.Observe(d.Seconds())
}
