package cache

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes cache hit, miss, and eviction counters. A nil *Metrics is
// valid and records nothing, so the cache works unchanged without
// instrumentation.
type Metrics struct {
	hits      prometheus.Counter
	misses    prometheus.Counter
	evictions prometheus.Counter
}

// NewMetrics builds and registers cache collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Repository cache hits.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Repository cache misses.",
		}),
		evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "cache",
			Name:      "evictions_total",
			Help:      "Repository cache evictions.",
		}),
	}
	reg.MustRegister(m.hits, m.misses, m.evictions)
	return m
}

func (m *Metrics) hit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *Metrics) miss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *Metrics) evicted() {
	if m != nil {
		m.evictions.Inc()
	}
}
