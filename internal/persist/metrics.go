package persist

import "github.com/prometheus/client_golang/prometheus"

// Metrics exposes persistence counters. A nil *Metrics records nothing.
type Metrics struct {
	loads      prometheus.Counter
	saves      prometheus.Counter
	operations prometheus.Counter
	retries    prometheus.Counter
}

// NewMetrics builds and registers persistence collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "persist",
			Name:      "loads_total",
			Help:      "Repository documents read from disk.",
		}),
		saves: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "persist",
			Name:      "saves_total",
			Help:      "Repository documents written to disk.",
		}),
		operations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "persist",
			Name:      "saved_operations_total",
			Help:      "Change operations captured across saves.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "persist",
			Name:      "io_retries_total",
			Help:      "Reads or writes that needed the single retry.",
		}),
	}
	reg.MustRegister(m.loads, m.saves, m.operations, m.retries)
	return m
}

func (m *Metrics) loaded() {
	if m != nil {
		m.loads.Inc()
	}
}

func (m *Metrics) saved(operations int) {
	if m != nil {
		m.saves.Inc()
		m.operations.Add(float64(operations))
	}
}

func (m *Metrics) retried() {
	if m != nil {
		m.retries.Inc()
	}
}
