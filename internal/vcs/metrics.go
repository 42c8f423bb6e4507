package vcs

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts commits, merges, and merge conflicts. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	commits   prometheus.Counter
	merges    prometheus.Counter
	conflicts prometheus.Counter
}

// NewMetrics builds and registers version-control collectors.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "vcs",
			Name:      "commits_total",
			Help:      "Commits written, merge commits included.",
		}),
		merges: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "vcs",
			Name:      "merges_total",
			Help:      "Merges that produced a merge commit.",
		}),
		conflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "arxcore",
			Subsystem: "vcs",
			Name:      "merge_conflicts_total",
			Help:      "Merge attempts aborted by conflicts.",
		}),
	}
	reg.MustRegister(m.commits, m.merges, m.conflicts)
	return m
}

func (m *Metrics) committed() {
	if m != nil {
		m.commits.Inc()
	}
}

func (m *Metrics) merged() {
	if m != nil {
		m.merges.Inc()
	}
}

func (m *Metrics) conflicted() {
	if m != nil {
		m.conflicts.Inc()
	}
}
