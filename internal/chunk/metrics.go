package chunk

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the chunk table's Prometheus counters/gauges: chunks_total,
// chunks_endangered, chunks_lost, so an operator dashboard can be wired
// without touching the hot path (SPEC_FULL.md §4.1).
type Metrics struct {
	Total      prometheus.Gauge
	Endangered prometheus.Gauge
	Lost       prometheus.Gauge
	Safe       prometheus.Gauge
}

// NewMetrics creates and registers the chunk table gauges against reg. A
// nil registry returns unregistered (but still usable) metrics, handy for
// tests that don't want a shared default registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Total: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lizardfs", Subsystem: "master", Name: "chunks_total",
			Help: "Number of chunks currently tracked by the chunk table.",
		}),
		Endangered: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lizardfs", Subsystem: "master", Name: "chunks_endangered",
			Help: "Number of chunks currently in the Endangered availability state.",
		}),
		Lost: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lizardfs", Subsystem: "master", Name: "chunks_lost",
			Help: "Number of chunks currently in the Lost availability state.",
		}),
		Safe: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lizardfs", Subsystem: "master", Name: "chunks_safe",
			Help: "Number of chunks currently in the Safe availability state.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Total, m.Endangered, m.Lost, m.Safe)
	}
	return m
}

func (m *Metrics) move(from, to Availability) {
	if m == nil {
		return
	}
	m.gaugeFor(from).Dec()
	m.gaugeFor(to).Inc()
}

func (m *Metrics) gaugeFor(a Availability) prometheus.Gauge {
	switch a {
	case Endangered:
		return m.Endangered
	case Lost:
		return m.Lost
	default:
		return m.Safe
	}
}
