package fusebridge

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the Prometheus counters a Bridge updates as it serves
// FUSE operations. Grounded on the teacher's internal/metrics package
// (Prometheus counter/gauge registration pattern), narrowed to the
// handful of counters a read-only bridge can actually produce — no
// write/cache-tier/cost gauges, since those concern collectors the
// teacher's backend exposed that QuantumFS's revision layer does not.
type Metrics struct {
	Lookups   prometheus.Counter
	Opens     prometheus.Counter
	BytesRead prometheus.Counter
	Errors    *prometheus.CounterVec
}

// NewMetrics registers a fresh set of counters against reg. Passing a
// nil registry is not supported — callers that don't want metrics
// should pass a nil *Metrics to New instead.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Lookups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qfs",
			Subsystem: "fuse",
			Name:      "lookups_total",
			Help:      "Number of FUSE lookup calls served.",
		}),
		Opens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qfs",
			Subsystem: "fuse",
			Name:      "opens_total",
			Help:      "Number of FUSE open calls served.",
		}),
		BytesRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "qfs",
			Subsystem: "fuse",
			Name:      "bytes_read_total",
			Help:      "Bytes served through FUSE read calls.",
		}),
		Errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "qfs",
			Subsystem: "fuse",
			Name:      "errors_total",
			Help:      "Number of FUSE operations that failed, by operation.",
		}, []string{"op"}),
	}

	reg.MustRegister(m.Lookups, m.Opens, m.BytesRead, m.Errors)
	return m
}
