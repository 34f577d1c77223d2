package pool

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// poolMetrics mirrors the promauto wiring in
// shockwave/pkg/shockwave/buffer_pool_prometheus.go, applied to connection
// counts instead of buffer allocations. Like the teacher's package-level
// vars, these are process-wide singletons: every Cache in the process
// reports into the same series, distinguished by nothing further since a
// process normally runs one outbound pool.
type poolMetrics struct {
	active prometheus.Gauge
	cached prometheus.Gauge
	hits   prometheus.Counter
	misses prometheus.Counter
	purged prometheus.Counter
}

var (
	poolMetricsOnce sync.Once
	sharedMetrics   *poolMetrics
)

func newPoolMetrics() *poolMetrics {
	poolMetricsOnce.Do(func() {
		sharedMetrics = buildPoolMetrics()
	})
	return sharedMetrics
}

func buildPoolMetrics() *poolMetrics {
	return &poolMetrics{
		active: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpsx",
			Subsystem: "pool",
			Name:      "active_connections",
			Help:      "Outbound connections currently checked out or cached.",
		}),
		cached: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpsx",
			Subsystem: "pool",
			Name:      "cached_connections",
			Help:      "Idle outbound connections currently held for reuse.",
		}),
		hits: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "httpsx",
			Subsystem: "pool",
			Name:      "cache_hits_total",
			Help:      "Connect calls satisfied from the idle cache.",
		}),
		misses: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "httpsx",
			Subsystem: "pool",
			Name:      "cache_misses_total",
			Help:      "Connect calls that required a fresh dial.",
		}),
		purged: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: "httpsx",
			Subsystem: "pool",
			Name:      "purged_connections_total",
			Help:      "Idle connections closed by the background purge worker.",
		}),
	}
}
