package inbound

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// inboundMetrics mirrors internal/pool's promauto wiring, itself grounded on
// shockwave/pkg/shockwave/buffer_pool_prometheus.go, applied here to the
// inbound connection count and derived keepalive timeout instead of pool
// occupancy. A process normally runs one Limiter, so a shared singleton
// avoids the duplicate-registration panic multiple New() calls would
// otherwise trigger.
type inboundMetrics struct {
	active           prometheus.Gauge
	keepaliveSeconds prometheus.Gauge
}

var (
	inboundMetricsOnce   sync.Once
	sharedInboundMetrics *inboundMetrics
)

func newInboundMetrics() *inboundMetrics {
	inboundMetricsOnce.Do(func() {
		sharedInboundMetrics = buildInboundMetrics()
	})
	return sharedInboundMetrics
}

func buildInboundMetrics() *inboundMetrics {
	return &inboundMetrics{
		active: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpsx",
			Subsystem: "inbound",
			Name:      "active_connections",
			Help:      "Inbound connections currently admitted by the limiter.",
		}),
		keepaliveSeconds: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "httpsx",
			Subsystem: "inbound",
			Name:      "keepalive_timeout_seconds",
			Help:      "Most recently computed idle keepalive timeout.",
		}),
	}
}
