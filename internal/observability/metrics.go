package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-level gauges conclaved exports on /metrics.
type Metrics struct {
	PendingThreads prometheus.Gauge
}

// NewMetrics registers conclaved's gauges against a private registry (never
// the global default, so multiple Metrics instances in tests don't collide)
// and returns both the gauges and the registry's http.Handler.
func NewMetrics() (*Metrics, http.Handler) {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		PendingThreads: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "conclaved",
			Name:      "threads_with_pending_events",
			Help:      "Number of threads with at least one pending event, as of the last supervisor sweep.",
		}),
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
