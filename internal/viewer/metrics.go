package viewer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// fitTotal counts fits by family, graph and result
	fitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellglm_fit_total",
		Help: "Total model fits by family, graph and result",
	}, []string{"family", "graph", "result"})

	// fitDuration tracks compute latency including rate binning
	fitDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "cellglm_fit_duration_seconds",
		Help:    "Model fit duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 14), // 1ms to ~8s
	}, []string{"family"})

	sessionLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellglm_session_loads_total",
		Help: "Session load requests by outcome (loaded, reused, error)",
	}, []string{"outcome"})

	sessionsIndexed = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cellglm_sessions_indexed",
		Help: "Sessions found under the data root",
	})

	httpRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cellglm_http_requests_total",
		Help: "HTTP requests by status code",
	}, []string{"code"})
)

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
