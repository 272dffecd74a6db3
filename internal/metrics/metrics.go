// Package metrics provides Prometheus instrumentation for the pool engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ActionsTotal counts pool actions by type and outcome ("ok" or the
	// error class).
	ActionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_hyperdrive_actions_total",
		Help: "Total number of pool actions executed",
	}, []string{"action", "outcome"})

	ActionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_hyperdrive_action_latency_seconds",
		Help:    "Pool action latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"action"})

	// FeesPaid accumulates trader fees in base, governance share included.
	FeesPaid = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_hyperdrive_fees_paid_total",
		Help: "Cumulative trading fees paid in base",
	}, []string{"pool_id"})

	GovFeesAccrued = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atmx_hyperdrive_gov_fees_accrued",
		Help: "Governance fees accrued by the pool",
	}, []string{"pool_id"})

	FixedAPR = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "atmx_hyperdrive_fixed_apr",
		Help: "Fixed rate implied by the pool reserves",
	}, []string{"pool_id"})

	// ActivePools tracks the number of live pools.
	ActivePools = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_hyperdrive_active_pools",
		Help: "Number of live pools",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "atmx_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atmx_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})

	// ExposureRejections counts trades rejected by the exposure limiter.
	ExposureRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "atmx_hyperdrive_exposure_rejections_total",
		Help: "Trades rejected by the exposure limiter",
	}, []string{"reason"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// The chi route pattern keeps pool IDs out of the label set.
		path := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
