// Package metrics provides Prometheus instrumentation for the market core.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SettlementsTotal counts settled orders, partitioned by commodity kind.
	SettlementsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_settlements_total",
		Help: "Total number of settled orders",
	}, []string{"kind"})

	// SettledVolume tracks cumulative settled amount per market.
	SettledVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_settled_volume_total",
		Help: "Cumulative settled amount in commodity units",
	}, []string{"market"})

	// SettlementAborts counts settlement attempts stopped early, by cause.
	SettlementAborts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_settlement_aborts_total",
		Help: "Settlement attempts terminated before the fulfillment set was exhausted",
	}, []string{"cause"})

	// OpenOrders tracks the number of live orders per market.
	OpenOrders = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ce_open_orders",
		Help: "Number of live selling offers",
	}, []string{"market"})

	// OptimizerTerminations counts demand optimizations by path and cause.
	OptimizerTerminations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_optimizer_terminations_total",
		Help: "Demand optimizer terminations",
	}, []string{"path", "cause"})

	// OptimizerLatency tracks optimizer runtime by path.
	OptimizerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ce_optimizer_latency_seconds",
		Help:    "Demand optimizer runtime in seconds",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0},
	}, []string{"path"})

	// InvariantViolations counts failed invariant checks. Any non-zero value
	// is a defect.
	InvariantViolations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_invariant_violations_total",
		Help: "Violated matching or price decomposition invariants",
	}, []string{"check"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ce_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ce_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ce_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		path := r.URL.Path
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
