// Package metrics provides Prometheus instrumentation for the market engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TradesPlaced counts trades appended to the ledger, partitioned by direction.
	TradesPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logpool_trades_placed_total",
		Help: "Total number of trades placed",
	}, []string{"direction"})

	// TradesAmended counts in-place trade amendments.
	TradesAmended = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logpool_trades_amended_total",
		Help: "Total number of trades amended",
	})

	// TradesRejected counts place/amend calls rejected before ledger mutation.
	TradesRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logpool_trades_rejected_total",
		Help: "Trades rejected by validation",
	}, []string{"reason"})

	// ReplaysTotal counts full-history replay passes.
	ReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logpool_replays_total",
		Help: "Total number of replay passes",
	})

	// ReplayDuration tracks how long a full replay takes.
	ReplayDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logpool_replay_duration_seconds",
		Help:    "Replay pass duration in seconds",
		Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1},
	})

	// ReplayLedgerSize tracks how many trades each replay folds.
	ReplayLedgerSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "logpool_replay_ledger_size",
		Help:    "Number of trades folded per replay pass",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	// SnapshotSaves counts document saves.
	SnapshotSaves = promauto.NewCounter(prometheus.CounterOpts{
		Name: "logpool_snapshot_saves_total",
		Help: "Total number of market document saves",
	})

	// SnapshotLoads counts document loads, partitioned by outcome
	// ("ok", "fresh", "fallback").
	SnapshotLoads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logpool_snapshot_loads_total",
		Help: "Total number of market document loads",
	}, []string{"result"})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "logpool_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "logpool_http_request_duration_seconds",
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

		// Use the raw path for the label; the API surface is small enough
		// that cardinality stays bounded.
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
