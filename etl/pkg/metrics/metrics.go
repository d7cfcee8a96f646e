// Package metrics exposes Prometheus instrumentation for the ETL service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "carbonetl_build_info",
			Help: "Build information of the carbonetl service",
		},
		[]string{"version", "commit", "date"},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonetl_runs_total",
			Help: "Total number of transformation runs by terminal status",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "carbonetl_run_duration_seconds",
			Help:    "Wall-clock duration of transformation runs",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	FactRowsProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "carbonetl_fact_rows_processed_total",
			Help: "Total number of source rows turned into fact rows",
		},
	)

	ValidationIssues = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonetl_validation_issues_total",
			Help: "Validation issues found in produced tables, by check type",
		},
		[]string{"check"},
	)

	ProposerRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonetl_proposer_requests_total",
			Help: "Total number of mapping-proposer model calls",
		},
		[]string{"status"},
	)

	ProposerRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "carbonetl_proposer_request_duration_seconds",
			Help:    "Duration of mapping-proposer model calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	ProposerTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonetl_proposer_tokens_total",
			Help: "Tokens consumed by mapping-proposer model calls",
		},
		[]string{"direction"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "carbonetl_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "carbonetl_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// RecordRun records a completed transformation run.
func RecordRun(status string, duration time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(duration.Seconds())
}

// RecordProposerRequest records one mapping-proposer model call.
func RecordProposerRequest(duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	ProposerRequestsTotal.WithLabelValues(status).Inc()
	ProposerRequestDuration.Observe(duration.Seconds())
}

// RecordProposerTokens records token usage of one model call.
func RecordProposerTokens(input, output int64) {
	ProposerTokens.WithLabelValues("input").Add(float64(input))
	ProposerTokens.WithLabelValues("output").Add(float64(output))
}

// statusRecorder captures the response status for request metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// HTTPMiddleware instruments handlers with request count and duration.
func HTTPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		metricsPath := req.URL.Path
		HTTPRequestsTotal.WithLabelValues(req.Method, metricsPath, strconv.Itoa(rec.status)).Inc()
		HTTPRequestDuration.WithLabelValues(req.Method, metricsPath).Observe(time.Since(start).Seconds())
	})
}
