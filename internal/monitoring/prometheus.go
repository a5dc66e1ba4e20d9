package monitoring

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "timetracker_jira"

// Sync outcome labels
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// PrometheusMetrics collects HTTP, Jira client and worklog sync metrics
type PrometheusMetrics struct {
	// HTTP metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge
	rateLimitBlocks      *prometheus.CounterVec

	// Jira client metrics
	jiraRequestsTotal   *prometheus.CounterVec
	jiraRequestDuration *prometheus.HistogramVec

	// Worklog sync metrics
	worklogSyncTotal  *prometheus.CounterVec
	syncBatchRuns     *prometheus.CounterVec
	syncBatchEntries  *prometheus.CounterVec
	syncBatchDuration prometheus.Histogram

	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewPrometheusMetrics creates a new metrics collector with its own registry
func NewPrometheusMetrics(logger *slog.Logger) *PrometheusMetrics {
	pm := &PrometheusMetrics{
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}

	pm.initHTTPMetrics()
	pm.initJiraMetrics()
	pm.initSyncMetrics()
	pm.registerMetrics()

	return pm
}

func (pm *PrometheusMetrics) initHTTPMetrics() {
	pm.httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	pm.httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	pm.httpRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)

	pm.rateLimitBlocks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_blocks_total",
			Help:      "Total number of requests blocked by rate limiting",
		},
		[]string{"endpoint"},
	)
}

func (pm *PrometheusMetrics) initJiraMetrics() {
	pm.jiraRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jira_requests_total",
			Help:      "Total number of requests sent to Jira. status_code 0 means no response",
		},
		[]string{"method", "status_code"},
	)

	pm.jiraRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "jira_request_duration_seconds",
			Help:      "Jira request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method"},
	)
}

func (pm *PrometheusMetrics) initSyncMetrics() {
	pm.worklogSyncTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "worklog_sync_total",
			Help:      "Worklog reconciliations by action and result",
		},
		[]string{"action", "result"},
	)

	pm.syncBatchRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_batch_runs_total",
			Help:      "Scheduled batch sync runs by result",
		},
		[]string{"result"},
	)

	pm.syncBatchEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sync_batch_entries_total",
			Help:      "Entries handled by batch sync runs by outcome",
		},
		[]string{"outcome"},
	)

	pm.syncBatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sync_batch_duration_seconds",
			Help:      "Duration of batch sync runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 300},
		},
	)
}

func (pm *PrometheusMetrics) registerMetrics() {
	pm.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),

		pm.httpRequestsTotal,
		pm.httpRequestDuration,
		pm.httpRequestsInFlight,
		pm.rateLimitBlocks,

		pm.jiraRequestsTotal,
		pm.jiraRequestDuration,

		pm.worklogSyncTotal,
		pm.syncBatchRuns,
		pm.syncBatchEntries,
		pm.syncBatchDuration,
	)
}

// Handler serves the registry in the Prometheus exposition format
func (pm *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(pm.registry, promhttp.HandlerOpts{})
}

// RecordHTTPRequest records an HTTP request
func (pm *PrometheusMetrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	pm.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(statusCode)).Inc()
	pm.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordRateLimitBlock records a request rejected by the rate limiter
func (pm *PrometheusMetrics) RecordRateLimitBlock(endpoint string) {
	pm.rateLimitBlocks.WithLabelValues(endpoint).Inc()
}

// RecordJiraRequest implements jira.RequestRecorder
func (pm *PrometheusMetrics) RecordJiraRequest(method string, statusCode int, duration time.Duration) {
	pm.jiraRequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	pm.jiraRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordWorklogSync implements jira.SyncRecorder
func (pm *PrometheusMetrics) RecordWorklogSync(action string, success bool) {
	pm.worklogSyncTotal.WithLabelValues(action, result(success)).Inc()
}

// RecordSyncBatch records one batch run over all credential pairs
func (pm *PrometheusMetrics) RecordSyncBatch(synced, failed int, duration time.Duration, err error) {
	pm.syncBatchRuns.WithLabelValues(result(err == nil)).Inc()
	pm.syncBatchEntries.WithLabelValues("synced").Add(float64(synced))
	pm.syncBatchEntries.WithLabelValues("failed").Add(float64(failed))
	pm.syncBatchDuration.Observe(duration.Seconds())
}

// GetRegistry returns the Prometheus registry
func (pm *PrometheusMetrics) GetRegistry() *prometheus.Registry {
	return pm.registry
}

func result(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFailure
}

// PrometheusMiddleware records request count, latency and in-flight requests.
// endpoint maps a request to a bounded label value.
func PrometheusMiddleware(metrics *PrometheusMetrics, endpoint func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			metrics.httpRequestsInFlight.Inc()
			defer metrics.httpRequestsInFlight.Dec()

			rw := &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
			next.ServeHTTP(rw, r)

			metrics.RecordHTTPRequest(r.Method, endpoint(r), rw.StatusCode, time.Since(start))
		})
	}
}
