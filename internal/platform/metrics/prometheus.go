package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caregap_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caregap_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "caregap_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Record exchange metrics
	fhirRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caregap_fhir_requests_total",
			Help: "Total number of requests sent to the FHIR server",
		},
		[]string{"operation", "resource_type", "status"},
	)

	fhirRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "caregap_fhir_request_duration_seconds",
			Help:    "FHIR request duration in seconds",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	fetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caregap_fetch_failures_total",
			Help: "Fetches recovered as empty results after a failure",
		},
		[]string{"resource_type"},
	)

	cacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caregap_record_cache_lookups_total",
			Help: "Record cache lookups by result",
		},
		[]string{"result"},
	)

	// Workflow metrics
	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caregap_screening_decisions_total",
			Help: "Screening workflow states derived",
		},
		[]string{"state"},
	)

	submissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caregap_submissions_total",
			Help: "Submission attempts by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	staleResultsDiscarded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "caregap_stale_results_discarded_total",
			Help: "Asynchronous results discarded because the subject changed",
		},
		[]string{"kind"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "caregap_active_sessions",
			Help: "Number of live dashboard sessions",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware records request count and latency. The matched route template
// is used as the path label so ids do not explode cardinality.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			status := c.Response().Status

			httpRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, path).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}

// RecordFHIRRequest records one round trip to the record-exchange server.
func RecordFHIRRequest(operation, resourceType string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	fhirRequestsTotal.WithLabelValues(operation, resourceType, label).Inc()
	fhirRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFetchFailure records a fetch that was recovered as an empty result.
func RecordFetchFailure(resourceType string) {
	fetchFailures.WithLabelValues(resourceType).Inc()
}

// RecordCacheLookup records a record cache hit or miss.
func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordDecision records a derived screening state.
func RecordDecision(state string) {
	decisionsTotal.WithLabelValues(state).Inc()
}

// RecordSubmission records a submission attempt.
func RecordSubmission(kind string, ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	submissionsTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordStaleResult records a result discarded by tag mismatch.
func RecordStaleResult(kind string) {
	staleResultsDiscarded.WithLabelValues(kind).Inc()
}

// RecordActiveSessions records the current session count.
func RecordActiveSessions(count int) {
	activeSessions.Set(float64(count))
}
