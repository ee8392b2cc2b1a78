// Package metrics provides Prometheus metrics for the file manager server.
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
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filemanager_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filemanager_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filemanager_auth_attempts_total",
			Help: "Total login attempts",
		},
		[]string{"result"},
	)

	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filemanager_registrations_total",
			Help: "Total registration attempts",
		},
		[]string{"result"},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filemanager_active_sessions",
			Help: "Number of live sessions in the in-memory session store",
		},
	)

	throttleSeconds = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filemanager_throttle_seconds_total",
			Help: "Total time spent in the fixed request throttle",
		},
	)

	// Filesystem metrics
	fsOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filemanager_fs_operations_total",
			Help: "Total filesystem operations",
		},
		[]string{"operation", "result"},
	)

	fsOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filemanager_fs_operation_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	pathEscapesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filemanager_path_escapes_total",
			Help: "Total requests rejected for resolving outside the user root",
		},
	)

	contentBytesSaved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filemanager_content_bytes_saved_total",
			Help: "Total bytes written by save operations",
		},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filemanager_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"query"},
	)

	dbConnectionsOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "filemanager_db_connections_open",
			Help: "Number of open database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordAuthAttempt records a login attempt.
func RecordAuthAttempt(success bool) {
	authAttemptsTotal.WithLabelValues(result(success)).Inc()
}

// RecordRegistration records a registration attempt.
func RecordRegistration(success bool) {
	registrationsTotal.WithLabelValues(result(success)).Inc()
}

// SetActiveSessions sets the number of live sessions.
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// RecordThrottle records time spent in the request throttle.
func RecordThrottle(d time.Duration) {
	throttleSeconds.Add(d.Seconds())
}

// RecordFSOperation records a filesystem operation and its outcome.
func RecordFSOperation(operation string, duration time.Duration, success bool) {
	fsOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
	fsOperationsTotal.WithLabelValues(operation, result(success)).Inc()
}

// RecordPathEscape records a path rejected by confinement.
func RecordPathEscape() {
	pathEscapesTotal.Inc()
}

// RecordContentSaved records bytes written by a save.
func RecordContentSaved(bytes int) {
	contentBytesSaved.Add(float64(bytes))
}

// RecordDBQuery records a database query duration.
func RecordDBQuery(query string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}

// SetDBConnectionsOpen sets the number of open database connections.
func SetDBConnectionsOpen(count int) {
	dbConnectionsOpen.Set(float64(count))
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics. The path
// label is the route pattern, not the raw URL, to keep cardinality bounded.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		RecordHTTPRequest(r.Method, path, rw.statusCode, time.Since(start))
	})
}
