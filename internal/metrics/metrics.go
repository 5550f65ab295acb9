// Package metrics provides Prometheus metrics for the file browser server.
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
			Name: "filebrowser_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "filebrowser_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// File operation metrics
	fileOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebrowser_file_operations_total",
			Help: "Total file operations by operation and result",
		},
		[]string{"op", "result"},
	)

	bytesUploaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filebrowser_bytes_uploaded_total",
			Help: "Total bytes written by uploads",
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filebrowser_bytes_downloaded_total",
			Help: "Total bytes sent by downloads",
		},
	)

	integrityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebrowser_integrity_checks_total",
			Help: "Post-transfer integrity checks by result",
		},
		[]string{"result"},
	)

	confinementViolationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filebrowser_confinement_violations_total",
			Help: "Requests rejected for escaping the user root",
		},
	)

	// Auth metrics
	authAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebrowser_auth_attempts_total",
			Help: "Total authentication attempts",
		},
		[]string{"result"},
	)

	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebrowser_registrations_total",
			Help: "User registrations by result",
		},
		[]string{"result"},
	)

	provisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "filebrowser_provisions_total",
			Help: "User root provisioning runs by result",
		},
		[]string{"result"},
	)

	rateLimitHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "filebrowser_rate_limit_hits_total",
			Help: "Total rate limit rejections (429s)",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordFileOperation records the outcome of a core file operation.
func RecordFileOperation(op string, success bool) {
	fileOperationsTotal.WithLabelValues(op, result(success)).Inc()
}

// RecordUpload records bytes written by an upload.
func RecordUpload(bytes int64) {
	bytesUploaded.Add(float64(bytes))
}

// RecordDownload records bytes sent by a download.
func RecordDownload(bytes int64) {
	bytesDownloaded.Add(float64(bytes))
}

// RecordIntegrityCheck records a post-transfer digest comparison.
func RecordIntegrityCheck(match bool) {
	r := "match"
	if !match {
		r = "mismatch"
	}
	integrityChecksTotal.WithLabelValues(r).Inc()
}

// RecordConfinementViolation records a rejected path escape.
func RecordConfinementViolation() {
	confinementViolationsTotal.Inc()
}

// RecordAuthAttempt records an authentication attempt.
func RecordAuthAttempt(success bool) {
	r := "success"
	if !success {
		r = "failure"
	}
	authAttemptsTotal.WithLabelValues(r).Inc()
}

// RecordRegistration records a registration attempt.
func RecordRegistration(success bool) {
	registrationsTotal.WithLabelValues(result(success)).Inc()
}

// RecordProvision records a provisioning run.
func RecordProvision(success bool) {
	provisionsTotal.WithLabelValues(result(success)).Inc()
}

// RecordRateLimitHit records a rate limit rejection.
func RecordRateLimitHit() {
	rateLimitHitsTotal.Inc()
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

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Middleware returns HTTP middleware that records request metrics.
// Paths are left out of the labels: they carry user file names.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		RecordHTTPRequest(r.Method, rw.statusCode, time.Since(start))
	})
}
