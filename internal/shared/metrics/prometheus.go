package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// Clinical workflow metrics
	patientsRegistered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patients_registered_total",
			Help: "Total number of registered patients",
		},
		[]string{"source"},
	)

	patientStatusChanged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "patient_status_changed_total",
			Help: "Total number of patient workflow status changes",
		},
		[]string{"from_status", "to_status"},
	)

	vitalsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vitals_recorded_total",
			Help: "Total number of vitals records by resulting triage level",
		},
		[]string{"source", "triage_level"},
	)

	clinicalFilesSigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "clinical_files_signed_total",
			Help: "Total number of clinical files signed off",
		},
	)

	orderTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_transitions_total",
			Help: "Total number of order status transitions",
		},
		[]string{"category", "from_status", "to_status"},
	)

	roundsSigned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "rounds_signed_total",
			Help: "Total number of ward rounds signed off",
		},
	)

	// Advisor metrics
	advisorRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "advisor_requests_total",
			Help: "Total number of advisor calls by outcome",
		},
		[]string{"operation", "outcome"},
	)

	advisorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "advisor_request_duration_seconds",
			Help:    "Advisor call duration in seconds",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"operation"},
	)

	// Audit metrics
	auditEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Total number of audit events appended",
		},
		[]string{"action", "entity"},
	)

	auditForwardFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "audit_forward_failures_total",
			Help: "Total number of audit events a sink failed to accept",
		},
		[]string{"sink"},
	)

	auditForwardDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "audit_forward_dropped_total",
			Help: "Total number of audit events not forwarded because the queue was full",
		},
	)

	// Feed metrics
	feedMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_messages_total",
			Help: "Total number of messages received from external feeds",
		},
		[]string{"feed", "outcome"},
	)

	// Database metrics
	dbQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"operation"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := normalizePath(r.URL.Path)
		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath replaces id-like segments so patient ids do not become label values
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, s := range segments {
		if len(s) == 36 && strings.Count(s, "-") == 4 {
			segments[i] = ":id"
		} else if _, err := strconv.Atoi(s); err == nil && s != "" {
			segments[i] = ":n"
		}
	}
	return strings.Join(segments, "/")
}

// --- Business metric helpers ---

// RecordPatientRegistered records a patient registration
func RecordPatientRegistered(source string) {
	patientsRegistered.WithLabelValues(source).Inc()
}

// RecordPatientStatusChange records a patient status change
func RecordPatientStatusChange(fromStatus, toStatus string) {
	patientStatusChanged.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordVitals records a vitals entry and the triage it produced
func RecordVitals(source, triageLevel string) {
	vitalsRecorded.WithLabelValues(source, triageLevel).Inc()
}

// RecordClinicalFileSigned records a clinical file sign-off
func RecordClinicalFileSigned() {
	clinicalFilesSigned.Inc()
}

// RecordOrderTransition records an order status change
func RecordOrderTransition(category, fromStatus, toStatus string) {
	orderTransitions.WithLabelValues(category, fromStatus, toStatus).Inc()
}

// RecordRoundSigned records a round sign-off
func RecordRoundSigned() {
	roundsSigned.Inc()
}

// RecordAdvisorRequest records an advisor call and its latency
func RecordAdvisorRequest(operation, outcome string, duration time.Duration) {
	advisorRequests.WithLabelValues(operation, outcome).Inc()
	advisorRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuditEvent records an appended audit event
func RecordAuditEvent(action, entity string) {
	auditEventsTotal.WithLabelValues(action, entity).Inc()
}

// RecordAuditForwardFailure records a sink write failure
func RecordAuditForwardFailure(sink string) {
	auditForwardFailures.WithLabelValues(sink).Inc()
}

// RecordAuditForwardDropped records an event dropped by a full forwarding queue
func RecordAuditForwardDropped() {
	auditForwardDropped.Inc()
}

// RecordDBQuery records a database query duration
func RecordDBQuery(operation string, duration time.Duration) {
	dbQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordFeedMessage records one message from an external feed (his, monitor)
func RecordFeedMessage(feed, outcome string) {
	feedMessagesTotal.WithLabelValues(feed, outcome).Inc()
}
