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

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Business metrics
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyses_total",
			Help: "Total number of analysis requests by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	visionCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vision_call_duration_seconds",
			Help:    "Vision provider call duration in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"kind"},
	)

	visionCallErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vision_call_errors_total",
			Help: "Total number of failed vision provider calls",
		},
		[]string{"kind", "reason"},
	)

	matchesScored = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matches_scored_total",
			Help: "Total number of knowledge records scored during matching",
		},
		[]string{"tradition"},
	)

	matchScore = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "match_score",
			Help:    "Distribution of reported match scores",
			Buckets: []float64{.5, .6, .7, .8, .9, 1},
		},
		[]string{"tradition"},
	)

	feedbackEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedback_events_total",
			Help: "Total number of feedback events appended",
		},
	)

	snapshotRecomputes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "effectiveness_recomputes_total",
			Help: "Total number of effectiveness snapshot recomputations",
		},
		[]string{"scope"},
	)

	broadcastPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "broadcast_events_published_total",
			Help: "Total number of events published to the broadcast fabric",
		},
	)

	broadcastDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broadcast_events_dropped_total",
			Help: "Total number of events dropped by reason",
		},
		[]string{"reason"},
	)

	broadcastSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "broadcast_subscribers",
			Help: "Number of currently connected subscribers",
		},
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
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Business metric helpers ---

// RecordAnalysis records an analysis request outcome
func RecordAnalysis(kind, outcome string) {
	analysesTotal.WithLabelValues(kind, outcome).Inc()
}

// RecordVisionCall records a vision provider call
func RecordVisionCall(kind string, duration time.Duration) {
	visionCallDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordVisionError records a failed vision provider call
func RecordVisionError(kind, reason string) {
	visionCallErrors.WithLabelValues(kind, reason).Inc()
}

// RecordMatching records a matching pass over one tradition
func RecordMatching(tradition string, scored int) {
	matchesScored.WithLabelValues(tradition).Add(float64(scored))
}

// RecordMatchScore records a reported match score
func RecordMatchScore(tradition string, score float64) {
	matchScore.WithLabelValues(tradition).Observe(score)
}

// RecordFeedbackEvent records a feedback append
func RecordFeedbackEvent() {
	feedbackEventsTotal.Inc()
}

// RecordSnapshotRecompute records an effectiveness recomputation
func RecordSnapshotRecompute(scope string) {
	snapshotRecomputes.WithLabelValues(scope).Inc()
}

// RecordBroadcastPublish records a published broadcast event
func RecordBroadcastPublish() {
	broadcastPublished.Inc()
}

// RecordBroadcastDrop records a dropped broadcast event
func RecordBroadcastDrop(reason string) {
	broadcastDropped.WithLabelValues(reason).Inc()
}

// SetBroadcastSubscribers records the current subscriber count
func SetBroadcastSubscribers(count int) {
	broadcastSubscribers.Set(float64(count))
}
