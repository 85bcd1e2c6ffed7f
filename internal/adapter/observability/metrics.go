package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"route", "method"},
	)

	AIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_requests_total",
			Help: "Total number of AI requests by provider and operation",
		},
		[]string{"provider", "operation"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "AI request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider", "operation"},
	)

	// RotationEventsTotal mirrors the in-memory rotation sink. Credential ids
	// stay out of the label set.
	RotationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_events_total",
			Help: "Credential rotation events by event name and mode",
		},
		[]string{"event", "mode"},
	)
	RotationOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rotation_outcomes_total",
			Help: "Resolved prompts by source (store, provided, env, secondary_fallback, exhausted)",
		},
		[]string{"source"},
	)

	AssessmentJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assessment_jobs_total",
			Help: "Assessment generation runs by trigger and result",
		},
		[]string{"trigger", "result"},
	)

	QueueMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_messages_total",
			Help: "Queue messages by topic and result (produced, handled, dead_lettered, ...)",
		},
		[]string{"topic", "result"},
	)

	CircuitBreakerStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

var registerOnce sync.Once

// InitMetrics registers the collectors with the default registry. Safe to call more than once.
func InitMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(HTTPRequestsTotal)
		prometheus.MustRegister(HTTPRequestDuration)
		prometheus.MustRegister(AIRequestsTotal)
		prometheus.MustRegister(AIRequestDuration)
		prometheus.MustRegister(RotationEventsTotal)
		prometheus.MustRegister(RotationOutcomesTotal)
		prometheus.MustRegister(AssessmentJobsTotal)
		prometheus.MustRegister(QueueMessagesTotal)
		prometheus.MustRegister(CircuitBreakerStatus)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start).Seconds()
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = r.URL.Path
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, http.StatusText(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(dur)
	})
}

// ObserveAIRequest records one outbound AI call.
func ObserveAIRequest(provider, operation string, started time.Time) {
	AIRequestsTotal.WithLabelValues(provider, operation).Inc()
	AIRequestDuration.WithLabelValues(provider, operation).Observe(time.Since(started).Seconds())
}

// RecordRotationOutcome counts where a resolved reply came from.
func RecordRotationOutcome(source string) {
	RotationOutcomesTotal.WithLabelValues(source).Inc()
}

// RecordAssessmentJob counts one assessment generation run.
func RecordAssessmentJob(trigger, result string) {
	AssessmentJobsTotal.WithLabelValues(trigger, result).Inc()
}

// RecordQueueMessage counts one queue message outcome.
func RecordQueueMessage(topic, result string) {
	QueueMessagesTotal.WithLabelValues(topic, result).Inc()
}

// RecordCircuitBreakerStatus publishes a breaker's state.
func RecordCircuitBreakerStatus(name string, state BreakerState) {
	CircuitBreakerStatus.WithLabelValues(name).Set(float64(state))
}
