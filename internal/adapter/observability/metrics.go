package observability

import (
	"net/http"
	"strconv"
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
			Help: "Total number of completion requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)
	AIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_request_duration_seconds",
			Help:    "Completion request duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		},
		[]string{"operation"},
	)
	AITokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_tokens_total",
			Help: "Tokens consumed by completion requests",
		},
		[]string{"model", "kind"},
	)

	SessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "interview_sessions_active",
			Help: "Number of live interview sessions",
		},
	)
	SessionsEndedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interview_sessions_ended_total",
			Help: "Interview sessions ended by reason",
		},
		[]string{"reason"},
	)
	InactivityNudgesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "interview_inactivity_nudges_total",
			Help: "Inactivity nudges sent to candidates",
		},
	)
	TransportErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "interview_transport_errors_total",
			Help: "Errors reported by the real-time voice transport",
		},
	)

	FeedbackRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_runs_total",
			Help: "Feedback pipeline runs by final state and failing stage",
		},
		[]string{"state", "stage"},
	)
	FeedbackSourceTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_source_total",
			Help: "Persisted feedback documents by source (generated, partial, defaulted)",
		},
		[]string{"source"},
	)
	FeedbackExtractionStageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedback_extraction_stage_total",
			Help: "JSON extraction stage that recovered the model output",
		},
		[]string{"stage"},
	)
	OverallScoreHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedback_overall_score",
			Help:    "Distribution of overall_score ([1,100])",
			Buckets: []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		},
	)
	FeedbackTasksEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "feedback_tasks_enqueued_total",
			Help: "Feedback tasks published to the queue",
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"name"},
	)
)

var initOnce sync.Once

// InitMetrics registers every collector with the default registry. It is safe to call more than once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			HTTPRequestsTotal,
			HTTPRequestDuration,
			AIRequestsTotal,
			AIRequestDuration,
			AITokensTotal,
			SessionsActive,
			SessionsEndedTotal,
			InactivityNudgesTotal,
			TransportErrorsTotal,
			FeedbackRunsTotal,
			FeedbackSourceTotal,
			FeedbackExtractionStageTotal,
			OverallScoreHistogram,
			FeedbackTasksEnqueuedTotal,
			CircuitBreakerState,
		)
	})
}

// HTTPMetricsMiddleware records Prometheus metrics for each request.
func HTTPMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		var route string
		if rc := chi.RouteContext(r.Context()); rc != nil {
			route = rc.RoutePattern()
		}
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		HTTPRequestsTotal.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
		HTTPRequestDuration.WithLabelValues(route, r.Method).Observe(time.Since(start).Seconds())
	})
}

// ObserveAIRequest records one completion call.
func ObserveAIRequest(operation, outcome string, d time.Duration) {
	AIRequestsTotal.WithLabelValues(operation, outcome).Inc()
	AIRequestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// RecordAITokenUsage adds prompt and completion token counts for model.
func RecordAITokenUsage(model string, prompt, completion int) {
	if prompt > 0 {
		AITokensTotal.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		AITokensTotal.WithLabelValues(model, "completion").Add(float64(completion))
	}
}

func SessionStarted() { SessionsActive.Inc() }

// SessionEnded decrements the live gauge and counts the ending reason.
func SessionEnded(reason string) {
	SessionsActive.Dec()
	SessionsEndedTotal.WithLabelValues(reason).Inc()
}

func InactivityNudged() { InactivityNudgesTotal.Inc() }

func TransportError() { TransportErrorsTotal.Inc() }

// FeedbackRun counts a finished pipeline run; stage is empty on success.
func FeedbackRun(state, stage string) {
	FeedbackRunsTotal.WithLabelValues(state, stage).Inc()
}

// ObserveFeedback records the extraction stage, the document source and,
// when known, the overall score.
func ObserveFeedback(stage, source string, overallScore *float64) {
	FeedbackExtractionStageTotal.WithLabelValues(stage).Inc()
	FeedbackSourceTotal.WithLabelValues(source).Inc()
	if overallScore != nil && *overallScore >= 1 && *overallScore <= 100 {
		OverallScoreHistogram.Observe(*overallScore)
	}
}

func FeedbackTaskEnqueued() { FeedbackTasksEnqueuedTotal.Inc() }

// RecordCircuitBreakerStatus publishes the state of the named breaker.
func RecordCircuitBreakerStatus(name string, state CircuitBreakerStateValue) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}
