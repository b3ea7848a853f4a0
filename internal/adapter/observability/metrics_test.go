package observability

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestHTTPMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware)
	r.Get("/v1/interviews/{id}", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/v1/interviews/{id}", http.MethodGet, "204"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/interviews/abc", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("/v1/interviews/{id}", http.MethodGet, "204"))
	assert.Equal(t, before+1, after)
}

func TestHTTPMetricsMiddleware_ImplicitOK(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("unmatched", http.MethodGet, "200"))
	mw := HTTPMetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) }))
	mw.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, before+1, testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("unmatched", http.MethodGet, "200")))
}

func TestInitMetrics_Idempotent(t *testing.T) {
	assert.NotPanics(t, func() {
		InitMetrics()
		InitMetrics()
	})
}

func TestDomainMetricHelpers(t *testing.T) {
	startActive := testutil.ToFloat64(SessionsActive)
	SessionStarted()
	SessionEnded("hang_up")
	assert.Equal(t, startActive, testutil.ToFloat64(SessionsActive))

	nudges := testutil.ToFloat64(InactivityNudgesTotal)
	InactivityNudged()
	assert.Equal(t, nudges+1, testutil.ToFloat64(InactivityNudgesTotal))

	tokens := testutil.ToFloat64(AITokensTotal.WithLabelValues("m", "prompt"))
	RecordAITokenUsage("m", 12, 0)
	assert.Equal(t, tokens+12, testutil.ToFloat64(AITokensTotal.WithLabelValues("m", "prompt")))

	defaulted := testutil.ToFloat64(FeedbackSourceTotal.WithLabelValues("defaulted"))
	ObserveFeedback("none", "defaulted", nil)
	assert.Equal(t, defaulted+1, testutil.ToFloat64(FeedbackSourceTotal.WithLabelValues("defaulted")))

	score := 250.0
	assert.NotPanics(t, func() { ObserveFeedback("direct", "generated", &score) })
	ObserveAIRequest("feedback", "ok", 2*time.Second)
	FeedbackRun("completed", "")
	FeedbackTaskEnqueued()
	TransportError()
}
