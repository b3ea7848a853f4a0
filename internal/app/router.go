package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/ai-interviewer/internal/adapter/httpserver"
	"github.com/fairyhunter13/ai-interviewer/internal/adapter/observability"
	"github.com/fairyhunter13/ai-interviewer/internal/config"
)

// ParseOrigins splits a comma-separated origin list into a slice, trimming spaces.
// If the input is empty, returns ["*"].
func ParseOrigins(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" || s == "*" {
		return []string{"*"}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// requestTimeout leaves room for one model call on top of the handler work.
func requestTimeout(cfg config.Config) time.Duration {
	d := cfg.AIRequestTimeout + 10*time.Second
	if d < 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(requestTimeout(cfg)))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/v1", func(v1 chi.Router) {
		// Endpoints that call the model or open voice calls are rate limited per IP.
		v1.Group(func(wr chi.Router) {
			wr.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))
			wr.Post("/questions", srv.QuestionsHandler())
			wr.Post("/feedback", srv.FeedbackHandler())
			wr.Post("/interviews/{id}/feedback/retry", srv.RetryFeedbackHandler())
			wr.Post("/sessions", srv.JoinSessionHandler())
			wr.Post("/sessions/{sid}/start", srv.StartSessionHandler())
		})

		v1.Post("/interviews", srv.CreateInterviewHandler())
		v1.Get("/interviews", srv.ListInterviewsHandler())
		v1.Get("/interviews/{id}", srv.GetInterviewHandler())
		v1.Get("/interviews/{id}/candidates", srv.CandidatesHandler())
		v1.Get("/interviews/{id}/feedback", srv.FeedbackRecordHandler())

		v1.Get("/sessions/{sid}", srv.SessionHandler())
		v1.Get("/sessions/{sid}/notifications", srv.NotificationsHandler())
		v1.Post("/sessions/{sid}/stop", srv.StopSessionHandler())
		v1.Post("/sessions/{sid}/mute", srv.MuteSessionHandler())
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	r.Get("/readyz", srv.ReadyzHandler())

	return httpserver.SecurityHeaders(r)
}
