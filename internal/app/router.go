// Package app assembles the HTTP router and readiness checks shared by the binaries.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpserver "github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/httpserver"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/adapter/observability"
	"github.com/fairyhunter13/neurowell-ai-gateway/internal/config"
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

// BuildRouter constructs the HTTP handler with all middlewares and routes.
func BuildRouter(cfg config.Config, srv *httpserver.Server) http.Handler {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 75 * time.Second
	}
	perMin := cfg.RateLimitPerMin
	if perMin <= 0 {
		perMin = 30
	}

	r := chi.NewRouter()
	r.Use(httpserver.Recoverer())
	r.Use(httpserver.RequestID())
	r.Use(httpserver.TimeoutMiddleware(timeout))
	r.Use(httpserver.TraceMiddleware)
	r.Use(httpserver.AccessLog())
	r.Use(observability.HTTPMetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   ParseOrigins(cfg.CORSAllowOrigins),
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", httpserver.UserIDHeader, "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", srv.HealthzHandler())
	r.Get("/readyz", srv.ReadyzHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) { promhttp.Handler().ServeHTTP(w, r) })

	// Anonymous chat is limited per client IP.
	r.Group(func(pr chi.Router) {
		pr.Use(httprate.LimitByIP(perMin, time.Minute))
		pr.Post("/chat", srv.ChatHandler())
	})

	// Identified users; the per-user bucket is applied in the handler.
	r.Post("/v1/chat/send", srv.SendMessageHandler())
	r.Get("/v1/chat/history", srv.HistoryHandler())
	r.Get("/v1/assessments/latest", srv.LatestAssessmentHandler())

	r.Group(func(gr chi.Router) {
		gr.Use(httprate.LimitByIP(perMin, time.Minute))
		gr.Use(httpserver.BasicAuth(cfg.AdminUsername, cfg.AdminPassword))
		gr.Post("/v1/score", srv.ScoreHandler())
		gr.Post("/v1/assessments/generate", srv.GenerateAssessmentHandler())
	})

	if cfg.AdminEnabled() {
		r.Group(func(ar chi.Router) {
			ar.Use(httpserver.BasicAuth(cfg.AdminUsername, cfg.AdminPassword))
			srv.MountAdmin(ar)
		})
	}

	return httpserver.SecurityHeaders(r)
}
