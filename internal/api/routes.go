package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/ledgerline/site/internal/auth"
	"github.com/ledgerline/site/internal/pkg/metrics"
)

// RouteOptions holds the router settings that come from configuration.
type RouteOptions struct {
	AllowedOrigins []string
	MetricsPath    string // empty disables /metrics
}

// SetupRoutes configures all routes. Everything under /api/admin sits behind
// the session middleware.
func SetupRoutes(h *Handlers, authManager *auth.AuthManager, health *HealthChecker, opts RouteOptions) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	// CORS - credentials are allowed for the admin session cookie
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health checks (no auth required)
	r.Get("/health", health.HandleHealth)
	r.Get("/health/live", health.HandleLiveness)
	r.Get("/health/ready", health.HandleReadiness)

	if opts.MetricsPath != "" {
		r.Handle(opts.MetricsPath, metrics.Handler())
	}

	// Informational pages
	for _, name := range h.pages.Names() {
		r.Get("/"+name, h.HandlePage(name))
	}

	// Auth routes
	r.Post("/auth/login", authManager.HandleLogin)
	r.Post("/auth/logout", authManager.HandleLogout)
	r.Get("/auth/session", authManager.HandleSession)

	r.Route("/api", func(r chi.Router) {
		r.Post("/waitlist", h.HandleWaitlist)
		r.Post("/newsletter", h.HandleNewsletter)
		r.Post("/chat", h.HandleChat)

		r.Route("/admin", func(r chi.Router) {
			r.Use(authManager.RequireSession)
			r.Post("/export", h.HandleExport)
			r.Get("/export/download", h.HandleDownload)
			r.Get("/signups", h.HandleSignups)
		})
	})

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	return r
}
