package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ledgerline/site/internal/auth"
	"github.com/ledgerline/site/internal/config"
)

// Server represents the API server
type Server struct {
	config      config.ServerConfig
	handler     http.Handler
	handlers    *Handlers
	authManager *auth.AuthManager
	server      *http.Server
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	handlers *Handlers,
	authManager *auth.AuthManager,
	health *HealthChecker,
	metricsPath string,
) *Server {
	router := SetupRoutes(handlers, authManager, health, RouteOptions{
		AllowedOrigins: cfg.AllowedOrigins,
		MetricsPath:    metricsPath,
	})

	return &Server{
		config:      cfg,
		handler:     router,
		handlers:    handlers,
		authManager: authManager,
	}
}

// Addr returns the listen address from config.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.config.GetHost(), s.config.Port)
}

// ListenAndServe starts the HTTP server
func (s *Server) ListenAndServe() error {
	s.server = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      2 * time.Minute, // exports of a large keyspace
		IdleTimeout:       120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for testing
func (s *Server) Handler() http.Handler {
	return s.handler
}
