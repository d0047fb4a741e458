package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/ternarybob/laboro/internal/app"
)

// Server owns the HTTP listener, routes and middleware chain.
type Server struct {
	app     *app.App
	router  *http.ServeMux
	server  *http.Server
	limiter *rate.Limiter
}

// New creates the HTTP server over a wired application.
func New(application *app.App) *Server {
	s := &Server{
		app: application,
	}

	if perMinute := application.Config.API.RateLimitPerMinute; perMinute > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute)
	}

	s.router = s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", application.Config.Server.Host, application.Config.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.withMiddleware(s.router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	s.app.Logger.Info().
		Str("address", s.server.Addr).
		Bool("auth_enabled", s.app.Config.Auth.Secret != "").
		Msg("HTTP server starting")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	s.app.Logger.Info().Msg("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.app.Logger.Info().Msg("HTTP server stopped")
	return nil
}
