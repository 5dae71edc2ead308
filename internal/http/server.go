// Package http serves the admin API: OAuth login, guild configuration,
// the approval queue and usage reporting.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server wraps the HTTP server
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer creates a new HTTP server
func NewServer(handler http.Handler, port string, logger *zap.Logger) *Server {
	httpServer := &http.Server{
		Addr:         ":" + port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("HTTP server configured", zap.String("port", port))

	return &Server{
		httpServer: httpServer,
		logger:     logger,
	}
}

// Serve starts the HTTP server
func (s *Server) Serve() error {
	s.logger.Info("starting HTTP server", zap.String("address", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("failed to serve HTTP: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
