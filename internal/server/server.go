// Package server implements the HTTP surface from spec.md §6: file
// upload, owner-scoped report reads, and the supplemental admin queue
// inspection endpoints from SPEC_FULL.md §14. It is a thin *Server
// wrapping *app.App and an http.ServeMux, generalized from a portfolio/
// market REST surface to the transcript-processing one.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/brightloom/transcriptor/internal/app"
	"github.com/brightloom/transcriptor/internal/common"
)

// Server wraps the HTTP server and application reference.
type Server struct {
	app    *app.App
	server *http.Server
	logger *common.Logger
}

// NewServer creates a new HTTP REST API server wired from a.
func NewServer(a *app.App) *Server {
	s := &Server{
		app:    a,
		logger: a.Logger,
	}

	mux := http.NewServeMux()
	s.registerRoutes(mux)

	handler := applyMiddleware(mux, a.Logger)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.Config.Server.Host, a.Config.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler returns the HTTP handler for testing.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the HTTP server (blocking).
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("starting rest api server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
