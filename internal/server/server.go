// Package server exposes the backtest service over HTTP and WebSocket.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/marginsim/internal/domain"
	"github.com/alanyoungcy/marginsim/internal/server/handler"
	"github.com/alanyoungcy/marginsim/internal/server/middleware"
	"github.com/alanyoungcy/marginsim/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
	APIKey      string // empty disables authentication
	RateLimit   int    // run submissions per window and client; 0 disables
	RateWindow  time.Duration
}

// Handlers aggregates the HTTP handlers the server registers.
type Handlers struct {
	Health *handler.HealthHandler
	Runs   *handler.RunHandler
}

// Options carries the optional collaborators of a Server.
type Options struct {
	Hub     *ws.Hub
	Metrics http.Handler
	Limiter domain.RateLimiter
}

// Server is the HTTP and WebSocket API.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers every route and wraps the mux in CORS and request
// logging. Only the run endpoints require the API key.
func NewServer(cfg Config, handlers Handlers, opts Options, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}
	if opts.Hub != nil {
		mux.HandleFunc("GET /ws", opts.Hub.HandleWS)
	}

	auth := middleware.Auth(cfg.APIKey)
	create := http.Handler(http.HandlerFunc(handlers.Runs.Create))
	if opts.Limiter != nil && cfg.RateLimit > 0 {
		create = middleware.RateLimit(opts.Limiter, "runs", cfg.RateLimit, cfg.RateWindow, logger)(create)
	}
	mux.Handle("POST /api/runs", auth(create))
	mux.Handle("GET /api/runs", auth(http.HandlerFunc(handlers.Runs.List)))
	mux.Handle("GET /api/runs/{id}", auth(http.HandlerFunc(handlers.Runs.Get)))
	mux.Handle("GET /api/runs/{id}/trades", auth(http.HandlerFunc(handlers.Runs.Trades)))
	mux.Handle("GET /api/runs/{id}/equity", auth(http.HandlerFunc(handlers.Runs.Equity)))
	mux.Handle("DELETE /api/runs/{id}", auth(http.HandlerFunc(handlers.Runs.Stop)))

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start listens until the server fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting", slog.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
