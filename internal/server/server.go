// Package server is the read-only HTTP status API of the bot.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/server/handler"
	"github.com/ayenisholah/ordinals-bidding-bot-sub000/internal/server/middleware"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port int
	// APIKey guards every route except the health check. Empty disables
	// authentication.
	APIKey string
	// Limiter caps request throughput across all clients; nil disables it.
	Limiter middleware.Allower
}

// Handlers aggregates the route handlers.
type Handlers struct {
	Health      *handler.HealthHandler
	Status      *handler.StatusHandler
	Collections *handler.CollectionHandler
}

// Server is the status API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer registers the routes and middleware.
func NewServer(cfg Config, h Handlers, logger *slog.Logger) *Server {
	logger = logger.With(slog.String("component", "server"))
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      Routes(cfg, h, logger),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the handler tree. It is exported for tests.
func Routes(cfg Config, h Handlers, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", h.Health.HealthCheck)
	mux.HandleFunc("GET /api/status", h.Status.GetStatus)
	mux.HandleFunc("GET /api/collections", h.Collections.List)
	mux.HandleFunc("GET /api/collections/{symbol}", h.Collections.Get)
	mux.HandleFunc("GET /api/collections/{symbol}/audit", h.Collections.Audit)

	var out http.Handler = mux
	out = middleware.Auth(cfg.APIKey, "/api/health")(out)
	out = middleware.RateLimit(cfg.Limiter)(out)
	out = middleware.Logging(logger)(out)
	return out
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server: listen: %w", err)
	}
	s.logger.InfoContext(ctx, "server starting", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server: serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("server shutting down")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
