// Package server exposes the operator HTTP surface of a running session:
// liveness, a status snapshot, Prometheus metrics, a WebSocket event feed,
// and manual step advancement.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oskarw/simtrader/internal/server/handler"
	"github.com/oskarw/simtrader/internal/server/middleware"
	"github.com/oskarw/simtrader/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Server is the status HTTP + WebSocket API server for a session.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	logger     *slog.Logger
}

// NewServer creates a Server with all routes registered. metricsHandler and
// hub may be nil, in which case their routes are not registered.
func NewServer(cfg Config, session handler.SessionController, metricsHandler http.Handler, hub *ws.Hub, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	health := handler.NewHealthHandler()
	sess := handler.NewSessionHandler(session, logger)

	mux.HandleFunc("GET /api/health", health.HealthCheck)
	mux.HandleFunc("GET /api/status", sess.GetStatus)
	mux.HandleFunc("POST /api/advance", sess.Advance)
	mux.HandleFunc("POST /api/cancel", sess.Cancel)

	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	if hub != nil {
		mux.HandleFunc("GET /api/ws/events", hub.HandleWS)
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      h,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: srv,
		handler:    h,
		logger:     logger,
	}
}

// Handler returns the fully wrapped handler chain.
func (s *Server) Handler() http.Handler { return s.handler }

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
