// Package api exposes the engine over HTTP and WebSocket.
//
// REST endpoints cover order entry and market data queries; /ws upgrades to
// the event stream backed by the sink. Engine errors map to HTTP statuses
// in statusFromError.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"invoicex/internal/config"
	"invoicex/internal/engine"
	"invoicex/internal/sink"
)

// Server runs the HTTP/WebSocket API for the exchange
type Server struct {
	cfg      config.ServerConfig
	handlers *Handlers
	server   *http.Server
	logger   *slog.Logger
}

// NewServer creates a new API server. metricsHandler may be nil, which
// leaves /metrics unregistered.
func NewServer(
	cfg config.ServerConfig,
	eng *engine.Engine,
	snk *sink.Sink,
	metricsHandler http.Handler,
	logger *slog.Logger,
) *Server {
	handlers := NewHandlers(cfg, eng, snk, logger)

	mux := http.NewServeMux()

	// API routes. Mutations and queries draw from separate rate buckets.
	mux.HandleFunc("GET /health", handlers.HandleHealth)
	mux.HandleFunc("POST /api/orders", handlers.limit(handlers.limiter.mutations, handlers.HandleSubmitOrder))
	mux.HandleFunc("POST /api/orders/cancel", handlers.limit(handlers.limiter.mutations, handlers.HandleCancelOrder))
	mux.HandleFunc("POST /api/orders/modify", handlers.limit(handlers.limiter.mutations, handlers.HandleModifyOrder))
	mux.HandleFunc("GET /api/orders", handlers.limit(handlers.limiter.queries, handlers.HandleUserOrders))
	mux.HandleFunc("GET /api/book", handlers.limit(handlers.limiter.queries, handlers.HandleBook))
	mux.HandleFunc("GET /api/trades", handlers.limit(handlers.limiter.queries, handlers.HandleTrades))
	mux.HandleFunc("GET /api/stats", handlers.limit(handlers.limiter.queries, handlers.HandleStats))
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	mux.HandleFunc("/ws", handlers.HandleWebSocket)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		cfg:      cfg,
		handlers: handlers,
		server:   server,
		logger:   logger.With("component", "api-server"),
	}
}

// Start starts the API server. It blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Info("api server starting", "addr", s.server.Addr)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop() error {
	s.logger.Info("stopping api server")

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	return s.server.Shutdown(ctx)
}
