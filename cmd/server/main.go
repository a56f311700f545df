// InvoiceX — a central limit order book exchange for tokenized invoice
// shares: businesses split outstanding invoices into fractional units and
// investors trade those units against price-time priority books.
//
// Architecture:
//
//	main.go            — entry point: loads config, wires components, waits for SIGINT/SIGTERM
//	engine/            — matching core: per-pair books, stop index, expiry sweep, trade history
//	book/              — price-time priority book sides and the stop trigger index
//	sink/              — channel-scoped event broadcaster with per-channel sequencing
//	stats/             — rolling 24h per-pair trade statistics
//	api/               — REST order entry and market data, /ws event stream
//	journal/           — write-behind record of accepted orders and executed trades
//	metrics/           — Prometheus collectors served on /metrics
//
// Matching discipline:
//
//	Orders match strictly by price then arrival time, and trades always
//	print at the resting order's price. Every submission runs to completion
//	before the next mutation is admitted, so stream subscribers observe
//	one serialized history. Stop orders park in a trigger index and convert
//	to market or limit orders after the trade that crossed their stop price
//	settles.
package main

import (
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"invoicex/internal/api"
	"invoicex/internal/config"
	"invoicex/internal/engine"
	"invoicex/internal/journal"
	"invoicex/internal/metrics"
	"invoicex/internal/sink"
)

func main() {
	// Load config
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("IVX_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Set up logger
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	// Metrics are optional; a nil handler leaves /metrics unregistered
	var collector *metrics.Collector
	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		collector = metrics.New()
		metricsHandler = collector.Handler()
	}

	snk := sink.New(cfg.Stream.QueueSize, logger, collector)

	engOpts := []engine.Option{engine.WithMetrics(collector)}

	var jnl *journal.Journal
	if cfg.Journal.Mode != "off" {
		jnl, err = journal.New(cfg.Journal, logger)
		if err != nil {
			logger.Error("failed to open journal", "error", err)
			os.Exit(1)
		}
		engOpts = append(engOpts, engine.WithJournal(jnl))
	}

	eng := engine.New(cfg.Engine, logger, snk, engOpts...)

	apiServer := api.NewServer(cfg.Server, eng, snk, metricsHandler, logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error("api server failed", "error", err)
		}
	}()

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("invoice exchange started",
		"addr", cfg.Server.Addr,
		"book_depth", cfg.Engine.BookDepth,
		"journal", cfg.Journal.Mode,
		"metrics", cfg.Metrics.Enabled,
	)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	// Stop accepting requests first, then drain the engine so stream
	// subscribers see engine_shutdown before their channels close.
	if err := apiServer.Stop(); err != nil {
		logger.Error("failed to stop api server", "error", err)
	}
	eng.Stop()
	snk.Shutdown()
	if jnl != nil {
		if err := jnl.Close(); err != nil {
			logger.Error("failed to close journal", "error", err)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
