// perpagg is a real-time market-data aggregator for perpetual-futures venues.
//
// Architecture:
//
//	main.go              — entry point: loads config, starts engine, waits for SIGINT/SIGTERM
//	engine/engine.go     — orchestrator: wires venue feeds → engines → bus/cache, manages lifecycle
//	venue/feed.go        — shared WebSocket transport: dial, heartbeat, reconnect, re-subscribe
//	venue/<name>.go      — per-venue wire protocol (hyperliquid, aster, lighter, avantis)
//	book/engine.go       — per-venue order books: snapshots, deltas, spread, price impact
//	trade/engine.go      — recent-trade rings with rolling window metrics
//	chart/engine.go      — OHLCV candles across seven timeframes from real + synthetic ticks
//	chart/aggregated.go  — cross-venue consolidated candles
//	agg/engine.go        — consolidated book on the 0.01 grid with routing recommendations
//	bus/bus.go           — in-process pub/sub feeding the cache and gateway
//	gateway/gateway.go   — downstream WebSocket fan-out for external subscribers
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"perpagg/internal/config"
	"perpagg/internal/engine"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("MDAGG_CONFIG"); p != "" {
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

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	logger := slog.New(handler)

	eng, err := engine.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to create engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Start(); err != nil {
		logger.Error("failed to start engine", "error", err)
		os.Exit(1)
	}

	logger.Info("market-data aggregator started",
		"symbols", cfg.Symbols,
		"gateway", cfg.Gateway.Enabled,
		"metrics", cfg.Metrics.Enabled,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	eng.Stop()
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
