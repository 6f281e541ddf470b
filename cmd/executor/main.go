// Box-arb executor — drives the kill-switch liquidator, the pre-close
// safety unwind, and the BTC-tick volatility exit machine against live
// Polymarket and Kalshi venue adapters. This binary does not construct
// the internal/executor orchestrator or the unwinder it calls; no
// opportunity is executed from here.
//
// Architecture:
//
//	main.go             — entry point: loads config, wires components, signal shutdown
//	coordinator.go      — minimal MarketDataCoordinator: rollover clock + mapping tracking
//	internal/state      — execution-state singleton + position tracker
//	internal/executor    — two-phase commit orchestrator (Leg A Polymarket, Leg B Kalshi)
//	internal/unwinder    — ladder-then-market unwind for a stranded leg
//	internal/liquidator  — kill-switch-driven forced liquidation
//	internal/preclose    — pre-close safety unwind timer
//	internal/volatility  — BTC-tick-driven exit state machine
//	internal/venue/...   — Polymarket and Kalshi adapters
//	internal/journal     — append-only execution/unwind/settlement audit log
//	internal/metrics     — prometheus counters/gauges/histograms
//
// Opportunity discovery, interval mapping resolution, and quote
// normalization are out of scope for this binary (see
// internal/venue.MarketDataCoordinator) — an external process is expected
// to drive coordinator.SetMapping as intervals come online.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"polymarket-mm/internal/config"
	"polymarket-mm/internal/journal"
	"polymarket-mm/internal/liquidator"
	"polymarket-mm/internal/metrics"
	"polymarket-mm/internal/preclose"
	"polymarket-mm/internal/state"
	"polymarket-mm/internal/venue/kalshi"
	"polymarket-mm/internal/venue/polymarket"
	"polymarket-mm/internal/volatility"
)

func main() {
	cfgPath := "configs/config.yaml"
	if p := os.Getenv("ARB_CONFIG"); p != "" {
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

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var jrnl *journal.Journal
	if cfg.Journal.DataDir != "" {
		if err := os.MkdirAll(cfg.Journal.DataDir, 0o755); err != nil {
			logger.Error("failed to create journal data dir", "error", err)
			os.Exit(1)
		}
		jrnl, err = journal.Open(filepath.Join(cfg.Journal.DataDir, "journal.jsonl"))
		if err != nil {
			logger.Error("failed to open journal", "error", err)
			os.Exit(1)
		}
		defer jrnl.Close()
		env := "live"
		if cfg.DryRun {
			env = "dry_run"
		}
		if err := jrnl.Log(journal.NewSessionStart(env, cfg.DryRun)); err != nil {
			logger.Warn("failed to log session start", "error", err)
		}
	}

	polyClient, err := polymarket.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to create polymarket client", "error", err)
		os.Exit(1)
	}
	kalshiClient, err := kalshi.New(ctx, *cfg, logger)
	if err != nil {
		logger.Error("failed to create kalshi client", "error", err)
		os.Exit(1)
	}

	st := state.NewManager(cfg.Risk.CooldownAfterFailure)
	positions := state.NewPositionTracker()

	liq := liquidator.New(st, positions, logger)
	pre := preclose.New(st, positions, cfg.PreClose, logger)
	vol := volatility.New(cfg.Volatility, st, positions, logger)

	coord := newCoordinator(polyClient, kalshiClient, logger)
	go coord.runClock(ctx)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		metricsServer = &http.Server{Addr: fmt.Sprintf(":%d", cfg.Metrics.Port), Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server failed", "error", err)
			}
		}()
		logger.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	if cfg.DryRun {
		logger.Warn("DRY-RUN MODE — no real orders will be placed")
	}

	runLoopClients := loopClients{Polymarket: polyClient, Kalshi: kalshiClient}
	go runKillSwitchWatcher(ctx, st, liq, runLoopClients, coord, logger)
	go runPreCloseScheduler(ctx, st, pre, runLoopClients, coord, cfg.PreClose.PreCloseWindow, logger)
	go runVolatilityLoop(ctx, vol, runLoopClients, coord, logger)

	logger.Info("executor started",
		"dry_run", cfg.DryRun,
		"max_notional", cfg.Risk.MaxNotional,
		"max_daily_loss", cfg.Risk.MaxDailyLoss,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	cancel()
	if metricsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to stop metrics server", "error", err)
		}
	}
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
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
