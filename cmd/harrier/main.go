// Harrier - Referral abuse detection for invite programs.
// Copyright (c) 2025 opensource.finance
// Licensed under the Apache License 2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opensource-finance/harrier/internal/alert"
	"github.com/opensource-finance/harrier/internal/api"
	"github.com/opensource-finance/harrier/internal/assess"
	"github.com/opensource-finance/harrier/internal/behavior"
	"github.com/opensource-finance/harrier/internal/bus"
	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/config"
	"github.com/opensource-finance/harrier/internal/detector"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/enforcement"
	"github.com/opensource-finance/harrier/internal/notify"
	"github.com/opensource-finance/harrier/internal/review"
	"github.com/opensource-finance/harrier/internal/scheduler"
	"github.com/opensource-finance/harrier/internal/store"
)

// Version information (set via ldflags)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	// Load configuration first so logging honors it
	cfg, err := config.Load(os.Getenv("HARRIER_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	setupLogging(cfg.Logging)

	slog.Info("starting harrier",
		"version", Version,
		"commit", Commit,
		"build_date", BuildDate,
	)
	slog.Info("configuration loaded",
		"store", cfg.Store.Driver,
		"cache", cfg.Cache.Type,
		"eventbus", cfg.EventBus.Type,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	// Initialize Store
	st, err := store.New(cfg.Store)
	if err != nil {
		slog.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	slog.Info("store initialized", "driver", cfg.Store.Driver)

	// Initialize Cache
	cacheImpl, err := cache.New(cfg.Cache)
	if err != nil {
		slog.Error("failed to initialize cache", "error", err)
		os.Exit(1)
	}
	defer cacheImpl.Close()
	slog.Info("cache initialized", "type", cfg.Cache.Type)

	// Initialize EventBus
	busImpl, err := bus.New(cfg.EventBus)
	if err != nil {
		slog.Error("failed to initialize event bus", "error", err)
		os.Exit(1)
	}
	defer busImpl.Close()
	slog.Info("event bus initialized", "type", cfg.EventBus.Type)

	// Notifications ride the bus when one is wired to external consumers;
	// the channel bus has none, so deliveries go to the log instead.
	var notifier domain.Notifier
	if cfg.EventBus.Type == "nats" {
		notifier = notify.NewBusNotifier(busImpl)
	} else {
		notifier = notify.NewLogNotifier()
	}

	// Initialize custom rule detector
	// Rules are configured via POST /rules - no hardcoded defaults.
	rules, err := detector.NewCELRules()
	if err != nil {
		slog.Error("failed to initialize rule detector", "error", err)
		os.Exit(1)
	}

	detectors := []detector.Detector{
		detector.NewIPFrequency(st, cfg.Detector),
		detector.NewFingerprintReuse(st, cfg.Detector),
		detector.NewSelfInvitation(cfg.Detector),
		detector.NewBatchPattern(st, cfg.Detector),
		rules,
	}
	slog.Info("detectors initialized", "count", len(detectors))

	// Initialize workflow services
	alerts := alert.NewManager(st, cacheImpl, busImpl, notifier, cfg.Alerts)
	enforcer := enforcement.NewService(st, busImpl)
	reviews := review.NewManager(st, enforcer, busImpl)
	analyzer := behavior.NewAnalyzer(st, cfg.Behavior)

	// Initialize assessment engine
	engine := assess.NewEngine(st, detectors, analyzer, alerts, reviews, busImpl, cfg.Detector)
	slog.Info("assessment engine initialized", "detector_timeout", cfg.Detector.DetectorTimeout)

	// Start notification scheduler
	sched := scheduler.New(st, notifier, cfg.Scheduler, cfg.Alerts.AdminUserID)
	sched.Start(ctx)

	// Initialize Server
	srv := api.NewServer(cfg.Server, st, engine, alerts, reviews, enforcer, rules, Version)

	// Start Server in goroutine
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("harrier is ready",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
	)

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("shutting down...")

	sched.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	slog.Info("harrier shutdown complete")
}

func setupLogging(cfg domain.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if os.Getenv("HARRIER_DEBUG") == "true" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
