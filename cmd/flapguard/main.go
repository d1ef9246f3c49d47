package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/flapguard/flapguard/internal/alert"
	"github.com/flapguard/flapguard/internal/api"
	"github.com/flapguard/flapguard/internal/config"
	"github.com/flapguard/flapguard/internal/engine"
	"github.com/flapguard/flapguard/internal/event"
	"github.com/flapguard/flapguard/internal/notify"
	"github.com/flapguard/flapguard/internal/probe"
	"github.com/flapguard/flapguard/internal/storage"
	"github.com/flapguard/flapguard/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to config file (empty: defaults + environment)")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	slog.Info("flapguard starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"state_dir", cfg.StateDir,
		"grace_period", cfg.GracePeriod,
		"recovery_threshold", cfg.RecoveryThreshold,
		"rate_limit", cfg.RateLimit,
		"webhooks", len(cfg.Webhooks),
		"probes", len(cfg.Probes),
	)

	dir := storage.Open(cfg.StateDir)
	if err := dir.Init(); err != nil {
		slog.Error("failed to initialise state directory", "dir", cfg.StateDir, "err", err)
		os.Exit(1)
	}

	var sink notify.Sink
	if len(cfg.Webhooks) > 0 {
		targets := make([]notify.Target, 0, len(cfg.Webhooks))
		for _, w := range cfg.Webhooks {
			targets = append(targets, notify.Target{Type: w.Type, URL: w.URL()})
		}
		wh, err := notify.NewWebhook(targets)
		if err != nil {
			slog.Error("failed to build webhook sink", "err", err)
			os.Exit(1)
		}
		sink = wh
	} else {
		slog.Warn("no webhooks configured, alerts will be logged only")
		sink = &notify.Nop{}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store := event.NewStore(dir)
	pipeline := alert.NewPipeline(dir, sink, cfg.RateLimit, cfg.DeliveryTimeout, cfg.RecoveryAlerts)
	eng := engine.New(store, pipeline, cfg.GracePeriod, cfg.RecoveryThreshold, cfg.CriticalEvents)

	// Watch config file for hot-reload (logs only; a grace-period change
	// takes effect on restart).
	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
				slog.Info("config hot-reloaded",
					"grace_period", updated.GracePeriod,
					"webhooks", len(updated.Webhooks),
				)
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	// Sweep loop: promote pending records past their grace period.
	go func() {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats, err := eng.Sweep(ctx)
				if err != nil {
					slog.Warn("sweep failed", "err", err)
					continue
				}
				if stats.Promoted > 0 || stats.Failed > 0 {
					slog.Info("sweep finished",
						"pending", stats.Pending,
						"promoted", stats.Promoted,
						"failed", stats.Failed,
					)
				}
			}
		}
	}()

	// Probe loops: one goroutine per configured endpoint.
	for _, p := range cfg.Probes {
		pr := probe.New(p, eng)
		go pr.Run(ctx, cfg.SweepInterval)
		slog.Info("registered probe", "id", p.ID, "endpoint", p.Endpoint, "rules", len(p.Rules))
	}

	// WebSocket hub streams the live event table to dashboard clients.
	hub := ws.New(store, 5*time.Second)
	go hub.Run(ctx)

	httpMux := http.NewServeMux()
	httpMux.Handle("/api/", api.New(eng))
	httpMux.Handle("/ws/stream", hub)
	httpMux.Handle("/metrics", promhttp.Handler())

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: httpMux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTPPort)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server stopped", "err", err)
		}
	}()

	<-ctx.Done()
	slog.Info("flapguard shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
}
