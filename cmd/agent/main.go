package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/waypost/waypost/internal/agent"
	"github.com/waypost/waypost/internal/api"
	"github.com/waypost/waypost/internal/config"
	"github.com/waypost/waypost/internal/health"
	"github.com/waypost/waypost/internal/metrics"
	"github.com/waypost/waypost/internal/presence"
	"github.com/waypost/waypost/internal/state"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	boot := flag.Bool("boot", false, "treat this launch as a system boot rather than a process restart")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	runID := uuid.NewString()
	slog.Info("waypost-agent starting", "config", *configPath, "run_id", runID, "boot", *boot)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	slog.Info("config loaded",
		"device_id", cfg.Agent.DeviceID,
		"collector", cfg.Agent.Collector.Endpoint,
		"sensor", cfg.Agent.Sensor.Type,
		"state_path", cfg.Agent.StatePath,
	)

	store, err := state.NewFileStore(cfg.Agent.StatePath)
	if err != nil {
		slog.Error("failed to open state store", "err", err)
		os.Exit(1)
	}

	// Health transitions are written through to the durable store so the
	// status survives restarts, and pushed to WebSocket subscribers. A failed
	// write degrades reporting only — tracking itself keeps running.
	// notifyHealth is assigned once the control handler exists, before any
	// tracking session can run.
	var notifyHealth func()
	tracker := health.New(cfg.Agent.Health.StaleAfter, func(rec health.Record) {
		h := state.Health{Status: string(rec.Status)}
		if !rec.LastSuccessAt.IsZero() {
			h.LastSuccessEpochMS = rec.LastSuccessAt.UnixMilli()
		}
		if err := store.SaveHealth(h); err != nil {
			slog.Warn("health persist failed", "err", err)
		}
		if notifyHealth != nil {
			notifyHealth()
		}
	})
	if prev, err := store.LoadHealth(); err == nil && prev.Status != "" {
		rec := health.Record{Status: health.Status(prev.Status)}
		if prev.LastSuccessEpochMS > 0 {
			rec.LastSuccessAt = time.UnixMilli(prev.LastSuccessEpochMS)
		}
		tracker.Restore(rec)
	}

	met := metrics.New(prometheus.DefaultRegisterer)

	var host presence.Host
	if cfg.Agent.Presence.Path != "" {
		host = presence.NewFileHost(cfg.Agent.Presence.Path, runID)
	}

	ctrl := agent.New(agent.Options{
		Config:       cfg.Agent,
		Store:        store,
		Tracker:      tracker,
		Metrics:      met,
		PresenceHost: host,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Control API + metrics on the loopback listener. The handler must exist
	// before resume so health transitions reach subscribers from the start.
	handler := api.New(ctrl, cfg.Agent.Control.Auth)
	notifyHealth = handler.Hub().Notify
	go handler.Hub().Run(ctx)

	// Resume a session the operator left active, if any. A resume failure is
	// not fatal: the control API can still start tracking explicitly.
	resume := ctrl.OnProcessRestart
	if *boot {
		resume = ctrl.OnSystemBoot
	}
	if err := resume(); err != nil {
		slog.Error("resume failed — waiting for an explicit start", "err", err)
	}

	// Hot-reload: a changed config revision is handed to the controller and
	// takes effect when the next tracking session starts.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			ctrl.ApplyConfig(updated.Agent)
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/api/v1/", handler)
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: cfg.Agent.Control.Addr, Handler: mux}
	go func() {
		slog.Info("control API listening", "addr", cfg.Agent.Control.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			slog.Error("control API stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("waypost-agent shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx) //nolint:errcheck

	// Process exit, not an operator stop: the durable session stays active
	// so the next launch resumes tracking.
	ctrl.Shutdown()
}
