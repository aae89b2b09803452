package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/MrWong99/sflow/internal/app"
	"github.com/MrWong99/sflow/internal/config"
	"github.com/MrWong99/sflow/internal/observe"
)

// shutdownTimeout bounds how long in-flight utterances may finish on exit.
const shutdownTimeout = 15 * time.Second

func newRunCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Register the hotkeys and dictate until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDaemon(cmd.Context(), g)
		},
	}
}

func runDaemon(parent context.Context, g *globals) error {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, path, err := g.loadConfig()
	if err != nil {
		return err
	}

	slog.Info("sflow starting",
		"version", version,
		"config", path,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	if parent == nil {
		parent = context.Background()
	}
	reg := prometheus.NewRegistry()
	shutdownTelemetry, err := observe.InitProvider(parent, observe.ProviderConfig{
		ServiceVersion: version,
		Registerer:     reg,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	// ── Providers ─────────────────────────────────────────────────────────────
	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers,
		app.WithLevelVar(g.level),
		app.WithMetrics(metrics),
		app.WithGatherer(reg),
	)
	if err != nil {
		return err
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(path, func(_, next *config.Config) {
		application.Reload(next)
	})
	if err != nil {
		slog.Warn("config hot reload disabled", "path", path, "err", err)
	} else {
		defer watcher.Stop()
	}

	slog.Info("ready, press the dictate hotkey to start recording",
		"dictate", cfg.Hotkeys.Dictate,
		"translate", cfg.Hotkeys.Translate,
		"cancel", cfg.Hotkeys.Cancel,
	)

	runErr := application.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	slog.Info("goodbye")
	return nil
}
