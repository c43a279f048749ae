// Package app wires up and runs the application services.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/pvemon/gpumon-web/internal/config"
	"github.com/pvemon/gpumon-web/internal/container"
	"github.com/pvemon/gpumon-web/internal/httpserver"
	"github.com/pvemon/gpumon-web/internal/render"
	"github.com/pvemon/gpumon-web/internal/snapshot"
	"github.com/pvemon/gpumon-web/internal/telemetry"
)

const (
	shutdownTimeout = 10 * time.Second
	selfCheckBudget = 30 * time.Second
)

// Run bootstraps the application lifecycle.
func Run(ctx context.Context, baseLogger *slog.Logger, cfg config.Config) error {
	appLogger := baseLogger.With("component", "app")

	source, err := telemetry.NewNvitopSource(
		cfg.Telemetry.PythonPath,
		cfg.Telemetry.Timeout,
		baseLogger.With("component", "telemetry"),
	)
	if err != nil {
		return fmt.Errorf("init telemetry source: %w", err)
	}

	checkCtx, checkCancel := context.WithTimeout(ctx, selfCheckBudget)
	err = source.Check(checkCtx)
	checkCancel()
	if err != nil {
		return fmt.Errorf("telemetry self-check: %w", err)
	}
	appLogger.Info("telemetry self-check passed", "python", cfg.Telemetry.PythonPath)

	resolver, err := container.NewResolver(cfg.Container, baseLogger.With("component", "container"))
	if err != nil {
		return fmt.Errorf("init container resolver: %w", err)
	}
	defer func() {
		if err := resolver.Close(); err != nil {
			appLogger.Warn("resolver close", "err", err)
		}
	}()

	builder := snapshot.NewBuilder(source, resolver, baseLogger.With("component", "snapshot"))

	cache, err := snapshot.NewCache(builder, cfg.RefreshInterval, baseLogger.With("component", "cache"))
	if err != nil {
		return fmt.Errorf("init snapshot cache: %w", err)
	}

	renderer, err := render.New()
	if err != nil {
		return fmt.Errorf("init renderer: %w", err)
	}

	srv := httpserver.New(cfg, baseLogger.With("component", "http"), cache, renderer)

	appLogger.Info("starting HTTP server", "listen_addr", cfg.ListenAddr)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		appLogger.Info("shutdown initiated", "reason", ctx.Err())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("http shutdown: %w", err)
		}

		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		appLogger.Info("shutdown complete")
		return nil
	}
}
