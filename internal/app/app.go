// Package app provides the top-level application lifecycle. It wires all
// dependencies (exchange adapters, journal, caches, archival, notifications)
// and runs the trading loops until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/gabagool/updownbot/internal/config"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires all dependencies, starts every long-running loop, and blocks
// until the context is cancelled or a loop fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("asset_class", a.cfg.Trading.AssetClass),
		slog.Duration("window", a.cfg.Trading.WindowDuration.Duration),
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Exchange credentials and streams come up before any trading loop.
	if err := deps.Gateway.DeriveAPIKey(ctx); err != nil {
		return fmt.Errorf("app: derive api key: %w", err)
	}
	if err := deps.Feed.Connect(ctx); err != nil {
		return fmt.Errorf("app: connect market feed: %w", err)
	}

	_ = deps.Notifier.NotifyAll(ctx, "updownbot started",
		fmt.Sprintf("trading %s %s windows as %s",
			a.cfg.Trading.AssetClass,
			a.cfg.Trading.WindowDuration.Duration,
			deps.Signer.Address().Hex(),
		))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return deps.Gateway.RunUserFeed(gctx) })
	g.Go(func() error { return deps.Monitor.Run(gctx) })
	g.Go(func() error { return deps.Executor.Run(gctx) })
	g.Go(func() error { return deps.Supervisor.Run(gctx) })
	g.Go(func() error { return deps.Lifecycle.Run(gctx) })
	if deps.Archiver != nil {
		g.Go(func() error {
			return deps.Archiver.Run(gctx,
				a.cfg.S3.ArchiveInterval.Duration,
				a.cfg.S3.ArchiveRetention.Duration,
			)
		})
	}

	err = g.Wait()

	_ = deps.Notifier.NotifyAll(context.WithoutCancel(ctx), "updownbot stopped", "shutting down")

	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("app: %w", err)
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe
// to call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
