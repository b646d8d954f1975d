// server is the long-running LoreHub service: the chat surface, the
// maintenance schedulers, and the operational HTTP endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"lorehub/internal/config"
	"lorehub/internal/di"
	"lorehub/internal/logging"
	"lorehub/internal/monitoring"
	"lorehub/internal/scheduler"
)

const shutdownGrace = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}

	logger := logging.WithComponent("server")

	container, err := di.NewContainer(cfg)
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	defer func() {
		if err := container.Shutdown(); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := container.Initialize(ctx); err != nil {
		logger.Error("store initialization failed", "error", err)
		return 1
	}

	if err := container.EnableChat(); err != nil {
		logger.Error("chat surface unavailable", "error", err)
		return 1
	}

	sched := scheduler.FromConfig(cfg.Scheduler, scheduler.Jobs{
		Sync: func(ctx context.Context) error {
			report, err := container.Pipeline.SyncSpaces(ctx, cfg.Wiki.Spaces, false)
			if err != nil {
				return err
			}
			logger.Info("sync completed",
				"new", report.New, "updated", report.Updated,
				"skipped", report.Skipped, "deleted", report.Deleted, "errors", report.Errors)
			return nil
		},
		Quality: func(ctx context.Context) error {
			if _, err := container.Quality.RecomputeAll(ctx); err != nil {
				return err
			}
			_, err := container.Quality.RunDecay(ctx)
			return err
		},
		Lifecycle: func(ctx context.Context) error {
			if _, err := container.Lifecycle.RunArchivalPipeline(ctx); err != nil {
				return err
			}
			_, err := container.Lifecycle.DetectConflicts(ctx)
			return err
		},
	})

	ops := monitoring.NewOpsServer(cfg.Ops, container.Metrics, container.HealthCheckers())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return container.Surface.Run(ctx, container.Orchestrator)
	})
	g.Go(func() error {
		return ops.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return ops.Shutdown(shutdownCtx)
	})

	sched.Start(ctx)
	logger.Info("lorehub is up", "spaces", fmt.Sprintf("%v", cfg.Wiki.Spaces))

	err = g.Wait()
	sched.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("server exited with error", "error", err)
		return 1
	}
	logger.Info("server stopped")
	return 0
}
