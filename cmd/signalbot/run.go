package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"futures-signal-engine/config"
	"futures-signal-engine/internal/api"
	"futures-signal-engine/internal/metrics"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run cycles on the tick interval and serve the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}
}

func run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			slog.Info("shutdown signal received", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	params := config.NewParamsHolder(cfg.Strategy.Params())
	var watcher *config.Watcher
	if cfg.ConfigFile != "" {
		watcher, err = config.NewWatcher(cfg.ConfigFile, cfg.Strategy, params)
		if err != nil {
			return err
		}
	}

	sched := a.scheduler(params.Params)

	deps := api.Deps{
		Health:   a.health,
		Position: a.tracker,
		Results:  a.hub.History(),
		Trigger:  sched,
		Stream:   a.hub,
	}
	apiSrv := api.NewServer(cfg.HTTPAddr, deps)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, a.metrics, a.health)

	a.health.StartLivenessChecker(ctx, a.rdb, 15*time.Second)

	slog.Info("signalbot starting",
		"symbol", cfg.Strategy.Symbol,
		"interval", cfg.Strategy.Interval,
		"tick", cfg.TickInterval.String(),
		"dry_run", cfg.DryRun,
		"testnet", cfg.Testnet,
		"lock", a.lock != nil,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(apiSrv.ListenAndServe)
	g.Go(metricsSrv.ListenAndServe)
	if watcher != nil {
		g.Go(func() error { return watcher.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return errors.Join(apiSrv.Shutdown(shutdownCtx), metricsSrv.Shutdown(shutdownCtx))
	})

	err = g.Wait()
	slog.Info("signalbot stopped", "cycles_skipped", sched.Skipped())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
