package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/couchcryptid/traffic-incident-ingest/internal/adapter/httpadapter"
	"github.com/couchcryptid/traffic-incident-ingest/internal/observability"
	"github.com/couchcryptid/traffic-incident-ingest/internal/pipeline"
)

const storeWaitTimeout = time.Minute

func newServeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the polling scheduler and the health/metrics server",
		Long: `Polls both sources every POLL_INTERVAL, pings the store every
LIVENESS_INTERVAL and serves /healthz, /readyz and /metrics on HTTP_ADDR.
Exits non-zero when the store fails LIVENESS_MAX_FAILURES pings in a row.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g)
		},
	}
}

func runServe(parent context.Context, g *globals) error {
	cfg, logger := g.cfg, g.logger
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics()
	a, err := newApp(ctx, cfg, logger, metrics, allSources)
	if err != nil {
		return err
	}

	if err := waitForStore(ctx, a.store, logger, storeWaitTimeout); err != nil {
		a.close()
		return err
	}
	if err := a.store.Migrate(ctx); err != nil {
		a.close()
		return err
	}

	sched := pipeline.NewScheduler(pipeline.SchedulerConfig{
		Interval:            cfg.PollInterval,
		CycleTimeout:        cfg.CycleTimeout,
		LivenessInterval:    cfg.LivenessInterval,
		LivenessMaxFailures: cfg.LivenessMaxFailures,
	}, a.store, observability.Component(logger, "scheduler"), metrics, a.runners()...)

	srv := httpadapter.NewServer(cfg.HTTPAddr, sched, nil, observability.Component(logger, "http"))
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	schedDone := make(chan error, 1)
	go func() { schedDone <- sched.Run(ctx) }()

	var runErr error
	select {
	case runErr = <-schedDone:
	case <-ctx.Done():
		logger.Info("shutting down")
		awaitScheduler(schedDone, cfg.ShutdownTimeout, a.closeBrowser, logger)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	a.close()

	if runErr != nil {
		return fmt.Errorf("scheduler stopped: %w", runErr)
	}
	logger.Info("shutdown complete")
	return nil
}

// awaitScheduler waits for the scheduler to return. If it is still inside a
// cycle after timeout, interrupt is called to abort in-flight browser work and
// the wait continues, so the store is never closed under a running cycle.
func awaitScheduler(done <-chan error, timeout time.Duration, interrupt func(), logger *slog.Logger) {
	select {
	case <-done:
		return
	case <-time.After(timeout):
	}
	logger.Warn("scheduler did not stop within shutdown timeout, interrupting cycle")
	interrupt()
	<-done
}
