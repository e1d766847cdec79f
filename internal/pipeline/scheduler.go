package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/traffic-incident-ingest/internal/observability"
)

// ErrLivenessLost is returned by Scheduler.Run after the store failed too many
// consecutive liveness pings.
var ErrLivenessLost = errors.New("store liveness lost")

// Runner runs one ingestion cycle. *Ingester implements it.
type Runner interface {
	Run(ctx context.Context) Result
}

// Pinger reports whether the persistence layer is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerConfig controls polling and liveness checking.
type SchedulerConfig struct {
	Interval            time.Duration
	CycleTimeout        time.Duration
	LivenessInterval    time.Duration
	LivenessMaxFailures int
	// Clock drives the poll and liveness tickers. Nil means the real clock.
	Clock clockwork.Clock
}

// Scheduler polls every runner at a fixed interval and watches store liveness.
// Cycles never overlap: runners execute one after another on the Run goroutine.
type Scheduler struct {
	cfg     SchedulerConfig
	store   Pinger
	runners []Runner
	logger  *slog.Logger
	metrics *observability.Metrics

	ready  atomic.Bool
	halted atomic.Bool
}

// NewScheduler creates a Scheduler for the given runners.
func NewScheduler(cfg SchedulerConfig, store Pinger, logger *slog.Logger, metrics *observability.Metrics, runners ...Runner) *Scheduler {
	if cfg.LivenessMaxFailures < 1 {
		cfg.LivenessMaxFailures = 1
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		cfg:     cfg,
		store:   store,
		runners: runners,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once a cycle has completed and the store answers
// a ping. A halted scheduler is never ready.
func (s *Scheduler) CheckReadiness(ctx context.Context) error {
	if s.halted.Load() {
		return ErrLivenessLost
	}
	if !s.ready.Load() {
		return errors.New("no ingestion cycle has completed yet")
	}
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("ping store: %w", err)
	}
	return nil
}

// Run executes a cycle immediately and then once per interval until ctx is
// cancelled or the store liveness check fails LivenessMaxFailures times in a row.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.cfg.Interval,
		"cycle_timeout", s.cfg.CycleTimeout,
		"liveness_interval", s.cfg.LivenessInterval,
	)
	s.metrics.SchedulerRunning.Set(1)
	defer s.metrics.SchedulerRunning.Set(0)

	s.RunOnce(ctx)
	if ctx.Err() != nil {
		s.logger.Info("scheduler stopping", "reason", ctx.Err())
		return nil
	}

	poll := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer poll.Stop()
	liveness := s.cfg.Clock.NewTicker(s.cfg.LivenessInterval)
	defer liveness.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-poll.Chan():
			s.RunOnce(ctx)
		case <-liveness.Chan():
			if err := s.ping(ctx); err != nil {
				if ctx.Err() != nil {
					continue
				}
				failures++
				s.metrics.LivenessFailures.Inc()
				s.logger.Warn("store liveness check failed",
					"error", err,
					"consecutive_failures", failures,
					"max_failures", s.cfg.LivenessMaxFailures,
				)
				if failures >= s.cfg.LivenessMaxFailures {
					s.halted.Store(true)
					s.logger.Error("halting scheduler", "error", ErrLivenessLost)
					return ErrLivenessLost
				}
				continue
			}
			failures = 0
		}
	}
}

// RunOnce runs every runner serially under a single cycle timeout and marks
// the scheduler ready.
func (s *Scheduler) RunOnce(ctx context.Context) []Result {
	cycleCtx, cancel := context.WithTimeout(ctx, s.cfg.CycleTimeout)
	defer cancel()

	results := make([]Result, 0, len(s.runners))
	for _, r := range s.runners {
		if cycleCtx.Err() != nil {
			s.logger.Warn("cycle deadline reached, skipping remaining sources", "error", cycleCtx.Err())
			break
		}
		results = append(results, r.Run(cycleCtx))
	}
	s.ready.Store(true)
	return results
}

func (s *Scheduler) ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, s.cfg.LivenessInterval)
	defer cancel()
	return s.store.Ping(pingCtx)
}
