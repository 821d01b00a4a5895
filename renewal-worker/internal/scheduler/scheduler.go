// Package scheduler runs the renewal sweep once a day.
package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/toivape/nauction/internal/metrics"
)

// Run results
const (
	resultOK      = "ok"
	resultSkipped = "skipped"
	resultError   = "error"
)

// Sweeper renews expired auctions. *bidding.Service satisfies it.
type Sweeper interface {
	RunRenewalSweep(ctx context.Context) (int64, error)
}

// Config holds the daily schedule
type Config struct {
	Hour       int
	Minute     int
	Location   *time.Location
	RunOnStart bool
	LockKey    string
	LockTTL    time.Duration
}

// Scheduler triggers the sweep at Hour:Minute every day in Location
type Scheduler struct {
	sweeper Sweeper
	locker  Locker // nil runs without a lock
	cfg     Config
	logger  *slog.Logger

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

// New creates a scheduler. locker may be nil for a single worker.
func New(sweeper Sweeper, locker Locker, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		sweeper: sweeper,
		locker:  locker,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
		after:   time.After,
	}
}

// NextRun returns the first hour:minute in loc strictly after now
func NextRun(now time.Time, hour, minute int, loc *time.Location) time.Time {
	local := now.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Run blocks until ctx is done, sweeping once per day
func (s *Scheduler) Run(ctx context.Context) error {
	if s.cfg.RunOnStart {
		s.RunOnce(ctx)
	}

	for {
		now := s.now()
		next := NextRun(now, s.cfg.Hour, s.cfg.Minute, s.cfg.Location)
		s.logger.Info("next renewal run scheduled", "at", next.Format(time.RFC3339))

		select {
		case <-ctx.Done():
			return nil
		case <-s.after(next.Sub(now)):
			s.RunOnce(ctx)
		}
	}
}

// RunOnce runs one sweep under the lock. It reports how many items were
// renewed; a run skipped because another worker holds the lock renews none.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, error) {
	if s.locker != nil {
		unlock, err := s.locker.TryLock(ctx, s.cfg.LockKey, s.cfg.LockTTL)
		if errors.Is(err, ErrLocked) {
			s.logger.Info("renewal run skipped, lock held elsewhere", "key", s.cfg.LockKey)
			metrics.RenewalRuns.WithLabelValues(resultSkipped).Inc()
			return 0, nil
		}
		if err != nil {
			s.logger.Error("renewal run failed to lock", "error", err)
			metrics.RenewalRuns.WithLabelValues(resultError).Inc()
			return 0, err
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("failed to release renewal lock", "error", err)
			}
		}()
	}

	renewed, err := s.sweeper.RunRenewalSweep(ctx)
	if err != nil {
		metrics.RenewalRuns.WithLabelValues(resultError).Inc()
		return 0, err
	}

	metrics.RenewalRuns.WithLabelValues(resultOK).Inc()
	return renewed, nil
}
