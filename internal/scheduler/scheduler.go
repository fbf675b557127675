// Package scheduler drives the lifecycle jobs from a single goroutine.
//
// Each job has its own interval. On every tick the scheduler makes sure it holds a
// live store, runs the due jobs in registration order, classifies their errors and
// sleeps until the next job is due, never longer than MaxSleep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/pauljones0/ticker-monitor/internal/config"
	"github.com/pauljones0/ticker-monitor/internal/models"
	"github.com/pauljones0/ticker-monitor/internal/processor"
)

// Opener establishes a new store connection.
type Opener func(ctx context.Context) (processor.ThreadStore, error)

// Job is one independently timed unit of work.
type Job struct {
	Name string
	// Interval is the wait after a successful run.
	Interval time.Duration
	// FailureCooldown is the wait after a failed run. Zero keeps the normal cadence.
	FailureCooldown time.Duration
	// Schedule, when set, replaces Interval for successful runs.
	Schedule cron.Schedule
	Run      func(ctx context.Context, store processor.ThreadStore) error

	lastRun time.Time
	next    time.Time
}

// LastRun returns the completion time of the latest run, zero if it never ran.
func (j *Job) LastRun() time.Time { return j.lastRun }

func (j *Job) record(finished time.Time, err error) {
	j.lastRun = finished
	switch {
	case err != nil && j.FailureCooldown > 0:
		j.next = finished.Add(j.FailureCooldown)
	case j.Schedule != nil:
		j.next = j.Schedule.Next(finished)
	default:
		j.next = finished.Add(j.Interval)
	}
}

type Scheduler struct {
	open  Opener
	store processor.ThreadStore
	jobs  []*Job

	maxSleep          time.Duration
	rateLimitCooldown time.Duration
	storeRetryDelay   time.Duration

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func New(open Opener, cfg config.ScheduleConfig, jobs ...Job) *Scheduler {
	s := &Scheduler{
		open:              open,
		maxSleep:          cfg.MaxSleep,
		rateLimitCooldown: cfg.RateLimitCooldown,
		storeRetryDelay:   cfg.StoreRetryDelay,
		now:               time.Now,
		sleep:             sleepContext,
	}
	if s.maxSleep <= 0 {
		s.maxSleep = 10 * time.Second
	}
	for i := range jobs {
		j := jobs[i]
		s.jobs = append(s.jobs, &j)
	}
	return s
}

// Jobs returns the registered jobs in run order.
func (s *Scheduler) Jobs() []*Job { return s.jobs }

// DueJobs returns the indexes of the jobs due at now, in run order.
func (s *Scheduler) DueJobs(now time.Time) []int {
	var due []int
	for i, j := range s.jobs {
		if !now.Before(j.next) {
			due = append(due, i)
		}
	}
	return due
}

// NextWake returns how long to sleep from now, clamped to [0, MaxSleep].
func (s *Scheduler) NextWake(now time.Time) time.Duration {
	wait := s.maxSleep
	for _, j := range s.jobs {
		if d := j.next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		return 0
	}
	return wait
}

// Run loops until ctx is cancelled or a job fails with an unclassified error.
// The store is closed on every exit path.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.closeStore()

	for {
		wait, err := s.Tick(ctx)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("Scheduler stopping", "reason", ctx.Err())
				return nil
			}
			return err
		}
		if err := s.sleep(ctx, wait); err != nil {
			slog.Info("Scheduler stopping", "reason", err)
			return nil
		}
	}
}

// Tick performs one loop iteration and returns how long to wait before the next.
func (s *Scheduler) Tick(ctx context.Context) (time.Duration, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	if s.store == nil {
		store, err := s.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return 0, ctx.Err()
			}
			if errors.Is(err, models.ErrStoreUnavailable) {
				slog.Warn("Store connection failed, retrying", "error", err, "delay", s.storeRetryDelay)
				return s.storeRetryDelay, nil
			}
			return 0, fmt.Errorf("open store: %w", err)
		}
		s.store = store
		slog.Info("Store connection established")
	}

	var cooldown time.Duration
	for _, i := range s.DueJobs(s.now()) {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		job := s.jobs[i]

		err := job.Run(ctx, s.store)
		job.record(s.now(), err)
		if err == nil {
			continue
		}

		switch {
		case ctx.Err() != nil:
			return 0, ctx.Err()
		case errors.Is(err, models.ErrStoreUnavailable):
			slog.Warn("Store unavailable, reconnecting", "job", job.Name, "error", err, "delay", s.storeRetryDelay)
			s.closeStore()
			return s.storeRetryDelay, nil
		case errors.Is(err, models.ErrSourceUnavailable):
			slog.Warn("Content source unavailable, cooling down", "job", job.Name, "error", err, "cooldown", s.rateLimitCooldown)
			cooldown = s.rateLimitCooldown
		case errors.Is(err, models.ErrDeliveryFailed):
			slog.Error("Report delivery failed", "job", job.Name, "error", err)
		default:
			slog.Error("Critical error, shutting down", "job", job.Name, "error", err)
			return 0, fmt.Errorf("job %s: %w", job.Name, err)
		}
	}

	if cooldown > 0 {
		return cooldown, nil
	}
	return s.NextWake(s.now()), nil
}

func (s *Scheduler) closeStore() {
	if s.store == nil {
		return
	}
	slog.Info("Closing store connection")
	if err := s.store.Close(); err != nil {
		slog.Warn("Failed to close store", "error", err)
	}
	s.store = nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
