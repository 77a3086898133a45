// Package scheduler periodically refreshes every stored region, one at a
// time, pacing requests so a full run stays within upstream usage policies.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/store"
	"github.com/couchcryptid/flood-risk-service/internal/weather"
)

var (
	// ErrTooSoon is returned by RunOnce when the previous run completed less
	// than MinInterval ago.
	ErrTooSoon = errors.New("minimum interval since last run not reached")
	// ErrAlreadyRunning is returned by RunOnce while another run is in progress.
	ErrAlreadyRunning = errors.New("batch run already in progress")

	errDeleted = errors.New("region deleted during run")
)

// Refresher refreshes a single region in place.
type Refresher interface {
	Refresh(ctx context.Context, r *domain.Region) weather.Outcome
}

// Options configures the batch cadence.
type Options struct {
	Interval    time.Duration // time between scheduled runs
	MinInterval time.Duration // minimum time since the last completed run
	Throttle    time.Duration // pause between consecutive regions
	RunOnStart  bool
}

// DefaultOptions runs hourly, at least 2 minutes apart, pausing 2 minutes between regions.
func DefaultOptions() Options {
	return Options{
		Interval:    time.Hour,
		MinInterval: 2 * time.Minute,
		Throttle:    120 * time.Second,
	}
}

// Report summarizes one batch run.
type Report struct {
	RunID     string
	Started   time.Time
	Finished  time.Time
	Total     int
	Succeeded int
	Failed    int
	// Skipped counts regions not refreshed: deleted while the run was in
	// progress, or left unprocessed because the run was interrupted.
	Skipped     int
	Interrupted bool
}

// Scheduler is the batch scheduler. It is Idle or Running; at most one run
// executes at a time.
type Scheduler struct {
	store     store.RegionStore
	refresher Refresher
	opts      Options
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	running       atomic.Bool
	mu            sync.Mutex
	lastCompleted time.Time
}

// New creates a Scheduler over the given store and refresher.
func New(s store.RegionStore, r Refresher, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	return &Scheduler{
		store:     s,
		refresher: r,
		opts:      opts,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
	}
}

// CheckReadiness returns nil once the region store is reachable.
func (s *Scheduler) CheckReadiness(ctx context.Context) error {
	if err := s.store.Ping(ctx); err != nil {
		return fmt.Errorf("region store unavailable: %w", err)
	}
	return nil
}

// LastCompleted returns the completion time of the last run, zero if none.
func (s *Scheduler) LastCompleted() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCompleted
}

// Run triggers a batch on every tick until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started",
		"interval", s.opts.Interval,
		"min_interval", s.opts.MinInterval,
		"throttle", s.opts.Throttle,
	)

	if s.opts.RunOnStart {
		s.trigger(ctx)
	}

	ticker := s.clock.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.trigger(ctx)
		}
	}
}

func (s *Scheduler) trigger(ctx context.Context) {
	_, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrTooSoon), errors.Is(err, ErrAlreadyRunning):
		s.metrics.BatchRuns.WithLabelValues("skipped").Inc()
		s.logger.Info("batch run skipped", "reason", err)
	case err != nil:
		s.logger.Error("batch run failed", "error", err)
	}
}

// RunOnce executes a single batch: every stored region is refreshed in ID
// order, pausing Throttle between regions. Each region is reloaded right
// before its refresh and only its climate fields are written back, so edits
// and deletions made during a long run are kept. Cancellation stops the run
// before the next region.
func (s *Scheduler) RunOnce(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)
	if last := s.LastCompleted(); !last.IsZero() && s.clock.Since(last) < s.opts.MinInterval {
		return Report{}, ErrTooSoon
	}

	s.metrics.BatchRunning.Set(1)
	defer s.metrics.BatchRunning.Set(0)

	report := Report{RunID: uuid.NewString(), Started: s.clock.Now()}
	log := s.logger.With("run_id", report.RunID)

	regions, err := s.store.List(ctx)
	if err != nil {
		s.metrics.BatchRuns.WithLabelValues("error").Inc()
		return report, fmt.Errorf("list regions: %w", err)
	}
	report.Total = len(regions)
	log.Info("batch run started", "regions", report.Total)

	for i, region := range regions {
		if i > 0 && !s.sleep(ctx, s.opts.Throttle) {
			report.Interrupted = true
			report.Skipped += len(regions) - i
			break
		}
		if ctx.Err() != nil {
			report.Interrupted = true
			report.Skipped += len(regions) - i
			break
		}

		err := s.process(ctx, log, region.ID, i+1, len(regions))
		if errors.Is(err, errDeleted) {
			report.Skipped++
			s.metrics.BatchRegions.WithLabelValues("deleted").Inc()
			log.Info("region deleted during run, skipping", "region_id", region.ID)
			continue
		}
		if err != nil {
			report.Failed++
			s.metrics.BatchRegions.WithLabelValues("failure").Inc()
			continue
		}
		report.Succeeded++
		s.metrics.BatchRegions.WithLabelValues("success").Inc()
	}

	s.complete(log, &report)
	return report, nil
}

func (s *Scheduler) process(ctx context.Context, log *slog.Logger, id int64, n, total int) error {
	region, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return errDeleted
	}
	if err != nil {
		log.Error("load region failed", "region_id", id, "error", err)
		return err
	}

	outcome := s.refresher.Refresh(ctx, region)
	err = s.store.UpdateClimate(ctx, region.ID, region.Climate())
	if errors.Is(err, store.ErrNotFound) {
		return errDeleted
	}
	if err != nil {
		log.Error("save region climate failed",
			"region_id", region.ID,
			"region", region.Name,
			"error", err,
		)
		return err
	}
	log.Info("region refreshed",
		"region_id", region.ID,
		"region", region.Name,
		"progress", fmt.Sprintf("%d/%d", n, total),
		"outcome", outcome.String(),
		"risk_level", region.RiskLevel.String(),
	)
	return nil
}

func (s *Scheduler) complete(log *slog.Logger, report *Report) {
	report.Finished = s.clock.Now()

	s.mu.Lock()
	s.lastCompleted = report.Finished
	s.mu.Unlock()

	s.metrics.BatchDuration.Observe(report.Finished.Sub(report.Started).Seconds())
	s.metrics.BatchLastCompleted.Set(float64(report.Finished.Unix()))

	result := "completed"
	if report.Interrupted {
		result = "interrupted"
	}
	log.Info("batch run finished",
		"result", result,
		"total", report.Total,
		"succeeded", report.Succeeded,
		"failed", report.Failed,
		"skipped", report.Skipped,
	)

	if !report.Interrupted && report.Failed > 0 && report.Succeeded == 0 {
		result = "total_failure"
		observability.Alert(log, "all region updates failed",
			"total", report.Total,
		)
	}
	s.metrics.BatchRuns.WithLabelValues(result).Inc()
}

// sleep waits d on the scheduler clock. It returns false if ctx ends first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	select {
	case <-ctx.Done():
		return false
	case <-s.clock.After(d):
		return true
	}
}
