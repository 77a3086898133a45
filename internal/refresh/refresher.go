// Package refresh serializes weather refreshes per region and announces
// risk-level transitions.
package refresh

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/weather"
)

// Fetcher updates the climate fields of a region in place.
type Fetcher interface {
	FetchAndApply(ctx context.Context, r *domain.Region) weather.Outcome
}

// Publisher receives risk-level transitions.
type Publisher interface {
	Publish(ctx context.Context, change domain.RiskChange) error
}

// NopPublisher drops every change. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, domain.RiskChange) error { return nil }

// Refresher is the single entry point for refreshing a region, used by both
// the batch scheduler and the HTTP API.
type Refresher struct {
	fetcher   Fetcher
	publisher Publisher
	clock     clockwork.Clock
	logger    *slog.Logger
	metrics   *observability.Metrics

	// base bounds background refreshes to the service lifetime.
	base    context.Context
	timeout time.Duration

	locks keyedMutex
	wg    sync.WaitGroup
}

// New creates a Refresher. Background refreshes started with RefreshAsync
// derive their context from base and are cut off after timeout.
func New(
	base context.Context,
	fetcher Fetcher,
	publisher Publisher,
	timeout time.Duration,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Refresher {
	if publisher == nil {
		publisher = NopPublisher{}
	}
	return &Refresher{
		fetcher:   fetcher,
		publisher: publisher,
		clock:     clock,
		logger:    logger,
		metrics:   metrics,
		base:      base,
		timeout:   timeout,
		locks:     keyedMutex{entries: make(map[any]*lockEntry)},
	}
}

// Refresh fetches fresh climate data for region. Concurrent refreshes of the
// same region run one after another; the region is always classified on return.
func (r *Refresher) Refresh(ctx context.Context, region *domain.Region) weather.Outcome {
	unlock := r.locks.Lock(lockKey(region))
	defer unlock()

	previous := region.RiskLevel
	outcome := r.fetcher.FetchAndApply(ctx, region)

	if region.RiskLevel != previous {
		r.announce(ctx, region, previous)
	}
	return outcome
}

// RefreshAsync refreshes region on a background goroutine and then calls
// onDone with the refreshed region. The caller must not touch region until
// onDone runs.
func (r *Refresher) RefreshAsync(region *domain.Region, onDone func(ctx context.Context, region *domain.Region)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(r.base, r.timeout)
		defer cancel()

		outcome := r.Refresh(ctx, region)
		r.logger.Debug("background refresh finished",
			"region_id", region.ID,
			"outcome", outcome.String(),
		)
		if onDone != nil {
			// The refresh may have consumed the deadline; persisting should not fail because of it.
			doneCtx, doneCancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
			defer doneCancel()
			onDone(doneCtx, region)
		}
	}()
}

// Wait blocks until all background refreshes have finished.
func (r *Refresher) Wait() {
	r.wg.Wait()
}

func (r *Refresher) announce(ctx context.Context, region *domain.Region, previous domain.RiskLevel) {
	change := domain.RiskChange{
		ID:         uuid.NewString(),
		RegionID:   region.ID,
		RegionName: region.Name,
		Previous:   previous,
		Current:    region.RiskLevel,
		IsRiskArea: region.IsRiskArea,
		ChangedAt:  r.clock.Now(),
	}
	if region.RainLevel != nil {
		change.RainLevel = *region.RainLevel
	}
	if region.Temperature != nil {
		change.Temperature = *region.Temperature
	}

	r.metrics.RiskChanges.WithLabelValues(region.RiskLevel.String()).Inc()
	r.logger.Info("region risk level changed",
		"region_id", region.ID,
		"previous", previous.String(),
		"current", region.RiskLevel.String(),
	)

	if err := r.publisher.Publish(context.WithoutCancel(ctx), change); err != nil {
		r.logger.Error("publish risk change failed",
			"region_id", region.ID,
			"error", err,
		)
	}
}
