// Package weather turns a region into a live climate classification by
// chaining the geocoder and the forecast API behind the resilience guard.
// Every failure path ends in the fallback policy; callers never see errors.
package weather

import (
	"context"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/resilience"
)

// Reason names why a refresh fell back to defaults.
type Reason string

const (
	ReasonCircuitOpen Reason = "circuit_open"
	ReasonRateLimited Reason = "rate_limited"
	ReasonGeocode     Reason = "geocode"
	ReasonForecast    Reason = "forecast"
	ReasonCancelled   Reason = "cancelled"
)

// Outcome describes how a FetchAndApply call ended.
type Outcome struct {
	Live   bool
	Reason Reason // empty when Live
	// Defaulted is true when the fallback wrote default values, false when
	// it preserved earlier climate data.
	Defaulted bool
}

func (o Outcome) String() string {
	if o.Live {
		return "live"
	}
	return "fallback:" + string(o.Reason)
}

// Cache is the coordinate cache consulted before geocoding.
type Cache interface {
	Get(ctx context.Context, address string) (domain.GeoCoordinate, bool)
	Put(ctx context.Context, address string, c domain.GeoCoordinate)
}

// Client is the weather ingestion client. It is safe for concurrent use;
// serialization per region is the caller's responsibility.
type Client struct {
	geocoder   domain.Geocoder
	forecaster domain.Forecaster
	cache      Cache
	guard      *resilience.Guard
	clock      clockwork.Clock
	logger     *slog.Logger
	metrics    *observability.Metrics
}

// NewClient wires a Client. All collaborators are required.
func NewClient(
	geocoder domain.Geocoder,
	forecaster domain.Forecaster,
	cache Cache,
	guard *resilience.Guard,
	clock clockwork.Clock,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Client {
	return &Client{
		geocoder:   geocoder,
		forecaster: forecaster,
		cache:      cache,
		guard:      guard,
		clock:      clock,
		logger:     logger,
		metrics:    metrics,
	}
}

// FetchAndApply refreshes the climate fields of r. On return r is always
// classified: either from live data or through ApplyDefaults.
func (c *Client) FetchAndApply(ctx context.Context, r *domain.Region) Outcome {
	log := c.logger.With("region_id", r.ID, "region", r.Name)

	if c.guard.ShouldFallback() {
		state := c.guard.Snapshot()
		return c.fallback(log.With("circuit_failures", state.Failures, "last_failure", state.LastFailure), r, ReasonCircuitOpen, nil)
	}
	if !c.guard.TryAcquire() {
		return c.fallback(log, r, ReasonRateLimited, nil)
	}

	address := r.Address()
	coord, err := c.resolve(ctx, address)
	if err != nil {
		return c.fallback(log.With("address", address), r, c.failureReason(ctx, ReasonGeocode), err)
	}

	sample, err := c.forecaster.Forecast(ctx, coord.Lat, coord.Lon)
	if err != nil {
		if ctx.Err() == nil {
			c.guard.RecordFailure()
		}
		return c.fallback(log, r, c.failureReason(ctx, ReasonForecast), err)
	}
	c.guard.RecordSuccess()

	classification := domain.Classify(sample)
	r.ApplyClimate(sample.Temperature, classification, c.clock.Now())

	c.metrics.Refreshes.WithLabelValues("live").Inc()
	log.Debug("region climate updated",
		"rain_score", classification.RainScore,
		"risk_level", classification.Level.String(),
		"temperature", sample.Temperature,
	)
	return Outcome{Live: true}
}

// resolve returns a cached coordinate or geocodes the address, feeding the
// circuit breaker with the result of the lookup.
func (c *Client) resolve(ctx context.Context, address string) (domain.GeoCoordinate, error) {
	if coord, ok := c.cache.Get(ctx, address); ok {
		return coord, nil
	}

	coord, err := c.geocoder.Search(ctx, address)
	if err != nil {
		if ctx.Err() == nil {
			c.guard.RecordFailure()
		}
		return domain.GeoCoordinate{}, err
	}
	c.guard.RecordSuccess()
	c.cache.Put(ctx, address, coord)
	return coord, nil
}

func (c *Client) failureReason(ctx context.Context, stage Reason) Reason {
	if ctx.Err() != nil {
		return ReasonCancelled
	}
	return stage
}

func (c *Client) fallback(log *slog.Logger, r *domain.Region, reason Reason, err error) Outcome {
	defaulted := r.ApplyDefaults(c.clock.Now())

	c.metrics.Refreshes.WithLabelValues("fallback").Inc()
	c.metrics.Fallbacks.WithLabelValues(string(reason)).Inc()

	args := []any{"reason", string(reason), "defaults_applied", defaulted}
	if err != nil {
		args = append(args, "error", err)
	}
	switch reason {
	case ReasonRateLimited, ReasonCancelled:
		log.Debug("weather refresh skipped", args...)
	default:
		log.Warn("weather refresh fell back", args...)
	}
	return Outcome{Reason: reason, Defaulted: defaulted}
}
