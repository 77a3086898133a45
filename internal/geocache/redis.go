package geocache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	redisv9 "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

const redisKeyPrefix = "geocode:"

// Redis is a shared second-level coordinate store. Redis errors are logged
// and read as a miss so an unavailable Redis only costs a geocode call.
type Redis struct {
	client  *redisv9.Client
	ttl     time.Duration
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewRedis wraps a go-redis client.
func NewRedis(client *redisv9.Client, ttl time.Duration, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Redis {
	return &Redis{client: client, ttl: ttl, clock: clock, logger: logger, metrics: metrics}
}

func (r *Redis) Get(ctx context.Context, address string) (domain.GeoCoordinate, bool) {
	data, err := r.client.Get(ctx, redisKeyPrefix+Key(address)).Bytes()
	if err != nil {
		if !errors.Is(err, redisv9.Nil) {
			r.logger.Warn("redis geocode lookup failed", "address", address, "error", err)
		}
		r.observe("miss")
		return domain.GeoCoordinate{}, false
	}

	var c domain.GeoCoordinate
	if err := json.Unmarshal(data, &c); err != nil {
		r.logger.Warn("discarding malformed redis geocode entry", "address", address, "error", err)
		r.observe("miss")
		return domain.GeoCoordinate{}, false
	}
	if !c.ValidAt(r.clock.Now(), r.ttl) {
		r.observe("expired")
		return domain.GeoCoordinate{}, false
	}
	r.observe("hit")
	return c, true
}

// Put stores c with a Redis expiry matching its remaining validity.
func (r *Redis) Put(ctx context.Context, address string, c domain.GeoCoordinate) {
	remaining := c.CapturedAt.Add(r.ttl).Sub(r.clock.Now())
	if remaining <= 0 {
		return
	}
	data, err := json.Marshal(c)
	if err != nil {
		r.logger.Warn("encode geocode entry", "address", address, "error", err)
		return
	}
	if err := r.client.Set(ctx, redisKeyPrefix+Key(address), data, remaining).Err(); err != nil {
		r.logger.Warn("redis geocode store failed", "address", address, "error", err)
	}
}

func (r *Redis) observe(result string) {
	r.metrics.GeocodeCache.WithLabelValues("redis", result).Inc()
}
