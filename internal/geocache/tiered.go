package geocache

import (
	"context"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// Tiered reads the in-memory cache first and falls back to Redis, promoting
// Redis hits into memory. Writes go to both tiers.
type Tiered struct {
	memory *Memory
	shared *Redis
}

// NewTiered combines a memory cache with a Redis store.
func NewTiered(memory *Memory, shared *Redis) *Tiered {
	return &Tiered{memory: memory, shared: shared}
}

func (t *Tiered) Get(ctx context.Context, address string) (domain.GeoCoordinate, bool) {
	if c, ok := t.memory.Get(ctx, address); ok {
		return c, true
	}
	c, ok := t.shared.Get(ctx, address)
	if ok {
		t.memory.Put(ctx, address, c)
	}
	return c, ok
}

func (t *Tiered) Put(ctx context.Context, address string, c domain.GeoCoordinate) {
	t.memory.Put(ctx, address, c)
	t.shared.Put(ctx, address, c)
}
