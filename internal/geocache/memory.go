// Package geocache stores resolved region coordinates so repeated refreshes
// of the same address skip the geocoding API.
//
// Entries are never deleted. An entry older than the TTL reads as absent and
// is overwritten by the next successful geocode. The number of distinct
// addresses is bounded by the number of regions, so the map is left to grow.
package geocache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// Memory is the process-local coordinate cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]domain.GeoCoordinate
	ttl     time.Duration
	clock   clockwork.Clock
	metrics *observability.Metrics
}

// NewMemory creates an empty cache whose entries expire ttl after capture.
func NewMemory(ttl time.Duration, clock clockwork.Clock, metrics *observability.Metrics) *Memory {
	return &Memory{
		entries: make(map[string]domain.GeoCoordinate),
		ttl:     ttl,
		clock:   clock,
		metrics: metrics,
	}
}

// Get returns the coordinate for address if present and not expired.
func (m *Memory) Get(_ context.Context, address string) (domain.GeoCoordinate, bool) {
	m.mu.RLock()
	c, ok := m.entries[Key(address)]
	m.mu.RUnlock()

	switch {
	case !ok:
		m.observe("miss")
		return domain.GeoCoordinate{}, false
	case !c.ValidAt(m.clock.Now(), m.ttl):
		m.observe("expired")
		return domain.GeoCoordinate{}, false
	}
	m.observe("hit")
	return c, true
}

// Put stores c under address, replacing any previous entry.
func (m *Memory) Put(_ context.Context, address string, c domain.GeoCoordinate) {
	m.mu.Lock()
	m.entries[Key(address)] = c
	m.metrics.GeocodeCacheEntries.Set(float64(len(m.entries)))
	m.mu.Unlock()
}

// Len reports the number of stored entries, expired ones included.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

func (m *Memory) observe(result string) {
	m.metrics.GeocodeCache.WithLabelValues("memory", result).Inc()
}

// Key normalizes an address: surrounding and repeated whitespace is
// collapsed and letters are lower-cased.
func Key(address string) string {
	return strings.ToLower(strings.Join(strings.Fields(address), " "))
}
