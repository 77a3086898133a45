package geocache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

const testAddress = "Centro, Springfield, SP"

var testStart = time.Date(2024, time.May, 3, 12, 0, 0, 0, time.UTC)

func newTestMemory(clock clockwork.Clock) (*Memory, *observability.Metrics) {
	m := observability.NewMetricsForTesting()
	return NewMemory(domain.DefaultCoordinateTTL, clock, m), m
}

func TestMemory_HitWithinTTL(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	cache, metrics := newTestMemory(clock)
	ctx := context.Background()

	want := domain.GeoCoordinate{Lat: -22.9, Lon: -47.06, CapturedAt: clock.Now()}
	cache.Put(ctx, testAddress, want)

	clock.Advance(7*24*time.Hour - time.Minute)
	got, ok := cache.Get(ctx, testAddress)

	require.True(t, ok)
	assert.Equal(t, want, got)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("memory", "hit")))
}

func TestMemory_ExpiredReadsAsAbsent(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	cache, metrics := newTestMemory(clock)
	ctx := context.Background()

	cache.Put(ctx, testAddress, domain.GeoCoordinate{Lat: 1, Lon: 2, CapturedAt: clock.Now()})
	clock.Advance(7 * 24 * time.Hour)

	_, ok := cache.Get(ctx, testAddress)
	assert.False(t, ok)
	assert.Equal(t, 1, cache.Len(), "expired entries are not deleted")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("memory", "expired")))

	// A fresh put supersedes the expired entry.
	fresh := domain.GeoCoordinate{Lat: 3, Lon: 4, CapturedAt: clock.Now()}
	cache.Put(ctx, testAddress, fresh)
	got, ok := cache.Get(ctx, testAddress)
	require.True(t, ok)
	assert.Equal(t, fresh, got)
}

func TestMemory_Miss(t *testing.T) {
	cache, metrics := newTestMemory(clockwork.NewFakeClockAt(testStart))

	_, ok := cache.Get(context.Background(), "nowhere")
	assert.False(t, ok)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.GeocodeCache.WithLabelValues("memory", "miss")))
}

func TestMemory_PutOverwrites(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	cache, _ := newTestMemory(clock)
	ctx := context.Background()

	cache.Put(ctx, testAddress, domain.GeoCoordinate{Lat: 1, CapturedAt: clock.Now()})
	cache.Put(ctx, testAddress, domain.GeoCoordinate{Lat: 2, CapturedAt: clock.Now()})

	got, ok := cache.Get(ctx, testAddress)
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Lat)
}

func TestMemory_KeysAreNormalized(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	cache, _ := newTestMemory(clock)
	ctx := context.Background()

	cache.Put(ctx, "  Centro,  Springfield, SP ", domain.GeoCoordinate{Lat: 5, CapturedAt: clock.Now()})

	got, ok := cache.Get(ctx, "centro, springfield, sp")
	require.True(t, ok)
	assert.Equal(t, 5.0, got.Lat)
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testStart)
	cache, _ := newTestMemory(clock)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			cache.Put(ctx, fmt.Sprintf("addr-%d", i%5), domain.GeoCoordinate{Lat: float64(i), Lon: float64(i), CapturedAt: clock.Now()})
		}()
		go func() {
			defer wg.Done()
			if c, ok := cache.Get(ctx, fmt.Sprintf("addr-%d", i%5)); ok {
				assert.Equal(t, c.Lat, c.Lon, "observed a partial write")
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, cache.Len())
	assert.Equal(t, 5.0, testutil.ToFloat64(cache.metrics.GeocodeCacheEntries))
}

func TestKey(t *testing.T) {
	assert.Equal(t, "centro, springfield, sp", Key("Centro,   Springfield, SP"))
	assert.Equal(t, "", Key("   "))
}
