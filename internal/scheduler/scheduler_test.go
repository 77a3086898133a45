package scheduler_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/scheduler"
	"github.com/couchcryptid/flood-risk-service/internal/store"
	"github.com/couchcryptid/flood-risk-service/internal/weather"
)

// --- mocks ---

type countingRefresher struct {
	calls atomic.Int32
}

func (c *countingRefresher) Refresh(_ context.Context, r *domain.Region) weather.Outcome {
	c.calls.Add(1)
	r.ApplyClimate(21, domain.Classification{RainScore: 30, Level: domain.RiskModerate}, time.Now())
	return weather.Outcome{Live: true}
}

// editingRefresher changes the store while a region is being refreshed,
// the way a concurrent API request would.
type editingRefresher struct {
	countingRefresher
	onRefresh func(r *domain.Region)
}

func (e *editingRefresher) Refresh(ctx context.Context, r *domain.Region) weather.Outcome {
	e.onRefresh(r)
	return e.countingRefresher.Refresh(ctx, r)
}

type brokenStore struct {
	*store.Memory
	writeErr error
	pingErr  error
}

func (b *brokenStore) UpdateClimate(ctx context.Context, id int64, c domain.Climate) error {
	if b.writeErr != nil {
		return b.writeErr
	}
	return b.Memory.UpdateClimate(ctx, id, c)
}

func (b *brokenStore) Ping(context.Context) error { return b.pingErr }

// --- helpers ---

var epoch = time.Date(2024, time.May, 3, 12, 0, 0, 0, time.UTC)

func seededStore(t *testing.T, n int) *store.Memory {
	t.Helper()
	s := store.NewMemory()
	for i := range n {
		require.NoError(t, s.Save(context.Background(), &domain.Region{
			Name:         string(rune('A' + i)),
			State:        "SP",
			City:         "Springfield",
			Neighborhood: "Centro",
		}))
	}
	return s
}

func newScheduler(s store.RegionStore, r scheduler.Refresher, opts scheduler.Options) (*scheduler.Scheduler, *clockwork.FakeClock, *observability.Metrics) {
	clock := clockwork.NewFakeClockAt(epoch)
	metrics := observability.NewMetricsForTesting()
	return scheduler.New(s, r, opts, clock, observability.DiscardLogger(), metrics), clock, metrics
}

func noThrottle() scheduler.Options {
	opts := scheduler.DefaultOptions()
	opts.Throttle = 0
	return opts
}

type result struct {
	report scheduler.Report
	err    error
}

func runAsync(ctx context.Context, s *scheduler.Scheduler) <-chan result {
	ch := make(chan result, 1)
	go func() {
		rep, err := s.RunOnce(ctx)
		ch <- result{rep, err}
	}()
	return ch
}

// --- tests ---

func TestRunOnce_RefreshesAndSavesAllRegions(t *testing.T) {
	st := seededStore(t, 3)
	ref := &countingRefresher{}
	s, _, metrics := newScheduler(st, ref, noThrottle())

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.NotEmpty(t, rep.RunID)
	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 3, rep.Succeeded)
	assert.Zero(t, rep.Failed)
	assert.False(t, rep.Interrupted)
	assert.Equal(t, int32(3), ref.calls.Load())

	regions, err := st.List(context.Background())
	require.NoError(t, err)
	for _, r := range regions {
		assert.Equal(t, domain.RiskModerate, r.RiskLevel)
		require.NotNil(t, r.RainLevel)
	}
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("completed")))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.BatchRegions.WithLabelValues("success")))
	assert.Equal(t, float64(epoch.Unix()), testutil.ToFloat64(metrics.BatchLastCompleted))
}

func TestRunOnce_ThrottlesBetweenRegions(t *testing.T) {
	ref := &countingRefresher{}
	s, clock, _ := newScheduler(seededStore(t, 3), ref, scheduler.DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := runAsync(ctx, s)

	for want := int32(1); want <= 2; want++ {
		require.NoError(t, clock.BlockUntilContext(ctx, 1))
		assert.Equal(t, want, ref.calls.Load(), "next region waits for the throttle")
		clock.Advance(120 * time.Second)
	}

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, 3, res.report.Succeeded)
	assert.Equal(t, 240*time.Second, res.report.Finished.Sub(res.report.Started))
}

func TestRunOnce_SkipsWithinMinInterval(t *testing.T) {
	s, clock, _ := newScheduler(seededStore(t, 1), &countingRefresher{}, noThrottle())
	ctx := context.Background()

	_, err := s.RunOnce(ctx)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = s.RunOnce(ctx)
	assert.ErrorIs(t, err, scheduler.ErrTooSoon)

	clock.Advance(time.Minute)
	_, err = s.RunOnce(ctx)
	assert.NoError(t, err)
}

func TestRunOnce_SkipsWhileRunning(t *testing.T) {
	s, clock, _ := newScheduler(seededStore(t, 2), &countingRefresher{}, scheduler.DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := runAsync(ctx, s)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	_, err := s.RunOnce(ctx)
	assert.ErrorIs(t, err, scheduler.ErrAlreadyRunning)

	clock.Advance(120 * time.Second)
	require.NoError(t, (<-done).err)
}

func TestRunOnce_CancellationLeavesRemainingRegions(t *testing.T) {
	ref := &countingRefresher{}
	s, clock, metrics := newScheduler(seededStore(t, 3), ref, scheduler.DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())

	done := runAsync(ctx, s)
	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	cancel()

	res := <-done
	require.NoError(t, res.err)
	assert.True(t, res.report.Interrupted)
	assert.Equal(t, 1, res.report.Succeeded)
	assert.Equal(t, 2, res.report.Skipped)
	assert.Equal(t, int32(1), ref.calls.Load())
	assert.False(t, s.LastCompleted().IsZero())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("interrupted")))
}

func TestRunOnce_AllFailedRaisesAlert(t *testing.T) {
	st := &brokenStore{Memory: seededStore(t, 2), writeErr: errors.New("disk full")}
	s, _, metrics := newScheduler(st, &countingRefresher{}, noThrottle())

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, rep.Failed)
	assert.Zero(t, rep.Succeeded)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("total_failure")))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.BatchRegions.WithLabelValues("failure")))
}

func TestRunOnce_KeepsEditsAndDeletionsMadeDuringRun(t *testing.T) {
	st := seededStore(t, 3)
	ctx := context.Background()
	ref := &editingRefresher{onRefresh: func(r *domain.Region) {
		if r.ID != 1 {
			return
		}
		edited, err := st.Get(ctx, 1)
		require.NoError(t, err)
		edited.City = "Shelbyville"
		require.NoError(t, st.Save(ctx, edited))
		require.NoError(t, st.Delete(ctx, 2))
	}}
	s, _, metrics := newScheduler(st, ref, noThrottle())

	rep, err := s.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, rep.Total)
	assert.Equal(t, 2, rep.Succeeded)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, int32(2), ref.calls.Load(), "deleted region is not refreshed")
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchRegions.WithLabelValues("deleted")))

	_, err = st.Get(ctx, 2)
	require.ErrorIs(t, err, store.ErrNotFound)

	r1, err := st.Get(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Shelbyville", r1.City)
	assert.Equal(t, domain.RiskModerate, r1.RiskLevel)
}

func TestRunOnce_RegionDeletedMidRefreshIsSkipped(t *testing.T) {
	st := seededStore(t, 2)
	ctx := context.Background()
	ref := &editingRefresher{onRefresh: func(r *domain.Region) {
		if r.ID == 2 {
			require.NoError(t, st.Delete(ctx, 2))
		}
	}}
	s, _, metrics := newScheduler(st, ref, noThrottle())

	rep, err := s.RunOnce(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, rep.Succeeded)
	assert.Equal(t, 1, rep.Skipped)
	assert.Zero(t, rep.Failed)
	_, err = st.Get(ctx, 2)
	require.ErrorIs(t, err, store.ErrNotFound, "refresh does not recreate the region")
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("total_failure")))
}

func TestRunOnce_MinIntervalMeasuredFromRunInFlight(t *testing.T) {
	s, clock, _ := newScheduler(seededStore(t, 2), &countingRefresher{}, scheduler.DefaultOptions())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := runAsync(ctx, s)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))

	_, err := s.RunOnce(ctx)
	require.ErrorIs(t, err, scheduler.ErrAlreadyRunning)

	clock.Advance(120 * time.Second)
	require.NoError(t, (<-done).err)

	_, err = s.RunOnce(ctx)
	assert.ErrorIs(t, err, scheduler.ErrTooSoon, "no back-to-back run after the in-flight one finishes")
}

func TestRunOnce_EmptyStoreIsNotAFailure(t *testing.T) {
	s, _, metrics := newScheduler(store.NewMemory(), &countingRefresher{}, noThrottle())

	rep, err := s.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Zero(t, rep.Total)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("total_failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.BatchRuns.WithLabelValues("completed")))
}

func TestRun_TicksOnInterval(t *testing.T) {
	ref := &countingRefresher{}
	s, clock, _ := newScheduler(seededStore(t, 1), ref, noThrottle())
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(0), ref.calls.Load())

	clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return ref.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-errc)
}

func TestRun_RunOnStart(t *testing.T) {
	ref := &countingRefresher{}
	opts := noThrottle()
	opts.RunOnStart = true
	s, clock, _ := newScheduler(seededStore(t, 2), ref, opts)
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	assert.Equal(t, int32(2), ref.calls.Load())

	cancel()
	require.NoError(t, <-errc)
}

func TestCheckReadiness(t *testing.T) {
	ok, _, _ := newScheduler(store.NewMemory(), &countingRefresher{}, noThrottle())
	assert.NoError(t, ok.CheckReadiness(context.Background()))

	down := &brokenStore{Memory: store.NewMemory(), pingErr: errors.New("connection refused")}
	bad, _, _ := newScheduler(down, &countingRefresher{}, noThrottle())
	assert.Error(t, bad.CheckReadiness(context.Background()))
}
