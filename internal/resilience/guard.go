// Package resilience gates every outbound weather lookup behind a rate
// limiter and a consecutive-failure circuit breaker shared by all callers.
package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/time/rate"

	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// Options configures a Guard.
type Options struct {
	// RateInterval is the time between outbound permits. Burst is one.
	RateInterval time.Duration
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// ResetWindow is how long the circuit stays open after the last failure.
	ResetWindow time.Duration
}

// DefaultOptions returns one permit every 2s, opening after 3 failures for 15 minutes.
func DefaultOptions() Options {
	return Options{
		RateInterval:     2 * time.Second,
		FailureThreshold: 3,
		ResetWindow:      15 * time.Minute,
	}
}

// Guard is the process-wide resilience state. The zero value is not usable;
// construct with New and share the pointer.
type Guard struct {
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
	limiter *rate.Limiter

	mu          sync.Mutex
	failures    int
	lastFailure time.Time // zero when unset
}

// New creates a Guard with a full rate bucket and a closed circuit.
func New(opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Guard {
	return &Guard{
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
		limiter: rate.NewLimiter(rate.Every(opts.RateInterval), 1),
	}
}

// TryAcquire takes a rate permit without blocking. A false result means the
// caller must fall back immediately.
func (g *Guard) TryAcquire() bool {
	if g.limiter.AllowN(g.clock.Now(), 1) {
		return true
	}
	g.metrics.RateLimited.Inc()
	return false
}

// ShouldFallback evaluates the circuit gate. Once the reset window has
// elapsed since the last failure, the first call closes the circuit and
// returns false; the next outcome decides whether it opens again.
func (g *Guard) ShouldFallback() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.failures < g.opts.FailureThreshold {
		return false
	}
	if !g.lastFailure.IsZero() && g.clock.Now().After(g.lastFailure.Add(g.opts.ResetWindow)) {
		g.logger.Info("circuit breaker reset window elapsed, allowing trial request",
			"failures", g.failures,
			"last_failure", g.lastFailure,
		)
		g.resetLocked()
		return false
	}
	return true
}

// RecordSuccess closes the circuit and clears the failure history.
func (g *Guard) RecordSuccess() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.resetLocked()
}

// RecordFailure counts a failed upstream call sequence.
func (g *Guard) RecordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.failures++
	g.lastFailure = g.clock.Now()
	g.metrics.CircuitFailures.Set(float64(g.failures))
	if g.failures == g.opts.FailureThreshold {
		g.metrics.CircuitOpen.Set(1)
		observability.Alert(g.logger, "circuit breaker open",
			"failures", g.failures,
			"reset_window", g.opts.ResetWindow,
		)
	}
}

// State is a point-in-time view of the circuit.
type State struct {
	Failures    int
	LastFailure time.Time
	Open        bool
}

// Snapshot returns the current circuit state without evaluating the reset window.
func (g *Guard) Snapshot() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return State{
		Failures:    g.failures,
		LastFailure: g.lastFailure,
		Open:        g.failures >= g.opts.FailureThreshold,
	}
}

func (g *Guard) resetLocked() {
	g.failures = 0
	g.lastFailure = time.Time{}
	g.metrics.CircuitFailures.Set(0)
	g.metrics.CircuitOpen.Set(0)
}
