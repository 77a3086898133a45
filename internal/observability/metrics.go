package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "flood_risk"

// Metrics holds the Prometheus counters, histograms, and gauges for the
// weather ingestion pipeline.
type Metrics struct {
	// Upstream API metrics.
	UpstreamRequests *prometheus.CounterVec   // labels: api={geocode,forecast}, outcome={success,error,retry,empty}
	UpstreamDuration *prometheus.HistogramVec // labels: api={geocode,forecast}

	// Geocode cache metrics.
	GeocodeCache        *prometheus.CounterVec // labels: tier={memory,redis}, result={hit,miss,expired}
	GeocodeCacheEntries prometheus.Gauge

	// Resilience metrics.
	CircuitOpen     prometheus.Gauge
	CircuitFailures prometheus.Gauge
	RateLimited     prometheus.Counter

	// Refresh metrics.
	Refreshes   *prometheus.CounterVec // labels: outcome={live,fallback}
	Fallbacks   *prometheus.CounterVec // labels: reason
	RiskChanges *prometheus.CounterVec // labels: level

	// Batch scheduler metrics.
	BatchRuns          *prometheus.CounterVec // labels: result={completed,interrupted,skipped,total_failure,error}
	BatchRegions       *prometheus.CounterVec // labels: outcome={success,failure,deleted}
	BatchDuration      prometheus.Histogram
	BatchRunning       prometheus.Gauge
	BatchLastCompleted prometheus.Gauge
}

// NewMetrics creates and registers all pipeline metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		UpstreamRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upstream_requests_total",
			Help:      "Upstream API attempts by api and outcome.",
		}, []string{"api", "outcome"}),
		UpstreamDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_request_duration_seconds",
			Help:      "Upstream API request duration in seconds, including retries.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"api"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocode cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		GeocodeCacheEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_cache_entries",
			Help:      "Coordinates held by the in-memory geocode cache, expired ones included.",
		}),
		CircuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_open",
			Help:      "1 while the upstream circuit breaker is open.",
		}),
		CircuitFailures: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_consecutive_failures",
			Help:      "Consecutive upstream failures seen by the circuit breaker.",
		}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Refreshes denied by the outbound rate limiter.",
		}),
		Refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "refresh_total",
			Help:      "Region refreshes by outcome.",
		}, []string{"outcome"}),
		Fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Refreshes that ended in the fallback policy, by reason.",
		}, []string{"reason"}),
		RiskChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "risk_changes_total",
			Help:      "Region risk level transitions by new level.",
		}, []string{"level"}),
		BatchRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_runs_total",
			Help:      "Scheduled batch refresh runs by result.",
		}, []string{"result"}),
		BatchRegions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_regions_total",
			Help:      "Regions processed by batch runs, by outcome.",
		}, []string{"outcome"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_duration_seconds",
			Help:      "Duration of a complete batch refresh run.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		BatchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_running",
			Help:      "1 while a batch refresh run is in progress.",
		}),
		BatchLastCompleted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batch_last_completed_timestamp_seconds",
			Help:      "Unix time of the last completed batch run.",
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.UpstreamRequests,
		m.UpstreamDuration,
		m.GeocodeCache,
		m.GeocodeCacheEntries,
		m.CircuitOpen,
		m.CircuitFailures,
		m.RateLimited,
		m.Refreshes,
		m.Fallbacks,
		m.RiskChanges,
		m.BatchRuns,
		m.BatchRegions,
		m.BatchDuration,
		m.BatchRunning,
		m.BatchLastCompleted,
	}
}
