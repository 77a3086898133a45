package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"
	redisv9 "github.com/redis/go-redis/v9"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/flood-risk-service/internal/adapter/kafka"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/nominatim"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/openmeteo"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/upstream"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/geocache"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
	"github.com/couchcryptid/flood-risk-service/internal/refresh"
	"github.com/couchcryptid/flood-risk-service/internal/resilience"
	"github.com/couchcryptid/flood-risk-service/internal/scheduler"
	"github.com/couchcryptid/flood-risk-service/internal/store"
	"github.com/couchcryptid/flood-risk-service/internal/weather"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	regions, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open region store", "error", err)
		os.Exit(1)
	}
	defer closeStore()
	logger.Info("region store ready", "store", cfg.Store)

	// Geocode cache: memory, optionally backed by Redis (REDIS_ADDR).
	memCache := geocache.NewMemory(cfg.GeocodeTTL, clock, metrics)
	var cache weather.Cache = memCache
	var redisClient *redisv9.Client
	if cfg.RedisAddr != "" {
		redisClient = redisv9.NewClient(&redisv9.Options{Addr: cfg.RedisAddr})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, continuing with degraded geocode cache", "addr", cfg.RedisAddr, "error", err)
		}
		cache = geocache.NewTiered(memCache, geocache.NewRedis(redisClient, cfg.GeocodeTTL, clock, logger, metrics))
		logger.Info("redis geocode cache enabled", "addr", cfg.RedisAddr)
	}

	httpClient := upstream.NewHTTPClient(cfg.ConnectTimeout, cfg.ResponseTimeout)
	retry := upstream.RetryPolicy{
		MaxRetries:     cfg.RetryMax,
		InitialBackoff: cfg.RetryInitialBackoff,
		MaxBackoff:     cfg.RetryMaxBackoff,
		Jitter:         upstream.DefaultRetryPolicy().Jitter,
	}
	requester := func(api string) *upstream.Requester {
		return &upstream.Requester{
			API:            api,
			HTTPClient:     httpClient,
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.AcceptLanguage,
			Retry:          retry,
			Logger:         logger,
			Metrics:        metrics,
		}
	}

	guard := resilience.New(resilience.Options{
		RateInterval:     cfg.RateLimitInterval,
		FailureThreshold: cfg.CircuitFailureThreshold,
		ResetWindow:      cfg.CircuitResetWindow,
	}, clock, logger, metrics)

	weatherClient := weather.NewClient(
		nominatim.NewClient(cfg.GeocoderBaseURL, requester("geocode"), clock),
		openmeteo.NewClient(cfg.ForecastBaseURL, requester("forecast")),
		cache,
		guard,
		clock,
		logger,
		metrics,
	)

	// Risk-change publisher (feature-flagged via KAFKA_BROKERS).
	var publisher refresh.Publisher = refresh.NopPublisher{}
	var writer *kafkaadapter.Writer
	if len(cfg.KafkaBrokers) > 0 {
		writer = kafkaadapter.NewWriter(cfg, logger)
		publisher = writer
		logger.Info("kafka risk publisher enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaRiskTopic)
	} else {
		logger.Info("kafka risk publisher disabled")
	}

	refresher := refresh.New(ctx, weatherClient, publisher, cfg.ForegroundRefreshTimeout, clock, logger, metrics)

	sched := scheduler.New(regions, refresher, scheduler.Options{
		Interval:    cfg.RefreshInterval,
		MinInterval: cfg.RefreshMinInterval,
		Throttle:    cfg.RefreshThrottle,
		RunOnStart:  cfg.RefreshOnStart,
	}, clock, logger, metrics)

	api := httpadapter.NewRegionHandler(regions, refresher, cfg.ForegroundRefreshTimeout, clock, logger)
	srv := httpadapter.NewServer(cfg.HTTPAddr, sched, api, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			stop()
		}
	}()

	// Start batch scheduler.
	schedDone := make(chan struct{})
	go func() {
		defer close(schedDone)
		if err := sched.Run(ctx); err != nil {
			logger.Error("scheduler error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	waitOrTimeout(shutdownCtx, logger, "scheduler", func() { <-schedDone })
	waitOrTimeout(shutdownCtx, logger, "background refreshes", refresher.Wait)

	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}
	if redisClient != nil {
		if err := redisClient.Close(); err != nil {
			logger.Error("redis close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

func openStore(ctx context.Context, cfg *config.Config) (store.RegionStore, func(), error) {
	if cfg.Store == "memory" {
		return store.NewMemory(), func() {}, nil
	}
	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	s, err := store.Open(openCtx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return s, func() { _ = s.Close() }, nil
}

// waitOrTimeout runs wait until it returns or ctx expires.
func waitOrTimeout(ctx context.Context, logger *slog.Logger, what string, wait func()) {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		logger.Warn("gave up waiting during shutdown", "component", what)
	}
}
