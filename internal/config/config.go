package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Persistence.
	Store       string // "sql" or "memory"
	DatabaseURL string

	// Optional Redis second-level geocode cache. Empty disables it.
	RedisAddr  string
	GeocodeTTL time.Duration

	// Optional Kafka publisher for risk changes. Empty brokers disable it.
	KafkaBrokers   []string
	KafkaRiskTopic string

	// Upstream APIs.
	GeocoderBaseURL string
	ForecastBaseURL string
	UserAgent       string
	AcceptLanguage  string
	ConnectTimeout  time.Duration
	ResponseTimeout time.Duration

	// Retry with exponential backoff for retryable upstream failures.
	RetryMax            int
	RetryInitialBackoff time.Duration
	RetryMaxBackoff     time.Duration

	// Resilience guard.
	RateLimitInterval       time.Duration
	CircuitFailureThreshold int
	CircuitResetWindow      time.Duration

	// Batch scheduler.
	RefreshInterval          time.Duration
	RefreshMinInterval       time.Duration
	RefreshThrottle          time.Duration
	RefreshOnStart           bool
	ForegroundRefreshTimeout time.Duration
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		Store:       sharedcfg.EnvOrDefault("STORE", "sql"),
		DatabaseURL: sharedcfg.EnvOrDefault("DATABASE_URL", "file:floodless.db"),

		RedisAddr: os.Getenv("REDIS_ADDR"),

		KafkaRiskTopic: sharedcfg.EnvOrDefault("KAFKA_RISK_TOPIC", "region-risk-updates"),

		GeocoderBaseURL: sharedcfg.EnvOrDefault("GEOCODER_BASE_URL", "https://nominatim.openstreetmap.org"),
		ForecastBaseURL: sharedcfg.EnvOrDefault("FORECAST_BASE_URL", "https://api.open-meteo.com"),
		UserAgent:       sharedcfg.EnvOrDefault("HTTP_USER_AGENT", "Floodless/1.0 (https://floodless.onrender.com)"),
		AcceptLanguage:  sharedcfg.EnvOrDefault("HTTP_ACCEPT_LANGUAGE", "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = sharedcfg.ParseBrokers(brokers)
	}

	durations := []struct {
		key string
		def string
		dst *time.Duration
	}{
		{"GEOCODE_TTL", "168h", &cfg.GeocodeTTL},
		{"UPSTREAM_CONNECT_TIMEOUT", "30s", &cfg.ConnectTimeout},
		{"UPSTREAM_RESPONSE_TIMEOUT", "30s", &cfg.ResponseTimeout},
		{"RETRY_INITIAL_BACKOFF", "10s", &cfg.RetryInitialBackoff},
		{"RETRY_MAX_BACKOFF", "30s", &cfg.RetryMaxBackoff},
		{"RATE_LIMIT_INTERVAL", "2s", &cfg.RateLimitInterval},
		{"CIRCUIT_RESET_WINDOW", "15m", &cfg.CircuitResetWindow},
		{"REFRESH_INTERVAL", "1h", &cfg.RefreshInterval},
		{"REFRESH_MIN_INTERVAL", "2m", &cfg.RefreshMinInterval},
		{"REFRESH_THROTTLE", "120s", &cfg.RefreshThrottle},
		{"FOREGROUND_REFRESH_TIMEOUT", "3m", &cfg.ForegroundRefreshTimeout},
	}
	for _, d := range durations {
		if *d.dst, err = parseDuration(d.key, d.def); err != nil {
			return nil, err
		}
	}

	if cfg.RetryMax, err = parseInt("RETRY_MAX", 3, 0); err != nil {
		return nil, err
	}
	if cfg.CircuitFailureThreshold, err = parseInt("CIRCUIT_FAILURE_THRESHOLD", 3, 1); err != nil {
		return nil, err
	}
	if cfg.RefreshOnStart, err = parseBool("REFRESH_ON_START", false); err != nil {
		return nil, err
	}

	if cfg.RetryMaxBackoff < cfg.RetryInitialBackoff {
		return nil, errors.New("RETRY_MAX_BACKOFF must not be less than RETRY_INITIAL_BACKOFF")
	}
	switch cfg.Store {
	case "sql", "memory":
	default:
		return nil, fmt.Errorf("invalid STORE %q: want sql or memory", cfg.Store)
	}
	if cfg.Store == "sql" && cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required when STORE is sql")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaRiskTopic == "" {
		return nil, errors.New("KAFKA_RISK_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

func parseDuration(key, def string) (time.Duration, error) {
	s := sharedcfg.EnvOrDefault(key, def)
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("invalid %s %q", key, s)
	}
	if d == 0 {
		return 0, fmt.Errorf("invalid %s: must be greater than zero", key)
	}
	return d, nil
}

func parseInt(key string, def, minimum int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < minimum {
		return 0, fmt.Errorf("invalid %s %q: must be an integer >= %d", key, s, minimum)
	}
	return n, nil
}

func parseBool(key string, def bool) (bool, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", key, s)
	}
	return b, nil
}
