// Command riskcheck exercises the risk model without running the service.
//
// With -fixture it classifies every case in a JSON file and checks the
// expected level, exiting non-zero on any mismatch. With -address it performs
// one live geocode and forecast and prints the resulting classification.
//
// Usage:
//
//	go run ./cmd/riskcheck -fixture data/risk_cases.json
//	go run ./cmd/riskcheck -address "Centro, Campinas, SP"
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/nominatim"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/openmeteo"
	"github.com/couchcryptid/flood-risk-service/internal/adapter/upstream"
	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/observability"
)

// riskCase is one fixture entry.
type riskCase struct {
	Name   string                `json:"name"`
	Sample domain.ForecastSample `json:"sample"`
	Want   domain.RiskLevel      `json:"want"`
}

func main() {
	fixture := flag.String("fixture", "", "path to a JSON array of risk cases")
	address := flag.String("address", "", "address to classify from live data")
	flag.Parse()

	if (*fixture == "") == (*address == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -fixture or -address is required")
		flag.Usage()
		os.Exit(2)
	}

	if *fixture != "" {
		os.Exit(runFixture(*fixture))
	}
	os.Exit(runLive(*address))
}

func runFixture(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read fixture: %v\n", err)
		return 1
	}
	var cases []riskCase
	if err := json.Unmarshal(data, &cases); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: parse fixture: %v\n", err)
		return 1
	}

	fmt.Println("=== Flood Risk Classification Check ===")
	fmt.Println()

	failures := checkCases(cases)
	for _, c := range cases {
		got := domain.Classify(c.Sample)
		status := "\033[32mPASS\033[0m"
		if got.Level != c.Want {
			status = "\033[31mFAIL\033[0m"
		}
		fmt.Printf("  %-36s score=%8.2f level=%-8s want=%-8s %s\n",
			c.Name, got.RainScore, got.Level, c.Want, status)
	}

	fmt.Println()
	if len(failures) == 0 {
		fmt.Printf("All %d cases passed.\n", len(cases))
		return 0
	}
	for i, f := range failures {
		fmt.Printf("  [%d] %s\n", i+1, f)
	}
	fmt.Printf("\n%d of %d cases FAILED.\n", len(failures), len(cases))
	return 1
}

// checkCases returns one message per case whose level differs from Want.
func checkCases(cases []riskCase) []string {
	var failures []string
	for _, c := range cases {
		got := domain.Classify(c.Sample)
		if got.Level != c.Want {
			failures = append(failures, fmt.Sprintf("%s: got %s (score %.2f), want %s",
				c.Name, got.Level, got.RainScore, c.Want))
		}
	}
	return failures
}

func runLive(address string) int {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load config: %v\n", err)
		return 1
	}

	logger := sharedobs.NewLogger(cfg.LogLevel, "text")
	metrics := observability.NewMetricsForTesting()
	httpClient := upstream.NewHTTPClient(cfg.ConnectTimeout, cfg.ResponseTimeout)
	requester := func(api string) *upstream.Requester {
		return &upstream.Requester{
			API:            api,
			HTTPClient:     httpClient,
			UserAgent:      cfg.UserAgent,
			AcceptLanguage: cfg.AcceptLanguage,
			Retry:          upstream.RetryPolicy{MaxRetries: cfg.RetryMax, InitialBackoff: cfg.RetryInitialBackoff, MaxBackoff: cfg.RetryMaxBackoff},
			Logger:         logger,
			Metrics:        metrics,
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ForegroundRefreshTimeout)
	defer cancel()

	geocoder := nominatim.NewClient(cfg.GeocoderBaseURL, requester("geocode"), clockwork.NewRealClock())
	coord, err := geocoder.Search(ctx, address)
	if err != nil {
		fmt.Fprintf(os.Stderr, "geocode failed: %v\n", err)
		return 1
	}

	// Respect the upstream pacing used by the service.
	time.Sleep(cfg.RateLimitInterval)

	sample, err := openmeteo.NewClient(cfg.ForecastBaseURL, requester("forecast")).Forecast(ctx, coord.Lat, coord.Lon)
	if err != nil {
		fmt.Fprintf(os.Stderr, "forecast failed: %v\n", err)
		return 1
	}

	out, _ := json.MarshalIndent(struct {
		Address        string                `json:"address"`
		Coordinate     domain.GeoCoordinate  `json:"coordinate"`
		Sample         domain.ForecastSample `json:"sample"`
		Classification domain.Classification `json:"classification"`
	}{address, coord, sample, domain.Classify(sample)}, "", "  ")
	fmt.Println(string(out))
	return 0
}
