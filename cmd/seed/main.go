// Command seed loads regions from a CSV file into the configured region
// store. Rows are saved unclassified except for the fallback defaults; the
// next batch run fills in live data.
//
// The CSV must have a header row with the columns name, state, city,
// neighborhood and optionally zip (any order).
//
// Usage:
//
//	go run ./cmd/seed -csv data/regions.csv
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/couchcryptid/flood-risk-service/internal/config"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
	"github.com/couchcryptid/flood-risk-service/internal/store"
)

var requiredColumns = []string{"name", "state", "city", "neighborhood"}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	csvPath := flag.String("csv", "", "path to the regions CSV file")
	flag.Parse()

	if *csvPath == "" {
		flag.Usage()
		return errors.New("missing required flag: -csv")
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Store != "sql" {
		return fmt.Errorf("seeding needs STORE=sql, got %q", cfg.Store)
	}

	f, err := os.Open(*csvPath)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer f.Close()

	regions, err := parseRegions(f, time.Now())
	if err != nil {
		return fmt.Errorf("parse %s: %w", *csvPath, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer s.Close()

	for _, r := range regions {
		if err := s.Save(ctx, r); err != nil {
			return fmt.Errorf("save %q: %w", r.Name, err)
		}
		log.Printf("saved region %d: %s (%s)", r.ID, r.Name, r.Address())
	}
	log.Printf("total: %d regions", len(regions))
	return nil
}

// parseRegions reads region rows keyed by header name. Rows missing a
// required field are rejected with their line number.
func parseRegions(r io.Reader, now time.Time) ([]*domain.Region, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, errors.New("no data rows")
	}

	colIdx := map[string]int{}
	for i, h := range rows[0] {
		colIdx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := colIdx[col]; !ok {
			return nil, fmt.Errorf("missing column %q", col)
		}
	}

	regions := make([]*domain.Region, 0, len(rows)-1)
	for i, row := range rows[1:] {
		region := &domain.Region{
			Name:         get(row, colIdx, "name"),
			State:        get(row, colIdx, "state"),
			City:         get(row, colIdx, "city"),
			Neighborhood: get(row, colIdx, "neighborhood"),
			ZipCode:      get(row, colIdx, "zip"),
		}
		for _, col := range requiredColumns {
			if get(row, colIdx, col) == "" {
				return nil, fmt.Errorf("line %d: empty %s", i+2, col)
			}
		}
		region.ApplyDefaults(now)
		regions = append(regions, region)
	}
	return regions, nil
}

func get(row []string, idx map[string]int, col string) string {
	i, ok := idx[col]
	if !ok || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}
