package domain

import (
	"context"
	"time"
)

// DefaultCoordinateTTL bounds how long a resolved coordinate may be reused.
const DefaultCoordinateTTL = 7 * 24 * time.Hour

// GeoCoordinate is a resolved position for an address.
type GeoCoordinate struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	CapturedAt time.Time `json:"captured_at"`
}

// ValidAt reports whether the coordinate is still usable at now.
func (c GeoCoordinate) ValidAt(now time.Time, ttl time.Duration) bool {
	return c.CapturedAt.Add(ttl).After(now)
}

// Geocoder resolves a free-text address to a coordinate.
type Geocoder interface {
	Search(ctx context.Context, address string) (GeoCoordinate, error)
}

// Forecaster fetches current conditions and the hourly forecast for a point.
type Forecaster interface {
	Forecast(ctx context.Context, lat, lon float64) (ForecastSample, error)
}
