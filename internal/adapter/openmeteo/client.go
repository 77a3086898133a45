// Package openmeteo implements domain.Forecaster against the Open-Meteo
// forecast API.
package openmeteo

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/upstream"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

const (
	currentFields = "temperature_2m,precipitation,rain,showers,weathercode"
	hourlyFields  = "precipitation_probability,precipitation"
)

// Client fetches current conditions and a one-day hourly forecast.
type Client struct {
	baseURL   string
	requester *upstream.Requester
}

// NewClient creates an Open-Meteo client. The requester's API label should be "forecast".
func NewClient(baseURL string, requester *upstream.Requester) *Client {
	return &Client{baseURL: baseURL, requester: requester}
}

// Forecast returns the decoded sample for a coordinate.
func (c *Client) Forecast(ctx context.Context, lat, lon float64) (domain.ForecastSample, error) {
	params := url.Values{
		"latitude":      {strconv.FormatFloat(lat, 'f', -1, 64)},
		"longitude":     {strconv.FormatFloat(lon, 'f', -1, 64)},
		"current":       {currentFields},
		"hourly":        {hourlyFields},
		"forecast_days": {"1"},
	}

	var resp response
	if err := c.requester.GetJSON(ctx, c.baseURL+"/v1/forecast?"+params.Encode(), &resp); err != nil {
		return domain.ForecastSample{}, err
	}
	if resp.Current == nil {
		return domain.ForecastSample{}, fmt.Errorf("forecast: %w: missing current block", upstream.ErrMalformed)
	}

	cur := resp.Current
	return domain.ForecastSample{
		Temperature:                    cur.Temperature,
		Precipitation:                  cur.Precipitation,
		Rain:                           cur.Rain,
		Showers:                        cur.Showers,
		WeatherCode:                    cur.WeatherCode,
		HourlyPrecipitationProbability: values(resp.Hourly.PrecipitationProbability),
		HourlyPrecipitation:            values(resp.Hourly.Precipitation),
	}, nil
}

// values replaces null hourly entries with zero.
func values(in []*float64) []float64 {
	out := make([]float64, len(in))
	for i, v := range in {
		if v != nil {
			out[i] = *v
		}
	}
	return out
}

// Open-Meteo API response types.

type response struct {
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Current   *current `json:"current"`
	Hourly    hourly   `json:"hourly"`
}

type current struct {
	Time          string  `json:"time"`
	Temperature   float64 `json:"temperature_2m"`
	Precipitation float64 `json:"precipitation"`
	Rain          float64 `json:"rain"`
	Showers       float64 `json:"showers"`
	WeatherCode   int     `json:"weathercode"`
}

type hourly struct {
	Time                     []string   `json:"time"`
	PrecipitationProbability []*float64 `json:"precipitation_probability"`
	Precipitation            []*float64 `json:"precipitation"`
}
