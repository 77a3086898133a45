// Package nominatim implements domain.Geocoder against the OpenStreetMap
// Nominatim search API.
package nominatim

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/flood-risk-service/internal/adapter/upstream"
	"github.com/couchcryptid/flood-risk-service/internal/domain"
)

// ErrNoLocation is returned when the search yields no results. It is not retried.
var ErrNoLocation = errors.New("no location found")

// Client resolves addresses with a single exact-query search.
type Client struct {
	baseURL   string
	requester *upstream.Requester
	clock     clockwork.Clock
}

// NewClient creates a Nominatim client. The requester's API label should be "geocode".
func NewClient(baseURL string, requester *upstream.Requester, clock clockwork.Clock) *Client {
	return &Client{baseURL: baseURL, requester: requester, clock: clock}
}

// Search returns the first result for address, stamped with the current time.
func (c *Client) Search(ctx context.Context, address string) (domain.GeoCoordinate, error) {
	params := url.Values{
		"q":      {address},
		"format": {"json"},
		"limit":  {"1"},
	}

	var results []place
	if err := c.requester.GetJSON(ctx, c.baseURL+"/search?"+params.Encode(), &results); err != nil {
		return domain.GeoCoordinate{}, err
	}
	if len(results) == 0 {
		c.requester.Metrics.UpstreamRequests.WithLabelValues(c.requester.API, "empty").Inc()
		return domain.GeoCoordinate{}, fmt.Errorf("%w: %q", ErrNoLocation, address)
	}

	return domain.GeoCoordinate{
		Lat:        float64(results[0].Lat),
		Lon:        float64(results[0].Lon),
		CapturedAt: c.clock.Now(),
	}, nil
}

// Nominatim API response types.

type place struct {
	Lat         coordinate `json:"lat"`
	Lon         coordinate `json:"lon"`
	DisplayName string     `json:"display_name"`
}

// coordinate accepts both the documented string form ("-23.55") and bare numbers.
type coordinate float64

func (c *coordinate) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("parse coordinate %q: %w", data, err)
	}
	*c = coordinate(v)
	return nil
}

var _ json.Unmarshaler = (*coordinate)(nil)
