package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RiskLevel is the ordered flood danger classification of a region.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskModerate
	RiskHigh
	RiskCritical
)

var riskLevelNames = [...]string{"LOW", "MODERATE", "HIGH", "CRITICAL"}

func (l RiskLevel) String() string {
	if l < RiskLow || l > RiskCritical {
		return fmt.Sprintf("RiskLevel(%d)", int(l))
	}
	return riskLevelNames[l]
}

// ParseRiskLevel converts a stored or transmitted name back into a RiskLevel.
func ParseRiskLevel(s string) (RiskLevel, error) {
	for i, name := range riskLevelNames {
		if strings.EqualFold(s, name) {
			return RiskLevel(i), nil
		}
	}
	return RiskLow, fmt.Errorf("unknown risk level %q", s)
}

func (l RiskLevel) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

func (l *RiskLevel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("risk level: %w", err)
	}
	v, err := ParseRiskLevel(s)
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Region is a monitored locality. Identity and locality fields are owned by
// the persistence layer; the climate fields are only written by this package.
type Region struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	State        string `json:"state"`
	City         string `json:"city"`
	Neighborhood string `json:"neighborhood"`
	ZipCode      string `json:"zip_code,omitempty"`

	RiskLevel   RiskLevel `json:"risk_level"`
	RainLevel   *float64  `json:"rain_level"`  // nil until first classification
	Temperature *float64  `json:"temperature"` // °C
	IsRiskArea  bool      `json:"is_risk_area"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Address builds the free-text geocoding query for the region.
func (r *Region) Address() string {
	return fmt.Sprintf("%s, %s, %s", r.Neighborhood, r.City, r.State)
}

// HasClimate reports whether the region carries a previous rain score and
// temperature.
func (r *Region) HasClimate() bool {
	return r.RainLevel != nil && r.Temperature != nil
}

// ApplyClimate writes a live observation onto the region.
func (r *Region) ApplyClimate(temperature float64, c Classification, now time.Time) {
	rain := c.RainScore
	r.Temperature = &temperature
	r.RainLevel = &rain
	r.RiskLevel = c.Level
	r.IsRiskArea = c.IsRiskArea
	r.UpdatedAt = now
}

// ApplyDefaults is the fallback path. Regions with prior data are left
// untouched and false is returned.
func (r *Region) ApplyDefaults(now time.Time) bool {
	if r.HasClimate() {
		return false
	}
	temp, rain := DefaultTemperature, 0.0
	r.Temperature = &temp
	r.RainLevel = &rain
	r.RiskLevel = RiskLow
	r.IsRiskArea = false
	r.UpdatedAt = now
	return true
}

// Climate is a copy of the climate fields of a region, used to compare
// states before and after a refresh.
type Climate struct {
	RiskLevel   RiskLevel
	RainLevel   *float64
	Temperature *float64
	IsRiskArea  bool
	UpdatedAt   time.Time
}

// Climate returns a snapshot of the region's climate fields.
func (r *Region) Climate() Climate {
	return Climate{
		RiskLevel:   r.RiskLevel,
		RainLevel:   copyFloat(r.RainLevel),
		Temperature: copyFloat(r.Temperature),
		IsRiskArea:  r.IsRiskArea,
		UpdatedAt:   r.UpdatedAt,
	}
}

func copyFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// RiskChange is published when a refresh moves a region to a different
// risk level.
type RiskChange struct {
	ID          string    `json:"id"`
	RegionID    int64     `json:"region_id"`
	RegionName  string    `json:"region_name"`
	Previous    RiskLevel `json:"previous_level"`
	Current     RiskLevel `json:"current_level"`
	RainLevel   float64   `json:"rain_level"`
	Temperature float64   `json:"temperature"`
	IsRiskArea  bool      `json:"is_risk_area"`
	ChangedAt   time.Time `json:"changed_at"`
}
