// Package domain models flood-risk classification for geographic regions.
//
// # Data Sources
//
// Region coordinates come from the Nominatim search API
// (https://nominatim.openstreetmap.org). Current conditions and a one-day
// hourly forecast come from the Open-Meteo forecast API
// (https://api.open-meteo.com). Both are consumed by the weather package;
// this package only sees the decoded [ForecastSample].
//
// # Rain Score
//
// The rain score is a unit-less composite built from instantaneous and
// forecast precipitation:
//
//	score  = precipitation + rain + showers            (current, mm)
//	score += 0.5 * sum(hourly precipitation, first 24h) (mm)
//	score *= 1 + mean(hourly probability, first 24h)/100
//	score *= code multiplier
//
// Hourly series shorter than 24 entries are clipped to their length; the
// probability mean is taken over the entries actually present.
//
// WMO weather code multipliers:
//
//	>= 95     thunderstorm          x2.0
//	80 .. 94  rain/snow showers     x1.5
//	60 .. 79  rain, snow, freezing  x1.2
//	otherwise                       x1.0
//
// # Risk Levels
//
//	score > 65   CRITICAL  risk area
//	score > 45   HIGH      risk area
//	score > 25   MODERATE
//	otherwise    LOW
//
// Level and risk-area flag are always derived together from one score; the
// only writers are [Region.ApplyClimate] and [Region.ApplyDefaults].
//
// # Fallback
//
// When live data cannot be obtained a region that already carries a rain
// score and temperature keeps them. A region with no prior data is set to
// 25.0 °C, score 0, LOW.
package domain
