package domain

// DefaultTemperature is applied to regions with no prior data when live
// conditions are unavailable.
const DefaultTemperature = 25.0

// Rain score thresholds. A score strictly greater than the threshold
// selects the level.
const (
	ThresholdModerate = 25.0
	ThresholdHigh     = 45.0
	ThresholdCritical = 65.0
)

// forecastWindow is the number of hourly entries considered.
const forecastWindow = 24

// ForecastSample is a decoded forecast response, consumed once per refresh.
type ForecastSample struct {
	Temperature   float64 `json:"temperature"`
	Precipitation float64 `json:"precipitation"`
	Rain          float64 `json:"rain"`
	Showers       float64 `json:"showers"`
	WeatherCode   int     `json:"weather_code"`

	HourlyPrecipitationProbability []float64 `json:"hourly_precipitation_probability"`
	HourlyPrecipitation            []float64 `json:"hourly_precipitation"`
}

// Classification is the output of the risk model.
type Classification struct {
	RainScore  float64   `json:"rain_score"`
	Level      RiskLevel `json:"risk_level"`
	IsRiskArea bool      `json:"is_risk_area"`
}

// Classify converts forecast signals into a rain score and risk level.
func Classify(s ForecastSample) Classification {
	score := RainScore(s)
	level, risk := LevelFor(score)
	return Classification{RainScore: score, Level: level, IsRiskArea: risk}
}

// RainScore computes the composite rain score for a sample.
func RainScore(s ForecastSample) float64 {
	score := s.Precipitation + s.Rain + s.Showers
	score += 0.5 * sum(window(s.HourlyPrecipitation))
	score *= 1 + mean(window(s.HourlyPrecipitationProbability))/100
	return score * codeMultiplier(s.WeatherCode)
}

// LevelFor maps a rain score onto a level and risk-area flag.
func LevelFor(score float64) (RiskLevel, bool) {
	switch {
	case score > ThresholdCritical:
		return RiskCritical, true
	case score > ThresholdHigh:
		return RiskHigh, true
	case score > ThresholdModerate:
		return RiskModerate, false
	default:
		return RiskLow, false
	}
}

func codeMultiplier(code int) float64 {
	switch {
	case code >= 95:
		return 2.0
	case code >= 80:
		return 1.5
	case code >= 60:
		return 1.2
	default:
		return 1.0
	}
}

func window(v []float64) []float64 {
	if len(v) > forecastWindow {
		return v[:forecastWindow]
	}
	return v
}

func sum(v []float64) float64 {
	var total float64
	for _, x := range v {
		total += x
	}
	return total
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	return sum(v) / float64(len(v))
}
