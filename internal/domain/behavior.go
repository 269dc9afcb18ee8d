package domain

import "time"

// Well-known behavior feature names extracted per activity sample.
const (
	FeatureHourOfDay      = "hour_of_day"
	FeatureDayOfWeek      = "day_of_week"
	FeatureDailyFrequency = "daily_frequency"
	FeatureIPHash         = "ip_hash"
	FeatureUserAgentHash  = "user_agent_hash"
)

// BehaviorPattern is one sample in the append-only per-(user, activity-type)
// behavior time series. RiskScore is the score computed when the sample was
// recorded, clamped to [0,1].
type BehaviorPattern struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	PatternType string             `json:"patternType"`
	Features    map[string]float64 `json:"features"`
	Timestamp   time.Time          `json:"timestamp"`
	RiskScore   float64            `json:"riskScore"`
}

// Feature returns a named feature value, or 0 when absent.
func (p *BehaviorPattern) Feature(name string) float64 {
	if p.Features == nil {
		return 0
	}
	return p.Features[name]
}
