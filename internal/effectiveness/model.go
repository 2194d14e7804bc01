package effectiveness

import (
	"time"
)

// Scope is the granularity at which effectiveness is aggregated
type Scope string

const (
	ScopeRecommendation Scope = "recommendation"
	ScopeCondition      Scope = "condition"
	ScopeHerb           Scope = "herb"
)

// ParseScope validates a scope string
func ParseScope(s string) (Scope, bool) {
	switch Scope(s) {
	case ScopeRecommendation, ScopeCondition, ScopeHerb:
		return Scope(s), true
	}
	return "", false
}

// Trend is the direction of change in success rate between the recent and
// older halves of the window
type Trend string

const (
	TrendImproving Trend = "improving"
	TrendStable    Trend = "stable"
	TrendDeclining Trend = "declining"
)

// Snapshot is the aggregated effectiveness of one scope over the rolling
// window. score = successful/total; confidence grows with sample size and
// is bounded in [0.5, 1].
type Snapshot struct {
	Scope           Scope     `json:"scope"`
	ScopeID         string    `json:"scope_id"`
	WindowDays      int       `json:"window_days"`
	Score           float64   `json:"score"`
	Confidence      float64   `json:"confidence"`
	SampleSize      int       `json:"sample_size"`
	SuccessfulCases int       `json:"successful_cases"`
	TotalCases      int       `json:"total_cases"`
	AverageRating   float64   `json:"average_rating"`
	Trend           Trend     `json:"trend"`
	LastUpdated     time.Time `json:"last_updated"`
}
