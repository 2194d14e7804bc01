package feedback

import (
	"time"

	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Compliance levels a patient may report
const (
	ComplianceFull    = "full"
	CompliancePartial = "partial"
	ComplianceNone    = "none"
)

// Event is one immutable feedback record on a recommendation. Identity for
// idempotency purposes is (patient_id, recommendation_id, created_at).
type Event struct {
	ID                 types.ID  `json:"id"`
	PatientID          types.ID  `json:"patient_id"`
	RecommendationID   types.ID  `json:"recommendation_id"`
	CreatedAt          time.Time `json:"created_at"`
	SymptomImprovement int       `json:"symptom_improvement"` // 1..5
	SideEffects        string    `json:"side_effects,omitempty"`
	BlockingSideEffect bool      `json:"blocking_side_effect"`
	Compliance         string    `json:"compliance,omitempty"`
	FreeText           string    `json:"free_text,omitempty"`
}

// Validate checks event fields before append
func (e Event) Validate() error {
	details := make(map[string]string)
	if e.PatientID.IsZero() {
		details["patient_id"] = "required"
	}
	if e.RecommendationID.IsZero() {
		details["recommendation_id"] = "required"
	}
	if e.SymptomImprovement < 1 || e.SymptomImprovement > 5 {
		details["symptom_improvement"] = "must be between 1 and 5"
	}
	switch e.Compliance {
	case "", ComplianceFull, CompliancePartial, ComplianceNone:
	default:
		details["compliance"] = "must be full, partial, or none"
	}
	if len(details) > 0 {
		return errors.Validation("invalid feedback event", details)
	}
	return nil
}

// Successful reports whether the event counts as a success for
// effectiveness aggregation: meaningful improvement with no blocking
// side effect.
func (e Event) Successful() bool {
	return e.SymptomImprovement >= 3 && !e.BlockingSideEffect
}

// Filter narrows a feedback query. Zero fields match everything.
type Filter struct {
	PatientID        types.ID
	RecommendationID types.ID
	Since            time.Time
}

func (f Filter) matches(e Event) bool {
	if !f.PatientID.IsZero() && e.PatientID != f.PatientID {
		return false
	}
	if !f.RecommendationID.IsZero() && e.RecommendationID != f.RecommendationID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}
