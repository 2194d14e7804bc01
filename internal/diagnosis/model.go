package diagnosis

import (
	"time"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Status of a diagnosis record
type Status string

const (
	// StatusComplete means extraction and matching both ran
	StatusComplete Status = "complete"
	// StatusDegraded means the vision provider was unavailable; the
	// diagnosis is recorded with an empty finding bag and no matches
	StatusDegraded Status = "degraded"
)

// Diagnosis is one completed analysis of a patient biosignal: the
// extracted finding bag plus the per-tradition match sets scored against
// it. Diagnoses are immutable once written.
type Diagnosis struct {
	ID                types.ID                                      `json:"id"`
	PatientID         types.ID                                      `json:"patient_id"`
	AnalysisKind      findings.AnalysisKind                         `json:"analysis_kind"`
	Status            Status                                        `json:"status"`
	Findings          findings.Bag                                  `json:"findings"`
	FindingConfidence float64                                       `json:"finding_confidence"`
	AdvisoryNotes     []string                                      `json:"advisory_notes,omitempty"`
	Matches           map[findings.Tradition][]matching.MatchResult `json:"matches,omitempty"`
	CreatedAt         time.Time                                     `json:"created_at"`
	UpdatedAt         time.Time                                     `json:"updated_at"`
}
