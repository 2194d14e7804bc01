package recommend

import (
	"time"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Plan timing defaults; advisory metadata, not enforced timers
const (
	DefaultPlanDays     = 30
	DefaultFollowUpDays = 14
)

// Entry is one treatment in a composed plan. Tradition provenance is kept
// on every entry.
type Entry struct {
	Tradition findings.Tradition      `json:"tradition"`
	Kind      knowledge.TreatmentKind `json:"kind"`
	Name      string                  `json:"name"`
	Dosage    string                  `json:"dosage,omitempty"`
	Frequency string                  `json:"frequency,omitempty"`
	Duration  string                  `json:"duration,omitempty"`
	Cautions  []string                `json:"cautions,omitempty"`
	Reference string                  `json:"reference,omitempty"`

	// Source record the entry was drawn from
	SourceRecordID   types.ID `json:"source_record_id"`
	SourceRecordName string   `json:"source_record_name"`
}

// Group is the plan's per-kind presentation bucket
type Group struct {
	Kind    knowledge.TreatmentKind `json:"kind"`
	Entries []Entry                 `json:"entries"`
}

// Plan is a composed treatment plan grouped by treatment kind
type Plan struct {
	Groups       []Group `json:"groups"`
	PlanDays     int     `json:"plan_days"`
	FollowUpDays int     `json:"follow_up_days"`
}

// Entries flattens the plan's groups in presentation order
func (p Plan) Entries() []Entry {
	var out []Entry
	for _, g := range p.Groups {
		out = append(out, g.Entries...)
	}
	return out
}

// Recommendation is the persisted plan for one diagnosis. Re-ranking after
// feedback updates the row in place and bumps the version.
type Recommendation struct {
	ID          types.ID `json:"id"`
	DiagnosisID types.ID `json:"diagnosis_id"`
	PatientID   types.ID `json:"patient_id"`
	Version     int      `json:"version"`
	Plan        Plan     `json:"plan"`

	// SourceMatches preserves the match set the plan was composed from
	SourceMatches map[findings.Tradition][]matching.MatchResult `json:"source_matches,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
