package recommend

import (
	"strings"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/patient"
)

// maxPerTradition caps the number of plan entries drawn from one tradition
const maxPerTradition = 5

// Composer assembles treatment plans from match results
type Composer struct {
	store *knowledge.Store
}

// NewComposer creates a composer over a loaded knowledge store
func NewComposer(store *knowledge.Store) *Composer {
	return &Composer{store: store}
}

// Compose builds a plan from the top matches of each tradition: up to five
// entries per tradition in match order, deduplicated by
// (tradition, kind, name), filtered against the patient's contraindication
// list, grouped by treatment kind.
func (c *Composer) Compose(matchSet map[findings.Tradition][]matching.MatchResult, profile patient.Profile) Plan {
	type dedupeKey struct {
		tradition findings.Tradition
		kind      knowledge.TreatmentKind
		name      string
	}
	seen := make(map[dedupeKey]struct{})
	byKind := make(map[knowledge.TreatmentKind][]Entry)

	for _, tradition := range findings.Traditions() {
		taken := 0
		for _, match := range matchSet[tradition] {
			if taken >= maxPerTradition {
				break
			}
			entries, err := c.store.Treatments(tradition, match.RecordID)
			if err != nil {
				continue
			}
			for _, treatment := range entries {
				if taken >= maxPerTradition {
					break
				}
				if profile.Contraindicates(treatment.Name) {
					continue
				}
				key := dedupeKey{tradition, treatment.Kind, strings.ToLower(treatment.Name)}
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				byKind[treatment.Kind] = append(byKind[treatment.Kind], Entry{
					Tradition:        tradition,
					Kind:             treatment.Kind,
					Name:             treatment.Name,
					Dosage:           treatment.Dosage,
					Frequency:        treatment.Frequency,
					Duration:         treatment.Duration,
					Cautions:         treatment.Cautions,
					Reference:        treatment.Reference,
					SourceRecordID:   match.RecordID,
					SourceRecordName: match.RecordName,
				})
				taken++
			}
		}
	}

	plan := Plan{PlanDays: DefaultPlanDays, FollowUpDays: DefaultFollowUpDays}
	for _, kind := range knowledge.TreatmentKinds() {
		if entries := byKind[kind]; len(entries) > 0 {
			plan.Groups = append(plan.Groups, Group{Kind: kind, Entries: entries})
		}
	}
	return plan
}
