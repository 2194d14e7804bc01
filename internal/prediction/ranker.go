package prediction

import (
	"context"
	"math"
	"sort"
	"strings"

	"github.com/triveda-health/platform/internal/effectiveness"
	"github.com/triveda-health/platform/internal/feedback"
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/patient"
	"github.com/triveda-health/platform/internal/recommend"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Composite score coefficients
// Contraindicated candidates are filtered before scoring, never demoted,
// so no penalty coefficient appears in the composite.
const (
	alphaPrior         = 0.3
	betaEffectiveness  = 0.4
	gammaSimilarity    = 0.2
	neutralScore       = 0.5
	similarPatientsK   = 10
	priorPatientsLimit = 500
)

// Candidate is one plan entry under consideration, with the normalized
// match score of the record it was drawn from
type Candidate struct {
	ID    types.ID        `json:"id"`
	Entry recommend.Entry `json:"entry"`
	Prior float64         `json:"prior"`
}

// Ranked is a candidate with its composite score and the factors behind it
type Ranked struct {
	Candidate
	Composite               float64 `json:"composite"`
	EffectivenessScore      float64 `json:"effectiveness_score"`
	EffectivenessConfidence float64 `json:"effectiveness_confidence"`
	Similarity              float64 `json:"similarity"`
}

// Ranker orders candidate plan entries for a specific patient using
// effectiveness history and profile similarity
type Ranker struct {
	analyzer *effectiveness.Analyzer
	patients patient.Repository
	feedback feedback.Store
	recs     recommend.Repository
}

// NewRanker creates a prediction ranker
func NewRanker(analyzer *effectiveness.Analyzer, patients patient.Repository, store feedback.Store, recs recommend.Repository) *Ranker {
	return &Ranker{analyzer: analyzer, patients: patients, feedback: store, recs: recs}
}

// Rank filters contraindicated candidates outright, scores the rest, and
// returns them in strict total order: composite descending, ties broken by
// candidate id.
func (r *Ranker) Rank(ctx context.Context, profile patient.Profile, candidates []Candidate) ([]Ranked, error) {
	similar, err := r.similarPatients(ctx, profile)
	if err != nil {
		return nil, err
	}

	var ranked []Ranked
	for _, c := range candidates {
		if profile.Contraindicates(c.Entry.Name) {
			continue
		}

		effScore, effConf := r.effectivenessFactors(ctx, c.Entry)
		similarity, err := r.similarityScore(ctx, c.Entry, similar)
		if err != nil {
			return nil, err
		}

		ranked = append(ranked, Ranked{
			Candidate:               c,
			Composite:               alphaPrior*c.Prior + betaEffectiveness*effScore*effConf + gammaSimilarity*similarity,
			EffectivenessScore:      effScore,
			EffectivenessConfidence: effConf,
			Similarity:              similarity,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Composite != ranked[j].Composite {
			return ranked[i].Composite > ranked[j].Composite
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked, nil
}

// effectivenessFactors resolves the candidate's effectiveness scope: herb
// scope for herb entries, condition scope of the source record otherwise.
// Missing history yields the neutral 0.5/0.5.
func (r *Ranker) effectivenessFactors(ctx context.Context, entry recommend.Entry) (float64, float64) {
	var snapshot *effectiveness.Snapshot
	var err error
	if entry.Kind == knowledge.TreatmentHerb {
		snapshot, err = r.analyzer.Snapshot(ctx, effectiveness.ScopeHerb, entry.Name)
	} else if !entry.SourceRecordID.IsZero() {
		snapshot, err = r.analyzer.Snapshot(ctx, effectiveness.ScopeCondition, entry.SourceRecordID.String())
	}
	if err != nil || snapshot == nil {
		return neutralScore, neutralScore
	}
	return snapshot.Score, snapshot.Confidence
}

// similarPatient pairs a prior patient with their profile similarity
type similarPatient struct {
	profile    patient.Profile
	similarity float64
}

// similarPatients returns the k most similar prior patients by cosine over
// the 0/1 profile feature vector
func (r *Ranker) similarPatients(ctx context.Context, profile patient.Profile) ([]similarPatient, error) {
	priors, err := r.patients.List(ctx, priorPatientsLimit)
	if err != nil {
		return nil, err
	}

	target, err := r.featureSet(ctx, profile)
	if err != nil {
		return nil, err
	}

	var similar []similarPatient
	for _, prior := range priors {
		if prior.ID == profile.ID {
			continue
		}
		features, err := r.featureSet(ctx, prior)
		if err != nil {
			return nil, err
		}
		if sim := cosine(target, features); sim > 0 {
			similar = append(similar, similarPatient{profile: prior, similarity: sim})
		}
	}

	sort.Slice(similar, func(i, j int) bool {
		if similar[i].similarity != similar[j].similarity {
			return similar[i].similarity > similar[j].similarity
		}
		return similar[i].profile.ID < similar[j].profile.ID
	})
	if len(similar) > similarPatientsK {
		similar = similar[:similarPatientsK]
	}
	return similar, nil
}

// featureSet builds the 0/1 feature vector of a profile: age bucket, sex,
// constitutional type, and the traditions their past recommendations drew
// from
func (r *Ranker) featureSet(ctx context.Context, profile patient.Profile) (map[string]struct{}, error) {
	features := map[string]struct{}{
		"age:" + profile.AgeBucket(): {},
		"sex:" + string(profile.Sex): {},
	}
	if profile.ConstitutionValue != "" {
		features["constitution:"+profile.ConstitutionSystem+":"+profile.ConstitutionValue] = struct{}{}
	}
	for _, tradition := range r.patientTraditions(ctx, profile.ID) {
		features["tradition:"+string(tradition)] = struct{}{}
	}
	return features, nil
}

// patientTraditions lists the traditions appearing in the patient's stored
// recommendations
func (r *Ranker) patientTraditions(ctx context.Context, patientID types.ID) []findings.Tradition {
	recs, err := r.recs.List(ctx)
	if err != nil {
		return nil
	}
	seen := make(map[findings.Tradition]struct{})
	for _, rec := range recs {
		if rec.PatientID != patientID {
			continue
		}
		for _, entry := range rec.Plan.Entries() {
			seen[entry.Tradition] = struct{}{}
		}
	}
	out := make([]findings.Tradition, 0, len(seen))
	for _, tradition := range findings.Traditions() {
		if _, ok := seen[tradition]; ok {
			out = append(out, tradition)
		}
	}
	return out
}

// similarityScore is the mean success rate of the candidate treatment over
// the similar patients' feedback. Patients with no relevant events are
// skipped; no data at all yields the neutral 0.5.
func (r *Ranker) similarityScore(ctx context.Context, entry recommend.Entry, similar []similarPatient) (float64, error) {
	var rateSum float64
	var rated int

	for _, s := range similar {
		rate, ok, err := r.successRate(ctx, s.profile.ID, entry.Name)
		if err != nil {
			return 0, err
		}
		if ok {
			rateSum += rate
			rated++
		}
	}

	if rated == 0 {
		return neutralScore, nil
	}
	return rateSum / float64(rated), nil
}

// successRate computes one patient's success rate over feedback for
// recommendations whose plan contains the treatment
func (r *Ranker) successRate(ctx context.Context, patientID types.ID, treatment string) (float64, bool, error) {
	recs, err := r.recs.List(ctx)
	if err != nil {
		return 0, false, err
	}

	var total, successful int
	for _, rec := range recs {
		if rec.PatientID != patientID || !planContains(rec.Plan, treatment) {
			continue
		}
		events, err := r.feedback.Query(ctx, feedback.Filter{PatientID: patientID, RecommendationID: rec.ID})
		if err != nil {
			return 0, false, err
		}
		for _, e := range events {
			total++
			if e.Successful() {
				successful++
			}
		}
	}

	if total == 0 {
		return 0, false, nil
	}
	return float64(successful) / float64(total), true, nil
}

func planContains(plan recommend.Plan, treatment string) bool {
	for _, entry := range plan.Entries() {
		if strings.EqualFold(entry.Name, treatment) {
			return true
		}
	}
	return false
}

// cosine over two 0/1 feature sets
func cosine(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	var overlap int
	for f := range a {
		if _, ok := b[f]; ok {
			overlap++
		}
	}
	return float64(overlap) / (math.Sqrt(float64(len(a))) * math.Sqrt(float64(len(b))))
}

// CandidatesFromPlan builds ranking candidates from a composed plan, with
// each entry's prior taken from the match score of its source record.
// Candidate ids are derived deterministically so tie-breaking is stable.
func CandidatesFromPlan(plan recommend.Plan, matchSet map[findings.Tradition][]matching.MatchResult) []Candidate {
	priors := make(map[types.ID]float64)
	for _, matches := range matchSet {
		for _, m := range matches {
			priors[m.RecordID] = m.Score
		}
	}

	var candidates []Candidate
	for _, entry := range plan.Entries() {
		candidates = append(candidates, Candidate{
			ID:    types.NewDeterministicID("candidate", string(entry.Tradition)+":"+string(entry.Kind)+":"+strings.ToLower(entry.Name)),
			Entry: entry,
			Prior: priors[entry.SourceRecordID],
		})
	}
	return candidates
}
