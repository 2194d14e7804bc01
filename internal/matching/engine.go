package matching

import (
	"sort"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/shared/metrics"
	"github.com/triveda-health/platform/internal/shared/types"
)

const (
	// scoreThreshold is the minimum raw score a record needs to be reported
	scoreThreshold = 0.5
	// topK caps the number of reported matches per tradition
	topK = 5
	// maxSupporting caps the supporting findings list per match
	maxSupporting = 5

	// adjacentCredit is the partial match credit for adjacent values
	adjacentCredit = 0.5

	severityHighMin     = 0.8
	severityModerateMin = 0.6
)

// Severity is a coarse UI bucket over the match score
type Severity string

const (
	SeverityHigh     Severity = "high"
	SeverityModerate Severity = "moderate"
	SeverityLow      Severity = "low"
)

// SupportingFinding is one bag attribute that supported a match. Attributes
// the record does not constrain appear with contribution 0.
type SupportingFinding struct {
	Attribute    findings.Attribute `json:"attribute"`
	Value        string             `json:"value"`
	Contribution float64            `json:"contribution"`
}

// MatchResult is one scored knowledge record
type MatchResult struct {
	RecordID   types.ID             `json:"record_id"`
	Tradition  findings.Tradition   `json:"tradition"`
	RecordName string               `json:"record_name"`
	RecordKind knowledge.RecordKind `json:"record_kind"`
	Score      float64              `json:"score"`
	Confidence float64              `json:"confidence"`
	Severity   Severity             `json:"severity"`
	Supporting []SupportingFinding  `json:"supporting_findings"`
}

// SampleSizeFn reports the effectiveness sample size for a record; used
// only to break score ties. May be nil.
type SampleSizeFn func(recordID types.ID) (int, bool)

// Engine scores finding bags against the knowledge store. Matching is a
// pure function of the bag and the store snapshot; the engine holds no
// mutable state.
type Engine struct {
	store *knowledge.Store
}

// NewEngine creates a matching engine over a loaded store
func NewEngine(store *knowledge.Store) *Engine {
	return &Engine{store: store}
}

// Match returns the top matches of one tradition for a bag, ordered by
// score descending. Nothing crossing the threshold yields an empty list,
// not an error; a tradition without records is an error.
func (e *Engine) Match(bag findings.Bag, tradition findings.Tradition, sampleSize SampleSizeFn) ([]MatchResult, error) {
	records, err := e.store.Records(tradition)
	if err != nil {
		return nil, err
	}

	var results []MatchResult
	for _, record := range records {
		score, supporting := scoreRecord(bag, record)
		if score < scoreThreshold {
			continue
		}
		results = append(results, MatchResult{
			RecordID:   record.ID,
			Tradition:  tradition,
			RecordName: record.Name,
			RecordKind: record.Kind,
			Score:      score,
			Confidence: clamp01(score * bag.Confidence),
			Severity:   severityFor(score),
			Supporting: supporting,
		})
		metrics.RecordMatchScore(string(tradition), score)
	}
	metrics.RecordMatching(string(tradition), len(records))

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		si, sj := -1, -1
		if sampleSize != nil {
			if n, ok := sampleSize(results[i].RecordID); ok {
				si = n
			}
			if n, ok := sampleSize(results[j].RecordID); ok {
				sj = n
			}
		}
		if si != sj {
			return si > sj
		}
		return results[i].RecordID < results[j].RecordID
	})

	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// MatchAll scores the bag against every tradition; used by the
// cross-tradition comparison view
func (e *Engine) MatchAll(bag findings.Bag, sampleSize SampleSizeFn) (map[findings.Tradition][]MatchResult, error) {
	out := make(map[findings.Tradition][]MatchResult, 3)
	for _, tradition := range findings.Traditions() {
		results, err := e.Match(bag, tradition, sampleSize)
		if err != nil {
			return nil, err
		}
		out[tradition] = results
	}
	return out, nil
}

// scoreRecord computes the weighted score over attributes present in both
// the bag and the record, and collects the supporting findings: matched
// attributes ordered by contribution, then attributes the record leaves
// unconstrained.
func scoreRecord(bag findings.Bag, record knowledge.Record) (float64, []SupportingFinding) {
	weights := attributeWeights(record.Tradition, bag, record)

	var num, den float64
	var supporting []SupportingFinding
	for attr, bagValue := range bag.Attributes {
		recordValue, constrained := record.Characteristics[attr]
		if !constrained {
			supporting = append(supporting, SupportingFinding{Attribute: attr, Value: bagValue})
			continue
		}

		w := weights[attr]
		if w == 0 {
			continue
		}
		m := matchValue(attr, bagValue, recordValue)
		num += w * m
		den += w

		if m > 0 {
			supporting = append(supporting, SupportingFinding{
				Attribute:    attr,
				Value:        bagValue,
				Contribution: w * m,
			})
		}
	}

	if den == 0 {
		return 0, nil
	}

	sort.Slice(supporting, func(i, j int) bool {
		if supporting[i].Contribution != supporting[j].Contribution {
			return supporting[i].Contribution > supporting[j].Contribution
		}
		return supporting[i].Attribute < supporting[j].Attribute
	})
	if len(supporting) > maxSupporting {
		supporting = supporting[:maxSupporting]
	}

	return num / den, supporting
}

// matchValue scores one attribute pair: exact equality 1, declared
// adjacency half credit, else 0
func matchValue(attr findings.Attribute, bagValue, recordValue string) float64 {
	if bagValue == recordValue {
		return 1
	}
	if findings.Adjacent(attr, bagValue, recordValue) {
		return adjacentCredit
	}
	return 0
}

func severityFor(score float64) Severity {
	switch {
	case score >= severityHighMin:
		return SeverityHigh
	case score >= severityModerateMin:
		return SeverityModerate
	default:
		return SeverityLow
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
