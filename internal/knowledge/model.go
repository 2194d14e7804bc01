package knowledge

import (
	"time"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/types"
)

// RecordKind classifies a knowledge record within its tradition
type RecordKind string

const (
	// RecordKindDisease covers Avicennan and Ayurvedic disease entries
	RecordKindDisease RecordKind = "disease"
	// RecordKindPattern covers TCM disharmony patterns
	RecordKindPattern RecordKind = "pattern"
)

// Record is a knowledge-base entry from one tradition. Records are loaded
// eagerly at startup and never mutated at runtime.
type Record struct {
	ID        types.ID            `json:"id"`
	Tradition findings.Tradition  `json:"tradition"`
	Kind      RecordKind          `json:"kind"`
	Name      string              `json:"name"`
	LocalName string              `json:"local_name,omitempty"`
	Category  string              `json:"category,omitempty"`

	// Characteristics shares the finding-bag shape; matching compares the
	// two maps attribute by attribute.
	Characteristics map[findings.Attribute]string `json:"characteristics"`

	// Tradition-specific fields
	Mizaj   string   `json:"mizaj,omitempty"`   // AVICENNA: hot/cold x dry/moist constitution
	Dosha   string   `json:"dosha,omitempty"`   // AYURVEDA: dominant dosha
	Organs  []string `json:"organs,omitempty"`  // TCM: affected organs/meridians
	Pattern string   `json:"pattern,omitempty"` // TCM: imbalance pattern name

	Contraindications []string  `json:"contraindications,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// TreatmentKind classifies a treatment entry
type TreatmentKind string

const (
	TreatmentHerb      TreatmentKind = "herb"
	TreatmentFood      TreatmentKind = "food"
	TreatmentLifestyle TreatmentKind = "lifestyle"
	TreatmentProcedure TreatmentKind = "procedure"
)

// TreatmentKinds lists all treatment kinds in presentation order
func TreatmentKinds() []TreatmentKind {
	return []TreatmentKind{TreatmentHerb, TreatmentFood, TreatmentLifestyle, TreatmentProcedure}
}

// TreatmentEntry is one treatment associated with a knowledge record
type TreatmentEntry struct {
	ID        types.ID           `json:"id"`
	RecordID  types.ID           `json:"record_id"`
	Tradition findings.Tradition `json:"tradition"`
	Kind      TreatmentKind      `json:"kind"`
	Name      string             `json:"name"`
	Dosage    string             `json:"dosage,omitempty"`
	Frequency string             `json:"frequency,omitempty"`
	Duration  string             `json:"duration,omitempty"`
	Cautions  []string           `json:"cautions,omitempty"`
	Reference string             `json:"reference,omitempty"`
}

// ConstitutionKey returns the record's constitutional index key: mizaj for
// Avicennan records, dosha for Ayurvedic, first organ for TCM.
func (r Record) ConstitutionKey() string {
	switch r.Tradition {
	case findings.TraditionAvicenna:
		return r.Mizaj
	case findings.TraditionAyurveda:
		return r.Dosha
	case findings.TraditionTCM:
		if len(r.Organs) > 0 {
			return r.Organs[0]
		}
	}
	return ""
}
