package patient

import (
	"strings"
	"time"

	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Sex as declared on the profile
type Sex string

const (
	SexMale   Sex = "male"
	SexFemale Sex = "female"
	SexOther  Sex = "other"
)

// Constitution systems a profile may declare its type in
const (
	ConstitutionMizaj = "mizaj"
	ConstitutionDosha = "dosha"
)

// Profile is the per-patient record used by composition filtering and
// prediction ranking
type Profile struct {
	ID       types.ID `json:"id"`
	FullName string   `json:"full_name"`
	Age      int      `json:"age"`
	Sex      Sex      `json:"sex"`

	// Constitutional type, declared or inferred from prior analyses
	ConstitutionSystem string `json:"constitution_system,omitempty"`
	ConstitutionValue  string `json:"constitution_value,omitempty"`

	// Contraindications lists treatment names the patient must not receive
	Contraindications []string `json:"contraindications,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks profile fields on create and update
func (p Profile) Validate() error {
	details := make(map[string]string)
	if strings.TrimSpace(p.FullName) == "" {
		details["full_name"] = "required"
	}
	if p.Age < 0 || p.Age > 150 {
		details["age"] = "must be between 0 and 150"
	}
	switch p.Sex {
	case SexMale, SexFemale, SexOther:
	default:
		details["sex"] = "must be male, female, or other"
	}
	if p.ConstitutionSystem != "" && p.ConstitutionSystem != ConstitutionMizaj && p.ConstitutionSystem != ConstitutionDosha {
		details["constitution_system"] = "must be mizaj or dosha"
	}
	if len(details) > 0 {
		return errors.Validation("invalid patient profile", details)
	}
	return nil
}

// AgeBucket assigns the profile to the coarse age band used for patient
// similarity
func (p Profile) AgeBucket() string {
	switch {
	case p.Age < 13:
		return "child"
	case p.Age < 20:
		return "adolescent"
	case p.Age < 40:
		return "adult"
	case p.Age < 60:
		return "middle"
	default:
		return "senior"
	}
}

// Contraindicates reports whether a treatment name is on the patient's
// contraindication list. Comparison is case-insensitive.
func (p Profile) Contraindicates(name string) bool {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, c := range p.Contraindications {
		if strings.ToLower(strings.TrimSpace(c)) == name {
			return true
		}
	}
	return false
}
