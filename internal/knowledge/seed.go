package knowledge

import (
	"context"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/types"
)

// SeedSource is the built-in starter dataset used when neither the
// database nor the legacy import is available. It covers the common
// tongue presentations of all three traditions so the engine is usable
// out of the box.
type SeedSource struct{}

// Seed returns the starter knowledge source
func Seed() SeedSource {
	return SeedSource{}
}

func seedRecordID(name string) types.ID {
	return types.NewDeterministicID("seed-record", name)
}

func seedTreatmentID(record, name string) types.ID {
	return types.NewDeterministicID("seed-treatment", record+":"+name)
}

func (SeedSource) LoadRecords(ctx context.Context) ([]Record, error) {
	return []Record{
		{
			ID: seedRecordID("Hararat-e Mizaj"), Tradition: findings.TraditionAvicenna,
			Kind: RecordKindDisease, Name: "Hararat-e Mizaj", LocalName: "حرارت مزاج",
			Category: "temperament", Mizaj: "garm_khoshk",
			Characteristics: map[findings.Attribute]string{
				findings.AttrMizaj:    "garm_khoshk",
				findings.AttrColor:    "red",
				findings.AttrCoating:  "yellow",
				findings.AttrMoisture: "dry",
			},
		},
		{
			ID: seedRecordID("Boroodat-e Mizaj"), Tradition: findings.TraditionAvicenna,
			Kind: RecordKindDisease, Name: "Boroodat-e Mizaj", LocalName: "برودت مزاج",
			Category: "temperament", Mizaj: "sard_tar",
			Characteristics: map[findings.Attribute]string{
				findings.AttrMizaj:    "sard_tar",
				findings.AttrColor:    "pale",
				findings.AttrCoating:  "thick_white",
				findings.AttrMoisture: "wet",
			},
		},
		{
			ID: seedRecordID("Stomach Heat"), Tradition: findings.TraditionTCM,
			Kind: RecordKindPattern, Name: "Stomach Heat", LocalName: "胃热",
			Category: "heat", Pattern: "stomach_heat", Organs: []string{"stomach"},
			Characteristics: map[findings.Attribute]string{
				findings.AttrColor:    "red",
				findings.AttrCoating:  "yellow",
				findings.AttrMoisture: "dry",
				findings.AttrShape:    "normal",
			},
		},
		{
			ID: seedRecordID("Spleen Qi Deficiency"), Tradition: findings.TraditionTCM,
			Kind: RecordKindPattern, Name: "Spleen Qi Deficiency", LocalName: "脾气虚",
			Category: "deficiency", Pattern: "spleen_qi_deficiency", Organs: []string{"spleen"},
			Characteristics: map[findings.Attribute]string{
				findings.AttrColor:    "pale",
				findings.AttrCoating:  "thin_white",
				findings.AttrMoisture: "wet",
				findings.AttrShape:    "swollen",
			},
		},
		{
			ID: seedRecordID("Blood Stasis"), Tradition: findings.TraditionTCM,
			Kind: RecordKindPattern, Name: "Blood Stasis", LocalName: "血瘀",
			Category: "stasis", Pattern: "blood_stasis", Organs: []string{"liver"},
			Characteristics: map[findings.Attribute]string{
				findings.AttrColor:    "purple",
				findings.AttrCoating:  "none",
				findings.AttrMoisture: "normal",
				findings.AttrShape:    "stiff",
			},
		},
		{
			ID: seedRecordID("Pitta Vriddhi"), Tradition: findings.TraditionAyurveda,
			Kind: RecordKindDisease, Name: "Pitta Vriddhi", LocalName: "पित्त वृद्धि",
			Category: "dosha_imbalance", Dosha: "pitta",
			Characteristics: map[findings.Attribute]string{
				findings.AttrDosha:    "pitta",
				findings.AttrColor:    "red",
				findings.AttrCoating:  "yellow",
				findings.AttrMoisture: "dry",
			},
		},
		{
			ID: seedRecordID("Vata Vriddhi"), Tradition: findings.TraditionAyurveda,
			Kind: RecordKindDisease, Name: "Vata Vriddhi", LocalName: "वात वृद्धि",
			Category: "dosha_imbalance", Dosha: "vata",
			Characteristics: map[findings.Attribute]string{
				findings.AttrDosha:    "vata",
				findings.AttrColor:    "dark",
				findings.AttrMoisture: "dry",
				findings.AttrCracks:   "true",
			},
		},
		{
			ID: seedRecordID("Kapha Vriddhi"), Tradition: findings.TraditionAyurveda,
			Kind: RecordKindDisease, Name: "Kapha Vriddhi", LocalName: "कफ वृद्धि",
			Category: "dosha_imbalance", Dosha: "kapha",
			Characteristics: map[findings.Attribute]string{
				findings.AttrDosha:    "kapha",
				findings.AttrColor:    "pale",
				findings.AttrCoating:  "thick_white",
				findings.AttrMoisture: "wet",
			},
		},
	}, nil
}

func (SeedSource) LoadTreatments(ctx context.Context) ([]TreatmentEntry, error) {
	entries := []struct {
		record    string
		tradition findings.Tradition
		kind      TreatmentKind
		name      string
		dosage    string
		frequency string
		cautions  []string
	}{
		{"Hararat-e Mizaj", findings.TraditionAvicenna, TreatmentHerb, "Sekanjabin", "30ml", "twice daily", nil},
		{"Hararat-e Mizaj", findings.TraditionAvicenna, TreatmentFood, "Barley water", "", "with meals", nil},
		{"Boroodat-e Mizaj", findings.TraditionAvicenna, TreatmentHerb, "Ginger", "2g", "twice daily", []string{"pregnancy", "gallstones"}},
		{"Boroodat-e Mizaj", findings.TraditionAvicenna, TreatmentHerb, "Cinnamon", "1g", "daily", nil},
		{"Stomach Heat", findings.TraditionTCM, TreatmentHerb, "Huang Lian", "3g", "twice daily", []string{"cold constitution"}},
		{"Stomach Heat", findings.TraditionTCM, TreatmentFood, "Mung bean soup", "", "daily", nil},
		{"Stomach Heat", findings.TraditionTCM, TreatmentLifestyle, "Avoid spicy food", "", "", nil},
		{"Spleen Qi Deficiency", findings.TraditionTCM, TreatmentHerb, "Huang Qi", "9g", "daily", nil},
		{"Spleen Qi Deficiency", findings.TraditionTCM, TreatmentProcedure, "Moxibustion ST36", "", "weekly", nil},
		{"Blood Stasis", findings.TraditionTCM, TreatmentHerb, "Chai Hu", "6g", "daily", []string{"anticoagulants"}},
		{"Pitta Vriddhi", findings.TraditionAyurveda, TreatmentHerb, "Amalaki", "500mg", "twice daily", nil},
		{"Pitta Vriddhi", findings.TraditionAyurveda, TreatmentFood, "Coconut water", "", "daily", nil},
		{"Vata Vriddhi", findings.TraditionAyurveda, TreatmentHerb, "Ashwagandha", "600mg", "daily", []string{"hyperthyroidism"}},
		{"Vata Vriddhi", findings.TraditionAyurveda, TreatmentLifestyle, "Abhyanga oil massage", "", "weekly", nil},
		{"Kapha Vriddhi", findings.TraditionAyurveda, TreatmentHerb, "Trikatu", "500mg", "daily", []string{"peptic ulcer"}},
	}

	out := make([]TreatmentEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, TreatmentEntry{
			ID:        seedTreatmentID(e.record, e.name),
			RecordID:  seedRecordID(e.record),
			Tradition: e.tradition,
			Kind:      e.kind,
			Name:      e.name,
			Dosage:    e.dosage,
			Frequency: e.frequency,
			Cautions:  e.cautions,
		})
	}
	return out, nil
}
