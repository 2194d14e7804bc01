package feedback

import (
	"context"
	"testing"
	"time"

	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/types"
)

var (
	patientA = types.MustParseID("00000000-0000-0000-0000-00000000000a")
	patientB = types.MustParseID("00000000-0000-0000-0000-00000000000b")
	rec42    = types.MustParseID("00000000-0000-0000-0000-000000000042")
)

func TestEventValidate(t *testing.T) {
	valid := Event{PatientID: patientA, RecommendationID: rec42, SymptomImprovement: 3}
	if err := valid.Validate(); err != nil {
		t.Errorf("valid event rejected: %v", err)
	}

	tests := []struct {
		name  string
		event Event
	}{
		{"missing patient", Event{RecommendationID: rec42, SymptomImprovement: 3}},
		{"missing recommendation", Event{PatientID: patientA, SymptomImprovement: 3}},
		{"improvement too low", Event{PatientID: patientA, RecommendationID: rec42, SymptomImprovement: 0}},
		{"improvement too high", Event{PatientID: patientA, RecommendationID: rec42, SymptomImprovement: 6}},
		{"bad compliance", Event{PatientID: patientA, RecommendationID: rec42, SymptomImprovement: 3, Compliance: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.event.Validate(); !errors.Is(err, errors.ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestSuccessPredicate(t *testing.T) {
	tests := []struct {
		improvement int
		blocking    bool
		want        bool
	}{
		{3, false, true},
		{5, false, true},
		{2, false, false},
		{4, true, false},
	}
	for _, tt := range tests {
		e := Event{SymptomImprovement: tt.improvement, BlockingSideEffect: tt.blocking}
		if got := e.Successful(); got != tt.want {
			t.Errorf("Successful(improvement=%d blocking=%v) = %v, want %v", tt.improvement, tt.blocking, got, tt.want)
		}
	}
}

func TestMemoryStoreAppendIdempotency(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	at := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	first := &Event{PatientID: patientA, RecommendationID: rec42, CreatedAt: at, SymptomImprovement: 4}
	if err := store.Append(ctx, first); err != nil {
		t.Fatalf("Append: %v", err)
	}

	dup := &Event{PatientID: patientA, RecommendationID: rec42, CreatedAt: at, SymptomImprovement: 2}
	err := store.Append(ctx, dup)
	if !errors.Is(err, errors.ErrDuplicateEvent) {
		t.Errorf("expected ErrDuplicateEvent, got %v", err)
	}

	// Same pair at a different timestamp is a new event
	later := &Event{PatientID: patientA, RecommendationID: rec42, CreatedAt: at.Add(time.Hour), SymptomImprovement: 5}
	if err := store.Append(ctx, later); err != nil {
		t.Errorf("append at new timestamp should succeed: %v", err)
	}

	events, _ := store.Query(ctx, Filter{RecommendationID: rec42})
	if len(events) != 2 {
		t.Errorf("expected 2 stored events, got %d", len(events))
	}
}

func TestMemoryStoreQueryFilter(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		event := &Event{PatientID: patientA, RecommendationID: rec42, CreatedAt: base.AddDate(0, 0, i), SymptomImprovement: 4}
		if err := store.Append(ctx, event); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
	other := &Event{PatientID: patientB, RecommendationID: rec42, CreatedAt: base, SymptomImprovement: 1}
	if err := store.Append(ctx, other); err != nil {
		t.Fatalf("Append: %v", err)
	}

	byPatient, _ := store.Query(ctx, Filter{PatientID: patientA})
	if len(byPatient) != 3 {
		t.Errorf("patient filter returned %d events, want 3", len(byPatient))
	}

	since, _ := store.Query(ctx, Filter{RecommendationID: rec42, Since: base.AddDate(0, 0, 1)})
	if len(since) != 2 {
		t.Errorf("since filter returned %d events, want 2", len(since))
	}

	// Results ordered oldest first
	all, _ := store.Query(ctx, Filter{})
	for i := 1; i < len(all); i++ {
		if all[i].CreatedAt.Before(all[i-1].CreatedAt) {
			t.Fatal("query results not ordered by created_at")
		}
	}
}
