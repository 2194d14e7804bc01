package effectiveness

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/triveda-health/platform/internal/feedback"
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/recommend"
	"github.com/triveda-health/platform/internal/shared/types"
)

var (
	testNow  = time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC)
	patientX = types.MustParseID("00000000-0000-0000-0000-0000000000aa")
	rec42    = types.MustParseID("00000000-0000-0000-0000-000000000042")
)

func fixedClock() time.Time { return testNow }

func appendEvent(t *testing.T, store feedback.Store, recID types.ID, at time.Time, improvement int, blocking bool) {
	t.Helper()
	err := store.Append(context.Background(), &feedback.Event{
		PatientID:          patientX,
		RecommendationID:   recID,
		CreatedAt:          at,
		SymptomImprovement: improvement,
		BlockingSideEffect: blocking,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
}

func TestSnapshotAggregation(t *testing.T) {
	store := feedback.NewMemoryStore()
	recs := recommend.NewMemoryRepository()
	analyzer := NewAnalyzer(store, recs, WithClock(fixedClock))

	// Recent partition: 10 events, 9 successes
	for i := 0; i < 10; i++ {
		improvement := 4
		if i == 9 {
			improvement = 1
		}
		appendEvent(t, store, rec42, testNow.AddDate(0, 0, -(i%20+1)), improvement, false)
	}
	// Older partition: 10 events, 5 successes
	for i := 0; i < 10; i++ {
		improvement := 4
		if i >= 5 {
			improvement = 2
		}
		appendEvent(t, store, rec42, testNow.AddDate(0, 0, -(40+i)), improvement, false)
	}

	snapshot, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot == nil {
		t.Fatal("expected a snapshot")
	}

	if math.Abs(snapshot.Score-0.70) > 1e-9 {
		t.Errorf("score = %v, want 0.70", snapshot.Score)
	}
	if math.Abs(snapshot.Confidence-0.60) > 1e-9 {
		t.Errorf("confidence = %v, want 0.60", snapshot.Confidence)
	}
	if snapshot.SampleSize != 20 {
		t.Errorf("sample_size = %d, want 20", snapshot.SampleSize)
	}
	if snapshot.Trend != TrendImproving {
		t.Errorf("trend = %s, want improving", snapshot.Trend)
	}
}

func TestSnapshotEmptyWindow(t *testing.T) {
	analyzer := NewAnalyzer(feedback.NewMemoryStore(), recommend.NewMemoryRepository(), WithClock(fixedClock))

	snapshot, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot != nil {
		t.Errorf("expected nil snapshot for empty window, got %+v", snapshot)
	}
}

func TestSnapshotExcludesEventsOutsideWindow(t *testing.T) {
	store := feedback.NewMemoryStore()
	analyzer := NewAnalyzer(store, recommend.NewMemoryRepository(), WithClock(fixedClock))

	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -120), 5, false)
	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -10), 5, false)

	snapshot, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.SampleSize != 1 {
		t.Errorf("sample_size = %d, want 1 (event outside window excluded)", snapshot.SampleSize)
	}
}

func TestSingleSampleBoundaries(t *testing.T) {
	store := feedback.NewMemoryStore()
	analyzer := NewAnalyzer(store, recommend.NewMemoryRepository(), WithClock(fixedClock))

	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -1), 5, false)

	snapshot, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", snapshot.Score)
	}
	if math.Abs(snapshot.Confidence-0.505) > 1e-9 {
		t.Errorf("confidence = %v, want 0.505", snapshot.Confidence)
	}
	// One event cannot establish a trend
	if snapshot.Trend != TrendStable {
		t.Errorf("trend = %s, want stable", snapshot.Trend)
	}
}

func TestTrendRequiresTwoEventsPerPartition(t *testing.T) {
	store := feedback.NewMemoryStore()
	analyzer := NewAnalyzer(store, recommend.NewMemoryRepository(), WithClock(fixedClock))

	// Two recent successes, one older failure: older partition too small
	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -1), 5, false)
	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -2), 5, false)
	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -60), 1, false)

	snapshot, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.Trend != TrendStable {
		t.Errorf("trend = %s, want stable with a thin partition", snapshot.Trend)
	}
}

func TestSnapshotDeterminism(t *testing.T) {
	store := feedback.NewMemoryStore()
	analyzer := NewAnalyzer(store, recommend.NewMemoryRepository(), WithClock(fixedClock))

	for i := 0; i < 7; i++ {
		appendEvent(t, store, rec42, testNow.AddDate(0, 0, -(i+1)), (i%5)+1, i%3 == 0)
	}

	first, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	second, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if *first != *second {
		t.Errorf("repeated snapshots differ: %+v vs %+v", first, second)
	}
}

func savedRecommendation(t *testing.T, recs recommend.Repository, id types.ID, herb string, recordID types.ID) {
	t.Helper()
	rec := &recommend.Recommendation{
		ID:          id,
		DiagnosisID: types.NewID(),
		PatientID:   patientX,
		Plan: recommend.Plan{
			Groups: []recommend.Group{{
				Kind: knowledge.TreatmentHerb,
				Entries: []recommend.Entry{{
					Tradition:      findings.TraditionTCM,
					Kind:           knowledge.TreatmentHerb,
					Name:           herb,
					SourceRecordID: recordID,
				}},
			}},
			PlanDays:     30,
			FollowUpDays: 14,
		},
		SourceMatches: map[findings.Tradition][]matching.MatchResult{
			findings.TraditionTCM: {{RecordID: recordID, Tradition: findings.TraditionTCM}},
		},
	}
	if err := recs.Save(context.Background(), rec); err != nil {
		t.Fatalf("Save: %v", err)
	}
}

func TestDerivedScopes(t *testing.T) {
	store := feedback.NewMemoryStore()
	recs := recommend.NewMemoryRepository()
	analyzer := NewAnalyzer(store, recs, WithClock(fixedClock))

	recordID := types.MustParseID("00000000-0000-0000-0000-000000000077")
	recA := types.MustParseID("00000000-0000-0000-0000-0000000000a1")
	recB := types.MustParseID("00000000-0000-0000-0000-0000000000b1")
	savedRecommendation(t, recs, recA, "Ginger", recordID)
	savedRecommendation(t, recs, recB, "Ginger", recordID)

	appendEvent(t, store, recA, testNow.AddDate(0, 0, -1), 5, false)
	appendEvent(t, store, recB, testNow.AddDate(0, 0, -2), 1, false)

	herb, err := analyzer.Snapshot(context.Background(), ScopeHerb, "ginger")
	if err != nil {
		t.Fatalf("Snapshot(herb): %v", err)
	}
	if herb == nil || herb.SampleSize != 2 {
		t.Fatalf("herb scope should aggregate both recommendations, got %+v", herb)
	}
	if herb.Score != 0.5 {
		t.Errorf("herb score = %v, want 0.5", herb.Score)
	}

	condition, err := analyzer.Snapshot(context.Background(), ScopeCondition, recordID.String())
	if err != nil {
		t.Fatalf("Snapshot(condition): %v", err)
	}
	if condition == nil || condition.SampleSize != 2 {
		t.Fatalf("condition scope should aggregate both recommendations, got %+v", condition)
	}
}

func TestInvalidateRecomputes(t *testing.T) {
	store := feedback.NewMemoryStore()
	recs := recommend.NewMemoryRepository()
	analyzer := NewAnalyzer(store, recs, WithClock(fixedClock))

	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -3), 5, false)

	first, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if first.SampleSize != 1 {
		t.Fatalf("sample_size = %d, want 1", first.SampleSize)
	}

	// A new append inside the freshness window is invisible until
	// invalidation
	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -2), 1, false)
	cached, _ := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if cached.SampleSize != 1 {
		t.Errorf("expected cached snapshot, got sample_size %d", cached.SampleSize)
	}

	analyzer.Invalidate(context.Background(), rec42)
	fresh, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if fresh.SampleSize != 2 {
		t.Errorf("invalidated snapshot not recomputed: sample_size = %d, want 2", fresh.SampleSize)
	}
}

func TestConcurrentSnapshotAndInvalidate(t *testing.T) {
	store := feedback.NewMemoryStore()
	analyzer := NewAnalyzer(store, recommend.NewMemoryRepository(), WithClock(fixedClock))

	appendEvent(t, store, rec42, testNow.AddDate(0, 0, -1), 5, false)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			if _, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, rec42.String()); err != nil {
				t.Errorf("Snapshot: %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			analyzer.Invalidate(context.Background(), rec42)
		}
	}()
	wg.Wait()
}

// flakyStore fails queries for selected recommendations and counts every
// query per scope
type flakyStore struct {
	feedback.Store
	fail    map[types.ID]bool
	queries map[string]int
}

func (s *flakyStore) Query(ctx context.Context, filter feedback.Filter) ([]feedback.Event, error) {
	s.queries[filter.RecommendationID.String()]++
	if s.fail[filter.RecommendationID] {
		return nil, errors.New("feedback store unavailable")
	}
	return s.Store.Query(ctx, filter)
}

func TestSweepContinuesPastFailingScope(t *testing.T) {
	memory := feedback.NewMemoryStore()
	badA := types.MustParseID("00000000-0000-0000-0000-0000000000d1")
	badB := types.MustParseID("00000000-0000-0000-0000-0000000000d2")
	good := types.MustParseID("00000000-0000-0000-0000-0000000000d3")
	store := &flakyStore{
		Store:   memory,
		fail:    map[types.ID]bool{badA: true, badB: true},
		queries: make(map[string]int),
	}
	analyzer := NewAnalyzer(store, recommend.NewMemoryRepository(), WithClock(fixedClock))

	appendEvent(t, memory, good, testNow.AddDate(0, 0, -1), 5, false)

	// Warm all three scopes: the failing ones stay invalid in the cache
	if _, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, badA.String()); err == nil {
		t.Fatal("expected the failing scope to error")
	}
	if _, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, badB.String()); err == nil {
		t.Fatal("expected the failing scope to error")
	}
	if _, err := analyzer.Snapshot(context.Background(), ScopeRecommendation, good.String()); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	analyzer.Invalidate(context.Background(), good)

	analyzer.Sweep(context.Background())

	// Every stale scope gets a recompute attempt regardless of failures
	// elsewhere in the sweep
	for _, id := range []types.ID{badA, badB, good} {
		if got := store.queries[id.String()]; got != 2 {
			t.Errorf("scope %s queried %d times, want 2", id, got)
		}
	}
}

func TestTrendingOrdering(t *testing.T) {
	store := feedback.NewMemoryStore()
	recs := recommend.NewMemoryRepository()
	analyzer := NewAnalyzer(store, recs, WithClock(fixedClock), WithMinSamples(2))

	good := types.MustParseID("00000000-0000-0000-0000-0000000000c1")
	poor := types.MustParseID("00000000-0000-0000-0000-0000000000c2")
	thin := types.MustParseID("00000000-0000-0000-0000-0000000000c3")
	record := types.MustParseID("00000000-0000-0000-0000-000000000088")
	savedRecommendation(t, recs, good, "Huang Qi", record)
	savedRecommendation(t, recs, poor, "Long Dan Cao", record)
	savedRecommendation(t, recs, thin, "Celery Seed", record)

	for i := 0; i < 4; i++ {
		appendEvent(t, store, good, testNow.AddDate(0, 0, -(i+1)), 5, false)
	}
	for i := 0; i < 4; i++ {
		improvement := 1
		if i == 0 {
			improvement = 5
		}
		appendEvent(t, store, poor, testNow.AddDate(0, 0, -(i+1)), improvement, false)
	}
	// Below min_samples: ineligible
	appendEvent(t, store, thin, testNow.AddDate(0, 0, -1), 5, false)

	trending, err := analyzer.Trending(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("Trending: %v", err)
	}
	if len(trending) != 2 {
		t.Fatalf("trending = %d snapshots, want 2", len(trending))
	}
	if trending[0].ScopeID != good.String() {
		t.Errorf("best scope = %s, want %s", trending[0].ScopeID, good)
	}

	worst, err := analyzer.Worst(context.Background(), 10, 2)
	if err != nil {
		t.Fatalf("Worst: %v", err)
	}
	if worst[0].ScopeID != poor.String() {
		t.Errorf("worst scope = %s, want %s", worst[0].ScopeID, poor)
	}
}
