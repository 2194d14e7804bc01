package diagnosis

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/triveda-health/platform/internal/broadcast"
	"github.com/triveda-health/platform/internal/effectiveness"
	"github.com/triveda-health/platform/internal/feedback"
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/patient"
	"github.com/triveda-health/platform/internal/prediction"
	"github.com/triveda-health/platform/internal/recommend"
	"github.com/triveda-health/platform/internal/shared/config"
	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/types"
	"github.com/triveda-health/platform/internal/vision"
)

type staticKnowledge struct {
	records    []knowledge.Record
	treatments []knowledge.TreatmentEntry
}

func (s staticKnowledge) LoadRecords(ctx context.Context) ([]knowledge.Record, error) {
	return s.records, nil
}

func (s staticKnowledge) LoadTreatments(ctx context.Context) ([]knowledge.TreatmentEntry, error) {
	return s.treatments, nil
}

// fakeVision answers every call with a fixed model response
type fakeVision struct {
	response string
}

func (f fakeVision) Analyze(ctx context.Context, kind findings.AnalysisKind, image vision.Image) (string, error) {
	return f.response, nil
}

var jpegImage = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 64)...)

const heatResponse = `{
	"attributes": {
		"color": "red", "coating": "yellow", "moisture": "dry",
		"shape": "normal", "mizaj": "garm_khoshk", "dosha": "pitta"
	},
	"confidence": 0.9,
	"advisory": ["visible heat signs"]
}`

type fixture struct {
	service  *Service
	analyzer *effectiveness.Analyzer
	fabric   *broadcast.Fabric
	patients *patient.MemoryRepository
	recs     *recommend.MemoryRepository

	heatTCM types.ID
}

func engineConfig() config.EngineConfig {
	return config.EngineConfig{
		ReplayQueueSize:              100,
		ReplayTTLHours:               24,
		InboxCapacity:                64,
		SubscriberSendTimeoutSeconds: 5,
		WorkerPoolSize:               2,
	}
}

func newFixture(t *testing.T, visionAnalyzer vision.Analyzer) *fixture {
	t.Helper()

	heatAvicenna := types.MustParseID("10000000-0000-0000-0000-000000000001")
	heatTCM := types.MustParseID("20000000-0000-0000-0000-000000000001")
	heatAyurveda := types.MustParseID("30000000-0000-0000-0000-000000000001")

	source := staticKnowledge{
		records: []knowledge.Record{
			{
				ID: heatAvicenna, Tradition: findings.TraditionAvicenna,
				Kind: knowledge.RecordKindDisease, Name: "Hararat-e Mizaj",
				Mizaj: "garm_khoshk",
				Characteristics: map[findings.Attribute]string{
					findings.AttrMizaj:    "garm_khoshk",
					findings.AttrColor:    "red",
					findings.AttrCoating:  "yellow",
					findings.AttrMoisture: "dry",
				},
			},
			{
				ID: heatTCM, Tradition: findings.TraditionTCM,
				Kind: knowledge.RecordKindPattern, Name: "Stomach Heat",
				Pattern: "stomach_heat", Organs: []string{"stomach"},
				Characteristics: map[findings.Attribute]string{
					findings.AttrColor:    "red",
					findings.AttrCoating:  "yellow",
					findings.AttrMoisture: "dry",
					findings.AttrShape:    "normal",
				},
			},
			{
				ID: heatAyurveda, Tradition: findings.TraditionAyurveda,
				Kind: knowledge.RecordKindDisease, Name: "Pitta Vriddhi",
				Dosha: "pitta",
				Characteristics: map[findings.Attribute]string{
					findings.AttrDosha:    "pitta",
					findings.AttrColor:    "red",
					findings.AttrCoating:  "yellow",
					findings.AttrMoisture: "dry",
				},
			},
		},
		treatments: []knowledge.TreatmentEntry{
			{ID: types.NewID(), RecordID: heatTCM, Tradition: findings.TraditionTCM,
				Kind: knowledge.TreatmentHerb, Name: "Huang Lian", Dosage: "3g"},
			{ID: types.NewID(), RecordID: heatTCM, Tradition: findings.TraditionTCM,
				Kind: knowledge.TreatmentLifestyle, Name: "Avoid spicy food"},
			{ID: types.NewID(), RecordID: heatAyurveda, Tradition: findings.TraditionAyurveda,
				Kind: knowledge.TreatmentHerb, Name: "Amalaki", Dosage: "500mg"},
		},
	}

	store, err := knowledge.NewStore(context.Background(), source)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	patients := patient.NewMemoryRepository()
	feedbackStore := feedback.NewMemoryStore()
	recs := recommend.NewMemoryRepository()
	analyzer := effectiveness.NewAnalyzer(feedbackStore, recs)
	fabric := broadcast.NewFabric(engineConfig())

	extractor := vision.NewExtractor(visionAnalyzer, config.VisionConfig{MaxImageBytes: 1 << 20})

	service := NewService(Deps{
		Extractor: extractor,
		Engine:    matching.NewEngine(store),
		Composer:  recommend.NewComposer(store),
		Ranker:    prediction.NewRanker(analyzer, patients, feedbackStore, recs),
		Analyzer:  analyzer,
		Patients:  patients,
		Diagnoses: NewMemoryRepository(),
		Recs:      recs,
		Feedback:  feedbackStore,
		Fabric:    fabric,
	})
	service.Start(engineConfig().WorkerPoolSize)
	t.Cleanup(service.Stop)

	return &fixture{
		service:  service,
		analyzer: analyzer,
		fabric:   fabric,
		patients: patients,
		recs:     recs,
		heatTCM:  heatTCM,
	}
}

func (f *fixture) newPatient(t *testing.T) patient.Profile {
	t.Helper()
	profile := patient.Profile{FullName: "Test Patient", Age: 40, Sex: patient.SexFemale}
	if err := f.patients.Create(context.Background(), &profile); err != nil {
		t.Fatalf("Create patient: %v", err)
	}
	return profile
}

func recvEvent(t *testing.T, sub *broadcast.Subscription) broadcast.Event {
	t.Helper()
	select {
	case event, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscription closed")
		}
		return event
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
	return broadcast.Event{}
}

func TestAnalyzeCompleteFlow(t *testing.T) {
	f := newFixture(t, fakeVision{response: heatResponse})
	ctx := context.Background()
	profile := f.newPatient(t)

	d, err := f.service.Analyze(ctx, profile.ID, findings.KindTongue, jpegImage)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	if d.Status != StatusComplete {
		t.Errorf("status = %s, want complete", d.Status)
	}
	if d.FindingConfidence != 0.9 {
		t.Errorf("finding confidence = %v, want 0.9", d.FindingConfidence)
	}
	if len(d.AdvisoryNotes) != 1 {
		t.Errorf("advisory notes = %v", d.AdvisoryNotes)
	}

	for _, tradition := range findings.Traditions() {
		matches := d.Matches[tradition]
		if len(matches) != 1 {
			t.Fatalf("%s: %d matches, want 1", tradition, len(matches))
		}
		if matches[0].Score != 1.0 {
			t.Errorf("%s: score = %v, want 1.0", tradition, matches[0].Score)
		}
		if matches[0].Severity != matching.SeverityHigh {
			t.Errorf("%s: severity = %s, want high", tradition, matches[0].Severity)
		}
	}

	rec, err := f.service.Recommendation(ctx, d.ID)
	if err != nil {
		t.Fatalf("Recommendation: %v", err)
	}
	if rec.Version != 1 {
		t.Errorf("version = %d, want 1", rec.Version)
	}
	entries := rec.Plan.Entries()
	if len(entries) != 3 {
		t.Fatalf("plan entries = %d, want 3", len(entries))
	}

	// The publish happened with no subscribers; the replay queue hands it
	// to the first one
	sub := f.fabric.Subscribe(d.ID)
	defer sub.Close()
	event := recvEvent(t, sub)
	if event.Kind != broadcast.KindRecommendationUpdate {
		t.Errorf("event kind = %s, want recommendation_update", event.Kind)
	}
	var published recommend.Recommendation
	if err := json.Unmarshal(event.Payload, &published); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if published.ID != rec.ID {
		t.Errorf("published recommendation %s, want %s", published.ID, rec.ID)
	}
}

func TestAnalyzeUnknownPatient(t *testing.T) {
	f := newFixture(t, fakeVision{response: heatResponse})

	_, err := f.service.Analyze(context.Background(), types.NewID(), findings.KindTongue, jpegImage)
	if !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestAnalyzeDegradedWhenProviderDown(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	profile := f.newPatient(t)

	d, err := f.service.Analyze(ctx, profile.ID, findings.KindTongue, jpegImage)
	if err != nil {
		t.Fatalf("degraded analysis must not fail the request: %v", err)
	}
	if d.Status != StatusDegraded {
		t.Fatalf("status = %s, want degraded", d.Status)
	}
	if !d.Findings.IsEmpty() || d.FindingConfidence != 0 {
		t.Error("degraded diagnosis must carry an empty bag with confidence 0")
	}
	if len(d.Matches) != 0 {
		t.Error("degraded diagnosis must have no matches")
	}

	if _, err := f.service.Recommendation(ctx, d.ID); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("no recommendation expected for degraded diagnosis, got %v", err)
	}

	// The attempt is still auditable
	stored, err := f.service.Get(ctx, d.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Status != StatusDegraded {
		t.Errorf("stored status = %s", stored.Status)
	}
}

func TestAnalyzeRejectsBadImage(t *testing.T) {
	f := newFixture(t, fakeVision{response: heatResponse})
	profile := f.newPatient(t)

	_, err := f.service.Analyze(context.Background(), profile.ID, findings.KindTongue, []byte("not an image"))
	if !errors.Is(err, errors.ErrInvalidInput) {
		t.Errorf("expected invalid input, got %v", err)
	}
}

func TestRecordFindingsManualEntry(t *testing.T) {
	f := newFixture(t, nil) // no vision provider needed for manual entry
	ctx := context.Background()
	profile := f.newPatient(t)

	bag := findings.NewBag(findings.KindTongue)
	bag.Set(findings.AttrColor, "red")
	bag.Set(findings.AttrCoating, "yellow")
	bag.Set(findings.AttrMoisture, "dry")
	bag.Set(findings.AttrShape, "normal")
	bag.Confidence = 1

	d, err := f.service.RecordFindings(ctx, profile.ID, bag)
	if err != nil {
		t.Fatalf("RecordFindings: %v", err)
	}
	if d.Status != StatusComplete {
		t.Errorf("status = %s, want complete", d.Status)
	}
	if len(d.Matches[findings.TraditionTCM]) != 1 {
		t.Errorf("TCM matches = %d, want 1", len(d.Matches[findings.TraditionTCM]))
	}
}

func TestFeedbackFlow(t *testing.T) {
	f := newFixture(t, fakeVision{response: heatResponse})
	ctx := context.Background()
	profile := f.newPatient(t)

	d, err := f.service.Analyze(ctx, profile.ID, findings.KindTongue, jpegImage)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	rec, err := f.service.Recommendation(ctx, d.ID)
	if err != nil {
		t.Fatalf("Recommendation: %v", err)
	}

	createdAt := time.Now().UTC().Truncate(time.Second)
	event := &feedback.Event{
		RecommendationID:   rec.ID,
		CreatedAt:          createdAt,
		SymptomImprovement: 4,
		Compliance:         feedback.ComplianceFull,
	}
	if err := f.service.SubmitFeedback(ctx, event); err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	if event.PatientID != profile.ID {
		t.Errorf("patient id not defaulted from recommendation")
	}

	// Same identity again is an idempotency collision
	dup := &feedback.Event{
		RecommendationID:   rec.ID,
		PatientID:          profile.ID,
		CreatedAt:          createdAt,
		SymptomImprovement: 2,
	}
	if err := f.service.SubmitFeedback(ctx, dup); !errors.Is(err, errors.ErrDuplicateEvent) {
		t.Errorf("expected duplicate event, got %v", err)
	}

	// The feedback is visible in the recommendation's effectiveness scope
	snapshot, err := f.analyzer.Snapshot(ctx, effectiveness.ScopeRecommendation, rec.ID.String())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot == nil || snapshot.SampleSize != 1 {
		t.Fatalf("snapshot = %+v, want sample size 1", snapshot)
	}
	if snapshot.Score != 1.0 {
		t.Errorf("score = %v, want 1.0", snapshot.Score)
	}

	// Replay carries the full update sequence in publish order
	sub := f.fabric.Subscribe(d.ID)
	defer sub.Close()
	wantKinds := []broadcast.EventKind{
		broadcast.KindRecommendationUpdate,
		broadcast.KindFeedbackUpdate,
		broadcast.KindEffectivenessUpdate,
	}
	for _, want := range wantKinds {
		if got := recvEvent(t, sub).Kind; got != want {
			t.Errorf("event kind = %s, want %s", got, want)
		}
	}
}

func TestFeedbackUnknownRecommendation(t *testing.T) {
	f := newFixture(t, nil)

	event := &feedback.Event{
		RecommendationID:   types.NewID(),
		SymptomImprovement: 3,
	}
	if err := f.service.SubmitFeedback(context.Background(), event); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
