package diagnosis

import (
	"context"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/triveda-health/platform/internal/broadcast"
	"github.com/triveda-health/platform/internal/effectiveness"
	"github.com/triveda-health/platform/internal/feedback"
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/matching"
	"github.com/triveda-health/platform/internal/patient"
	"github.com/triveda-health/platform/internal/prediction"
	"github.com/triveda-health/platform/internal/recommend"
	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/events"
	"github.com/triveda-health/platform/internal/shared/metrics"
	"github.com/triveda-health/platform/internal/shared/types"
	"github.com/triveda-health/platform/internal/vision"
)

const journalSource = "diagnosis-coordinator"

// Journal records domain events for audit. May be absent; the
// coordinator then skips journaling.
type Journal interface {
	Append(ctx context.Context, event events.Event) error
}

// Deps collects the coordinator's collaborators
type Deps struct {
	Extractor *vision.Extractor
	Engine    *matching.Engine
	Composer  *recommend.Composer
	Ranker    *prediction.Ranker
	Analyzer  *effectiveness.Analyzer

	Patients  patient.Repository
	Diagnoses Repository
	Recs      recommend.Repository
	Feedback  feedback.Store

	Fabric  *broadcast.Fabric
	Journal Journal
}

// Service coordinates the analysis and feedback flows across the domain
// components. Mutating flows run on a bounded worker pool; reads go
// straight to the repositories.
type Service struct {
	deps Deps

	tasks  chan func()
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewService creates the coordinator. Call Start before submitting work.
func NewService(deps Deps) *Service {
	return &Service{
		deps:   deps,
		tasks:  make(chan func()),
		stopCh: make(chan struct{}),
	}
}

// Start launches the worker pool
func (s *Service) Start(workers int) {
	if workers <= 0 {
		workers = 4
	}
	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Stop drains the pool; pending submissions fail fast
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Service) worker() {
	defer s.wg.Done()
	for {
		select {
		case task := <-s.tasks:
			task()
		case <-s.stopCh:
			return
		}
	}
}

// submit runs fn on the pool and waits for it to finish
func (s *Service) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	task := func() {
		defer close(done)
		fn()
	}

	select {
	case s.tasks <- task:
	case <-s.stopCh:
		return errors.Internal(context.Canceled)
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "analysis queue full")
	}

	select {
	case <-done:
		return nil
	case <-s.stopCh:
		return errors.Internal(context.Canceled)
	}
}

// Analyze runs the image analysis flow: extract a finding bag, score it
// against every tradition, persist the diagnosis, and compose a ranked
// recommendation. An unavailable vision provider degrades to a recorded
// diagnosis with an empty bag instead of failing the request.
func (s *Service) Analyze(ctx context.Context, patientID types.ID, kind findings.AnalysisKind, image []byte) (Diagnosis, error) {
	var d Diagnosis
	var err error
	if poolErr := s.submit(ctx, func() {
		d, err = s.runImageAnalysis(ctx, patientID, kind, image)
	}); poolErr != nil {
		return Diagnosis{}, poolErr
	}
	return d, err
}

// RecordFindings runs the analysis flow over manually entered findings,
// for the kinds examined without an image (pulse, urine) or when a
// practitioner overrides the vision output.
func (s *Service) RecordFindings(ctx context.Context, patientID types.ID, bag findings.Bag) (Diagnosis, error) {
	var d Diagnosis
	var err error
	if poolErr := s.submit(ctx, func() {
		d, err = s.runFindingsAnalysis(ctx, patientID, bag)
	}); poolErr != nil {
		return Diagnosis{}, poolErr
	}
	return d, err
}

func (s *Service) runImageAnalysis(ctx context.Context, patientID types.ID, kind findings.AnalysisKind, image []byte) (Diagnosis, error) {
	profile, err := s.deps.Patients.Get(ctx, patientID)
	if err != nil {
		return Diagnosis{}, err
	}

	bag, err := s.deps.Extractor.Extract(ctx, kind, image)
	if err != nil {
		if errors.Is(err, errors.ErrAnalyzerUnavailable) {
			return s.recordDegraded(ctx, profile, kind, err)
		}
		metrics.RecordAnalysis(string(kind), "rejected")
		return Diagnosis{}, err
	}

	return s.complete(ctx, profile, bag)
}

func (s *Service) runFindingsAnalysis(ctx context.Context, patientID types.ID, bag findings.Bag) (Diagnosis, error) {
	profile, err := s.deps.Patients.Get(ctx, patientID)
	if err != nil {
		return Diagnosis{}, err
	}
	if err := bag.Validate(); err != nil {
		metrics.RecordAnalysis(string(bag.Kind), "rejected")
		return Diagnosis{}, errors.InvalidInput(err.Error())
	}
	return s.complete(ctx, profile, bag)
}

// recordDegraded persists a degraded diagnosis so the attempt is
// auditable and the practitioner can retry or enter findings manually
func (s *Service) recordDegraded(ctx context.Context, profile patient.Profile, kind findings.AnalysisKind, cause error) (Diagnosis, error) {
	d := Diagnosis{
		PatientID:    profile.ID,
		AnalysisKind: kind,
		Status:       StatusDegraded,
		Findings:     findings.NewBag(kind),
	}
	if err := s.deps.Diagnoses.Create(ctx, &d); err != nil {
		return Diagnosis{}, err
	}

	metrics.RecordAnalysis(string(kind), "degraded")
	log.Printf("analysis degraded patient=%s kind=%s cause=%v", profile.ID, kind, cause)
	s.journal(ctx, events.NewEvent("diagnosis.degraded", journalSource, map[string]string{
		"kind": string(kind),
	}).WithDiagnosis(d.ID, profile.ID))
	return d, nil
}

// complete runs matching, persistence, and recommendation composition
// for an extracted or entered bag
func (s *Service) complete(ctx context.Context, profile patient.Profile, bag findings.Bag) (Diagnosis, error) {
	matchSet, err := s.deps.Engine.MatchAll(bag, s.deps.Analyzer.SampleSize(ctx))
	if err != nil {
		metrics.RecordAnalysis(string(bag.Kind), "failed")
		return Diagnosis{}, err
	}

	d := Diagnosis{
		PatientID:         profile.ID,
		AnalysisKind:      bag.Kind,
		Status:            StatusComplete,
		Findings:          bag,
		FindingConfidence: bag.Confidence,
		AdvisoryNotes:     bag.Advisory,
		Matches:           matchSet,
	}
	if err := s.deps.Diagnoses.Create(ctx, &d); err != nil {
		metrics.RecordAnalysis(string(bag.Kind), "failed")
		return Diagnosis{}, err
	}

	plan := s.deps.Composer.Compose(matchSet, profile)
	plan = s.rankPlan(ctx, profile, plan, matchSet)

	rec := &recommend.Recommendation{
		DiagnosisID:   d.ID,
		PatientID:     profile.ID,
		Plan:          plan,
		SourceMatches: matchSet,
	}
	if err := s.deps.Recs.Save(ctx, rec); err != nil {
		metrics.RecordAnalysis(string(bag.Kind), "failed")
		return Diagnosis{}, err
	}

	// Past this point the diagnosis and recommendation are durable;
	// journal and broadcast failures are logged, never rolled back
	metrics.RecordAnalysis(string(bag.Kind), "complete")
	s.journal(ctx, events.NewEvent("diagnosis.completed", journalSource, map[string]any{
		"kind":       string(bag.Kind),
		"confidence": bag.Confidence,
	}).WithDiagnosis(d.ID, profile.ID))
	s.publish(broadcast.KindRecommendationUpdate, d.ID, rec)

	return d, nil
}

// rankPlan reorders each plan group by the personalized composite score.
// Ranking failures leave the composed order intact.
func (s *Service) rankPlan(ctx context.Context, profile patient.Profile, plan recommend.Plan, matchSet map[findings.Tradition][]matching.MatchResult) recommend.Plan {
	candidates := prediction.CandidatesFromPlan(plan, matchSet)
	ranked, err := s.deps.Ranker.Rank(ctx, profile, candidates)
	if err != nil {
		log.Printf("ranking failed, keeping composed order: %v", err)
		return plan
	}

	position := make(map[string]int, len(ranked))
	for i, r := range ranked {
		position[entryKey(r.Entry)] = i
	}

	for gi := range plan.Groups {
		entries := plan.Groups[gi].Entries
		sort.SliceStable(entries, func(i, j int) bool {
			pi, iOK := position[entryKey(entries[i])]
			pj, jOK := position[entryKey(entries[j])]
			if iOK != jOK {
				return iOK
			}
			return pi < pj
		})
	}
	return plan
}

func entryKey(entry recommend.Entry) string {
	return string(entry.Tradition) + ":" + string(entry.Kind) + ":" + strings.ToLower(entry.Name)
}

// SubmitFeedback runs the feedback flow: append the event, invalidate
// the affected effectiveness scopes, and re-rank the recommendation if
// the new evidence changes the ordering.
func (s *Service) SubmitFeedback(ctx context.Context, event *feedback.Event) error {
	var err error
	if poolErr := s.submit(ctx, func() {
		err = s.runFeedback(ctx, event)
	}); poolErr != nil {
		return poolErr
	}
	return err
}

func (s *Service) runFeedback(ctx context.Context, event *feedback.Event) error {
	if event.RecommendationID.IsZero() {
		return errors.InvalidInput("recommendation_id is required")
	}
	rec, err := s.deps.Recs.Get(ctx, event.RecommendationID)
	if err != nil {
		return err
	}
	if event.PatientID.IsZero() {
		event.PatientID = rec.PatientID
	}
	if err := event.Validate(); err != nil {
		return err
	}

	if err := s.deps.Feedback.Append(ctx, event); err != nil {
		return err
	}

	s.deps.Analyzer.Invalidate(ctx, rec.ID)
	s.journal(ctx, events.NewEvent("feedback.recorded", journalSource, map[string]any{
		"recommendation_id":   rec.ID,
		"symptom_improvement": event.SymptomImprovement,
	}).WithDiagnosis(rec.DiagnosisID, rec.PatientID))
	s.publish(broadcast.KindFeedbackUpdate, rec.DiagnosisID, event)

	snapshot, err := s.deps.Analyzer.Snapshot(ctx, effectiveness.ScopeRecommendation, rec.ID.String())
	switch {
	case err != nil:
		// The feedback is already persisted; a failed recompute only
		// costs the effectiveness notification
		log.Printf("effectiveness recompute failed for recommendation %s: %v", rec.ID, err)
	case snapshot != nil:
		s.publish(broadcast.KindEffectivenessUpdate, rec.DiagnosisID, snapshot)
	}

	s.rerank(ctx, rec)
	return nil
}

// rerank recomputes the personalized ordering of a stored
// recommendation; a changed order bumps the version and notifies
// subscribers
func (s *Service) rerank(ctx context.Context, rec recommend.Recommendation) {
	profile, err := s.deps.Patients.Get(ctx, rec.PatientID)
	if err != nil {
		log.Printf("rerank skipped, patient lookup failed: %v", err)
		return
	}

	replan := s.rankPlan(ctx, profile, rec.Plan, rec.SourceMatches)
	if !orderChanged(rec.Plan, replan) {
		return
	}

	rec.Plan = replan
	if err := s.deps.Recs.Save(ctx, &rec); err != nil {
		log.Printf("rerank save failed: %v", err)
		return
	}
	s.publish(broadcast.KindRecommendationUpdate, rec.DiagnosisID, &rec)
}

func orderChanged(before, after recommend.Plan) bool {
	a, b := before.Entries(), after.Entries()
	if len(a) != len(b) {
		return true
	}
	for i := range a {
		if entryKey(a[i]) != entryKey(b[i]) {
			return true
		}
	}
	return false
}

// Get returns one diagnosis
func (s *Service) Get(ctx context.Context, id types.ID) (Diagnosis, error) {
	return s.deps.Diagnoses.Get(ctx, id)
}

// Recommendation returns the current recommendation of a diagnosis
func (s *Service) Recommendation(ctx context.Context, diagnosisID types.ID) (recommend.Recommendation, error) {
	return s.deps.Recs.GetByDiagnosis(ctx, diagnosisID)
}

func (s *Service) journal(ctx context.Context, event events.Event) {
	if s.deps.Journal == nil {
		return
	}
	if err := s.deps.Journal.Append(ctx, event); err != nil {
		log.Printf("journal append failed type=%s: %v", event.Type, err)
	}
}

func (s *Service) publish(kind broadcast.EventKind, diagnosisID types.ID, payload any) {
	if s.deps.Fabric == nil {
		return
	}
	event, err := broadcast.NewEvent(kind, diagnosisID, payload)
	if err != nil {
		log.Printf("broadcast encode failed kind=%s: %v", kind, err)
		return
	}
	s.deps.Fabric.Publish(event)
}
