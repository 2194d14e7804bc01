package effectiveness

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/triveda-health/platform/internal/feedback"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/recommend"
	"github.com/triveda-health/platform/internal/shared/metrics"
	"github.com/triveda-health/platform/internal/shared/types"
)

const (
	// trendSplitDays partitions the window into recent and older halves
	trendSplitDays = 30
	// trendDelta is the success-rate difference that flips the trend off
	// stable
	trendDelta = 0.10
	// cacheMaxAge bounds snapshot staleness under steady load
	cacheMaxAge = 30 * time.Second
	// confidenceSaturation is the sample size at which confidence reaches 1
	confidenceSaturation = 100
)

// Analyzer computes windowed effectiveness snapshots over the feedback
// log. Snapshots are cached per scope; feedback appends invalidate every
// scope the recommendation belongs to.
type Analyzer struct {
	feedback   feedback.Store
	recs       recommend.Repository
	windowDays int
	minSamples int
	limitMax   int
	now        func() time.Time

	mu    sync.Mutex
	cache map[scopeKey]*cacheEntry
}

type scopeKey struct {
	scope Scope
	id    string
}

// cacheEntry serializes computation per scope: concurrent readers of the
// same scope wait on the entry lock instead of recomputing in parallel
type cacheEntry struct {
	mu         sync.Mutex
	snapshot   *Snapshot
	computedAt time.Time
	valid      bool
}

// Option configures the analyzer
type Option func(*Analyzer)

// WithWindowDays overrides the 90-day aggregation window
func WithWindowDays(days int) Option {
	return func(a *Analyzer) {
		if days > 0 {
			a.windowDays = days
		}
	}
}

// WithMinSamples overrides the trending eligibility floor
func WithMinSamples(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.minSamples = n
		}
	}
}

// WithTrendingLimitMax overrides the trending result cap
func WithTrendingLimitMax(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.limitMax = n
		}
	}
}

// WithClock overrides the time source; tests use this
func WithClock(now func() time.Time) Option {
	return func(a *Analyzer) { a.now = now }
}

// NewAnalyzer creates an analyzer over the feedback log and the
// recommendation repository
func NewAnalyzer(store feedback.Store, recs recommend.Repository, opts ...Option) *Analyzer {
	a := &Analyzer{
		feedback:   store,
		recs:       recs,
		windowDays: 90,
		minSamples: 5,
		limitMax:   50,
		now:        time.Now,
		cache:      make(map[scopeKey]*cacheEntry),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Snapshot returns the aggregated effectiveness of a scope, or nil when
// the window contains no events. Cached results are served while fresh.
func (a *Analyzer) Snapshot(ctx context.Context, scope Scope, scopeID string) (*Snapshot, error) {
	// Herb scopes are keyed case-insensitively
	if scope == ScopeHerb {
		scopeID = strings.ToLower(scopeID)
	}
	entry := a.entry(scopeKey{scope, scopeID})

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.valid && a.now().Sub(entry.computedAt) < cacheMaxAge {
		return entry.snapshot, nil
	}

	snapshot, err := a.compute(ctx, scope, scopeID)
	if err != nil {
		return nil, err
	}
	entry.snapshot = snapshot
	entry.computedAt = a.now()
	entry.valid = true
	metrics.RecordSnapshotRecompute(string(scope))
	return snapshot, nil
}

// Invalidate drops cached snapshots for the recommendation and for every
// derived scope the recommendation belongs to. Called on every feedback
// append.
func (a *Analyzer) Invalidate(ctx context.Context, recommendationID types.ID) {
	keys := []scopeKey{{ScopeRecommendation, recommendationID.String()}}

	if rec, err := a.recs.Get(ctx, recommendationID); err == nil {
		for _, ref := range derivedScopes(rec) {
			keys = append(keys, ref)
		}
	}

	a.mu.Lock()
	entries := make([]*cacheEntry, 0, len(keys))
	for _, key := range keys {
		if entry, ok := a.cache[key]; ok {
			entries = append(entries, entry)
		}
	}
	a.mu.Unlock()

	// valid is guarded by the entry lock, shared with Snapshot readers
	for _, entry := range entries {
		entry.mu.Lock()
		entry.valid = false
		entry.mu.Unlock()
	}
}

// Sweep recomputes every invalidated cache entry. Driven by the cron
// scheduler to keep staleness bounded under steady load.
func (a *Analyzer) Sweep(ctx context.Context) {
	a.mu.Lock()
	candidates := make(map[scopeKey]*cacheEntry, len(a.cache))
	for key, entry := range a.cache {
		candidates[key] = entry
	}
	a.mu.Unlock()

	// A failing scope is logged and skipped; the rest of the sweep
	// continues
	for key, entry := range candidates {
		entry.mu.Lock()
		stale := !entry.valid
		entry.mu.Unlock()
		if !stale {
			continue
		}
		if _, err := a.Snapshot(ctx, key.scope, key.id); err != nil {
			log.Printf("snapshot sweep failed for %s/%s: %v", key.scope, key.id, err)
		}
	}
}

// Trending returns the best-performing recommendation scopes, eligible at
// sample_size >= minSamples, ordered by score then confidence then sample
// size then id.
func (a *Analyzer) Trending(ctx context.Context, limit, minSamples int) ([]Snapshot, error) {
	return a.ranked(ctx, limit, minSamples, false)
}

// Worst is the worst-performing dual of Trending
func (a *Analyzer) Worst(ctx context.Context, limit, minSamples int) ([]Snapshot, error) {
	return a.ranked(ctx, limit, minSamples, true)
}

func (a *Analyzer) ranked(ctx context.Context, limit, minSamples int, ascending bool) ([]Snapshot, error) {
	if limit <= 0 || limit > a.limitMax {
		limit = a.limitMax
	}
	if minSamples <= 0 {
		minSamples = a.minSamples
	}

	recs, err := a.recs.List(ctx)
	if err != nil {
		return nil, err
	}

	var snapshots []Snapshot
	for _, rec := range recs {
		snapshot, err := a.Snapshot(ctx, ScopeRecommendation, rec.ID.String())
		if err != nil {
			return nil, err
		}
		if snapshot == nil || snapshot.SampleSize < minSamples {
			continue
		}
		snapshots = append(snapshots, *snapshot)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		si, sj := snapshots[i], snapshots[j]
		if si.Score != sj.Score {
			if ascending {
				return si.Score < sj.Score
			}
			return si.Score > sj.Score
		}
		if si.Confidence != sj.Confidence {
			return si.Confidence > sj.Confidence
		}
		if si.SampleSize != sj.SampleSize {
			return si.SampleSize > sj.SampleSize
		}
		return si.ScopeID < sj.ScopeID
	})

	if len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots, nil
}

// SampleSize reports the current sample size of a condition scope; the
// matching engine uses this to break score ties
func (a *Analyzer) SampleSize(ctx context.Context) func(recordID types.ID) (int, bool) {
	return func(recordID types.ID) (int, bool) {
		snapshot, err := a.Snapshot(ctx, ScopeCondition, recordID.String())
		if err != nil || snapshot == nil {
			return 0, false
		}
		return snapshot.SampleSize, true
	}
}

func (a *Analyzer) entry(key scopeKey) *cacheEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry, ok := a.cache[key]
	if !ok {
		entry = &cacheEntry{}
		a.cache[key] = entry
	}
	return entry
}

// compute aggregates the scope's events inside the window
func (a *Analyzer) compute(ctx context.Context, scope Scope, scopeID string) (*Snapshot, error) {
	now := a.now()
	since := now.AddDate(0, 0, -a.windowDays)

	members, err := a.members(ctx, scope, scopeID)
	if err != nil {
		return nil, err
	}

	var events []feedback.Event
	for _, recID := range members {
		batch, err := a.feedback.Query(ctx, feedback.Filter{RecommendationID: recID, Since: since})
		if err != nil {
			return nil, err
		}
		events = append(events, batch...)
	}

	if len(events) == 0 {
		return nil, nil
	}

	var successful int
	var ratingSum float64
	var recentTotal, recentSuccess, olderTotal, olderSuccess int
	recentCutoff := now.AddDate(0, 0, -trendSplitDays)

	for _, e := range events {
		ratingSum += float64(e.SymptomImprovement)
		success := e.Successful()
		if success {
			successful++
		}
		if e.CreatedAt.After(recentCutoff) {
			recentTotal++
			if success {
				recentSuccess++
			}
		} else {
			olderTotal++
			if success {
				olderSuccess++
			}
		}
	}

	total := len(events)
	return &Snapshot{
		Scope:           scope,
		ScopeID:         scopeID,
		WindowDays:      a.windowDays,
		Score:           float64(successful) / float64(total),
		Confidence:      0.5 + 0.5*math.Min(float64(total), confidenceSaturation)/confidenceSaturation,
		SampleSize:      total,
		SuccessfulCases: successful,
		TotalCases:      total,
		AverageRating:   ratingSum / float64(total),
		Trend:           trendOf(recentSuccess, recentTotal, olderSuccess, olderTotal),
		LastUpdated:     now,
	}, nil
}

// members resolves the recommendation ids a scope aggregates over
func (a *Analyzer) members(ctx context.Context, scope Scope, scopeID string) ([]types.ID, error) {
	if scope == ScopeRecommendation {
		return []types.ID{types.ID(scopeID)}, nil
	}

	recs, err := a.recs.List(ctx)
	if err != nil {
		return nil, err
	}
	var members []types.ID
	for _, rec := range recs {
		if inScope(rec, scope, scopeID) {
			members = append(members, rec.ID)
		}
	}
	return members, nil
}

// inScope reports whether a recommendation belongs to a derived scope:
// condition scopes aggregate every recommendation drawn from that
// knowledge record, herb scopes every recommendation whose plan contains
// that herb.
func inScope(rec recommend.Recommendation, scope Scope, scopeID string) bool {
	switch scope {
	case ScopeCondition:
		for _, entry := range rec.Plan.Entries() {
			if entry.SourceRecordID.String() == scopeID {
				return true
			}
		}
		for _, matches := range rec.SourceMatches {
			for _, m := range matches {
				if m.RecordID.String() == scopeID {
					return true
				}
			}
		}
	case ScopeHerb:
		for _, entry := range rec.Plan.Entries() {
			if entry.Kind == knowledge.TreatmentHerb && strings.EqualFold(entry.Name, scopeID) {
				return true
			}
		}
	}
	return false
}

// derivedScopes lists the condition and herb scopes a recommendation
// belongs to
func derivedScopes(rec recommend.Recommendation) []scopeKey {
	var keys []scopeKey
	conditions := make(map[string]struct{})
	for _, entry := range rec.Plan.Entries() {
		if !entry.SourceRecordID.IsZero() {
			conditions[entry.SourceRecordID.String()] = struct{}{}
		}
		if entry.Kind == knowledge.TreatmentHerb {
			keys = append(keys, scopeKey{ScopeHerb, strings.ToLower(entry.Name)})
		}
	}
	for _, matches := range rec.SourceMatches {
		for _, m := range matches {
			conditions[m.RecordID.String()] = struct{}{}
		}
	}
	for id := range conditions {
		keys = append(keys, scopeKey{ScopeCondition, id})
	}
	return keys
}

// trendOf compares success rates between the window's recent and older
// partitions; with fewer than two events in either, the trend is stable
func trendOf(recentSuccess, recentTotal, olderSuccess, olderTotal int) Trend {
	if recentTotal < 2 || olderTotal < 2 {
		return TrendStable
	}
	recent := float64(recentSuccess) / float64(recentTotal)
	older := float64(olderSuccess) / float64(olderTotal)
	switch {
	case recent-older > trendDelta:
		return TrendImproving
	case recent-older < -trendDelta:
		return TrendDeclining
	default:
		return TrendStable
	}
}
