package feedback

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/metrics"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Store is the append-only feedback log. Append is atomic and durable
// before returning; events are never updated or deleted.
type Store interface {
	Append(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter Filter) ([]Event, error)
}

// PostgresStore is the pgx-backed implementation
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a feedback store
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Append(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.ID.IsZero() {
		event.ID = types.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO clinical.feedback_events (
			id, patient_id, recommendation_id, created_at,
			symptom_improvement, side_effects, blocking_side_effect,
			compliance, free_text
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		event.ID, event.PatientID, event.RecommendationID, event.CreatedAt,
		event.SymptomImprovement, event.SideEffects, event.BlockingSideEffect,
		event.Compliance, event.FreeText,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return errors.DuplicateEvent("feedback already recorded for this recommendation at this timestamp")
		}
		return errors.Wrap(err, "failed to append feedback event")
	}

	metrics.RecordFeedbackEvent()
	return nil
}

func (s *PostgresStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, patient_id, recommendation_id, created_at,
			symptom_improvement, side_effects, blocking_side_effect,
			compliance, free_text
		FROM clinical.feedback_events
		WHERE ($1::uuid IS NULL OR patient_id = $1)
		  AND ($2::uuid IS NULL OR recommendation_id = $2)
		  AND ($3::timestamptz IS NULL OR created_at >= $3)
		ORDER BY created_at ASC`

	var since *time.Time
	if !filter.Since.IsZero() {
		since = &filter.Since
	}
	rows, err := s.pool.Query(ctx, query, filter.PatientID, filter.RecommendationID, since)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query feedback events")
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		err := rows.Scan(
			&e.ID, &e.PatientID, &e.RecommendationID, &e.CreatedAt,
			&e.SymptomImprovement, &e.SideEffects, &e.BlockingSideEffect,
			&e.Compliance, &e.FreeText,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan feedback event")
		}
		events = append(events, e)
	}
	return events, nil
}

// MemoryStore keeps events in memory; used by tests and by limited mode
// when Postgres is not configured
type MemoryStore struct {
	mu     sync.RWMutex
	events []Event
	seen   map[identity]struct{}
}

type identity struct {
	patient        types.ID
	recommendation types.ID
	createdAt      time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{seen: make(map[identity]struct{})}
}

func (s *MemoryStore) Append(ctx context.Context, event *Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID.IsZero() {
		event.ID = types.NewID()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	key := identity{event.PatientID, event.RecommendationID, event.CreatedAt}
	if _, dup := s.seen[key]; dup {
		return errors.DuplicateEvent("feedback already recorded for this recommendation at this timestamp")
	}
	s.seen[key] = struct{}{}
	s.events = append(s.events, *event)

	metrics.RecordFeedbackEvent()
	return nil
}

func (s *MemoryStore) Query(ctx context.Context, filter Filter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, e := range s.events {
		if filter.matches(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
