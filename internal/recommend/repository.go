package recommend

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Repository stores one recommendation per diagnosis. Saving again for the
// same diagnosis replaces the plan and bumps the version.
type Repository interface {
	Save(ctx context.Context, rec *Recommendation) error
	Get(ctx context.Context, id types.ID) (Recommendation, error)
	GetByDiagnosis(ctx context.Context, diagnosisID types.ID) (Recommendation, error)
	// List returns every stored recommendation; used to resolve derived
	// effectiveness scopes
	List(ctx context.Context) ([]Recommendation, error)
}

// PostgresRepository is the pgx-backed implementation
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a recommendation repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Save(ctx context.Context, rec *Recommendation) error {
	plan, err := json.Marshal(rec.Plan)
	if err != nil {
		return errors.Wrap(err, "failed to encode plan")
	}
	sourceMatches, err := json.Marshal(rec.SourceMatches)
	if err != nil {
		return errors.Wrap(err, "failed to encode source matches")
	}

	var existingID types.ID
	var existingVersion int
	var existingCreated time.Time
	err = r.pool.QueryRow(ctx,
		`SELECT id, version, created_at FROM clinical.recommendations WHERE diagnosis_id = $1`,
		rec.DiagnosisID,
	).Scan(&existingID, &existingVersion, &existingCreated)

	now := time.Now().UTC()
	switch {
	case err == pgx.ErrNoRows:
		if rec.ID.IsZero() {
			rec.ID = types.NewID()
		}
		rec.Version = 1
		rec.CreatedAt = now
		rec.UpdatedAt = now
		_, err = r.pool.Exec(ctx, `
			INSERT INTO clinical.recommendations (
				id, diagnosis_id, patient_id, version, plan, source_matches,
				plan_days, follow_up_days, created_at, updated_at
			) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			rec.ID, rec.DiagnosisID, rec.PatientID, rec.Version, plan, sourceMatches,
			rec.Plan.PlanDays, rec.Plan.FollowUpDays, rec.CreatedAt, rec.UpdatedAt,
		)
		if err != nil {
			return errors.Wrap(err, "failed to insert recommendation")
		}
		return nil
	case err != nil:
		return errors.Wrap(err, "failed to look up recommendation")
	}

	rec.ID = existingID
	rec.Version = existingVersion + 1
	rec.CreatedAt = existingCreated
	rec.UpdatedAt = now
	_, err = r.pool.Exec(ctx, `
		UPDATE clinical.recommendations SET
			version = $2, plan = $3, source_matches = $4,
			plan_days = $5, follow_up_days = $6, updated_at = $7
		WHERE id = $1`,
		rec.ID, rec.Version, plan, sourceMatches,
		rec.Plan.PlanDays, rec.Plan.FollowUpDays, rec.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update recommendation")
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (Recommendation, error) {
	return r.get(ctx, `WHERE id = $1`, id)
}

func (r *PostgresRepository) GetByDiagnosis(ctx context.Context, diagnosisID types.ID) (Recommendation, error) {
	return r.get(ctx, `WHERE diagnosis_id = $1`, diagnosisID)
}

func (r *PostgresRepository) get(ctx context.Context, where string, arg types.ID) (Recommendation, error) {
	query := `
		SELECT id, diagnosis_id, patient_id, version, plan, source_matches,
			created_at, updated_at
		FROM clinical.recommendations ` + where

	var rec Recommendation
	var plan, sourceMatches []byte
	err := r.pool.QueryRow(ctx, query, arg).Scan(
		&rec.ID, &rec.DiagnosisID, &rec.PatientID, &rec.Version, &plan, &sourceMatches,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return Recommendation{}, errors.NotFound("recommendation", arg.String())
	}
	if err != nil {
		return Recommendation{}, errors.Wrap(err, "failed to get recommendation")
	}

	if err := json.Unmarshal(plan, &rec.Plan); err != nil {
		return Recommendation{}, errors.Wrap(err, "failed to decode plan")
	}
	if len(sourceMatches) > 0 {
		if err := json.Unmarshal(sourceMatches, &rec.SourceMatches); err != nil {
			return Recommendation{}, errors.Wrap(err, "failed to decode source matches")
		}
	}
	return rec, nil
}

func (r *PostgresRepository) List(ctx context.Context) ([]Recommendation, error) {
	query := `
		SELECT id, diagnosis_id, patient_id, version, plan, source_matches,
			created_at, updated_at
		FROM clinical.recommendations
		ORDER BY id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list recommendations")
	}
	defer rows.Close()

	var recs []Recommendation
	for rows.Next() {
		var rec Recommendation
		var plan, sourceMatches []byte
		err := rows.Scan(
			&rec.ID, &rec.DiagnosisID, &rec.PatientID, &rec.Version, &plan, &sourceMatches,
			&rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan recommendation")
		}
		if err := json.Unmarshal(plan, &rec.Plan); err != nil {
			return nil, errors.Wrap(err, "failed to decode plan")
		}
		if len(sourceMatches) > 0 {
			if err := json.Unmarshal(sourceMatches, &rec.SourceMatches); err != nil {
				return nil, errors.Wrap(err, "failed to decode source matches")
			}
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// MemoryRepository keeps recommendations in memory; used by tests and by
// limited mode when Postgres is not configured
type MemoryRepository struct {
	mu          sync.RWMutex
	byID        map[types.ID]Recommendation
	byDiagnosis map[types.ID]types.ID
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:        make(map[types.ID]Recommendation),
		byDiagnosis: make(map[types.ID]types.ID),
	}
}

func (r *MemoryRepository) Save(ctx context.Context, rec *Recommendation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if existingID, ok := r.byDiagnosis[rec.DiagnosisID]; ok {
		existing := r.byID[existingID]
		rec.ID = existing.ID
		rec.Version = existing.Version + 1
		rec.CreatedAt = existing.CreatedAt
	} else {
		if rec.ID.IsZero() {
			rec.ID = types.NewID()
		}
		rec.Version = 1
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	r.byID[rec.ID] = *rec
	r.byDiagnosis[rec.DiagnosisID] = rec.ID
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (Recommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byID[id]
	if !ok {
		return Recommendation{}, errors.NotFound("recommendation", id.String())
	}
	return rec, nil
}

func (r *MemoryRepository) GetByDiagnosis(ctx context.Context, diagnosisID types.ID) (Recommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byDiagnosis[diagnosisID]
	if !ok {
		return Recommendation{}, errors.NotFound("recommendation", diagnosisID.String())
	}
	return r.byID[id], nil
}

func (r *MemoryRepository) List(ctx context.Context) ([]Recommendation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	recs := make([]Recommendation, 0, len(r.byID))
	for _, rec := range r.byID {
		recs = append(recs, rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}
