package diagnosis

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Repository stores diagnosis records
type Repository interface {
	Create(ctx context.Context, d *Diagnosis) error
	Get(ctx context.Context, id types.ID) (Diagnosis, error)
	ListByPatient(ctx context.Context, patientID types.ID, limit int) ([]Diagnosis, error)
}

// PostgresRepository persists diagnoses in clinical.diagnoses
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a Postgres-backed diagnosis repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, d *Diagnosis) error {
	if d.ID.IsZero() {
		d.ID = types.NewID()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	findingsJSON, err := json.Marshal(d.Findings)
	if err != nil {
		return errors.Wrap(err, "failed to encode findings")
	}
	matchesJSON, err := json.Marshal(d.Matches)
	if err != nil {
		return errors.Wrap(err, "failed to encode matches")
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO clinical.diagnoses
			(id, patient_id, analysis_kind, status, findings, finding_confidence,
			 advisory_notes, matches, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		d.ID, d.PatientID, string(d.AnalysisKind), string(d.Status),
		findingsJSON, d.FindingConfidence,
		strings.Join(d.AdvisoryNotes, "\n"), matchesJSON,
		d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to insert diagnosis")
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (Diagnosis, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, patient_id, analysis_kind, status, findings, finding_confidence,
		       advisory_notes, matches, created_at, updated_at
		FROM clinical.diagnoses WHERE id = $1`, id)

	d, err := scanDiagnosis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Diagnosis{}, errors.NotFound("diagnosis", id.String())
		}
		return Diagnosis{}, errors.Wrap(err, "failed to load diagnosis")
	}
	return d, nil
}

func (r *PostgresRepository) ListByPatient(ctx context.Context, patientID types.ID, limit int) ([]Diagnosis, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, patient_id, analysis_kind, status, findings, finding_confidence,
		       advisory_notes, matches, created_at, updated_at
		FROM clinical.diagnoses
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, patientID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list diagnoses")
	}
	defer rows.Close()

	var out []Diagnosis
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan diagnosis")
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func scanDiagnosis(row pgx.Row) (Diagnosis, error) {
	var d Diagnosis
	var kind, status, advisory string
	var findingsJSON, matchesJSON []byte

	err := row.Scan(&d.ID, &d.PatientID, &kind, &status, &findingsJSON,
		&d.FindingConfidence, &advisory, &matchesJSON, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return Diagnosis{}, err
	}

	d.AnalysisKind = findings.AnalysisKind(kind)
	d.Status = Status(status)
	if advisory != "" {
		d.AdvisoryNotes = strings.Split(advisory, "\n")
	}
	if len(findingsJSON) > 0 {
		if err := json.Unmarshal(findingsJSON, &d.Findings); err != nil {
			return Diagnosis{}, err
		}
	}
	if len(matchesJSON) > 0 {
		if err := json.Unmarshal(matchesJSON, &d.Matches); err != nil {
			return Diagnosis{}, err
		}
	}
	return d, nil
}

// MemoryRepository is the in-memory diagnosis repository used in tests
// and when no database is configured
type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[types.ID]Diagnosis
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: make(map[types.ID]Diagnosis)}
}

func (r *MemoryRepository) Create(ctx context.Context, d *Diagnosis) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if d.ID.IsZero() {
		d.ID = types.NewID()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now
	r.byID[d.ID] = *d
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (Diagnosis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, ok := r.byID[id]
	if !ok {
		return Diagnosis{}, errors.NotFound("diagnosis", id.String())
	}
	return d, nil
}

func (r *MemoryRepository) ListByPatient(ctx context.Context, patientID types.ID, limit int) ([]Diagnosis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var out []Diagnosis
	for _, d := range r.byID {
		if d.PatientID == patientID {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
