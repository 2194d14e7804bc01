package patient

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

// Repository stores patient profiles
type Repository interface {
	Create(ctx context.Context, profile *Profile) error
	Get(ctx context.Context, id types.ID) (Profile, error)
	Update(ctx context.Context, profile *Profile) error
	List(ctx context.Context, limit int) ([]Profile, error)
}

// PostgresRepository is the pgx-backed implementation
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a patient repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	if profile.ID.IsZero() {
		profile.ID = types.NewID()
	}
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now

	contraindications, err := json.Marshal(profile.Contraindications)
	if err != nil {
		return errors.Wrap(err, "failed to encode contraindications")
	}

	query := `
		INSERT INTO clinical.patients (
			id, full_name, age, sex, constitution_system, constitution_value,
			contraindications, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.pool.Exec(ctx, query,
		profile.ID, profile.FullName, profile.Age, profile.Sex,
		profile.ConstitutionSystem, profile.ConstitutionValue,
		contraindications, profile.CreatedAt, profile.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create patient")
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id types.ID) (Profile, error) {
	query := `
		SELECT id, full_name, age, sex, constitution_system, constitution_value,
			contraindications, created_at, updated_at
		FROM clinical.patients
		WHERE id = $1`

	var profile Profile
	var contraindications []byte
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&profile.ID, &profile.FullName, &profile.Age, &profile.Sex,
		&profile.ConstitutionSystem, &profile.ConstitutionValue,
		&contraindications, &profile.CreatedAt, &profile.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return Profile{}, errors.NotFound("patient", id.String())
	}
	if err != nil {
		return Profile{}, errors.Wrap(err, "failed to get patient")
	}

	if len(contraindications) > 0 {
		if err := json.Unmarshal(contraindications, &profile.Contraindications); err != nil {
			return Profile{}, errors.Wrap(err, "failed to decode contraindications")
		}
	}
	return profile, nil
}

func (r *PostgresRepository) Update(ctx context.Context, profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	profile.UpdatedAt = time.Now().UTC()

	contraindications, err := json.Marshal(profile.Contraindications)
	if err != nil {
		return errors.Wrap(err, "failed to encode contraindications")
	}

	query := `
		UPDATE clinical.patients SET
			full_name = $2, age = $3, sex = $4,
			constitution_system = $5, constitution_value = $6,
			contraindications = $7, updated_at = $8
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query,
		profile.ID, profile.FullName, profile.Age, profile.Sex,
		profile.ConstitutionSystem, profile.ConstitutionValue,
		contraindications, profile.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update patient")
	}
	if tag.RowsAffected() == 0 {
		return errors.NotFound("patient", profile.ID.String())
	}
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Profile, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT id, full_name, age, sex, constitution_system, constitution_value,
			contraindications, created_at, updated_at
		FROM clinical.patients
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list patients")
	}
	defer rows.Close()

	var profiles []Profile
	for rows.Next() {
		var profile Profile
		var contraindications []byte
		err := rows.Scan(
			&profile.ID, &profile.FullName, &profile.Age, &profile.Sex,
			&profile.ConstitutionSystem, &profile.ConstitutionValue,
			&contraindications, &profile.CreatedAt, &profile.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan patient")
		}
		if len(contraindications) > 0 {
			if err := json.Unmarshal(contraindications, &profile.Contraindications); err != nil {
				return nil, errors.Wrap(err, "failed to decode contraindications")
			}
		}
		profiles = append(profiles, profile)
	}
	return profiles, nil
}

// MemoryRepository keeps profiles in memory; used by tests and by limited
// mode when Postgres is not configured
type MemoryRepository struct {
	mu       sync.RWMutex
	profiles map[types.ID]Profile
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{profiles: make(map[types.ID]Profile)}
}

func (r *MemoryRepository) Create(ctx context.Context, profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if profile.ID.IsZero() {
		profile.ID = types.NewID()
	}
	now := time.Now().UTC()
	profile.CreatedAt = now
	profile.UpdatedAt = now
	r.profiles[profile.ID] = *profile
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id types.ID) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profile, ok := r.profiles[id]
	if !ok {
		return Profile{}, errors.NotFound("patient", id.String())
	}
	return profile, nil
}

func (r *MemoryRepository) Update(ctx context.Context, profile *Profile) error {
	if err := profile.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.profiles[profile.ID]; !ok {
		return errors.NotFound("patient", profile.ID.String())
	}
	profile.UpdatedAt = time.Now().UTC()
	r.profiles[profile.ID] = *profile
	return nil
}

func (r *MemoryRepository) List(ctx context.Context, limit int) ([]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	profiles := make([]Profile, 0, len(r.profiles))
	for _, p := range r.profiles {
		profiles = append(profiles, p)
	}
	sort.Slice(profiles, func(i, j int) bool { return profiles[i].ID < profiles[j].ID })
	if limit > 0 && len(profiles) > limit {
		profiles = profiles[:limit]
	}
	return profiles, nil
}
