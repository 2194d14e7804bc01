package knowledge

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/errors"
)

// Repository loads knowledge records from Postgres and accepts imports
// from legacy sources. It implements Source.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new knowledge repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// LoadRecords reads every knowledge record
func (r *Repository) LoadRecords(ctx context.Context) ([]Record, error) {
	query := `
		SELECT id, tradition, kind, name, local_name, category,
			characteristics, mizaj, dosha, organs, pattern, contraindications,
			created_at
		FROM knowledge.records
		ORDER BY tradition, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load knowledge records")
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		var localName, category, mizaj, dosha, pattern *string
		var characteristics, organs, contraindications []byte

		err := rows.Scan(
			&record.ID, &record.Tradition, &record.Kind, &record.Name, &localName, &category,
			&characteristics, &mizaj, &dosha, &organs, &pattern, &contraindications,
			&record.CreatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan knowledge record")
		}

		record.LocalName = deref(localName)
		record.Category = deref(category)
		record.Mizaj = deref(mizaj)
		record.Dosha = deref(dosha)
		record.Pattern = deref(pattern)

		record.Characteristics = make(map[findings.Attribute]string)
		if len(characteristics) > 0 {
			if err := json.Unmarshal(characteristics, &record.Characteristics); err != nil {
				return nil, errors.Wrap(err, "failed to decode characteristics")
			}
		}
		if len(organs) > 0 {
			if err := json.Unmarshal(organs, &record.Organs); err != nil {
				return nil, errors.Wrap(err, "failed to decode organs")
			}
		}
		if len(contraindications) > 0 {
			if err := json.Unmarshal(contraindications, &record.Contraindications); err != nil {
				return nil, errors.Wrap(err, "failed to decode contraindications")
			}
		}

		records = append(records, record)
	}

	return records, nil
}

// LoadTreatments reads every treatment entry
func (r *Repository) LoadTreatments(ctx context.Context) ([]TreatmentEntry, error) {
	query := `
		SELECT id, record_id, tradition, kind, name, dosage, frequency, duration,
			cautions, reference
		FROM knowledge.treatments
		ORDER BY record_id, id`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load treatments")
	}
	defer rows.Close()

	var entries []TreatmentEntry
	for rows.Next() {
		var entry TreatmentEntry
		var dosage, frequency, duration, reference *string
		var cautions []byte

		err := rows.Scan(
			&entry.ID, &entry.RecordID, &entry.Tradition, &entry.Kind, &entry.Name,
			&dosage, &frequency, &duration, &cautions, &reference,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan treatment")
		}

		entry.Dosage = deref(dosage)
		entry.Frequency = deref(frequency)
		entry.Duration = deref(duration)
		entry.Reference = deref(reference)
		if len(cautions) > 0 {
			if err := json.Unmarshal(cautions, &entry.Cautions); err != nil {
				return nil, errors.Wrap(err, "failed to decode cautions")
			}
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// UpsertRecord inserts or replaces a record; used by the legacy importer
func (r *Repository) UpsertRecord(ctx context.Context, record Record) error {
	characteristics, err := json.Marshal(record.Characteristics)
	if err != nil {
		return errors.Wrap(err, "failed to encode characteristics")
	}
	organs, err := json.Marshal(record.Organs)
	if err != nil {
		return errors.Wrap(err, "failed to encode organs")
	}
	contraindications, err := json.Marshal(record.Contraindications)
	if err != nil {
		return errors.Wrap(err, "failed to encode contraindications")
	}

	query := `
		INSERT INTO knowledge.records (
			id, tradition, kind, name, local_name, category,
			characteristics, mizaj, dosha, organs, pattern, contraindications
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, local_name = EXCLUDED.local_name,
			category = EXCLUDED.category, characteristics = EXCLUDED.characteristics,
			mizaj = EXCLUDED.mizaj, dosha = EXCLUDED.dosha,
			organs = EXCLUDED.organs, pattern = EXCLUDED.pattern,
			contraindications = EXCLUDED.contraindications`

	_, err = r.pool.Exec(ctx, query,
		record.ID, record.Tradition, record.Kind, record.Name,
		nullable(record.LocalName), nullable(record.Category),
		characteristics, nullable(record.Mizaj), nullable(record.Dosha),
		organs, nullable(record.Pattern), contraindications,
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert knowledge record")
	}

	return nil
}

// UpsertTreatment inserts or replaces a treatment entry
func (r *Repository) UpsertTreatment(ctx context.Context, entry TreatmentEntry) error {
	cautions, err := json.Marshal(entry.Cautions)
	if err != nil {
		return errors.Wrap(err, "failed to encode cautions")
	}

	query := `
		INSERT INTO knowledge.treatments (
			id, record_id, tradition, kind, name, dosage, frequency, duration,
			cautions, reference
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, dosage = EXCLUDED.dosage,
			frequency = EXCLUDED.frequency, duration = EXCLUDED.duration,
			cautions = EXCLUDED.cautions, reference = EXCLUDED.reference`

	_, err = r.pool.Exec(ctx, query,
		entry.ID, entry.RecordID, entry.Tradition, entry.Kind, entry.Name,
		nullable(entry.Dosage), nullable(entry.Frequency), nullable(entry.Duration),
		cautions, nullable(entry.Reference),
	)
	if err != nil {
		return errors.Wrap(err, "failed to upsert treatment")
	}

	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
