package legacy

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/knowledge"
	"github.com/triveda-health/platform/internal/shared/config"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Target accepts imported records; satisfied by knowledge.Repository
type Target interface {
	UpsertRecord(ctx context.Context, record knowledge.Record) error
	UpsertTreatment(ctx context.Context, entry knowledge.TreatmentEntry) error
}

// Importer reads disease and treatment rows from a clinic's legacy SQL
// Server database and upserts them into the knowledge schema. It runs once
// at startup when enabled; the store is rebuilt afterwards.
type Importer struct {
	db     *sql.DB
	config config.LegacyConfig
}

// New creates an importer and verifies connectivity
func New(ctx context.Context, cfg config.LegacyConfig) (*Importer, error) {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		cfg.Host, cfg.Port, cfg.Database, cfg.User, cfg.Password)
	if cfg.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping legacy database: %w", err)
	}

	return &Importer{db: db, config: cfg}, nil
}

// Close releases the legacy connection
func (i *Importer) Close() error {
	return i.db.Close()
}

// importedRecord keys treatments back to their imported disease
type importedRecord struct {
	id        types.ID
	tradition findings.Tradition
}

// Run imports all disease and treatment rows. Record identity is derived
// from the source row key, so re-running the import updates in place
// instead of duplicating.
func (i *Importer) Run(ctx context.Context, target Target) error {
	records, err := i.importDiseases(ctx, target)
	if err != nil {
		return err
	}

	imported, err := i.importTreatments(ctx, target, records)
	if err != nil {
		return err
	}

	log.Printf("legacy import complete: %d records, %d treatments", len(records), imported)
	return nil
}

func (i *Importer) importDiseases(ctx context.Context, target Target) (map[string]importedRecord, error) {
	query := fmt.Sprintf(`
		SELECT
			DiseaseID,
			Tradition,
			Kind,
			Name,
			LocalName,
			Category,
			TongueColor,
			TongueCoating,
			TongueMoisture,
			Mizaj,
			Dosha,
			Organs,
			Pattern,
			Contraindications
		FROM %s
		ORDER BY DiseaseID
	`, i.config.DiseaseTable)

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy diseases: %w", err)
	}
	defer rows.Close()

	records := make(map[string]importedRecord)
	for rows.Next() {
		var sourceID, traditionCode, name string
		var kind, localName, category sql.NullString
		var tongueColor, tongueCoating, tongueMoisture sql.NullString
		var mizaj, dosha, organs, pattern, contraindications sql.NullString

		err := rows.Scan(
			&sourceID, &traditionCode, &kind, &name, &localName, &category,
			&tongueColor, &tongueCoating, &tongueMoisture,
			&mizaj, &dosha, &organs, &pattern, &contraindications,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan legacy disease: %w", err)
		}

		tradition, ok := mapTradition(traditionCode)
		if !ok {
			log.Printf("legacy import: skipping disease %s with unknown tradition %q", sourceID, traditionCode)
			continue
		}

		record := knowledge.Record{
			ID:        types.NewDeterministicID("legacy-disease", sourceID),
			Tradition: tradition,
			Kind:      mapRecordKind(kind, tradition),
			Name:      name,
			LocalName: nullStr(localName),
			Category:  nullStr(category),
			Mizaj:     strings.ToLower(nullStr(mizaj)),
			Dosha:     strings.ToLower(nullStr(dosha)),
			Organs:    splitList(organs),
			Pattern:   nullStr(pattern),

			Contraindications: splitList(contraindications),
		}

		record.Characteristics = make(map[findings.Attribute]string)
		setCharacteristic(record.Characteristics, findings.AttrColor, tongueColor)
		setCharacteristic(record.Characteristics, findings.AttrCoating, tongueCoating)
		setCharacteristic(record.Characteristics, findings.AttrMoisture, tongueMoisture)

		if err := target.UpsertRecord(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to import disease %s: %w", sourceID, err)
		}
		records[sourceID] = importedRecord{id: record.ID, tradition: record.Tradition}
	}

	return records, rows.Err()
}

func (i *Importer) importTreatments(ctx context.Context, target Target, records map[string]importedRecord) (int, error) {
	query := fmt.Sprintf(`
		SELECT
			TreatmentID,
			DiseaseID,
			Kind,
			Name,
			Dosage,
			Frequency,
			Duration,
			Cautions,
			Reference
		FROM %s
		ORDER BY DiseaseID, TreatmentID
	`, i.config.TreatmentTable)

	rows, err := i.db.QueryContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to query legacy treatments: %w", err)
	}
	defer rows.Close()

	imported := 0
	for rows.Next() {
		var sourceID, diseaseID, name string
		var kind, dosage, frequency, duration, cautions, reference sql.NullString

		err := rows.Scan(
			&sourceID, &diseaseID, &kind, &name,
			&dosage, &frequency, &duration, &cautions, &reference,
		)
		if err != nil {
			return imported, fmt.Errorf("failed to scan legacy treatment: %w", err)
		}

		parent, ok := records[diseaseID]
		if !ok {
			// Treatment rows pointing at skipped or missing diseases
			log.Printf("legacy import: skipping treatment %s for unknown disease %s", sourceID, diseaseID)
			continue
		}

		entry := knowledge.TreatmentEntry{
			ID:        types.NewDeterministicID("legacy-treatment", sourceID),
			RecordID:  parent.id,
			Tradition: parent.tradition,
			Kind:      mapTreatmentKind(kind),
			Name:      name,
			Dosage:    nullStr(dosage),
			Frequency: nullStr(frequency),
			Duration:  nullStr(duration),
			Cautions:  splitList(cautions),
			Reference: nullStr(reference),
		}

		if err := target.UpsertTreatment(ctx, entry); err != nil {
			return imported, fmt.Errorf("failed to import treatment %s: %w", sourceID, err)
		}
		imported++
	}

	return imported, rows.Err()
}

// mapTradition maps legacy tradition codes to the canonical names
func mapTradition(code string) (findings.Tradition, bool) {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "AVICENNA", "UNANI", "AV":
		return findings.TraditionAvicenna, true
	case "TCM", "CHINESE":
		return findings.TraditionTCM, true
	case "AYURVEDA", "AYU":
		return findings.TraditionAyurveda, true
	}
	return "", false
}

func mapRecordKind(kind sql.NullString, tradition findings.Tradition) knowledge.RecordKind {
	switch strings.ToLower(nullStr(kind)) {
	case "disease":
		return knowledge.RecordKindDisease
	case "pattern":
		return knowledge.RecordKindPattern
	}
	// Legacy rows without a kind column default by tradition
	if tradition == findings.TraditionTCM {
		return knowledge.RecordKindPattern
	}
	return knowledge.RecordKindDisease
}

func mapTreatmentKind(kind sql.NullString) knowledge.TreatmentKind {
	switch strings.ToLower(nullStr(kind)) {
	case "food", "diet":
		return knowledge.TreatmentFood
	case "lifestyle", "regimen":
		return knowledge.TreatmentLifestyle
	case "procedure", "therapy":
		return knowledge.TreatmentProcedure
	default:
		return knowledge.TreatmentHerb
	}
}

// setCharacteristic stores a legacy value only if it is inside the tongue
// domain; out-of-domain legacy data is dropped the same way extraction
// output is.
func setCharacteristic(m map[findings.Attribute]string, attr findings.Attribute, v sql.NullString) {
	value := strings.ToLower(strings.TrimSpace(nullStr(v)))
	if value == "" {
		return
	}
	if findings.InDomain(findings.KindTongue, attr, value) {
		m[attr] = value
	}
}

func nullStr(s sql.NullString) string {
	if s.Valid {
		return s.String
	}
	return ""
}

// splitList parses a semicolon-separated legacy list column
func splitList(s sql.NullString) []string {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil
	}
	parts := strings.Split(s.String, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
