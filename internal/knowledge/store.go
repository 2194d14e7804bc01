package knowledge

import (
	"context"
	"sort"

	"github.com/triveda-health/platform/internal/findings"
	"github.com/triveda-health/platform/internal/shared/errors"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Source supplies the records and treatments the store loads at startup
type Source interface {
	LoadRecords(ctx context.Context) ([]Record, error)
	LoadTreatments(ctx context.Context) ([]TreatmentEntry, error)
}

// Store provides read-only access to the three tradition schemas through
// in-memory indexes. Built once at startup; no component mutates it at
// runtime, so reads take no lock.
type Store struct {
	byTradition    map[findings.Tradition][]Record
	byID           map[findings.Tradition]map[types.ID]Record
	byCategory     map[findings.Tradition]map[string][]Record
	byConstitution map[findings.Tradition]map[string][]Record
	treatments     map[types.ID][]TreatmentEntry
}

// NewStore loads all records from the source and builds the indexes
func NewStore(ctx context.Context, source Source) (*Store, error) {
	records, err := source.LoadRecords(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load knowledge records")
	}

	treatments, err := source.LoadTreatments(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load treatments")
	}

	s := &Store{
		byTradition:    make(map[findings.Tradition][]Record),
		byID:           make(map[findings.Tradition]map[types.ID]Record),
		byCategory:     make(map[findings.Tradition]map[string][]Record),
		byConstitution: make(map[findings.Tradition]map[string][]Record),
		treatments:     make(map[types.ID][]TreatmentEntry),
	}

	for _, tradition := range findings.Traditions() {
		s.byID[tradition] = make(map[types.ID]Record)
		s.byCategory[tradition] = make(map[string][]Record)
		s.byConstitution[tradition] = make(map[string][]Record)
	}

	for _, record := range records {
		t := record.Tradition
		if _, ok := s.byID[t]; !ok {
			continue // unknown tradition rows are skipped, not fatal
		}
		s.byTradition[t] = append(s.byTradition[t], record)
		s.byID[t][record.ID] = record
		if record.Category != "" {
			s.byCategory[t][record.Category] = append(s.byCategory[t][record.Category], record)
		}
		if key := record.ConstitutionKey(); key != "" {
			s.byConstitution[t][key] = append(s.byConstitution[t][key], record)
		}
	}

	// Deterministic iteration order for matching and listing
	for _, tradition := range findings.Traditions() {
		sort.Slice(s.byTradition[tradition], func(i, j int) bool {
			return s.byTradition[tradition][i].ID < s.byTradition[tradition][j].ID
		})
	}

	for _, entry := range treatments {
		s.treatments[entry.RecordID] = append(s.treatments[entry.RecordID], entry)
	}

	return s, nil
}

// Records returns every record of a tradition. Returns EmptyKnowledge when
// the tradition has no records; an unconfigured tradition is a hard error,
// not an empty result.
func (s *Store) Records(tradition findings.Tradition) ([]Record, error) {
	records := s.byTradition[tradition]
	if len(records) == 0 {
		return nil, errors.EmptyKnowledge(string(tradition))
	}
	return records, nil
}

// Record returns a single record by tradition and id
func (s *Store) Record(tradition findings.Tradition, id types.ID) (Record, error) {
	record, ok := s.byID[tradition][id]
	if !ok {
		return Record{}, errors.NotFound("knowledge record", id.String())
	}
	return record, nil
}

// ByCategory returns records of a tradition in a category
func (s *Store) ByCategory(tradition findings.Tradition, category string) []Record {
	return s.byCategory[tradition][category]
}

// ByConstitution returns records indexed under a constitutional key
// (mizaj, dosha, or organ depending on tradition)
func (s *Store) ByConstitution(tradition findings.Tradition, key string) []Record {
	return s.byConstitution[tradition][key]
}

// Treatments returns the treatment entries of a record
func (s *Store) Treatments(tradition findings.Tradition, recordID types.ID) ([]TreatmentEntry, error) {
	if _, ok := s.byID[tradition][recordID]; !ok {
		return nil, errors.NotFound("knowledge record", recordID.String())
	}
	return s.treatments[recordID], nil
}

// Size returns the record count per tradition, for startup logging and
// readiness checks
func (s *Store) Size() map[findings.Tradition]int {
	out := make(map[findings.Tradition]int, len(s.byTradition))
	for _, tradition := range findings.Traditions() {
		out[tradition] = len(s.byTradition[tradition])
	}
	return out
}
