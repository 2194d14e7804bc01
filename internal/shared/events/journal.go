package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/EventStore/EventStore-Client-Go/v4/esdb"
	"github.com/google/uuid"
	"github.com/triveda-health/platform/internal/shared/config"
	"github.com/triveda-health/platform/internal/shared/types"
)

// Event represents a domain event recorded by the journal
type Event struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Source      string    `json:"source"`
	Timestamp   time.Time `json:"timestamp"`
	DiagnosisID types.ID  `json:"diagnosis_id,omitempty"`
	PatientID   types.ID  `json:"patient_id,omitempty"`
	Data        any       `json:"data"`
}

// NewEvent creates a new event with auto-generated ID and timestamp
func NewEvent(eventType, source string, data any) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// WithDiagnosis sets the diagnosis scope on the event
func (e Event) WithDiagnosis(diagnosisID, patientID types.ID) Event {
	e.DiagnosisID = diagnosisID
	e.PatientID = patientID
	return e
}

// Journal records domain events in append-only per-diagnosis streams on
// EventStoreDB. It is an audit trail, not the live broadcast path; the
// in-process fabric owns subscriber delivery.
type Journal struct {
	client *esdb.Client
	prefix string
}

// NewJournal creates a journal connected to EventStoreDB
func NewJournal(ctx context.Context, cfg config.JournalConfig) (*Journal, error) {
	settings, err := esdb.ParseConnectionString(connectionString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	client, err := esdb.NewClient(settings)
	if err != nil {
		return nil, fmt.Errorf("failed to create event store client: %w", err)
	}

	return &Journal{client: client, prefix: "triveda"}, nil
}

// connectionString creates the esdb:// connection string
func connectionString(cfg config.JournalConfig) string {
	var auth string
	if cfg.Username != "" && cfg.Password != "" {
		auth = fmt.Sprintf("%s:%s@", cfg.Username, cfg.Password)
	}

	params := ""
	if cfg.Insecure {
		params = "?tls=false&tlsVerifyCert=false"
	}

	return fmt.Sprintf("esdb://%s%s:%d%s", auth, cfg.Host, cfg.Port, params)
}

// Append records an event. Events without a diagnosis scope land on a
// shared system stream.
func (j *Journal) Append(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	stream := fmt.Sprintf("%s-system", j.prefix)
	if !event.DiagnosisID.IsZero() {
		stream = fmt.Sprintf("%s-diagnosis-%s", j.prefix, event.DiagnosisID)
	}

	eventID, err := uuid.Parse(event.ID)
	if err != nil {
		eventID = uuid.New()
	}

	esdbEvent := esdb.EventData{
		EventType:   event.Type,
		ContentType: esdb.ContentTypeJson,
		Data:        data,
		EventID:     eventID,
	}

	_, err = j.client.AppendToStream(ctx, stream, esdb.AppendToStreamOptions{
		ExpectedRevision: esdb.Any{},
	}, esdbEvent)

	if err != nil {
		return fmt.Errorf("failed to journal event: %w", err)
	}

	return nil
}

// History reads the recorded events for a diagnosis, oldest first.
func (j *Journal) History(ctx context.Context, diagnosisID types.ID, limit uint64) ([]Event, error) {
	stream := fmt.Sprintf("%s-diagnosis-%s", j.prefix, diagnosisID)

	read, err := j.client.ReadStream(ctx, stream, esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", stream, err)
	}
	defer read.Close()

	var out []Event
	for {
		resolved, err := read.Recv()
		if err != nil {
			break
		}
		if resolved.Event == nil {
			continue
		}

		var event Event
		if err := json.Unmarshal(resolved.Event.Data, &event); err != nil {
			continue
		}
		if event.ID == "" {
			event.ID = resolved.Event.EventID.String()
		}
		out = append(out, event)
	}

	return out, nil
}

// Close closes the journal connection
func (j *Journal) Close() {
	if j.client != nil {
		j.client.Close()
	}
}

// Health checks the event store connection
func (j *Journal) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := j.client.ReadStream(ctx, "$streams", esdb.ReadStreamOptions{
		From:      esdb.Start{},
		Direction: esdb.Forwards,
	}, 1)

	if err != nil {
		return fmt.Errorf("event store health check failed: %w", err)
	}
	defer stream.Close()

	return nil
}
