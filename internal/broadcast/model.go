package broadcast

import (
	"encoding/json"
	"time"

	"github.com/triveda-health/platform/internal/shared/types"
)

// EventKind classifies fabric events
type EventKind string

const (
	KindRecommendationUpdate EventKind = "recommendation_update"
	KindEffectivenessUpdate  EventKind = "effectiveness_update"
	KindFeedbackUpdate       EventKind = "feedback_update"
	KindConnect              EventKind = "connect"
	KindPong                 EventKind = "pong"
)

// Event is one update published to a diagnosis topic. The wire envelope
// exposes type, diagnosis_id, timestamp and data.
type Event struct {
	ID          types.ID        `json:"id"`
	Kind        EventKind       `json:"type"`
	DiagnosisID types.ID        `json:"diagnosis_id"`
	Payload     json.RawMessage `json:"data,omitempty"`
	PublishedAt time.Time       `json:"timestamp"`
}

// NewEvent creates a fabric event with a payload marshaled from v
func NewEvent(kind EventKind, diagnosisID types.ID, v any) (Event, error) {
	var payload json.RawMessage
	if v != nil {
		data, err := json.Marshal(v)
		if err != nil {
			return Event{}, err
		}
		payload = data
	}
	return Event{
		ID:          types.NewID(),
		Kind:        kind,
		DiagnosisID: diagnosisID,
		Payload:     payload,
		PublishedAt: time.Now().UTC(),
	}, nil
}
