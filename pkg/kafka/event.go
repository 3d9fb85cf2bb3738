package kafka

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is the JSON envelope for every message on the bus. AggregateKey is the
// partition key, so events sharing a key are delivered in publish order.
type Event struct {
	EventID      string          `json:"event_id"`
	EventType    string          `json:"event_type"`
	AggregateKey string          `json:"aggregate_key"`
	Timestamp    time.Time       `json:"timestamp"`
	Source       string          `json:"source,omitempty"`
	Data         json.RawMessage `json:"data"`
}

// NewEvent creates an event with a generated ID and current UTC timestamp.
func NewEvent(eventType, aggregateKey, source string, data any) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:      uuid.New().String(),
		EventType:    eventType,
		AggregateKey: aggregateKey,
		Timestamp:    time.Now().UTC(),
		Source:       source,
		Data:         dataBytes,
	}, nil
}

// Marshal serializes the event to JSON bytes.
func (e *Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent deserializes an event from JSON bytes.
func UnmarshalEvent(data []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, err
	}
	return &event, nil
}

// UnmarshalData deserializes the event data payload into the given target.
func (e *Event) UnmarshalData(target any) error {
	return json.Unmarshal(e.Data, target)
}
