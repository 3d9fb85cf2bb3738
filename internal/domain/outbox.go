package domain

import (
	"encoding/json"
	"time"
)

// OutboxEntry is a pending domain event co-written with the state change it
// describes, inside the same database transaction.
type OutboxEntry struct {
	ID            int64           `json:"id"`
	AggregateKey  string          `json:"aggregate_key"`
	Topic         string          `json:"topic"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Attempts      int             `json:"attempts"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	ClaimedUntil  *time.Time      `json:"claimed_until,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	PublishedAt   *time.Time      `json:"published_at,omitempty"`
}
