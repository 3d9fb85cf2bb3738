package domain

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyRecord maps a client-supplied create key to the reservation it
// produced. A repeat with the same key and payload hash returns the stored
// reservation; a different hash under the same key is a conflict.
type IdempotencyRecord struct {
	Key           string    `json:"key"`
	PayloadHash   string    `json:"payload_hash"`
	ReservationID uuid.UUID `json:"reservation_id"`
	ExpiresAt     time.Time `json:"expires_at"`
	CreatedAt     time.Time `json:"created_at"`
}
