package event

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/NurzhauganovA/galmart/internal/domain"
	pkgkafka "github.com/NurzhauganovA/galmart/pkg/kafka"
)

// Reservation event types. This set is closed: subscribers reject anything
// else at the boundary.
const (
	TypeReservationCreated   = "reservation.created"
	TypeReservationConfirmed = "reservation.confirmed"
	TypeReservationCancelled = "reservation.cancelled"
	TypeReservationExpired   = "reservation.expired"
)

// Source identifier for events originating from the reservation service.
const SourceReservationService = "reservation-service"

// KnownType reports whether the event type belongs to the reservation set.
func KnownType(t string) bool {
	switch t {
	case TypeReservationCreated, TypeReservationConfirmed, TypeReservationCancelled, TypeReservationExpired:
		return true
	}
	return false
}

// ReservationData is the payload shared by all reservation events. TotalPrice
// is carried only on terminal events (confirmed, cancelled, expired).
type ReservationData struct {
	ReservationID uuid.UUID        `json:"reservation_id"`
	UserID        int64            `json:"user_id"`
	ProductID     int64            `json:"product_id"`
	Quantity      int              `json:"quantity"`
	TotalPrice    *decimal.Decimal `json:"total_price,omitempty"`
}

// NewReservationEvent builds the bus envelope for a reservation event. The
// aggregate key is the user ID, so a user's events stay on one partition in
// write order. The event ID is generated here, at outbox-append time, and is
// therefore stable across publish retries.
func NewReservationEvent(eventType string, r *domain.Reservation) (*pkgkafka.Event, error) {
	if !KnownType(eventType) {
		return nil, fmt.Errorf("unknown reservation event type %q", eventType)
	}

	data := ReservationData{
		ReservationID: r.ID,
		UserID:        r.UserID,
		ProductID:     r.ProductID,
		Quantity:      r.Quantity,
	}
	if eventType != TypeReservationCreated {
		price := r.TotalPrice
		data.TotalPrice = &price
	}

	return pkgkafka.NewEvent(eventType, strconv.FormatInt(r.UserID, 10), SourceReservationService, data)
}

// ParseReservationData validates the envelope against the closed type set and
// decodes its payload.
func ParseReservationData(e *pkgkafka.Event) (*ReservationData, error) {
	if !KnownType(e.EventType) {
		return nil, fmt.Errorf("unknown reservation event type %q", e.EventType)
	}

	var data ReservationData
	if err := e.UnmarshalData(&data); err != nil {
		return nil, fmt.Errorf("unmarshal %s data: %w", e.EventType, err)
	}
	if data.ReservationID == uuid.Nil {
		return nil, fmt.Errorf("%s event missing reservation_id", e.EventType)
	}
	return &data, nil
}

// DedupKey keys handler deduplication on business identity, so a re-emitted
// event for the same reservation and type is a no-op even when its envelope
// carries a fresh event ID.
func DedupKey(e *pkgkafka.Event) string {
	data, err := ParseReservationData(e)
	if err != nil {
		// Fall back to the envelope ID; the handler will reject the event.
		return e.EventID
	}
	return data.ReservationID.String() + ":" + e.EventType
}
