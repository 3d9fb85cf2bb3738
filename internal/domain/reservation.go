package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Reservation status constants. Pending is the only non-terminal status.
const (
	ReservationStatusPending   = "pending"
	ReservationStatusConfirmed = "confirmed"
	ReservationStatusCancelled = "cancelled"
	ReservationStatusExpired   = "expired"
)

// Reservation is a bounded hold of product units by a user. It is created
// pending and transitions exactly once to a terminal status.
type Reservation struct {
	ID           uuid.UUID         `json:"id"`
	UserID       int64             `json:"user_id"`
	ProductID    int64             `json:"product_id"`
	Quantity     int               `json:"quantity"`
	UnitPrice    decimal.Decimal   `json:"unit_price"`
	TotalPrice   decimal.Decimal   `json:"total_price"`
	Status       string            `json:"status"`
	CustomerInfo map[string]string `json:"customer_info,omitempty"`
	ExpiresAt    time.Time         `json:"expires_at"`
	CreatedAt    time.Time         `json:"created_at"`
	ConfirmedAt  *time.Time        `json:"confirmed_at,omitempty"`
	CancelledAt  *time.Time        `json:"cancelled_at,omitempty"`
}

// NewReservation builds a pending reservation with a price snapshot taken at
// creation time.
func NewReservation(userID, productID int64, quantity int, unitPrice decimal.Decimal, customerInfo map[string]string, ttl time.Duration) *Reservation {
	now := time.Now().UTC()
	return &Reservation{
		ID:           uuid.New(),
		UserID:       userID,
		ProductID:    productID,
		Quantity:     quantity,
		UnitPrice:    unitPrice,
		TotalPrice:   unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
		Status:       ReservationStatusPending,
		CustomerInfo: customerInfo,
		ExpiresAt:    now.Add(ttl),
		CreatedAt:    now,
	}
}

// IsPending returns true if the reservation can still be confirmed or cancelled.
func (r *Reservation) IsPending() bool {
	return r.Status == ReservationStatusPending
}

// IsTerminal returns true once the reservation has left the pending status.
func (r *Reservation) IsTerminal() bool {
	return r.Status != ReservationStatusPending
}

// ExpiredAt reports whether the hold has lapsed at the given instant.
func (r *Reservation) ExpiredAt(now time.Time) bool {
	return !now.Before(r.ExpiresAt)
}

// ValidReservationStatuses returns the set of valid reservation statuses.
func ValidReservationStatuses() []string {
	return []string{
		ReservationStatusPending,
		ReservationStatusConfirmed,
		ReservationStatusCancelled,
		ReservationStatusExpired,
	}
}

// IsValidReservationStatus checks whether the given status is a valid reservation status.
func IsValidReservationStatus(status string) bool {
	for _, s := range ValidReservationStatuses() {
		if s == status {
			return true
		}
	}
	return false
}
