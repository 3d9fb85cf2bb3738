package domain

import (
	"time"
)

// Stock is the per-product inventory row. Reserved counts units held by
// pending reservations; Version increases on every mutation.
type Stock struct {
	ProductID int64     `json:"product_id"`
	OnHand    int       `json:"on_hand"`
	Reserved  int       `json:"reserved"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Available returns the quantity that can still be reserved.
func (s *Stock) Available() int {
	return s.OnHand - s.Reserved
}

// CheckInvariants reports whether the row satisfies the ledger arithmetic
// constraints. A false result indicates a programming bug, not user error.
func (s *Stock) CheckInvariants() bool {
	return s.OnHand >= 0 && s.Reserved >= 0 && s.Reserved <= s.OnHand
}
