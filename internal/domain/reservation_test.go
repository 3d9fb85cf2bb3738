package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReservation(t *testing.T) {
	price := decimal.RequireFromString("149.90")
	r := NewReservation(42, 7, 3, price, map[string]string{"note": "gift"}, 15*time.Minute)

	require.NotEqual(t, r.ID.String(), "00000000-0000-0000-0000-000000000000")
	assert.Equal(t, int64(42), r.UserID)
	assert.Equal(t, int64(7), r.ProductID)
	assert.Equal(t, ReservationStatusPending, r.Status)
	assert.True(t, r.TotalPrice.Equal(decimal.RequireFromString("449.70")))
	assert.True(t, r.ExpiresAt.After(r.CreatedAt))
	assert.Nil(t, r.ConfirmedAt)
	assert.Nil(t, r.CancelledAt)
}

func TestReservationStatusPredicates(t *testing.T) {
	tests := []struct {
		status   string
		pending  bool
		terminal bool
	}{
		{ReservationStatusPending, true, false},
		{ReservationStatusConfirmed, false, true},
		{ReservationStatusCancelled, false, true},
		{ReservationStatusExpired, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			r := &Reservation{Status: tt.status}
			assert.Equal(t, tt.pending, r.IsPending())
			assert.Equal(t, tt.terminal, r.IsTerminal())
		})
	}
}

func TestReservationExpiredAt(t *testing.T) {
	now := time.Now().UTC()
	r := &Reservation{ExpiresAt: now}

	assert.False(t, r.ExpiredAt(now.Add(-time.Second)))
	assert.True(t, r.ExpiredAt(now), "expiry instant itself counts as lapsed")
	assert.True(t, r.ExpiredAt(now.Add(time.Second)))
}

func TestIsValidReservationStatus(t *testing.T) {
	for _, s := range ValidReservationStatuses() {
		assert.True(t, IsValidReservationStatus(s), s)
	}
	assert.False(t, IsValidReservationStatus("active"))
	assert.False(t, IsValidReservationStatus(""))
}
