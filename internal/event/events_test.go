package event

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NurzhauganovA/galmart/internal/domain"
	pkgkafka "github.com/NurzhauganovA/galmart/pkg/kafka"
)

func testReservation() *domain.Reservation {
	return &domain.Reservation{
		ID:         uuid.MustParse("0d4aa742-7a5b-4f4a-9b84-1f2ff8b2a001"),
		UserID:     42,
		ProductID:  7,
		Quantity:   2,
		UnitPrice:  decimal.RequireFromString("149.90"),
		TotalPrice: decimal.RequireFromString("299.80"),
		Status:     domain.ReservationStatusPending,
		ExpiresAt:  time.Now().UTC().Add(15 * time.Minute),
		CreatedAt:  time.Now().UTC(),
	}
}

func TestKnownType(t *testing.T) {
	for _, typ := range []string{
		TypeReservationCreated, TypeReservationConfirmed,
		TypeReservationCancelled, TypeReservationExpired,
	} {
		assert.True(t, KnownType(typ), typ)
	}
	assert.False(t, KnownType("reservation.updated"))
	assert.False(t, KnownType(""))
}

func TestNewReservationEvent_Created(t *testing.T) {
	r := testReservation()

	evt, err := NewReservationEvent(TypeReservationCreated, r)
	require.NoError(t, err)

	assert.NotEmpty(t, evt.EventID)
	assert.Equal(t, TypeReservationCreated, evt.EventType)
	assert.Equal(t, "42", evt.AggregateKey, "partitioned by user")
	assert.Equal(t, SourceReservationService, evt.Source)

	data, err := ParseReservationData(evt)
	require.NoError(t, err)
	assert.Equal(t, r.ID, data.ReservationID)
	assert.Equal(t, int64(42), data.UserID)
	assert.Equal(t, 2, data.Quantity)
	assert.Nil(t, data.TotalPrice, "created carries no price")
}

func TestNewReservationEvent_ConfirmedCarriesPrice(t *testing.T) {
	r := testReservation()
	r.Status = domain.ReservationStatusConfirmed

	evt, err := NewReservationEvent(TypeReservationConfirmed, r)
	require.NoError(t, err)

	data, err := ParseReservationData(evt)
	require.NoError(t, err)
	require.NotNil(t, data.TotalPrice)
	assert.True(t, data.TotalPrice.Equal(decimal.RequireFromString("299.80")))
}

func TestNewReservationEvent_RejectsUnknownType(t *testing.T) {
	evt, err := NewReservationEvent("reservation.updated", testReservation())
	assert.Nil(t, evt)
	assert.Error(t, err)
}

func TestParseReservationData_RejectsUnknownType(t *testing.T) {
	evt, err := pkgkafka.NewEvent("order.created", "42", "elsewhere", map[string]string{})
	require.NoError(t, err)

	data, parseErr := ParseReservationData(evt)
	assert.Nil(t, data)
	assert.Error(t, parseErr)
}

func TestParseReservationData_RequiresReservationID(t *testing.T) {
	evt, err := pkgkafka.NewEvent(TypeReservationCreated, "42", SourceReservationService,
		map[string]any{"user_id": 42})
	require.NoError(t, err)

	data, parseErr := ParseReservationData(evt)
	assert.Nil(t, data)
	assert.ErrorContains(t, parseErr, "missing reservation_id")
}

func TestDedupKey_BusinessIdentity(t *testing.T) {
	r := testReservation()

	// Two envelopes for the same transition get distinct event IDs but the
	// same dedup key.
	e1, err := NewReservationEvent(TypeReservationExpired, r)
	require.NoError(t, err)
	e2, err := NewReservationEvent(TypeReservationExpired, r)
	require.NoError(t, err)

	assert.NotEqual(t, e1.EventID, e2.EventID)
	assert.Equal(t, DedupKey(e1), DedupKey(e2))
	assert.Equal(t, r.ID.String()+":"+TypeReservationExpired, DedupKey(e1))
}

func TestDedupKey_FallsBackToEventID(t *testing.T) {
	evt, err := pkgkafka.NewEvent("order.created", "42", "elsewhere", map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, evt.EventID, DedupKey(evt))
}
