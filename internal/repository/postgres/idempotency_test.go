package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/pkg/database"
	apperrors "github.com/NurzhauganovA/galmart/pkg/errors"
)

func setupIdempotency(t *testing.T) (*IdempotencyStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := database.NewMockPool()
	require.NoError(t, err)
	return NewIdempotencyStore(mock), mock
}

func TestIdempotencyStore_Find_Success(t *testing.T) {
	store, mock := setupIdempotency(t)
	defer mock.Close()

	resID := uuid.New()
	expires := time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC)
	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT .+ FROM idempotency_keys WHERE key").
		WithArgs("req-1").
		WillReturnRows(
			pgxmock.NewRows([]string{"key", "payload_hash", "reservation_id", "expires_at", "created_at"}).
				AddRow("req-1", "abc123", resID, expires, created),
		)

	rec, err := store.Find(context.Background(), "req-1")
	require.NoError(t, err)
	assert.Equal(t, "req-1", rec.Key)
	assert.Equal(t, "abc123", rec.PayloadHash)
	assert.Equal(t, resID, rec.ReservationID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyStore_Find_ExpiredOrMissing(t *testing.T) {
	store, mock := setupIdempotency(t)
	defer mock.Close()

	mock.ExpectQuery("SELECT .+ FROM idempotency_keys WHERE key").
		WithArgs("req-gone").
		WillReturnError(pgx.ErrNoRows)

	rec, err := store.Find(context.Background(), "req-gone")
	assert.Nil(t, rec)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyStore_Save(t *testing.T) {
	store, mock := setupIdempotency(t)
	defer mock.Close()

	rec := domain.IdempotencyRecord{
		Key:           "req-1",
		PayloadHash:   "abc123",
		ReservationID: uuid.New(),
		ExpiresAt:     time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs(rec.Key, rec.PayloadHash, rec.ReservationID, rec.ExpiresAt, rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Save(context.Background(), &rec)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyStore_Save_DuplicateKey(t *testing.T) {
	store, mock := setupIdempotency(t)
	defer mock.Close()

	rec := domain.IdempotencyRecord{
		Key:           "req-1",
		PayloadHash:   "abc123",
		ReservationID: uuid.New(),
		ExpiresAt:     time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC),
		CreatedAt:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO idempotency_keys").
		WithArgs(rec.Key, rec.PayloadHash, rec.ReservationID, rec.ExpiresAt, rec.CreatedAt).
		WillReturnError(errors.New("ERROR: duplicate key value violates unique constraint (SQLSTATE 23505)"))

	err := store.Save(context.Background(), &rec)
	assert.ErrorIs(t, err, apperrors.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIdempotencyStore_DeleteExpired(t *testing.T) {
	store, mock := setupIdempotency(t)
	defer mock.Close()

	now := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM idempotency_keys").
		WithArgs(now).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	deleted, err := store.DeleteExpired(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
