package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository"
	"github.com/NurzhauganovA/galmart/pkg/database"
	apperrors "github.com/NurzhauganovA/galmart/pkg/errors"
)

// IdempotencyStore persists create idempotency keys in PostgreSQL so that the
// mapping survives restarts and is co-committed with the reservation it
// protects.
type IdempotencyStore struct {
	q database.DBTX
}

// NewIdempotencyStore creates a PostgreSQL-backed idempotency store.
func NewIdempotencyStore(q database.DBTX) *IdempotencyStore {
	return &IdempotencyStore{q: q}
}

// WithTx returns a copy of the store bound to the given querier.
func (s *IdempotencyStore) WithTx(q database.DBTX) repository.IdempotencyStore {
	return &IdempotencyStore{q: q}
}

// Find retrieves an idempotency record by key. Expired records are treated as
// absent.
func (s *IdempotencyStore) Find(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	query := `
		SELECT key, payload_hash, reservation_id, expires_at, created_at
		FROM idempotency_keys
		WHERE key = $1 AND expires_at > NOW()`

	var rec domain.IdempotencyRecord
	err := s.q.QueryRow(ctx, query, key).Scan(
		&rec.Key,
		&rec.PayloadHash,
		&rec.ReservationID,
		&rec.ExpiresAt,
		&rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("find idempotency key: %w", err)
	}
	return &rec, nil
}

// Save stores a new idempotency record inside the caller's transaction. A
// concurrent create that already took the key surfaces as ErrConflict so the
// caller can re-resolve through the winner's record.
func (s *IdempotencyStore) Save(ctx context.Context, rec *domain.IdempotencyRecord) error {
	query := `
		INSERT INTO idempotency_keys (key, payload_hash, reservation_id, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.q.Exec(ctx, query,
		rec.Key,
		rec.PayloadHash,
		rec.ReservationID,
		rec.ExpiresAt,
		rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("idempotency key %s already taken: %w", rec.Key, apperrors.ErrConflict)
		}
		return fmt.Errorf("save idempotency key: %w", err)
	}
	return nil
}

// isUniqueViolation checks if the error is a PostgreSQL unique constraint violation (SQLSTATE 23505).
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "23505")
}

// DeleteExpired prunes records past their retention window.
func (s *IdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM idempotency_keys
		WHERE expires_at <= $1`

	ct, err := s.q.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return ct.RowsAffected(), nil
}
