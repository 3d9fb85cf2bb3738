package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository"
	"github.com/NurzhauganovA/galmart/pkg/database"
	apperrors "github.com/NurzhauganovA/galmart/pkg/errors"
)

// ReservationStore implements reservation persistence over PostgreSQL.
type ReservationStore struct {
	q database.DBTX
}

// NewReservationStore creates a PostgreSQL-backed reservation store.
func NewReservationStore(q database.DBTX) *ReservationStore {
	return &ReservationStore{q: q}
}

// WithTx returns a copy of the store bound to the given querier.
func (s *ReservationStore) WithTx(q database.DBTX) repository.ReservationStore {
	return &ReservationStore{q: q}
}

const reservationColumns = `id, user_id, product_id, quantity, unit_price, total_price, status,
	customer_info, expires_at, created_at, confirmed_at, cancelled_at`

func scanReservation(row pgx.Row) (*domain.Reservation, error) {
	var r domain.Reservation
	if err := row.Scan(
		&r.ID,
		&r.UserID,
		&r.ProductID,
		&r.Quantity,
		&r.UnitPrice,
		&r.TotalPrice,
		&r.Status,
		&r.CustomerInfo,
		&r.ExpiresAt,
		&r.CreatedAt,
		&r.ConfirmedAt,
		&r.CancelledAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}

// Insert stores a new reservation. The primary key rejects duplicate IDs.
func (s *ReservationStore) Insert(ctx context.Context, r *domain.Reservation) error {
	query := `
		INSERT INTO reservations (` + reservationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := s.q.Exec(ctx, query,
		r.ID,
		r.UserID,
		r.ProductID,
		r.Quantity,
		r.UnitPrice,
		r.TotalPrice,
		r.Status,
		r.CustomerInfo,
		r.ExpiresAt,
		r.CreatedAt,
		r.ConfirmedAt,
		r.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

// Find retrieves a reservation by ID.
func (s *ReservationStore) Find(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE id = $1`

	r, err := scanReservation(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("reservation", id.String())
		}
		return nil, fmt.Errorf("find reservation: %w", err)
	}
	return r, nil
}

// FindForUpdate retrieves a reservation holding an exclusive row lock until
// the surrounding transaction ends.
func (s *ReservationStore) FindForUpdate(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE id = $1
		FOR UPDATE`

	r, err := scanReservation(s.q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("reservation", id.String())
		}
		return nil, fmt.Errorf("lock reservation: %w", err)
	}
	return r, nil
}

// Transition performs a compare-and-set on status and stamps the terminal
// timestamp matching the target status. A stale from-status surfaces as a
// conflict so the caller can re-read and decide.
func (s *ReservationStore) Transition(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (*domain.Reservation, error) {
	query := `
		UPDATE reservations
		SET status = $3,
			confirmed_at = CASE WHEN $3 = 'confirmed' THEN $4 ELSE confirmed_at END,
			cancelled_at = CASE WHEN $3 IN ('cancelled', 'expired') THEN $4 ELSE cancelled_at END
		WHERE id = $1 AND status = $2
		RETURNING ` + reservationColumns

	r, err := scanReservation(s.q.QueryRow(ctx, query, id, from, to, at))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row is gone or its status moved. Distinguish so the
			// caller can return not_found vs not_pending.
			if _, findErr := s.Find(ctx, id); findErr != nil {
				return nil, findErr
			}
			return nil, fmt.Errorf("transition %s from %s to %s: %w", id, from, to, apperrors.ErrConflict)
		}
		return nil, fmt.Errorf("transition reservation: %w", err)
	}
	return r, nil
}

// ListByUser returns the user's reservations newest first with the total
// count computed in the same query.
func (s *ReservationStore) ListByUser(ctx context.Context, userID int64, status string, limit, offset int) ([]domain.Reservation, int, error) {
	query := `
		SELECT ` + reservationColumns + `, count(*) OVER() AS total_count
		FROM reservations
		WHERE user_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`

	rows, err := s.q.Query(ctx, query, userID, status, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list reservations by user: %w", err)
	}
	defer rows.Close()

	var (
		reservations []domain.Reservation
		totalCount   int
	)

	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.ProductID,
			&r.Quantity,
			&r.UnitPrice,
			&r.TotalPrice,
			&r.Status,
			&r.CustomerInfo,
			&r.ExpiresAt,
			&r.CreatedAt,
			&r.ConfirmedAt,
			&r.CancelledAt,
			&totalCount,
		); err != nil {
			return nil, 0, fmt.Errorf("scan reservation row: %w", err)
		}
		reservations = append(reservations, r)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterate reservation rows: %w", err)
	}

	if reservations == nil {
		reservations = []domain.Reservation{}
	}

	return reservations, totalCount, nil
}

// CountActive counts the user's pending reservations, backed by the
// (user_id, status) index.
func (s *ReservationStore) CountActive(ctx context.Context, userID int64) (int, error) {
	query := `
		SELECT count(*)
		FROM reservations
		WHERE user_id = $1 AND status = $2`

	var count int
	if err := s.q.QueryRow(ctx, query, userID, domain.ReservationStatusPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("count active reservations: %w", err)
	}
	return count, nil
}

// ScanExpired returns pending reservations whose hold has lapsed, oldest
// expiry first, backed by the (status, expires_at) index.
func (s *ReservationStore) ScanExpired(ctx context.Context, now time.Time, batchSize int) ([]domain.Reservation, error) {
	query := `
		SELECT ` + reservationColumns + `
		FROM reservations
		WHERE status = $1 AND expires_at <= $2
		ORDER BY expires_at ASC
		LIMIT $3`

	rows, err := s.q.Query(ctx, query, domain.ReservationStatusPending, now, batchSize)
	if err != nil {
		return nil, fmt.Errorf("scan expired reservations: %w", err)
	}
	defer rows.Close()

	var reservations []domain.Reservation
	for rows.Next() {
		var r domain.Reservation
		if err := rows.Scan(
			&r.ID,
			&r.UserID,
			&r.ProductID,
			&r.Quantity,
			&r.UnitPrice,
			&r.TotalPrice,
			&r.Status,
			&r.CustomerInfo,
			&r.ExpiresAt,
			&r.CreatedAt,
			&r.ConfirmedAt,
			&r.CancelledAt,
		); err != nil {
			return nil, fmt.Errorf("scan expired reservation row: %w", err)
		}
		reservations = append(reservations, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate expired reservation rows: %w", err)
	}

	if reservations == nil {
		reservations = []domain.Reservation{}
	}

	return reservations, nil
}
