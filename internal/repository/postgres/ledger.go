package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/NurzhauganovA/galmart/internal/config"
	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository"
	"github.com/NurzhauganovA/galmart/pkg/database"
	apperrors "github.com/NurzhauganovA/galmart/pkg/errors"
)

// Ledger implements the stock primitives over PostgreSQL. The locking
// discipline is fixed at construction: pessimistic takes a row lock for the
// duration of the primitive, optimistic does a versioned conditional write
// with bounded retries. The two are never combined on one path.
type Ledger struct {
	q        database.DBTX
	locking  string
	retryMax int
}

// NewLedger creates a PostgreSQL-backed stock ledger.
func NewLedger(q database.DBTX, locking string, retryMax int) *Ledger {
	return &Ledger{q: q, locking: locking, retryMax: retryMax}
}

// WithTx returns a copy of the ledger bound to the given querier.
func (l *Ledger) WithTx(q database.DBTX) repository.Ledger {
	return &Ledger{q: q, locking: l.locking, retryMax: l.retryMax}
}

const stockColumns = `product_id, on_hand, reserved, version, updated_at`

func scanStock(row pgx.Row) (*domain.Stock, error) {
	var s domain.Stock
	if err := row.Scan(&s.ProductID, &s.OnHand, &s.Reserved, &s.Version, &s.UpdatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// Get reads the stock row without locking.
func (l *Ledger) Get(ctx context.Context, productID int64) (*domain.Stock, error) {
	query := `
		SELECT ` + stockColumns + `
		FROM stock
		WHERE product_id = $1`

	s, err := scanStock(l.q.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("stock", fmt.Sprintf("%d", productID))
		}
		return nil, fmt.Errorf("get stock: %w", err)
	}
	return s, nil
}

// Reserve increments reserved by qty after checking available >= qty.
func (l *Ledger) Reserve(ctx context.Context, productID int64, qty int) error {
	return l.mutate(ctx, productID, func(s *domain.Stock) error {
		if s.Available() < qty {
			return apperrors.InsufficientStock(s.Available(), qty)
		}
		s.Reserved += qty
		return nil
	})
}

// Release decrements reserved by min(reserved, qty). It never fails on
// underflow, so a retried release is a no-op past the first.
func (l *Ledger) Release(ctx context.Context, productID int64, qty int) error {
	return l.mutate(ctx, productID, func(s *domain.Stock) error {
		if qty > s.Reserved {
			qty = s.Reserved
		}
		s.Reserved -= qty
		return nil
	})
}

// Commit debits both on_hand and reserved by qty. A failed precondition here
// means reserve accounting is broken upstream.
func (l *Ledger) Commit(ctx context.Context, productID int64, qty int) error {
	return l.mutate(ctx, productID, func(s *domain.Stock) error {
		if s.Reserved < qty || s.OnHand < qty {
			return apperrors.InvariantViolation(fmt.Sprintf(
				"commit %d units of product %d with on_hand=%d reserved=%d",
				qty, productID, s.OnHand, s.Reserved,
			))
		}
		s.OnHand -= qty
		s.Reserved -= qty
		return nil
	})
}

// SetOnHand creates or overwrites the on-hand count for a product. The new
// count must cover units already reserved.
func (l *Ledger) SetOnHand(ctx context.Context, productID int64, newOnHand int) (*domain.Stock, error) {
	if newOnHand < 0 {
		return nil, apperrors.InvalidInput("on_hand must be non-negative")
	}

	query := `
		INSERT INTO stock (product_id, on_hand, reserved, version, updated_at)
		VALUES ($1, $2, 0, 1, NOW())
		ON CONFLICT (product_id) DO UPDATE SET
			on_hand = EXCLUDED.on_hand,
			version = stock.version + 1,
			updated_at = NOW()
		WHERE stock.reserved <= EXCLUDED.on_hand
		RETURNING ` + stockColumns

	s, err := scanStock(l.q.QueryRow(ctx, query, productID, newOnHand))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// The conditional upsert matched nothing: reserved exceeds the
			// requested on-hand count.
			return nil, apperrors.InvalidInput(fmt.Sprintf(
				"on_hand %d is below the currently reserved count for product %d", newOnHand, productID,
			))
		}
		return nil, fmt.Errorf("set on_hand: %w", err)
	}
	return s, nil
}

// mutate applies fn to the stock row under the configured locking discipline.
// fn sees the current row values and edits them in place; a returned error
// aborts without writing.
func (l *Ledger) mutate(ctx context.Context, productID int64, fn func(*domain.Stock) error) error {
	if l.locking == config.LockingOptimistic {
		return l.mutateOptimistic(ctx, productID, fn)
	}
	return l.mutatePessimistic(ctx, productID, fn)
}

func (l *Ledger) mutatePessimistic(ctx context.Context, productID int64, fn func(*domain.Stock) error) error {
	lockQuery := `
		SELECT ` + stockColumns + `
		FROM stock
		WHERE product_id = $1
		FOR UPDATE`

	s, err := scanStock(l.q.QueryRow(ctx, lockQuery, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperrors.NotFound("stock", fmt.Sprintf("%d", productID))
		}
		return fmt.Errorf("lock stock row: %w", err)
	}

	if err := fn(s); err != nil {
		return err
	}

	updateQuery := `
		UPDATE stock
		SET on_hand = $2, reserved = $3, version = version + 1, updated_at = NOW()
		WHERE product_id = $1`

	if _, err := l.q.Exec(ctx, updateQuery, productID, s.OnHand, s.Reserved); err != nil {
		return fmt.Errorf("update stock row: %w", err)
	}
	return nil
}

func (l *Ledger) mutateOptimistic(ctx context.Context, productID int64, fn func(*domain.Stock) error) error {
	readQuery := `
		SELECT ` + stockColumns + `
		FROM stock
		WHERE product_id = $1`

	updateQuery := `
		UPDATE stock
		SET on_hand = $2, reserved = $3, version = version + 1, updated_at = NOW()
		WHERE product_id = $1 AND version = $4`

	for attempt := 0; attempt < l.retryMax; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * 5 * time.Millisecond):
			}
		}

		s, err := scanStock(l.q.QueryRow(ctx, readQuery, productID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return apperrors.NotFound("stock", fmt.Sprintf("%d", productID))
			}
			return fmt.Errorf("read stock row: %w", err)
		}

		if err := fn(s); err != nil {
			return err
		}

		ct, err := l.q.Exec(ctx, updateQuery, productID, s.OnHand, s.Reserved, s.Version)
		if err != nil {
			return fmt.Errorf("conditional update stock row: %w", err)
		}
		if ct.RowsAffected() == 1 {
			return nil
		}
		// Version moved under us; re-read and retry.
	}

	return apperrors.Transient(apperrors.Conflict(productID))
}
