package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/pkg/database"
)

// Ledger defines the atomic stock primitives. Implementations are bound to a
// querier at construction; WithTx rebinds them to a transaction so the service
// layer can compose ledger, store, and outbox writes atomically.
type Ledger interface {
	WithTx(q database.DBTX) Ledger

	// Get reads the stock row without locking it.
	Get(ctx context.Context, productID int64) (*domain.Stock, error)

	// Reserve requires available >= qty and increments reserved.
	Reserve(ctx context.Context, productID int64, qty int) error

	// Release decrements reserved by min(reserved, qty). The clamp makes a
	// double release under retry harmless.
	Release(ctx context.Context, productID int64, qty int) error

	// Commit requires reserved >= qty and on_hand >= qty and decrements both.
	Commit(ctx context.Context, productID int64, qty int) error

	// SetOnHand is administrative: it creates or overwrites the on-hand count,
	// requiring newOnHand >= reserved.
	SetOnHand(ctx context.Context, productID int64, newOnHand int) (*domain.Stock, error)
}

// ReservationStore persists reservations and their status transitions.
type ReservationStore interface {
	WithTx(q database.DBTX) ReservationStore

	// Insert stores a new reservation; duplicate IDs are rejected.
	Insert(ctx context.Context, r *domain.Reservation) error

	// Find retrieves a reservation by ID.
	Find(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)

	// FindForUpdate retrieves a reservation holding an exclusive row lock for
	// the rest of the transaction.
	FindForUpdate(ctx context.Context, id uuid.UUID) (*domain.Reservation, error)

	// Transition performs a compare-and-set on status. It fails when the
	// current status no longer matches from.
	Transition(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (*domain.Reservation, error)

	// ListByUser returns the user's reservations newest first, optionally
	// filtered by status, with the total count for pagination.
	ListByUser(ctx context.Context, userID int64, status string, limit, offset int) ([]domain.Reservation, int, error)

	// CountActive counts the user's pending reservations.
	CountActive(ctx context.Context, userID int64) (int, error)

	// ScanExpired returns up to batchSize pending reservations whose hold has
	// lapsed at the given instant, oldest expiry first.
	ScanExpired(ctx context.Context, now time.Time, batchSize int) ([]domain.Reservation, error)
}

// OutboxStore persists pending domain events alongside the state changes that
// produced them.
type OutboxStore interface {
	WithTx(q database.DBTX) OutboxStore

	// Append writes an outbox row inside the caller's transaction.
	Append(ctx context.Context, entry *domain.OutboxEntry) error

	// ClaimBatch atomically claims up to limit publishable rows until the
	// given deadline. A row is publishable when it is unpublished, due for
	// retry, unclaimed (or its claim lapsed), and no older unpublished row
	// shares its aggregate key.
	ClaimBatch(ctx context.Context, limit int, claimedUntil time.Time) ([]domain.OutboxEntry, error)

	// MarkPublished stamps published_at and clears the claim.
	MarkPublished(ctx context.Context, id int64) error

	// MarkFailed increments attempts, clears the claim, and schedules the
	// next delivery attempt.
	MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time) error

	// DeletePublishedBefore removes published rows older than the cutoff and
	// returns the number deleted.
	DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ProductStore reads catalog rows. The engine never writes products.
type ProductStore interface {
	WithTx(q database.DBTX) ProductStore

	Find(ctx context.Context, id int64) (*domain.Product, error)
}

// IdempotencyStore persists create idempotency keys.
type IdempotencyStore interface {
	WithTx(q database.DBTX) IdempotencyStore

	Find(ctx context.Context, key string) (*domain.IdempotencyRecord, error)
	Save(ctx context.Context, rec *domain.IdempotencyRecord) error

	// DeleteExpired prunes records past their retention window.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
