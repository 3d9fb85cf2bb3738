package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/event"
	"github.com/NurzhauganovA/galmart/internal/repository"
	"github.com/NurzhauganovA/galmart/pkg/database"
	apperrors "github.com/NurzhauganovA/galmart/pkg/errors"
)

// availabilityCacheTTL bounds how stale the advisory availability cache can
// get between invalidations.
const availabilityCacheTTL = 5 * time.Second

// Config holds the reservation state machine knobs.
type Config struct {
	TTL              time.Duration
	MaxActivePerUser int
	EventTopic       string
	IdempotencyTTL   time.Duration
}

// ReservationService orchestrates the reservation state machine. Every
// externally triggered operation runs in exactly one database transaction
// that composes the stock mutation, the reservation write, and the outbox
// append; a failed step aborts the whole transaction and no event is emitted.
type ReservationService struct {
	pool         database.DBTX
	ledger       repository.Ledger
	reservations repository.ReservationStore
	outbox       repository.OutboxStore
	products     repository.ProductStore
	idempotency  repository.IdempotencyStore
	cache        *redis.Client
	logger       *slog.Logger
	cfg          Config
}

// NewReservationService creates the reservation orchestrator. cache may be
// nil; it is advisory only and correctness never depends on it.
func NewReservationService(
	pool database.DBTX,
	ledger repository.Ledger,
	reservations repository.ReservationStore,
	outbox repository.OutboxStore,
	products repository.ProductStore,
	idempotency repository.IdempotencyStore,
	cache *redis.Client,
	logger *slog.Logger,
	cfg Config,
) *ReservationService {
	return &ReservationService{
		pool:         pool,
		ledger:       ledger,
		reservations: reservations,
		outbox:       outbox,
		products:     products,
		idempotency:  idempotency,
		cache:        cache,
		logger:       logger,
		cfg:          cfg,
	}
}

// CreateInput carries the parameters of a create request.
type CreateInput struct {
	UserID         int64
	ProductID      int64
	Quantity       int
	CustomerInfo   map[string]string
	IdempotencyKey string
}

// payloadHash fingerprints the create parameters for idempotency-key
// conflict detection.
func (in CreateInput) payloadHash() string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%d|%d|%d", in.UserID, in.ProductID, in.Quantity)))
	return hex.EncodeToString(h[:])
}

// Create places a hold on product units. Preconditions are checked inside the
// transaction in order: product active, per-user active cap, stock
// availability.
func (s *ReservationService) Create(ctx context.Context, in CreateInput) (*domain.Reservation, error) {
	if in.Quantity < 1 {
		return nil, apperrors.InvalidInput("quantity must be at least 1")
	}

	if in.IdempotencyKey != "" {
		if existing, err := s.findByIdempotencyKey(ctx, in); existing != nil || err != nil {
			return existing, err
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Transient(fmt.Errorf("begin create transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	product, err := s.products.WithTx(tx).Find(ctx, in.ProductID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.ProductUnavailable(in.ProductID)
		}
		return nil, err
	}
	if !product.IsActive {
		return nil, apperrors.ProductUnavailable(in.ProductID)
	}

	reservations := s.reservations.WithTx(tx)

	active, err := reservations.CountActive(ctx, in.UserID)
	if err != nil {
		return nil, err
	}
	if active >= s.cfg.MaxActivePerUser {
		return nil, apperrors.UserLimit(s.cfg.MaxActivePerUser)
	}

	if err := s.ledger.WithTx(tx).Reserve(ctx, in.ProductID, in.Quantity); err != nil {
		return nil, err
	}

	reservation := domain.NewReservation(in.UserID, in.ProductID, in.Quantity, product.Price, in.CustomerInfo, s.cfg.TTL)
	if err := reservations.Insert(ctx, reservation); err != nil {
		return nil, err
	}

	if in.IdempotencyKey != "" {
		rec := &domain.IdempotencyRecord{
			Key:           in.IdempotencyKey,
			PayloadHash:   in.payloadHash(),
			ReservationID: reservation.ID,
			ExpiresAt:     reservation.CreatedAt.Add(s.cfg.IdempotencyTTL),
			CreatedAt:     reservation.CreatedAt,
		}
		if err := s.idempotency.WithTx(tx).Save(ctx, rec); err != nil {
			if errors.Is(err, apperrors.ErrConflict) {
				// A concurrent create with the same key committed first.
				// Abandon this attempt and resolve through the winner's record.
				_ = tx.Rollback(ctx)
				if existing, ferr := s.findByIdempotencyKey(ctx, in); existing != nil || ferr != nil {
					return existing, ferr
				}
				return nil, apperrors.IdempotencyConflict(in.IdempotencyKey)
			}
			return nil, err
		}
	}

	if err := s.appendEvent(ctx, tx, event.TypeReservationCreated, reservation); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Transient(fmt.Errorf("commit create transaction: %w", err))
	}

	s.invalidateAvailability(ctx, in.ProductID)

	s.logger.InfoContext(ctx, "reservation created",
		slog.String("reservation_id", reservation.ID.String()),
		slog.Int64("user_id", in.UserID),
		slog.Int64("product_id", in.ProductID),
		slog.Int("quantity", in.Quantity),
		slog.Time("expires_at", reservation.ExpiresAt),
	)

	return reservation, nil
}

// findByIdempotencyKey resolves a repeated create. A stored key with a
// matching payload returns the original reservation; a different payload
// under the same key is a conflict.
func (s *ReservationService) findByIdempotencyKey(ctx context.Context, in CreateInput) (*domain.Reservation, error) {
	rec, err := s.idempotency.Find(ctx, in.IdempotencyKey)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	if rec.PayloadHash != in.payloadHash() {
		return nil, apperrors.IdempotencyConflict(in.IdempotencyKey)
	}

	reservation, err := s.reservations.Find(ctx, rec.ReservationID)
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "create replayed via idempotency key",
		slog.String("reservation_id", reservation.ID.String()),
		slog.Int64("user_id", in.UserID),
	)

	return reservation, nil
}

// Confirm turns a pending hold into a purchase. A confirm past the hold's
// expiry does not succeed: the reservation is expired in the same call and
// the caller receives a reservation_expired error.
func (s *ReservationService) Confirm(ctx context.Context, id uuid.UUID, userID int64) (*domain.Reservation, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Transient(fmt.Errorf("begin confirm transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	reservations := s.reservations.WithTx(tx)

	reservation, err := reservations.FindForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if reservation.UserID != userID {
		return nil, apperrors.NotOwner()
	}
	if !reservation.IsPending() {
		return nil, apperrors.NotPending(reservation.Status)
	}

	if reservation.ExpiredAt(now) {
		// The hold has lapsed but the reaper has not caught it yet. Perform
		// the expiry transition here, then report the expiry to the caller.
		if _, err := s.expireLocked(ctx, tx, reservation, now); err != nil {
			return nil, err
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, apperrors.Transient(fmt.Errorf("commit stale-confirm expiry: %w", err))
		}
		s.invalidateAvailability(ctx, reservation.ProductID)
		return nil, apperrors.ReservationExpired()
	}

	updated, err := reservations.Transition(ctx, id, domain.ReservationStatusPending, domain.ReservationStatusConfirmed, now)
	if err != nil {
		return nil, mapTransitionErr(err)
	}

	if err := s.ledger.WithTx(tx).Commit(ctx, reservation.ProductID, reservation.Quantity); err != nil {
		return nil, err
	}

	if err := s.appendEvent(ctx, tx, event.TypeReservationConfirmed, updated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Transient(fmt.Errorf("commit confirm transaction: %w", err))
	}

	s.invalidateAvailability(ctx, reservation.ProductID)

	s.logger.InfoContext(ctx, "reservation confirmed",
		slog.String("reservation_id", id.String()),
		slog.Int64("user_id", userID),
		slog.Int64("product_id", reservation.ProductID),
	)

	return updated, nil
}

// Cancel abandons a pending hold and returns its units to availability.
func (s *ReservationService) Cancel(ctx context.Context, id uuid.UUID, userID int64) (*domain.Reservation, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, apperrors.Transient(fmt.Errorf("begin cancel transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	reservations := s.reservations.WithTx(tx)

	reservation, err := reservations.FindForUpdate(ctx, id)
	if err != nil {
		return nil, err
	}
	if reservation.UserID != userID {
		return nil, apperrors.NotOwner()
	}
	if !reservation.IsPending() {
		return nil, apperrors.NotCancellable(reservation.Status)
	}

	updated, err := reservations.Transition(ctx, id, domain.ReservationStatusPending, domain.ReservationStatusCancelled, now)
	if err != nil {
		return nil, mapTransitionErr(err)
	}

	if err := s.ledger.WithTx(tx).Release(ctx, reservation.ProductID, reservation.Quantity); err != nil {
		return nil, err
	}

	if err := s.appendEvent(ctx, tx, event.TypeReservationCancelled, updated); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, apperrors.Transient(fmt.Errorf("commit cancel transaction: %w", err))
	}

	s.invalidateAvailability(ctx, reservation.ProductID)

	s.logger.InfoContext(ctx, "reservation cancelled",
		slog.String("reservation_id", id.String()),
		slog.Int64("user_id", userID),
		slog.Int64("product_id", reservation.ProductID),
	)

	return updated, nil
}

// ExpireReservation is the internal auto-cancel path used by the reaper. It
// takes no user parameter: expiry is a server decision, not an owner action.
// It returns false without error when the reservation already left pending or
// has not lapsed yet, so concurrent sweeps and racing confirms stay safe.
func (s *ReservationService) ExpireReservation(ctx context.Context, id uuid.UUID) (bool, error) {
	now := time.Now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, apperrors.Transient(fmt.Errorf("begin expire transaction: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	reservation, err := s.reservations.WithTx(tx).FindForUpdate(ctx, id)
	if err != nil {
		return false, err
	}
	if !reservation.IsPending() || !reservation.ExpiredAt(now) {
		return false, nil
	}

	if _, err := s.expireLocked(ctx, tx, reservation, now); err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, apperrors.Transient(fmt.Errorf("commit expire transaction: %w", err))
	}

	s.invalidateAvailability(ctx, reservation.ProductID)

	s.logger.InfoContext(ctx, "reservation expired",
		slog.String("reservation_id", id.String()),
		slog.Int64("user_id", reservation.UserID),
		slog.Int64("product_id", reservation.ProductID),
	)

	return true, nil
}

// expireLocked performs the pending→expired transition on a row the caller
// already holds locked, releases the hold, and emits the expired event.
func (s *ReservationService) expireLocked(ctx context.Context, tx database.DBTX, reservation *domain.Reservation, now time.Time) (*domain.Reservation, error) {
	updated, err := s.reservations.WithTx(tx).Transition(ctx, reservation.ID, domain.ReservationStatusPending, domain.ReservationStatusExpired, now)
	if err != nil {
		return nil, mapTransitionErr(err)
	}

	if err := s.ledger.WithTx(tx).Release(ctx, reservation.ProductID, reservation.Quantity); err != nil {
		return nil, err
	}

	if err := s.appendEvent(ctx, tx, event.TypeReservationExpired, updated); err != nil {
		return nil, err
	}

	return updated, nil
}

// Get retrieves a reservation, enforcing ownership.
func (s *ReservationService) Get(ctx context.Context, id uuid.UUID, userID int64) (*domain.Reservation, error) {
	reservation, err := s.reservations.Find(ctx, id)
	if err != nil {
		return nil, err
	}
	if reservation.UserID != userID {
		return nil, apperrors.NotOwner()
	}
	return reservation, nil
}

// List returns the user's reservations newest first with the total count.
func (s *ReservationService) List(ctx context.Context, userID int64, status string, limit, offset int) ([]domain.Reservation, int, error) {
	if status != "" && !domain.IsValidReservationStatus(status) {
		return nil, 0, apperrors.InvalidInput(fmt.Sprintf("invalid status filter %q", status))
	}
	return s.reservations.ListByUser(ctx, userID, status, limit, offset)
}

// GetStock returns the stock row for a product. Availability reads go through
// the advisory cache; a cache miss or error falls back to the database.
func (s *ReservationService) GetStock(ctx context.Context, productID int64) (*domain.Stock, error) {
	stock, err := s.ledger.Get(ctx, productID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		key := availabilityKey(productID)
		if err := s.cache.Set(ctx, key, stock.Available(), availabilityCacheTTL).Err(); err != nil {
			s.logger.DebugContext(ctx, "availability cache set failed",
				slog.Int64("product_id", productID),
				slog.String("error", err.Error()),
			)
		}
	}

	return stock, nil
}

// SetOnHand is the administrative stock override.
func (s *ReservationService) SetOnHand(ctx context.Context, productID int64, newOnHand int) (*domain.Stock, error) {
	stock, err := s.ledger.SetOnHand(ctx, productID, newOnHand)
	if err != nil {
		return nil, err
	}

	s.invalidateAvailability(ctx, productID)

	s.logger.InfoContext(ctx, "stock on_hand set",
		slog.Int64("product_id", productID),
		slog.Int("on_hand", stock.OnHand),
		slog.Int("reserved", stock.Reserved),
	)

	return stock, nil
}

// PruneIdempotencyKeys removes expired create keys. Called by the reaper.
func (s *ReservationService) PruneIdempotencyKeys(ctx context.Context, now time.Time) (int64, error) {
	return s.idempotency.DeleteExpired(ctx, now)
}

// appendEvent writes the outbox row for a reservation event inside the
// caller's transaction.
func (s *ReservationService) appendEvent(ctx context.Context, tx database.DBTX, eventType string, reservation *domain.Reservation) error {
	evt, err := event.NewReservationEvent(eventType, reservation)
	if err != nil {
		return err
	}
	payload, err := evt.Marshal()
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}

	entry := &domain.OutboxEntry{
		AggregateKey: evt.AggregateKey,
		Topic:        s.cfg.EventTopic,
		EventType:    eventType,
		Payload:      payload,
		CreatedAt:    evt.Timestamp,
	}
	return s.outbox.WithTx(tx).Append(ctx, entry)
}

// invalidateAvailability drops the advisory cache entry after a committed
// stock mutation. Failures are logged and ignored.
func (s *ReservationService) invalidateAvailability(ctx context.Context, productID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Del(ctx, availabilityKey(productID)).Err(); err != nil {
		s.logger.DebugContext(ctx, "availability cache invalidation failed",
			slog.Int64("product_id", productID),
			slog.String("error", err.Error()),
		)
	}
}

func availabilityKey(productID int64) string {
	return "stock:availability:" + strconv.FormatInt(productID, 10)
}

// mapTransitionErr converts a store-level CAS conflict into the business
// error for a reservation that left pending between the lock and the write.
func mapTransitionErr(err error) error {
	if errors.Is(err, apperrors.ErrConflict) {
		return apperrors.NotPending("terminal")
	}
	return err
}
