package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository"
	"github.com/NurzhauganovA/galmart/pkg/database"
)

// --- Mock Ledger ---

type mockLedger struct {
	mock.Mock
}

func (m *mockLedger) WithTx(q database.DBTX) repository.Ledger { return m }

func (m *mockLedger) Get(ctx context.Context, productID int64) (*domain.Stock, error) {
	args := m.Called(ctx, productID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Stock), args.Error(1)
}

func (m *mockLedger) Reserve(ctx context.Context, productID int64, qty int) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

func (m *mockLedger) Release(ctx context.Context, productID int64, qty int) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

func (m *mockLedger) Commit(ctx context.Context, productID int64, qty int) error {
	args := m.Called(ctx, productID, qty)
	return args.Error(0)
}

func (m *mockLedger) SetOnHand(ctx context.Context, productID int64, newOnHand int) (*domain.Stock, error) {
	args := m.Called(ctx, productID, newOnHand)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Stock), args.Error(1)
}

// --- Mock ReservationStore ---

type mockReservationStore struct {
	mock.Mock
}

func (m *mockReservationStore) WithTx(q database.DBTX) repository.ReservationStore { return m }

func (m *mockReservationStore) Insert(ctx context.Context, r *domain.Reservation) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *mockReservationStore) Find(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockReservationStore) FindForUpdate(ctx context.Context, id uuid.UUID) (*domain.Reservation, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockReservationStore) Transition(ctx context.Context, id uuid.UUID, from, to string, at time.Time) (*domain.Reservation, error) {
	args := m.Called(ctx, id, from, to, at)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Reservation), args.Error(1)
}

func (m *mockReservationStore) ListByUser(ctx context.Context, userID int64, status string, limit, offset int) ([]domain.Reservation, int, error) {
	args := m.Called(ctx, userID, status, limit, offset)
	return args.Get(0).([]domain.Reservation), args.Int(1), args.Error(2)
}

func (m *mockReservationStore) CountActive(ctx context.Context, userID int64) (int, error) {
	args := m.Called(ctx, userID)
	return args.Int(0), args.Error(1)
}

func (m *mockReservationStore) ScanExpired(ctx context.Context, now time.Time, batchSize int) ([]domain.Reservation, error) {
	args := m.Called(ctx, now, batchSize)
	return args.Get(0).([]domain.Reservation), args.Error(1)
}

// --- Mock OutboxStore ---

type mockOutboxStore struct {
	mock.Mock
}

func (m *mockOutboxStore) WithTx(q database.DBTX) repository.OutboxStore { return m }

func (m *mockOutboxStore) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	args := m.Called(ctx, entry)
	return args.Error(0)
}

func (m *mockOutboxStore) ClaimBatch(ctx context.Context, limit int, claimedUntil time.Time) ([]domain.OutboxEntry, error) {
	args := m.Called(ctx, limit, claimedUntil)
	return args.Get(0).([]domain.OutboxEntry), args.Error(1)
}

func (m *mockOutboxStore) MarkPublished(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockOutboxStore) MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	args := m.Called(ctx, id, nextAttemptAt)
	return args.Error(0)
}

func (m *mockOutboxStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// --- Mock ProductStore ---

type mockProductStore struct {
	mock.Mock
}

func (m *mockProductStore) WithTx(q database.DBTX) repository.ProductStore { return m }

func (m *mockProductStore) Find(ctx context.Context, id int64) (*domain.Product, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Product), args.Error(1)
}

// --- Mock IdempotencyStore ---

type mockIdempotencyStore struct {
	mock.Mock
}

func (m *mockIdempotencyStore) WithTx(q database.DBTX) repository.IdempotencyStore { return m }

func (m *mockIdempotencyStore) Find(ctx context.Context, key string) (*domain.IdempotencyRecord, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.IdempotencyRecord), args.Error(1)
}

func (m *mockIdempotencyStore) Save(ctx context.Context, rec *domain.IdempotencyRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func (m *mockIdempotencyStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	args := m.Called(ctx, now)
	return args.Get(0).(int64), args.Error(1)
}
