package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository"
	"github.com/NurzhauganovA/galmart/pkg/database"
	pkgkafka "github.com/NurzhauganovA/galmart/pkg/kafka"
)

// --- Mock OutboxStore ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) WithTx(q database.DBTX) repository.OutboxStore { return m }

func (m *mockStore) Append(ctx context.Context, e *domain.OutboxEntry) error {
	args := m.Called(ctx, e)
	return args.Error(0)
}

func (m *mockStore) ClaimBatch(ctx context.Context, limit int, claimedUntil time.Time) ([]domain.OutboxEntry, error) {
	args := m.Called(ctx, limit, claimedUntil)
	return args.Get(0).([]domain.OutboxEntry), args.Error(1)
}

func (m *mockStore) MarkPublished(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *mockStore) MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	args := m.Called(ctx, id, nextAttemptAt)
	return args.Error(0)
}

func (m *mockStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

// --- Fake Bus ---

type fakeBus struct {
	mu        sync.Mutex
	published []string // event IDs in receive order
	failIDs   map[string]bool
}

func newFakeBus(failIDs ...string) *fakeBus {
	fail := make(map[string]bool, len(failIDs))
	for _, id := range failIDs {
		fail[id] = true
	}
	return &fakeBus{failIDs: fail}
}

func (b *fakeBus) Publish(_ context.Context, _ string, event *pkgkafka.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failIDs[event.EventID] {
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, event.EventID)
	return nil
}

func (b *fakeBus) seen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string{}, b.published...)
}

// --- Helpers ---

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testConfig() Config {
	return Config{
		BatchSize:    200,
		PollInterval: 10 * time.Millisecond,
		BackoffBase:  100 * time.Millisecond,
		BackoffCap:   30 * time.Second,
		Parallelism:  4,
		Retention:    72 * time.Hour,
	}
}

func entry(id int64, key, eventID string, attempts int) domain.OutboxEntry {
	payload, _ := json.Marshal(pkgkafka.Event{
		EventID:      eventID,
		EventType:    "reservation_created",
		AggregateKey: key,
		Timestamp:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Data:         json.RawMessage(`{}`),
	})
	return domain.OutboxEntry{
		ID:           id,
		AggregateKey: key,
		Topic:        "reservation_events",
		EventType:    "reservation_created",
		Payload:      payload,
		Attempts:     attempts,
	}
}

// --- drainOnce ---

func TestDrainOnce_PublishesAndMarks(t *testing.T) {
	store := new(mockStore)
	bus := newFakeBus()
	p := NewPublisher(store, bus, testLogger(), testConfig())
	ctx := context.Background()

	batch := []domain.OutboxEntry{
		entry(1, "42", "e1", 0),
		entry(2, "42", "e2", 0),
		entry(3, "43", "e3", 0),
	}
	store.On("ClaimBatch", ctx, 200, mock.AnythingOfType("time.Time")).Return(batch, nil)
	store.On("MarkPublished", mock.Anything, int64(1)).Return(nil)
	store.On("MarkPublished", mock.Anything, int64(2)).Return(nil)
	store.On("MarkPublished", mock.Anything, int64(3)).Return(nil)

	n, err := p.drainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	seen := bus.seen()
	assert.Len(t, seen, 3)

	// Entries sharing a key arrive in write order.
	idx := func(id string) int {
		for i, s := range seen {
			if s == id {
				return i
			}
		}
		return -1
	}
	assert.Less(t, idx("e1"), idx("e2"))

	store.AssertExpectations(t)
}

func TestDrainOnce_Empty(t *testing.T) {
	store := new(mockStore)
	bus := newFakeBus()
	p := NewPublisher(store, bus, testLogger(), testConfig())
	ctx := context.Background()

	store.On("ClaimBatch", ctx, 200, mock.AnythingOfType("time.Time")).
		Return([]domain.OutboxEntry{}, nil)

	n, err := p.drainOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, bus.seen())

	store.AssertExpectations(t)
}

func TestDrainOnce_FailureStopsGroup(t *testing.T) {
	store := new(mockStore)
	bus := newFakeBus("e1")
	p := NewPublisher(store, bus, testLogger(), testConfig())
	ctx := context.Background()

	// Key 42's first entry fails: its second entry must not be sent, and
	// neither row is marked published. Key 43 is unaffected.
	batch := []domain.OutboxEntry{
		entry(1, "42", "e1", 0),
		entry(2, "42", "e2", 0),
		entry(3, "43", "e3", 0),
	}
	store.On("ClaimBatch", ctx, 200, mock.AnythingOfType("time.Time")).Return(batch, nil)
	store.On("MarkFailed", mock.Anything, int64(1), mock.AnythingOfType("time.Time")).Return(nil)
	store.On("MarkPublished", mock.Anything, int64(3)).Return(nil)

	n, err := p.drainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	assert.Equal(t, []string{"e3"}, bus.seen())
	store.AssertNotCalled(t, "MarkPublished", mock.Anything, int64(1))
	store.AssertNotCalled(t, "MarkPublished", mock.Anything, int64(2))

	store.AssertExpectations(t)
}

func TestDrainOnce_MalformedPayloadSchedulesRetry(t *testing.T) {
	store := new(mockStore)
	bus := newFakeBus()
	p := NewPublisher(store, bus, testLogger(), testConfig())
	ctx := context.Background()

	bad := entry(9, "42", "e9", 2)
	bad.Payload = json.RawMessage(`{not json`)

	store.On("ClaimBatch", ctx, 200, mock.AnythingOfType("time.Time")).
		Return([]domain.OutboxEntry{bad}, nil)

	var next time.Time
	store.On("MarkFailed", mock.Anything, int64(9), mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) { next = args.Get(2).(time.Time) }).
		Return(nil)

	n, err := p.drainOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, bus.seen())

	// attempts=2 schedules the third retry at base*2^2 = 400ms out.
	assert.WithinDuration(t, time.Now().UTC().Add(400*time.Millisecond), next, time.Second)

	store.AssertExpectations(t)
}

func TestDrainOnce_ClaimError(t *testing.T) {
	store := new(mockStore)
	bus := newFakeBus()
	p := NewPublisher(store, bus, testLogger(), testConfig())
	ctx := context.Background()

	store.On("ClaimBatch", ctx, 200, mock.AnythingOfType("time.Time")).
		Return([]domain.OutboxEntry{}, errors.New("connection refused"))

	n, err := p.drainOnce(ctx)
	assert.Error(t, err)
	assert.Zero(t, n)

	store.AssertExpectations(t)
}

// --- backoff ---

func TestBackoff(t *testing.T) {
	p := NewPublisher(new(mockStore), newFakeBus(), testLogger(), testConfig())

	assert.Equal(t, 100*time.Millisecond, p.backoff(0))
	assert.Equal(t, 200*time.Millisecond, p.backoff(1))
	assert.Equal(t, 800*time.Millisecond, p.backoff(3))
	assert.Equal(t, 12800*time.Millisecond, p.backoff(7))
	assert.Equal(t, 30*time.Second, p.backoff(9), "capped")
	assert.Equal(t, 30*time.Second, p.backoff(60), "attempt count clamped before shifting")
}

// --- retention ---

func TestSweepRetention(t *testing.T) {
	store := new(mockStore)
	p := NewPublisher(store, newFakeBus(), testLogger(), testConfig())
	ctx := context.Background()

	var cutoff time.Time
	store.On("DeletePublishedBefore", ctx, mock.AnythingOfType("time.Time")).
		Run(func(args mock.Arguments) { cutoff = args.Get(1).(time.Time) }).
		Return(int64(12), nil)

	p.sweepRetention(ctx)

	assert.WithinDuration(t, time.Now().UTC().Add(-72*time.Hour), cutoff, time.Second)
	store.AssertExpectations(t)
}

func TestSweepRetention_ErrorIsSwallowed(t *testing.T) {
	store := new(mockStore)
	p := NewPublisher(store, newFakeBus(), testLogger(), testConfig())
	ctx := context.Background()

	store.On("DeletePublishedBefore", ctx, mock.AnythingOfType("time.Time")).
		Return(int64(0), errors.New("deadlock detected"))

	p.sweepRetention(ctx)
	store.AssertExpectations(t)
}
