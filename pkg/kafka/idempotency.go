package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IdempotencyStore tracks processed dedup keys. Implementations must be safe
// for concurrent use.
type IdempotencyStore interface {
	// Contains returns true if the key has already been processed.
	Contains(ctx context.Context, key string) (bool, error)
	// Add marks a key as processed, called after successful handling.
	Add(ctx context.Context, key string) error
}

// MemoryIdempotencyStore is an in-memory IdempotencyStore. Entries expire
// after the configured TTL to bound memory; expiry is lazy, on access.
type MemoryIdempotencyStore struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	ttl     time.Duration
}

// NewMemoryIdempotencyStore creates an in-memory store with the given TTL.
func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{
		entries: make(map[string]time.Time),
		ttl:     ttl,
	}
}

// Contains checks whether the key exists and is not expired.
func (s *MemoryIdempotencyStore) Contains(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	ts, exists := s.entries[key]
	s.mu.RUnlock()

	if !exists {
		return false, nil
	}

	if time.Since(ts) > s.ttl {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return false, nil
	}

	return true, nil
}

// Add marks the key as processed with the current timestamp.
func (s *MemoryIdempotencyStore) Add(_ context.Context, key string) error {
	s.mu.Lock()
	s.entries[key] = time.Now()
	s.mu.Unlock()
	return nil
}

// Len returns the number of entries, including possibly expired ones.
func (s *MemoryIdempotencyStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// KeyFunc derives the dedup key for an event. The default keys on EventID;
// subscribers that must be idempotent across redeliveries of distinct outbox
// rows can key on business identity instead.
type KeyFunc func(event *Event) string

// EventIDKey keys deduplication on the envelope's EventID.
func EventIDKey(event *Event) string { return event.EventID }

// IdempotentHandler wraps a Handler with deduplication. Already-processed
// events are skipped. On store failure the message is processed anyway rather
// than risking loss; at-least-once stands, handlers stay idempotent.
func IdempotentHandler(store IdempotencyStore, keyFn KeyFunc, inner Handler, logger *slog.Logger) Handler {
	if keyFn == nil {
		keyFn = EventIDKey
	}
	return func(ctx context.Context, event *Event) error {
		key := keyFn(event)
		if key == "" {
			return inner(ctx, event)
		}

		seen, err := store.Contains(ctx, key)
		if err != nil {
			logger.Warn("idempotency store lookup failed, processing anyway",
				slog.String("dedup_key", key),
				slog.String("error", err.Error()),
			)
			return inner(ctx, event)
		}

		if seen {
			logger.Debug("skipping duplicate event",
				slog.String("dedup_key", key),
				slog.String("event_type", event.EventType),
			)
			return nil
		}

		if err := inner(ctx, event); err != nil {
			return err
		}

		if addErr := store.Add(ctx, key); addErr != nil {
			logger.Warn("failed to record dedup key",
				slog.String("dedup_key", key),
				slog.String("error", addErr.Error()),
			)
		}

		return nil
	}
}
