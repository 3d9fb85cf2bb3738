package postgres

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository"
	"github.com/NurzhauganovA/galmart/pkg/database"
)

// OutboxStore implements the transactional outbox table over PostgreSQL.
// Claims use a visibility timeout so a crashed publisher's rows become
// claimable again without operator intervention.
type OutboxStore struct {
	q database.DBTX
}

// NewOutboxStore creates a PostgreSQL-backed outbox store.
func NewOutboxStore(q database.DBTX) *OutboxStore {
	return &OutboxStore{q: q}
}

// WithTx returns a copy of the store bound to the given querier.
func (s *OutboxStore) WithTx(q database.DBTX) repository.OutboxStore {
	return &OutboxStore{q: q}
}

const outboxColumns = `id, aggregate_key, topic, event_type, payload, attempts,
	next_attempt_at, claimed_until, created_at, published_at`

// Append writes an outbox row inside the caller's transaction.
func (s *OutboxStore) Append(ctx context.Context, entry *domain.OutboxEntry) error {
	query := `
		INSERT INTO outbox (aggregate_key, topic, event_type, payload, attempts, next_attempt_at, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $5)
		RETURNING id`

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	err := s.q.QueryRow(ctx, query,
		entry.AggregateKey,
		entry.Topic,
		entry.EventType,
		entry.Payload,
		entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("append outbox entry: %w", err)
	}
	return nil
}

// ClaimBatch claims up to limit publishable rows until claimedUntil, oldest
// first. The NOT EXISTS guard refuses rows whose aggregate key still has an
// older unpublished row, preserving per-key write order even when earlier
// rows are mid-retry. SKIP LOCKED keeps concurrent publishers from blocking
// on each other.
func (s *OutboxStore) ClaimBatch(ctx context.Context, limit int, claimedUntil time.Time) ([]domain.OutboxEntry, error) {
	query := `
		UPDATE outbox
		SET claimed_until = $2
		WHERE id IN (
			SELECT o.id
			FROM outbox o
			WHERE o.published_at IS NULL
				AND o.next_attempt_at <= NOW()
				AND (o.claimed_until IS NULL OR o.claimed_until < NOW())
				AND NOT EXISTS (
					SELECT 1
					FROM outbox older
					WHERE older.aggregate_key = o.aggregate_key
						AND older.published_at IS NULL
						AND older.id < o.id
				)
			ORDER BY o.id
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + outboxColumns

	rows, err := s.q.Query(ctx, query, limit, claimedUntil)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	var entries []domain.OutboxEntry
	for rows.Next() {
		var e domain.OutboxEntry
		if err := rows.Scan(
			&e.ID,
			&e.AggregateKey,
			&e.Topic,
			&e.EventType,
			&e.Payload,
			&e.Attempts,
			&e.NextAttemptAt,
			&e.ClaimedUntil,
			&e.CreatedAt,
			&e.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("scan claimed outbox row: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed outbox rows: %w", err)
	}

	// RETURNING does not guarantee row order; the subquery's ORDER BY only
	// picks which rows get claimed. Re-sort so callers see write order.
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	return entries, nil
}

// MarkPublished stamps published_at and clears the claim.
func (s *OutboxStore) MarkPublished(ctx context.Context, id int64) error {
	query := `
		UPDATE outbox
		SET published_at = NOW(), claimed_until = NULL
		WHERE id = $1 AND published_at IS NULL`

	if _, err := s.q.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("mark outbox entry published: %w", err)
	}
	return nil
}

// MarkFailed records a failed delivery attempt and schedules the retry.
func (s *OutboxStore) MarkFailed(ctx context.Context, id int64, nextAttemptAt time.Time) error {
	query := `
		UPDATE outbox
		SET attempts = attempts + 1, claimed_until = NULL, next_attempt_at = $2
		WHERE id = $1 AND published_at IS NULL`

	if _, err := s.q.Exec(ctx, query, id, nextAttemptAt); err != nil {
		return fmt.Errorf("mark outbox entry failed: %w", err)
	}
	return nil
}

// DeletePublishedBefore removes published rows older than the cutoff.
func (s *OutboxStore) DeletePublishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM outbox
		WHERE published_at IS NOT NULL AND published_at < $1`

	ct, err := s.q.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete published outbox entries: %w", err)
	}
	return ct.RowsAffected(), nil
}
