package outbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"

	"github.com/NurzhauganovA/galmart/internal/domain"
	"github.com/NurzhauganovA/galmart/internal/repository"
	pkgkafka "github.com/NurzhauganovA/galmart/pkg/kafka"
)

var (
	publishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox entries successfully published to the bus",
		},
		[]string{"event_type"},
	)

	publishFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_publish_failures_total",
			Help: "Failed publish attempts for outbox entries",
		},
		[]string{"event_type"},
	)

	claimedBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "outbox_claimed_batch_size",
			Help:    "Number of entries claimed per drain cycle",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 200},
		},
	)

	retentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "outbox_retention_deleted_total",
			Help: "Published outbox entries removed by the retention sweep",
		},
	)
)

// visibilityTimeout is how long a claimed entry stays invisible to other
// publishers. A publisher that dies mid-batch loses its claims after this
// window and the rows become claimable again.
const visibilityTimeout = 30 * time.Second

// retentionSweepInterval is how often published rows past the retention
// window are deleted.
const retentionSweepInterval = time.Hour

// Bus abstracts the message-bus producer.
type Bus interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Config holds publisher tuning knobs.
type Config struct {
	BatchSize    int
	PollInterval time.Duration
	BackoffBase  time.Duration
	BackoffCap   time.Duration
	Parallelism  int
	Retention    time.Duration
}

// Publisher drains the outbox to the bus. Delivery is at-least-once: an entry
// is marked published only after the bus acknowledges it, so a crash between
// publish and mark causes a re-send, never a loss. Entries sharing an
// aggregate key are sent strictly in write order; independent keys are
// published in parallel up to the configured limit.
type Publisher struct {
	store   repository.OutboxStore
	bus     Bus
	breaker *gobreaker.CircuitBreaker[any]
	logger  *slog.Logger
	cfg     Config
}

// NewPublisher creates the outbox publisher.
func NewPublisher(store repository.OutboxStore, bus Bus, logger *slog.Logger, cfg Config) *Publisher {
	settings := gobreaker.Settings{
		Name:    "outbox-bus",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()),
			)
		},
	}

	return &Publisher{
		store:   store,
		bus:     bus,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
		logger:  logger,
		cfg:     cfg,
	}
}

// Run polls the outbox until the context is canceled. The stop signal is
// checked at batch boundaries; the current batch is finished before exiting.
func (p *Publisher) Run(ctx context.Context) error {
	p.logger.Info("outbox publisher started",
		slog.Int("batch_size", p.cfg.BatchSize),
		slog.Duration("poll_interval", p.cfg.PollInterval),
		slog.Int("parallelism", p.cfg.Parallelism),
	)

	pollTicker := time.NewTicker(p.cfg.PollInterval)
	defer pollTicker.Stop()

	retentionTicker := time.NewTicker(retentionSweepInterval)
	defer retentionTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopping")
			return nil
		case <-retentionTicker.C:
			p.sweepRetention(ctx)
		case <-pollTicker.C:
			for {
				n, err := p.drainOnce(ctx)
				if err != nil {
					p.logger.Error("outbox drain failed", slog.String("error", err.Error()))
					break
				}
				// Keep draining full batches; go back to sleep once the
				// outbox runs dry.
				if n < p.cfg.BatchSize {
					break
				}
				if ctx.Err() != nil {
					break
				}
			}
		}
	}
}

// drainOnce claims one batch and publishes it, returning the number of
// entries claimed.
func (p *Publisher) drainOnce(ctx context.Context) (int, error) {
	entries, err := p.store.ClaimBatch(ctx, p.cfg.BatchSize, time.Now().UTC().Add(visibilityTimeout))
	if err != nil {
		return 0, fmt.Errorf("claim batch: %w", err)
	}
	claimedBatchSize.Observe(float64(len(entries)))
	if len(entries) == 0 {
		return 0, nil
	}

	// Group by aggregate key. ClaimBatch returns rows ordered by id, so each
	// group preserves write order.
	groups := make(map[string][]domain.OutboxEntry)
	keys := make([]string, 0)
	for _, e := range entries {
		if _, ok := groups[e.AggregateKey]; !ok {
			keys = append(keys, e.AggregateKey)
		}
		groups[e.AggregateKey] = append(groups[e.AggregateKey], e)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Parallelism)

	for _, key := range keys {
		group := groups[key]
		g.Go(func() error {
			p.publishGroup(gctx, group)
			return nil
		})
	}
	_ = g.Wait()

	return len(entries), nil
}

// publishGroup sends one aggregate key's entries in order. The first failure
// stops the group: later entries must not overtake the failed one.
func (p *Publisher) publishGroup(ctx context.Context, group []domain.OutboxEntry) {
	for _, entry := range group {
		if err := p.publishOne(ctx, &entry); err != nil {
			publishFailuresTotal.WithLabelValues(entry.EventType).Inc()

			next := time.Now().UTC().Add(p.backoff(entry.Attempts))
			if markErr := p.store.MarkFailed(ctx, entry.ID, next); markErr != nil {
				p.logger.Error("failed to record publish failure",
					slog.Int64("outbox_id", entry.ID),
					slog.String("error", markErr.Error()),
				)
			}

			p.logger.Warn("publish failed, scheduled retry",
				slog.Int64("outbox_id", entry.ID),
				slog.String("event_type", entry.EventType),
				slog.String("aggregate_key", entry.AggregateKey),
				slog.Int("attempts", entry.Attempts+1),
				slog.Time("next_attempt_at", next),
				slog.String("error", err.Error()),
			)
			return
		}

		if err := p.store.MarkPublished(ctx, entry.ID); err != nil {
			// The event is on the bus but the row is still unpublished; it
			// will be re-sent after the claim lapses. At-least-once stands.
			p.logger.Error("failed to mark entry published",
				slog.Int64("outbox_id", entry.ID),
				slog.String("error", err.Error()),
			)
			return
		}

		publishedTotal.WithLabelValues(entry.EventType).Inc()
	}
}

func (p *Publisher) publishOne(ctx context.Context, entry *domain.OutboxEntry) error {
	evt, err := pkgkafka.UnmarshalEvent(entry.Payload)
	if err != nil {
		return fmt.Errorf("unmarshal outbox payload: %w", err)
	}

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.bus.Publish(ctx, entry.Topic, evt)
	})
	return err
}

// backoff computes min(cap, base * 2^attempts).
func (p *Publisher) backoff(attempts int) time.Duration {
	if attempts > 30 {
		attempts = 30
	}
	d := p.cfg.BackoffBase * (1 << uint(attempts))
	if d > p.cfg.BackoffCap || d <= 0 {
		d = p.cfg.BackoffCap
	}
	return d
}

// sweepRetention deletes published rows older than the retention window.
func (p *Publisher) sweepRetention(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.cfg.Retention)
	deleted, err := p.store.DeletePublishedBefore(ctx, cutoff)
	if err != nil {
		p.logger.Error("outbox retention sweep failed", slog.String("error", err.Error()))
		return
	}
	if deleted > 0 {
		retentionDeletedTotal.Add(float64(deleted))
		p.logger.Info("outbox retention sweep",
			slog.Int64("deleted", deleted),
			slog.Time("cutoff", cutoff),
		)
	}
}
