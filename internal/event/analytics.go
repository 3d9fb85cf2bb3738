package event

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	pkgkafka "github.com/NurzhauganovA/galmart/pkg/kafka"
)

// AnalyticsConsumer maintains realtime reservation counters in Redis. The
// counters are advisory; the durable record is the reservation table, so a
// lost increment is acceptable and a duplicated one is prevented upstream by
// deduplication.
type AnalyticsConsumer struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewAnalyticsConsumer creates the analytics-side event consumer.
func NewAnalyticsConsumer(rdb *redis.Client, logger *slog.Logger) *AnalyticsConsumer {
	return &AnalyticsConsumer{rdb: rdb, logger: logger}
}

// Handle bumps the per-type and per-product counters for one reservation
// event. Unknown event types are rejected.
func (c *AnalyticsConsumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	data, err := ParseReservationData(event)
	if err != nil {
		return err
	}

	pipe := c.rdb.Pipeline()
	pipe.Incr(ctx, "analytics:reservations:"+event.EventType)
	pipe.HIncrBy(ctx, "analytics:product:"+strconv.FormatInt(data.ProductID, 10), event.EventType, 1)
	if event.EventType == TypeReservationConfirmed && data.TotalPrice != nil {
		pipe.IncrByFloat(ctx, "analytics:revenue:confirmed", data.TotalPrice.InexactFloat64())
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("update analytics counters for %s: %w", event.EventType, err)
	}

	c.logger.DebugContext(ctx, "analytics event processed",
		slog.String("event_type", event.EventType),
		slog.String("reservation_id", data.ReservationID.String()),
	)

	return nil
}
