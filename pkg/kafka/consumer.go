package kafka

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// maxHandlerRetries bounds per-message handler attempts before the message is
// committed and skipped (poison pill protection).
const maxHandlerRetries = 3

// Handler processes a single event.
type Handler func(ctx context.Context, event *Event) error

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers  []string
	GroupID  string
	Topic    string
	MinBytes int
	MaxBytes int
}

// Consumer wraps a kafka-go group reader and drives a Handler.
type Consumer struct {
	reader    *kafka.Reader
	logger    *slog.Logger
	handler   Handler
	dlq       *DLQProducer
	closeOnce sync.Once
}

// NewConsumer creates a consumer for a topic and group.
func NewConsumer(cfg ConsumerConfig, handler Handler, logger *slog.Logger) *Consumer {
	if cfg.MinBytes == 0 {
		cfg.MinBytes = 1
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 10e6
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: cfg.MinBytes,
		MaxBytes: cfg.MaxBytes,
	})

	return &Consumer{
		reader:  r,
		logger:  logger,
		handler: handler,
	}
}

// UseDLQ routes messages that exhaust handler retries to the dead-letter
// queue instead of dropping them. Without a DLQ, exhausted messages are
// committed and skipped.
func (c *Consumer) UseDLQ(dlq *DLQProducer) {
	c.dlq = dlq
}

// Start consumes messages until the context is canceled. Handler failures are
// retried with backoff; a message that keeps failing is committed and skipped.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("consumer started",
		slog.String("topic", c.reader.Config().Topic),
		slog.String("group", c.reader.Config().GroupID),
	)

	topic := c.reader.Config().Topic
	group := c.reader.Config().GroupID

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("consumer stopping", slog.String("topic", topic))
				return c.Close()
			}
			c.logger.Error("failed to fetch message", slog.String("error", err.Error()))
			continue
		}
		ConsumerMessagesReceived.WithLabelValues(topic, group).Inc()

		event, err := UnmarshalEvent(msg.Value)
		if err != nil {
			c.logger.Error("failed to unmarshal event",
				slog.String("error", err.Error()),
				slog.String("topic", msg.Topic),
			)
			c.commit(ctx, msg)
			continue
		}

		var lastErr error
		start := time.Now()
		for attempt := 1; attempt <= maxHandlerRetries; attempt++ {
			if lastErr = c.handler(ctx, event); lastErr == nil {
				break
			}
			c.logger.Warn("handler failed",
				slog.String("event_type", event.EventType),
				slog.String("event_id", event.EventID),
				slog.String("error", lastErr.Error()),
				slog.Int("attempt", attempt),
				slog.Int("max_retries", maxHandlerRetries),
			)
			if attempt < maxHandlerRetries {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Duration(attempt) * 100 * time.Millisecond):
				}
			}
		}

		ConsumerProcessingDuration.WithLabelValues(topic, group).Observe(time.Since(start).Seconds())

		if lastErr != nil {
			ConsumerMessagesFailed.WithLabelValues(topic, group).Inc()
			if c.dlq != nil {
				// A failed DLQ write leaves the message uncommitted so it is
				// redelivered rather than lost.
				if dlqErr := c.dlq.Publish(ctx, msg, lastErr, group); dlqErr != nil {
					c.logger.Error("failed to dead-letter poison message",
						slog.String("event_type", event.EventType),
						slog.String("event_id", event.EventID),
						slog.String("error", dlqErr.Error()),
					)
					continue
				}
			} else {
				c.logger.Error("handler failed after all retries, skipping poison message",
					slog.String("event_type", event.EventType),
					slog.String("event_id", event.EventID),
					slog.String("topic", msg.Topic),
					slog.Int64("offset", msg.Offset),
				)
			}
		} else {
			ConsumerMessagesProcessed.WithLabelValues(topic, group).Inc()
		}
		c.commit(ctx, msg)
	}
}

func (c *Consumer) commit(ctx context.Context, msg kafka.Message) {
	if err := c.reader.CommitMessages(ctx, msg); err != nil {
		c.logger.Error("failed to commit message", slog.String("error", err.Error()))
	}
}

// Close closes the consumer. Safe to call multiple times.
func (c *Consumer) Close() error {
	var err error
	c.closeOnce.Do(func() {
		err = c.reader.Close()
	})
	return err
}
