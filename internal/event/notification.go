package event

import (
	"context"
	"fmt"
	"log/slog"

	pkgkafka "github.com/NurzhauganovA/galmart/pkg/kafka"
)

// Sender delivers a reservation notice to a user. Template rendering and the
// actual mail/SMS transport live outside this service.
type Sender interface {
	Send(ctx context.Context, userID int64, eventType string, data *ReservationData) error
}

// LogSender is a Sender that only logs. It stands in where no notification
// transport is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a logging Sender.
func NewLogSender(logger *slog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the notice that would have been delivered.
func (s *LogSender) Send(ctx context.Context, userID int64, eventType string, data *ReservationData) error {
	s.logger.InfoContext(ctx, "notification dispatched",
		slog.Int64("user_id", userID),
		slog.String("event_type", eventType),
		slog.String("reservation_id", data.ReservationID.String()),
	)
	return nil
}

// NotificationConsumer turns reservation events into user notifications.
type NotificationConsumer struct {
	sender Sender
	logger *slog.Logger
}

// NewNotificationConsumer creates the notification-side event consumer.
func NewNotificationConsumer(sender Sender, logger *slog.Logger) *NotificationConsumer {
	return &NotificationConsumer{sender: sender, logger: logger}
}

// Handle processes one reservation event. Unknown event types are rejected.
// The handler is idempotent: resending a notice for the same reservation and
// type is prevented by the deduplication decorator keyed on DedupKey.
func (c *NotificationConsumer) Handle(ctx context.Context, event *pkgkafka.Event) error {
	data, err := ParseReservationData(event)
	if err != nil {
		return err
	}

	if err := c.sender.Send(ctx, data.UserID, event.EventType, data); err != nil {
		return fmt.Errorf("send %s notice for reservation %s: %w", event.EventType, data.ReservationID, err)
	}

	c.logger.DebugContext(ctx, "notification event processed",
		slog.String("event_type", event.EventType),
		slog.String("reservation_id", data.ReservationID.String()),
		slog.Int64("user_id", data.UserID),
	)

	return nil
}
