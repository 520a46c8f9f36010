package events

import (
	"context"

	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/event"
)

// LogPublisher writes events to the log.
type LogPublisher struct {
	lg *zap.Logger
}

// NewLogPublisher creates a LogPublisher.
func NewLogPublisher(lg *zap.Logger) *LogPublisher {
	return &LogPublisher{lg: lg}
}

func (p *LogPublisher) Publish(_ context.Context, ev event.Event) error {
	fields := []zap.Field{
		zap.String("event_id", ev.ID),
		zap.String("event_type", string(ev.Type)),
		zap.String("order_id", ev.OrderID),
		zap.Time("occurred_at", ev.OccurredAt),
	}
	if ev.PaymentID != "" {
		fields = append(fields, zap.String("payment_id", ev.PaymentID))
	}
	if ev.To != "" {
		fields = append(fields, zap.String("from", ev.From), zap.String("to", ev.To))
	}
	if ev.Reason != "" {
		fields = append(fields, zap.String("reason", ev.Reason))
	}
	p.lg.Info("Domain event", fields...)
	return nil
}
