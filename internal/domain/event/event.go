// Package event defines the domain events published after state changes.
package event

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/money"
)

// Type names an event.
type Type string

const (
	OrderCreated       Type = "order.created"
	OrderCancelled     Type = "order.cancelled"
	OrderStatusChanged Type = "order.status.changed"
	PaymentSucceeded   Type = "payment.succeeded"
	PaymentFailed      Type = "payment.failed"
	PaymentRefunded    Type = "payment.refunded"
)

// Event is a notification about a committed change. From and To carry order
// statuses for status changes.
type Event struct {
	ID          string
	Type        Type
	OrderID     string
	OrderNumber string
	PaymentID   string
	From        string
	To          string
	Reason      string
	Amount      money.Amount
	Currency    money.Currency
	OccurredAt  time.Time
}

// New returns an event with a fresh ID.
func New(t Type, orderID string, at time.Time) Event {
	return Event{
		ID:         uuid.New().String(),
		Type:       t,
		OrderID:    orderID,
		OccurredAt: at,
	}
}

// Publisher delivers events. Delivery is best-effort: callers never wait on
// subscribers for correctness.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Emit publishes each event, logging failures instead of returning them.
func Emit(ctx context.Context, p Publisher, lg *zap.Logger, events ...Event) {
	for _, ev := range events {
		if err := p.Publish(ctx, ev); err != nil {
			lg.Warn("Publish event failed",
				zap.String("event_type", string(ev.Type)),
				zap.String("event_id", ev.ID),
				zap.String("order_id", ev.OrderID),
				zap.Error(err),
			)
		}
	}
}

// Fanout publishes to every publisher and returns the joined errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
