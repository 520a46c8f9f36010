package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/event"
)

// Service owns order status. Every status write goes through it.
type Service struct {
	orders    Repository
	tx        Transactor
	inventory Inventory
	events    event.Publisher
	lg        *zap.Logger
	now       func() time.Time
}

// NewService creates an order Service.
func NewService(
	orders Repository,
	tx Transactor,
	inventory Inventory,
	events event.Publisher,
	lg *zap.Logger,
) *Service {
	return &Service{
		orders:    orders,
		tx:        tx,
		inventory: inventory,
		events:    events,
		lg:        lg,
		now:       time.Now,
	}
}

// Get returns an order with its items.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	return s.orders.Get(ctx, id)
}

// Create stores a new draft order, assigning its ID, number and placement
// time. Call it inside the caller's transaction.
func (s *Service) Create(ctx context.Context, o *Order) (event.Event, error) {
	if err := o.CheckTotals(); err != nil {
		return event.Event{}, err
	}
	seq, err := s.orders.NextNumber(ctx)
	if err != nil {
		return event.Event{}, errors.Wrap(err, "next order number")
	}

	now := s.now().UTC()
	o.ID = uuid.New().String()
	o.Number = FormatNumber(now.Year(), seq)
	o.Status = StatusDraft
	o.PlacedAt = now
	o.UpdatedAt = now
	for i := range o.Items {
		o.Items[i].Position = i
	}

	if err := s.orders.Create(ctx, o); err != nil {
		return event.Event{}, errors.Wrap(err, "create order")
	}

	ev := event.New(event.OrderCreated, o.ID, now)
	ev.OrderNumber = o.Number
	ev.To = o.Status.String()
	ev.Amount = o.Total
	ev.Currency = o.Currency
	return ev, nil
}

// ApplyTransition moves a locked order to the next status and returns the
// status.changed event to publish after commit. The caller must hold the
// order row lock inside a transaction.
func (s *Service) ApplyTransition(ctx context.Context, o *Order, to Status, reason string) (event.Event, error) {
	if !o.Status.CanTransitionTo(to) {
		return event.Event{}, &TransitionError{OrderID: o.ID, From: o.Status, To: to}
	}

	ch := StatusChange{From: o.Status, To: to, Reason: reason, At: s.now().UTC()}
	if err := s.orders.UpdateStatus(ctx, o.ID, ch); err != nil {
		return event.Event{}, errors.Wrapf(err, "update order %s status", o.ID)
	}

	o.Status = to
	o.UpdatedAt = ch.At
	if to == StatusCancelled {
		o.CancelReason = reason
		o.CancelledAt = &ch.At
	}

	ev := event.New(event.OrderStatusChanged, o.ID, ch.At)
	ev.OrderNumber = o.Number
	ev.From = ch.From.String()
	ev.To = ch.To.String()
	ev.Reason = reason
	return ev, nil
}

// UpdateStatus moves an order to a new status. Cancellation is routed
// through Cancel so held stock is released.
func (s *Service) UpdateStatus(ctx context.Context, id string, to Status) (*Order, error) {
	if !to.Valid() {
		return nil, ErrUnknownStatus
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, id, "")
	}

	var (
		o       *Order
		changed event.Event
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.GetForUpdate(ctx, id); err != nil {
			return err
		}
		changed, err = s.ApplyTransition(ctx, o, to, "")
		return err
	})
	if err != nil {
		return nil, err
	}

	s.lg.Info("Order status changed",
		zap.String("order_id", o.ID),
		zap.String("from", changed.From),
		zap.String("to", changed.To),
	)
	event.Emit(ctx, s.events, s.lg, changed)
	return o, nil
}

// Cancel cancels an order and then releases its held stock. A failed
// release is logged and does not undo the cancellation.
func (s *Service) Cancel(ctx context.Context, id, reason string) (*Order, error) {
	var (
		o       *Order
		changed event.Event
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if o, err = s.orders.GetForUpdate(ctx, id); err != nil {
			return err
		}
		changed, err = s.ApplyTransition(ctx, o, StatusCancelled, reason)
		return err
	})
	if err != nil {
		return nil, err
	}

	lg := s.lg.With(zap.String("order_id", o.ID), zap.String("order_number", o.Number))
	lg.Info("Order cancelled", zap.String("from", changed.From), zap.String("reason", reason))

	if err := s.inventory.ReleaseForOrder(ctx, o.ID); err != nil {
		lg.Warn("Release inventory failed, reconcile stock manually", zap.Error(err))
	}

	cancelled := event.New(event.OrderCancelled, o.ID, changed.OccurredAt)
	cancelled.OrderNumber = o.Number
	cancelled.From = changed.From
	cancelled.To = changed.To
	cancelled.Reason = reason
	event.Emit(ctx, s.events, s.lg, cancelled, changed)
	return o, nil
}
