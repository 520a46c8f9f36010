package payment

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/event"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const instrumentationName = "github.com/xenking/storefront-checkout/internal/domain/payment"

// Config bounds gateway calls and builds return URLs.
type Config struct {
	SessionTimeout time.Duration
	VerifyTimeout  time.Duration
	RefundTimeout  time.Duration
	// ReturnURL is the base URL gateways redirect the buyer to. The buyer
	// lands on <ReturnURL>/<gateway>/return?order_id=<id>.
	ReturnURL string
}

// Params are the dependencies of a Service.
type Params struct {
	Payments       Repository
	Orders         order.Repository
	Machine        *order.Service
	Coupons        coupon.Repository
	Tx             order.Transactor
	Gateways       *Registry
	Events         event.Publisher
	Logger         *zap.Logger
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	Config         Config
}

// Service is the only writer of payment status. It moves orders to paid
// through the order Service.
type Service struct {
	payments Repository
	orders   order.Repository
	machine  *order.Service
	coupons  coupon.Repository
	tx       order.Transactor
	gateways *Registry
	events   event.Publisher
	lg       *zap.Logger
	cfg      Config
	now      func() time.Time

	tracer    trace.Tracer
	callbacks metric.Int64Counter
	refunds   metric.Int64Counter
}

// NewService creates a payment Service.
func NewService(p Params) (*Service, error) {
	if p.TracerProvider == nil {
		p.TracerProvider = tracenoop.NewTracerProvider()
	}
	if p.MeterProvider == nil {
		p.MeterProvider = metricnoop.NewMeterProvider()
	}
	if p.Logger == nil {
		p.Logger = zap.NewNop()
	}
	if p.Events == nil {
		p.Events = event.Nop{}
	}

	meter := p.MeterProvider.Meter(instrumentationName)
	callbacks, err := meter.Int64Counter("payment.callbacks",
		metric.WithDescription("Gateway callbacks processed, by result"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create callbacks counter")
	}
	refunds, err := meter.Int64Counter("payment.refunds",
		metric.WithDescription("Refunds recorded, by provider outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create refunds counter")
	}

	return &Service{
		payments:  p.Payments,
		orders:    p.Orders,
		machine:   p.Machine,
		coupons:   p.Coupons,
		tx:        p.Tx,
		gateways:  p.Gateways,
		events:    p.Events,
		lg:        p.Logger,
		cfg:       p.Config,
		now:       time.Now,
		tracer:    p.TracerProvider.Tracer(instrumentationName),
		callbacks: callbacks,
		refunds:   refunds,
	}, nil
}

func (s *Service) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func (s *Service) returnURL(gateway, orderID string) string {
	q := url.Values{"order_id": {orderID}}
	return strings.TrimRight(s.cfg.ReturnURL, "/") + "/" + url.PathEscape(gateway) + "/return?" + q.Encode()
}

// ListForOrder returns all payments of an order, oldest first.
func (s *Service) ListForOrder(ctx context.Context, orderID string) ([]Payment, error) {
	return s.payments.ListByOrder(ctx, orderID)
}

// StartRequest selects how to pay.
type StartRequest struct {
	Method  Method
	Gateway string
}

// StartResult is a started payment. Session is nil for cash on delivery.
type StartResult struct {
	Order   *order.Order
	Payment *Payment
	Session *Session
}

// Start opens a new payment attempt for an order in draft or awaiting
// payment. Earlier pending attempts are failed as superseded. For gateway
// payments the session is created outside any transaction; if that fails the
// new attempt is marked failed and the result is returned with the error.
func (s *Service) Start(ctx context.Context, orderID string, req StartRequest) (*StartResult, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Start", trace.WithAttributes(
		attribute.String("order.id", orderID),
		attribute.String("payment.method", string(req.Method)),
	))
	defer span.End()

	gw, err := s.gatewayFor(req)
	if err != nil {
		return nil, err
	}

	var (
		res = &StartResult{}
		evs []event.Event
	)
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		evs = evs[:0]
		o, err := s.orders.GetForUpdate(ctx, orderID)
		if err != nil {
			return err
		}
		if o.Status != order.StatusDraft && o.Status != order.StatusAwaitingPayment {
			return errors.Wrapf(ErrNotPayable, "order %s is %s", o.ID, o.Status)
		}

		superseded, err := s.supersedePending(ctx, o)
		if err != nil {
			return err
		}
		evs = append(evs, superseded...)

		now := s.now().UTC()
		p := &Payment{
			ID:        uuid.New().String(),
			OrderID:   o.ID,
			Method:    req.Method,
			Gateway:   CODGateway,
			Status:    StatusPending,
			Amount:    o.Total,
			Currency:  o.Currency,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if gw != nil {
			p.Gateway = gw.Name()
		}
		if err := s.payments.Create(ctx, p); err != nil {
			return errors.Wrap(err, "create payment")
		}

		if req.Method == MethodCOD && o.Status == order.StatusDraft {
			ev, err := s.machine.ApplyTransition(ctx, o, order.StatusAwaitingPayment, "cash on delivery")
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}
		res.Order, res.Payment = o, p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start payment")
		return nil, err
	}
	event.Emit(ctx, s.events, s.lg, evs...)

	if gw == nil {
		return res, nil
	}

	sessCtx, cancel := s.withTimeout(ctx, s.cfg.SessionTimeout)
	sess, err := gw.CreateSession(sessCtx, SessionRequest{
		PaymentID:   res.Payment.ID,
		OrderID:     res.Order.ID,
		OrderNumber: res.Order.Number,
		Amount:      res.Payment.Amount,
		Currency:    res.Payment.Currency,
		ReturnURL:   s.returnURL(gw.Name(), res.Order.ID),
		Description: "Order " + res.Order.Number,
	})
	cancel()
	if err != nil {
		err = gatewayError("create payment session", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create session")
		if _, failErr := s.MarkFailed(ctx, orderID, res.Payment.ID, "session not created: "+err.Error()); failErr != nil {
			s.lg.Error("Mark payment failed after session error",
				zap.String("payment_id", res.Payment.ID),
				zap.Error(failErr),
			)
		}
		res.Payment.Status = StatusFailed
		return res, err
	}
	res.Session = sess

	evs = nil
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		evs = evs[:0]
		o, p, err := s.lockPair(ctx, orderID, res.Payment.ID)
		if err != nil {
			return err
		}
		if p.Authority == "" {
			p.Authority = sess.Authority
			p.UpdatedAt = s.now().UTC()
			if err := s.payments.Update(ctx, p); err != nil {
				return errors.Wrap(err, "store authority")
			}
		}
		if o.Status == order.StatusDraft {
			ev, err := s.machine.ApplyTransition(ctx, o, order.StatusAwaitingPayment, "payment session created")
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		}
		res.Order, res.Payment = o, p
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, errors.Wrap(err, "attach payment session")
	}
	event.Emit(ctx, s.events, s.lg, evs...)

	s.lg.Info("Payment session created",
		zap.String("order_id", res.Order.ID),
		zap.String("payment_id", res.Payment.ID),
		zap.String("gateway", gw.Name()),
		zap.String("authority", sess.Authority),
	)
	return res, nil
}

// CheckStart validates a payment request without touching any order.
func (s *Service) CheckStart(req StartRequest) error {
	_, err := s.gatewayFor(req)
	return err
}

// gatewayFor returns the gateway of req, or nil for cash on delivery.
func (s *Service) gatewayFor(req StartRequest) (Gateway, error) {
	switch req.Method {
	case MethodGateway:
		return s.gateways.Get(req.Gateway)
	case MethodCOD:
		return nil, nil
	default:
		return nil, errors.Wrapf(ErrUnknownMethod, "%q", req.Method)
	}
}

// supersedePending fails every pending payment of o.
func (s *Service) supersedePending(ctx context.Context, o *order.Order) ([]event.Event, error) {
	existing, err := s.payments.ListByOrder(ctx, o.ID)
	if err != nil {
		return nil, errors.Wrap(err, "list payments")
	}
	var evs []event.Event
	for i := range existing {
		if existing[i].Status != StatusPending {
			continue
		}
		p, err := s.payments.GetForUpdate(ctx, existing[i].ID)
		if err != nil {
			return nil, err
		}
		if p.Status != StatusPending {
			continue
		}
		p.Status = StatusFailed
		p.FailureReason = "superseded by a new payment attempt"
		p.UpdatedAt = s.now().UTC()
		if err := s.payments.Update(ctx, p); err != nil {
			return nil, errors.Wrap(err, "supersede payment")
		}
		evs = append(evs, s.paymentEvent(event.PaymentFailed, o, p, p.FailureReason))
	}
	return evs, nil
}

func (s *Service) paymentEvent(t event.Type, o *order.Order, p *Payment, reason string) event.Event {
	ev := event.New(t, p.OrderID, s.now().UTC())
	ev.PaymentID = p.ID
	ev.Amount = p.Amount
	ev.Currency = p.Currency
	ev.Reason = reason
	if o != nil {
		ev.OrderNumber = o.Number
	}
	return ev
}

// lockPair locks an order and then one of its payments. Every transaction
// that locks both takes the order first.
func (s *Service) lockPair(ctx context.Context, orderID, paymentID string) (*order.Order, *Payment, error) {
	o, err := s.orders.GetForUpdate(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.payments.GetForUpdate(ctx, paymentID)
	if err != nil {
		return nil, nil, err
	}
	if p.OrderID != orderID {
		return nil, nil, errors.Wrapf(ErrNotFound, "payment %s does not belong to order %s", paymentID, orderID)
	}
	return o, p, nil
}

// Confirmation carries gateway references of a successful payment.
type Confirmation struct {
	TransactionRef string
	Authority      string
}

// MarkSucceeded records a successful payment. In one transaction it marks
// the payment paid, moves an order awaiting payment to paid and records the
// coupon redemption. Repeating the call changes nothing.
func (s *Service) MarkSucceeded(ctx context.Context, orderID, paymentID string, c Confirmation) (*order.Order, error) {
	lg := s.lg.With(zap.String("order_id", orderID), zap.String("payment_id", paymentID))

	var (
		o   *order.Order
		evs []event.Event
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		evs = evs[:0]
		var (
			p   *Payment
			err error
		)
		if o, p, err = s.lockPair(ctx, orderID, paymentID); err != nil {
			return err
		}

		switch p.Status {
		case StatusPaid:
			lg.Debug("Payment already paid")
			return nil
		case StatusRefunded:
			lg.Warn("Success reported for refunded payment, ignoring")
			return nil
		case StatusFailed:
			lg.Warn("Success reported for failed payment, accepting captured funds",
				zap.String("failure_reason", p.FailureReason),
			)
		}

		now := s.now().UTC()
		p.Status = StatusPaid
		p.PaidAt = &now
		p.UpdatedAt = now
		p.FailureReason = ""
		if c.TransactionRef != "" {
			p.TransactionRef = c.TransactionRef
		}
		if c.Authority != "" && p.Authority == "" {
			p.Authority = c.Authority
		}
		if err := s.payments.Update(ctx, p); err != nil {
			return errors.Wrap(err, "mark payment paid")
		}
		evs = append(evs, s.paymentEvent(event.PaymentSucceeded, o, p, ""))

		switch o.Status {
		case order.StatusAwaitingPayment:
			ev, err := s.machine.ApplyTransition(ctx, o, order.StatusPaid, "payment "+p.ID)
			if err != nil {
				return err
			}
			evs = append(evs, ev)
		case order.StatusCancelled:
			lg.Error("Payment captured for cancelled order, refund manually",
				zap.Int64("amount", int64(p.Amount)),
			)
		default:
			lg.Warn("Payment captured for order not awaiting payment",
				zap.Stringer("order_status", o.Status),
			)
		}

		return s.redeemCoupon(ctx, o, lg)
	})
	if err != nil {
		return nil, err
	}
	event.Emit(ctx, s.events, s.lg, evs...)
	return o, nil
}

// redeemCoupon records the order's coupon use. A duplicate is not an error.
func (s *Service) redeemCoupon(ctx context.Context, o *order.Order, lg *zap.Logger) error {
	if o.CouponCode == "" {
		return nil
	}
	c, err := s.coupons.FindByCode(ctx, o.CouponCode)
	if errors.Is(err, coupon.ErrNotFound) {
		lg.Warn("Coupon of paid order no longer exists", zap.String("coupon_code", o.CouponCode))
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "find coupon")
	}

	inserted, err := s.coupons.InsertRedemption(ctx, coupon.Redemption{
		ID:         uuid.New().String(),
		CouponID:   c.ID,
		OrderID:    o.ID,
		UserID:     o.UserID,
		RedeemedAt: s.now().UTC(),
	})
	if err != nil {
		return errors.Wrap(err, "record coupon redemption")
	}
	if !inserted {
		lg.Debug("Coupon redemption already recorded", zap.String("coupon_code", c.Code))
	}
	return nil
}

// MarkFailed records a failed payment attempt. The order is left as is so
// the buyer can retry with a new payment.
func (s *Service) MarkFailed(ctx context.Context, orderID, paymentID, reason string) (*order.Order, error) {
	lg := s.lg.With(zap.String("order_id", orderID), zap.String("payment_id", paymentID))

	var (
		o   *order.Order
		evs []event.Event
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		evs = evs[:0]
		var (
			p   *Payment
			err error
		)
		if o, p, err = s.lockPair(ctx, orderID, paymentID); err != nil {
			return err
		}

		switch p.Status {
		case StatusFailed:
			return nil
		case StatusPaid, StatusRefunded:
			lg.Warn("Failure reported for settled payment, ignoring",
				zap.Stringer("payment_status", p.Status),
				zap.String("reason", reason),
			)
			return nil
		}

		p.Status = StatusFailed
		p.FailureReason = reason
		p.UpdatedAt = s.now().UTC()
		if err := s.payments.Update(ctx, p); err != nil {
			return errors.Wrap(err, "mark payment failed")
		}
		evs = append(evs, s.paymentEvent(event.PaymentFailed, o, p, reason))
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(evs) > 0 {
		lg.Info("Payment failed", zap.String("reason", reason))
	}
	event.Emit(ctx, s.events, s.lg, evs...)
	return o, nil
}

// CollectCashOnDelivery confirms the pending cash-on-delivery payment of an order.
func (s *Service) CollectCashOnDelivery(ctx context.Context, orderID, receiptRef string) (*order.Order, error) {
	p, err := s.payments.LatestPending(ctx, orderID, MethodCOD)
	if err != nil {
		return nil, err
	}
	return s.MarkSucceeded(ctx, orderID, p.ID, Confirmation{TransactionRef: receiptRef})
}

// RefundParams describe a refund. A nil Amount refunds the full payment.
type RefundParams struct {
	Reason string
	Amount *money.Amount
}

// Refund returns a paid payment. The gateway refund is attempted first; if
// it fails the refund is still recorded locally and logged for manual
// reconciliation.
func (s *Service) Refund(ctx context.Context, paymentID string, params RefundParams) (*Payment, error) {
	ctx, span := s.tracer.Start(ctx, "payment.Refund", trace.WithAttributes(
		attribute.String("payment.id", paymentID),
	))
	defer span.End()

	p, err := s.payments.Get(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if p.Status != StatusPaid {
		return nil, errors.Wrapf(ErrBadState, "payment %s is %s", p.ID, p.Status)
	}
	amount := p.Amount
	if params.Amount != nil {
		if *params.Amount <= 0 || *params.Amount > p.Amount {
			return nil, errors.Wrapf(ErrInvalidRefundAmount, "%d of %d", *params.Amount, p.Amount)
		}
		amount = *params.Amount
	}

	lg := s.lg.With(
		zap.String("order_id", p.OrderID),
		zap.String("payment_id", p.ID),
		zap.String("gateway", p.Gateway),
		zap.Int64("amount", int64(amount)),
	)
	refundRef, providerResult := s.refundAtGateway(ctx, p, amount, params.Reason, lg)

	var o *order.Order
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		locked, err := s.payments.GetForUpdate(ctx, paymentID)
		if err != nil {
			return err
		}
		p = locked
		switch p.Status {
		case StatusRefunded:
			return nil
		case StatusPaid:
		default:
			return errors.Wrapf(ErrBadState, "payment %s is %s", p.ID, p.Status)
		}

		now := s.now().UTC()
		p.Status = StatusRefunded
		p.RefundedAmount = amount
		p.RefundReason = params.Reason
		p.RefundRef = refundRef
		p.RefundedAt = &now
		p.UpdatedAt = now
		if err := s.payments.Update(ctx, p); err != nil {
			return errors.Wrap(err, "mark payment refunded")
		}
		o, err = s.orders.Get(ctx, p.OrderID)
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if o == nil {
		return p, nil
	}

	s.refunds.Add(ctx, 1, metric.WithAttributes(attribute.String("provider", providerResult)))
	lg.Info("Payment refunded", zap.String("provider_result", providerResult), zap.String("refund_ref", refundRef))
	ev := s.paymentEvent(event.PaymentRefunded, o, p, params.Reason)
	ev.Amount = amount
	event.Emit(ctx, s.events, s.lg, ev)
	return p, nil
}

// refundAtGateway calls the provider when it supports refunds and reports
// the refund reference and a result label.
func (s *Service) refundAtGateway(
	ctx context.Context,
	p *Payment,
	amount money.Amount,
	reason string,
	lg *zap.Logger,
) (string, string) {
	if p.Method != MethodGateway {
		return "", "local"
	}
	gw, err := s.gateways.Get(p.Gateway)
	if err != nil {
		lg.Error("Refund gateway not configured, recording refund locally only", zap.Error(err))
		return "", "unconfigured"
	}
	refunder, ok := gw.(Refunder)
	if !ok {
		lg.Info("Gateway has no refund API, recording refund locally only")
		return "", "unsupported"
	}

	rctx, cancel := s.withTimeout(ctx, s.cfg.RefundTimeout)
	defer cancel()
	ref, err := refunder.Refund(rctx, RefundRequest{
		PaymentID:      p.ID,
		Authority:      p.Authority,
		TransactionRef: p.TransactionRef,
		Amount:         amount,
		Currency:       p.Currency,
		Reason:         reason,
		IdempotencyKey: "refund-" + p.ID,
	})
	if err != nil {
		lg.Error("Gateway refund failed, refund recorded locally; reconcile with provider manually", zap.Error(err))
		return "", "failed"
	}
	return ref, "ok"
}
