package payment

import (
	"context"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/order"
)

// ReconcileResult reports what a callback did.
type ReconcileResult struct {
	// Matched is false when no local payment corresponds to the callback.
	Matched   bool
	PaymentID string
	OrderID   string
	// Applied is false when the callback only repeated a known outcome.
	Applied bool
	// Pending is set when the gateway has no final result yet.
	Pending bool
	Order   *order.Order
}

// Reconcile applies a gateway callback. The payment is found by authority,
// falling back to the newest pending gateway payment of the callback's
// order. Unmatched callbacks are logged and acknowledged. Claims that need
// verification are confirmed with the gateway first; a failed verification
// call changes nothing and returns the error so the provider retries.
func (s *Service) Reconcile(ctx context.Context, cb Callback) (_ *ReconcileResult, rerr error) {
	ctx, span := s.tracer.Start(ctx, "payment.Reconcile", trace.WithAttributes(
		attribute.String("payment.gateway", cb.Gateway),
		attribute.String("payment.authority", cb.Authority),
	))
	result := "error"
	defer func() {
		s.callbacks.Add(ctx, 1, metric.WithAttributes(
			attribute.String("gateway", cb.Gateway),
			attribute.String("result", result),
		))
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, "reconcile")
		}
		span.End()
	}()

	lg := s.lg.With(
		zap.String("gateway", cb.Gateway),
		zap.String("authority", cb.Authority),
		zap.String("event_id", cb.EventID),
	)

	p, err := s.resolve(ctx, cb)
	if errors.Is(err, ErrNotFound) {
		lg.Warn("Callback matches no payment, acknowledging", zap.String("order_id", cb.OrderID))
		result = "unmatched"
		return &ReconcileResult{}, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "resolve payment")
	}
	res := &ReconcileResult{Matched: true, PaymentID: p.ID, OrderID: p.OrderID}
	lg = lg.With(zap.String("payment_id", p.ID), zap.String("order_id", p.OrderID))

	outcome, ref, reason := cb.Outcome, cb.TransactionRef, cb.Reason
	if outcome == OutcomeNeedsVerification {
		if p.Status == StatusPaid || p.Status == StatusRefunded {
			result = "duplicate"
			res.Order, err = s.orders.Get(ctx, p.OrderID)
			return res, err
		}
		outcome, ref, reason, err = s.verify(ctx, p, cb)
		if err != nil {
			lg.Warn("Verify payment failed", zap.Error(err))
			return nil, err
		}
	}

	if outcome == OutcomePending {
		lg.Info("Payment not final at the gateway, nothing changed",
			zap.String("gateway_status", reason),
			zap.Stringer("payment_status", p.Status),
		)
		result = "pending"
		res.Pending = true
		res.Order, err = s.orders.Get(ctx, p.OrderID)
		return res, err
	}

	before := p.Status
	switch outcome {
	case OutcomeSucceeded:
		res.Order, err = s.MarkSucceeded(ctx, p.OrderID, p.ID, Confirmation{
			TransactionRef: ref,
			Authority:      cb.Authority,
		})
		res.Applied = before != StatusPaid && before != StatusRefunded
	case OutcomeFailed:
		res.Order, err = s.MarkFailed(ctx, p.OrderID, p.ID, reason)
		res.Applied = before == StatusPending
	default:
		return nil, errors.Errorf("unknown callback outcome %d", outcome)
	}
	if err != nil {
		return nil, err
	}

	result = "applied"
	if !res.Applied {
		result = "duplicate"
	}
	lg.Info("Callback reconciled",
		zap.String("result", result),
		zap.Stringer("payment_status_before", before),
	)
	return res, nil
}

func (s *Service) resolve(ctx context.Context, cb Callback) (*Payment, error) {
	if cb.Authority != "" {
		p, err := s.payments.FindByAuthority(ctx, cb.Gateway, cb.Authority)
		if err == nil {
			return p, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if cb.OrderID == "" {
		return nil, ErrNotFound
	}
	p, err := s.payments.LatestPending(ctx, cb.OrderID, MethodGateway)
	if err != nil {
		return nil, err
	}
	if p.Gateway != cb.Gateway {
		return nil, ErrNotFound
	}
	return p, nil
}

func (s *Service) verify(ctx context.Context, p *Payment, cb Callback) (Outcome, string, string, error) {
	gw, err := s.gateways.Get(p.Gateway)
	if err != nil {
		return 0, "", "", err
	}
	authority := p.Authority
	if authority == "" {
		authority = cb.Authority
	}

	vctx, cancel := s.withTimeout(ctx, s.cfg.VerifyTimeout)
	defer cancel()
	v, err := gw.Verify(vctx, authority, p.Amount)
	if err != nil {
		return 0, "", "", gatewayError("verify payment", err)
	}
	if v.Pending {
		return OutcomePending, "", v.Message, nil
	}
	if !v.Success {
		reason := v.Message
		if reason == "" {
			reason = "verification declined"
		}
		return OutcomeFailed, "", reason, nil
	}
	ref := v.RefID
	if ref == "" {
		ref = cb.TransactionRef
	}
	return OutcomeSucceeded, ref, "", nil
}
