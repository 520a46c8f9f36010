package coupon

import (
	"time"

	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/money"
)

// Input is the order context a coupon is evaluated against.
type Input struct {
	Subtotal money.Amount
	// Shipping is the shipping fee a free_shipping coupon would waive.
	Shipping money.Amount
	Now      time.Time
	Usage    Usage
}

// Effect is the monetary result of an applicable coupon.
type Effect struct {
	Discount         money.Amount
	ShippingDiscount money.Amount
	// FreeShipping is set for free_shipping coupons even when the waived
	// amount is zero.
	FreeShipping bool
}

// Result is either OK with an Effect or rejected with a Reason.
type Result struct {
	OK     bool
	Effect Effect
	Reason Reason
}

func reject(r Reason) Result {
	return Result{Reason: r}
}

// Evaluator decides coupon applicability. It has no side effects besides
// logging unknown coupon types.
type Evaluator struct {
	lg *zap.Logger
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(lg *zap.Logger) *Evaluator {
	if lg == nil {
		lg = zap.NewNop()
	}
	return &Evaluator{lg: lg}
}

// Evaluate checks c against in. The first failing check determines the
// reason, in this order: inactive, not started, expired, minimum subtotal,
// definition, global limit, per-user limit.
func (e *Evaluator) Evaluate(c *Coupon, in Input) Result {
	switch {
	case !c.IsActive:
		return reject(ReasonInactive)
	case c.StartsAt != nil && in.Now.Before(*c.StartsAt):
		return reject(ReasonNotStarted)
	case c.EndsAt != nil && in.Now.After(*c.EndsAt):
		return reject(ReasonExpired)
	case in.Subtotal < c.MinSubtotal:
		return reject(ReasonMinNotMet)
	case !c.definitionValid():
		return reject(ReasonInvalidDefinition)
	case c.MaxUses != nil && in.Usage.Global >= *c.MaxUses:
		return reject(ReasonUsageLimitReached)
	case c.MaxUsesPerUser != nil && in.Usage.User >= *c.MaxUsesPerUser:
		return reject(ReasonUserUsageLimitReached)
	}
	return Result{OK: true, Effect: e.effect(c, in)}
}

func (e *Evaluator) effect(c *Coupon, in Input) Effect {
	subtotal := money.NonNegative(in.Subtotal)
	switch c.Type {
	case TypePercent:
		return Effect{Discount: money.Min(subtotal.Percent(c.PercentValue), subtotal)}
	case TypeAmount:
		return Effect{Discount: money.Min(c.AmountValue, subtotal)}
	case TypeFreeShipping:
		return Effect{ShippingDiscount: money.NonNegative(in.Shipping), FreeShipping: true}
	default:
		// Definitions may be written by newer releases; treat as a no-op coupon.
		e.lg.Warn("Unknown coupon type, applying no effect",
			zap.String("coupon_code", c.Code),
			zap.String("coupon_type", string(c.Type)),
		)
		return Effect{}
	}
}
