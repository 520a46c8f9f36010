// Package pricing computes order quotes: subtotal, coupon discount, shipping,
// tax and total.
package pricing

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/region"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
	"github.com/xenking/storefront-checkout/internal/domain/tax"
)

// ErrEmptyLines is returned for a quote without lines.
var ErrEmptyLines = apperr.New(apperr.Validation, "at least one line item is required")

// ErrInvalidLine is the sentinel behind every *InvalidLineError.
var ErrInvalidLine = apperr.New(apperr.Validation, "invalid line item")

// InvalidLineError reports a line with a bad quantity or price.
type InvalidLineError struct {
	Position int
	Reason   string
}

func (e *InvalidLineError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Position, e.Reason)
}

func (e *InvalidLineError) Unwrap() error {
	return ErrInvalidLine
}

// MaxSubtotal bounds line totals and the subtotal. It leaves room for
// shipping and tax so that no quote amount overflows an int64.
const MaxSubtotal = money.Amount(math.MaxInt64 / 4)

var maxSubtotal = decimal.NewFromInt(int64(MaxSubtotal))

// LineItem is a cart line priced from the catalog.
type LineItem struct {
	ProductID   *string
	VariantID   *string
	Title       string
	VariantName string
	UnitPrice   decimal.Decimal
	Quantity    int
	ImageURL    string
}

// Total returns floor(UnitPrice * Quantity).
func (l LineItem) Total() money.Amount {
	return money.Floor(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
}

// ValidateLines checks that lines can be priced.
func ValidateLines(lines []LineItem) error {
	if len(lines) == 0 {
		return ErrEmptyLines
	}
	subtotal := decimal.Zero
	for i, l := range lines {
		if l.Quantity <= 0 {
			return &InvalidLineError{Position: i, Reason: "quantity must be greater than 0"}
		}
		if l.UnitPrice.IsNegative() {
			return &InvalidLineError{Position: i, Reason: "unit price must not be negative"}
		}
		total := l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
		if total.GreaterThan(maxSubtotal) {
			return &InvalidLineError{Position: i, Reason: "line total is too large"}
		}
		subtotal = subtotal.Add(total)
		if subtotal.GreaterThan(maxSubtotal) {
			return &InvalidLineError{Position: i, Reason: "subtotal is too large"}
		}
	}
	return nil
}

// Context carries everything besides lines that a quote depends on. Coupon
// and Usage are looked up by the caller; Coupon is nil when CouponCode did
// not resolve.
type Context struct {
	CouponCode     string
	Coupon         *coupon.Coupon
	Usage          coupon.Usage
	Now            time.Time
	Address        *region.Address
	ShippingMethod shipping.Method
	TaxExempt      bool
}

// AppliedCoupon is the coupon outcome of a quote.
type AppliedCoupon struct {
	Code   string
	OK     bool
	Reason coupon.Reason
	Effect coupon.Effect
}

// Quote is a full price breakdown. Tax is the amount added on top of the
// subtotal; TaxIncluded is the tax already contained in inclusive prices.
// Total always equals Subtotal - Discount + ShippingFee + Tax.
type Quote struct {
	Currency    money.Currency
	Subtotal    money.Amount
	Discount    money.Amount
	ShippingFee money.Amount
	Tax         money.Amount
	TaxIncluded money.Amount
	Total       money.Amount
	LineTotals  []money.Amount
	LineTaxes   []money.Amount
	TaxRate     decimal.Decimal
	Inclusive   bool
	Shipping    shipping.Quote
	Coupon      *AppliedCoupon
}

// Engine combines the coupon evaluator, tax calculator and shipping resolver.
type Engine struct {
	currency money.Currency
	coupons  *coupon.Evaluator
	tax      *tax.Calculator
	shipping *shipping.Resolver
}

// NewEngine creates an Engine.
func NewEngine(
	currency money.Currency,
	coupons *coupon.Evaluator,
	taxes *tax.Calculator,
	ship *shipping.Resolver,
) *Engine {
	return &Engine{
		currency: currency,
		coupons:  coupons,
		tax:      taxes,
		shipping: ship,
	}
}

// Currency returns the currency every quote is expressed in.
func (e *Engine) Currency() money.Currency {
	return e.currency
}

// Quote prices lines. It performs no I/O.
func (e *Engine) Quote(lines []LineItem, c Context) (*Quote, error) {
	if err := ValidateLines(lines); err != nil {
		return nil, err
	}

	q := &Quote{
		Currency:   e.currency,
		LineTotals: make([]money.Amount, len(lines)),
		Inclusive:  e.tax.Inclusive(),
	}

	exact := decimal.Zero
	for i, l := range lines {
		exact = exact.Add(l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))))
		q.LineTotals[i] = l.Total()
	}
	q.Subtotal = money.Floor(exact)

	preliminary := e.shipping.Quote(q.Subtotal, c.Address, shipping.Options{Method: c.ShippingMethod})

	var freeShip bool
	if c.CouponCode != "" {
		applied := &AppliedCoupon{Code: coupon.NormalizeCode(c.CouponCode)}
		if c.Coupon == nil {
			applied.Reason = coupon.ReasonNotFound
		} else {
			res := e.coupons.Evaluate(c.Coupon, coupon.Input{
				Subtotal: q.Subtotal,
				Shipping: preliminary.Amount,
				Now:      c.Now,
				Usage:    c.Usage,
			})
			applied.OK, applied.Reason, applied.Effect = res.OK, res.Reason, res.Effect
			if res.OK {
				q.Discount = res.Effect.Discount
				freeShip = res.Effect.FreeShipping
			}
		}
		q.Coupon = applied
	}

	q.Shipping = e.shipping.Quote(q.Subtotal-q.Discount, c.Address, shipping.Options{
		Method:         c.ShippingMethod,
		CouponFreeShip: freeShip,
	})
	q.ShippingFee = q.Shipping.Amount
	if freeShip {
		// Only the base fee is waived.
		q.Coupon.Effect.ShippingDiscount = money.NonNegative(preliminary.Amount - q.ShippingFee)
	}

	taxes := e.tax.ComputeForLines(q.LineTotals, q.ShippingFee, tax.Context{
		Address:   c.Address,
		Inclusive: q.Inclusive,
		Exempt:    c.TaxExempt,
	})
	q.LineTaxes = taxes.LineTaxes
	q.TaxRate = taxes.Rate
	if q.Inclusive {
		q.TaxIncluded = taxes.Total
	} else {
		q.Tax = taxes.Total
	}

	q.Total = money.NonNegative(q.Subtotal - q.Discount + q.ShippingFee + q.Tax)
	return q, nil
}
