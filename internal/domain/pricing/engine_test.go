package pricing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/region"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
	"github.com/xenking/storefront-checkout/internal/domain/tax"
)

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestEngine(taxCfg tax.Config) *Engine {
	return NewEngine(
		"IRR",
		coupon.NewEvaluator(zap.NewNop()),
		tax.NewCalculator(taxCfg),
		shipping.NewResolver(shipping.Config{
			BaseFee:          30000,
			FreeThreshold:    1000000,
			ExpressSurcharge: 50000,
			StandardETA:      "3-5 days",
			ExpressETA:       "1-2 days",
		}),
	)
}

func line(price string, qty int) LineItem {
	return LineItem{Title: "item", UnitPrice: decimal.RequireFromString(price), Quantity: qty}
}

func welcome15() *coupon.Coupon {
	return &coupon.Coupon{
		ID:           "c-welcome",
		Code:         "WELCOME15",
		Type:         coupon.TypePercent,
		PercentValue: decimal.NewFromInt(15),
		MinSubtotal:  400000,
		IsActive:     true,
	}
}

func TestEngine_Welcome15Scenario(t *testing.T) {
	e := newTestEngine(tax.Config{DefaultRate: decimal.NewFromInt(9)})

	q, err := e.Quote([]LineItem{line("200000", 2), line("100000", 1)}, Context{
		CouponCode:     "welcome15",
		Coupon:         welcome15(),
		Now:            fixedNow,
		ShippingMethod: shipping.MethodStandard,
	})
	require.NoError(t, err)

	assert.Equal(t, money.Amount(500000), q.Subtotal)
	assert.Equal(t, money.Amount(75000), q.Discount)
	assert.Equal(t, money.Amount(30000), q.ShippingFee)
	assert.False(t, q.Shipping.Free)
	// 9% of 400000 + 100000 + 30000.
	assert.Equal(t, money.Amount(36000+9000+2700), q.Tax)
	assert.Equal(t, q.Subtotal-q.Discount+q.ShippingFee+q.Tax, q.Total)
	assert.Equal(t, money.Amount(502700), q.Total)

	require.NotNil(t, q.Coupon)
	assert.True(t, q.Coupon.OK)
	assert.Equal(t, "WELCOME15", q.Coupon.Code)
	assert.Equal(t, money.Currency("IRR"), q.Currency)
}

func TestEngine_NoCoupon(t *testing.T) {
	e := newTestEngine(tax.Config{})

	q, err := e.Quote([]LineItem{line("10.75", 3)}, Context{})
	require.NoError(t, err)

	assert.Equal(t, money.Amount(32), q.Subtotal)
	assert.Equal(t, []money.Amount{32}, q.LineTotals)
	assert.Nil(t, q.Coupon)
	assert.Equal(t, money.Amount(30032), q.Total)
}

func TestEngine_SubtotalFloorsTheSum(t *testing.T) {
	e := newTestEngine(tax.Config{})

	q, err := e.Quote([]LineItem{line("0.5", 1), line("0.5", 1)}, Context{})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1), q.Subtotal)
	assert.Equal(t, []money.Amount{0, 0}, q.LineTotals)
}

func TestEngine_CouponNotFound(t *testing.T) {
	e := newTestEngine(tax.Config{})

	q, err := e.Quote([]LineItem{line("500000", 1)}, Context{CouponCode: "NOPE", Now: fixedNow})
	require.NoError(t, err)
	require.NotNil(t, q.Coupon)
	assert.False(t, q.Coupon.OK)
	assert.Equal(t, coupon.ReasonNotFound, q.Coupon.Reason)
	assert.Equal(t, money.Amount(0), q.Discount)
}

func TestEngine_RejectedCouponHasNoEffect(t *testing.T) {
	e := newTestEngine(tax.Config{})

	q, err := e.Quote([]LineItem{line("300000", 1)}, Context{CouponCode: "WELCOME15", Coupon: welcome15(), Now: fixedNow})
	require.NoError(t, err)
	assert.False(t, q.Coupon.OK)
	assert.Equal(t, coupon.ReasonMinNotMet, q.Coupon.Reason)
	assert.Equal(t, money.Amount(330000), q.Total)
}

func TestEngine_ShippingThresholdUsesDiscountedSubtotal(t *testing.T) {
	e := newTestEngine(tax.Config{})
	c := &coupon.Coupon{Code: "OFF", Type: coupon.TypeAmount, AmountValue: 1, IsActive: true}

	q, err := e.Quote([]LineItem{line("1000000", 1)}, Context{CouponCode: "OFF", Coupon: c, Now: fixedNow})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(1), q.Discount)
	assert.Equal(t, money.Amount(30000), q.ShippingFee)
	assert.False(t, q.Shipping.Free)
}

func TestEngine_FreeShippingCoupon(t *testing.T) {
	e := newTestEngine(tax.Config{})
	c := &coupon.Coupon{Code: "SHIPFREE", Type: coupon.TypeFreeShipping, IsActive: true}

	t.Run("standard", func(t *testing.T) {
		q, err := e.Quote([]LineItem{line("1000", 1)}, Context{CouponCode: "SHIPFREE", Coupon: c, Now: fixedNow})
		require.NoError(t, err)
		assert.Equal(t, money.Amount(0), q.ShippingFee)
		assert.Equal(t, money.Amount(0), q.Discount)
		assert.Equal(t, money.Amount(30000), q.Coupon.Effect.ShippingDiscount)
		assert.Equal(t, money.Amount(1000), q.Total)
	})

	t.Run("express keeps surcharge", func(t *testing.T) {
		q, err := e.Quote([]LineItem{line("1000", 1)}, Context{
			CouponCode: "SHIPFREE", Coupon: c, Now: fixedNow, ShippingMethod: shipping.MethodExpress,
		})
		require.NoError(t, err)
		assert.Equal(t, money.Amount(50000), q.ShippingFee)
		assert.Equal(t, money.Amount(30000), q.Coupon.Effect.ShippingDiscount)
	})
}

func TestEngine_InclusiveTaxKeepsTotalIdentity(t *testing.T) {
	e := newTestEngine(tax.Config{DefaultRate: decimal.NewFromInt(9), Inclusive: true, ExemptShipping: true})

	q, err := e.Quote([]LineItem{line("109000", 1)}, Context{})
	require.NoError(t, err)
	assert.True(t, q.Inclusive)
	assert.Equal(t, money.Amount(9000), q.TaxIncluded)
	assert.Equal(t, money.Amount(0), q.Tax)
	assert.Equal(t, money.Amount(139000), q.Total)
}

func TestEngine_TaxExemptAndRegion(t *testing.T) {
	e := newTestEngine(tax.Config{
		DefaultRate: decimal.NewFromInt(9),
		Regions: []tax.Rule{
			{Selector: region.Selector{Country: "AE"}, Rate: decimal.NewFromInt(5)},
		},
	})
	lines := []LineItem{line("100000", 1)}

	q, err := e.Quote(lines, Context{Address: &region.Address{Country: "AE"}})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(5000+1500), q.Tax)

	q, err = e.Quote(lines, Context{Address: &region.Address{Country: "AE"}, TaxExempt: true})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(0), q.Tax)
	assert.Equal(t, []money.Amount{0}, q.LineTaxes)
}

func TestEngine_TotalNeverNegative(t *testing.T) {
	e := newTestEngine(tax.Config{DefaultRate: decimal.NewFromInt(10)})
	coupons := []*coupon.Coupon{
		{Code: "P100", Type: coupon.TypePercent, PercentValue: decimal.NewFromInt(100), IsActive: true},
		{Code: "A", Type: coupon.TypeAmount, AmountValue: 1 << 50, IsActive: true},
		{Code: "F", Type: coupon.TypeFreeShipping, IsActive: true},
	}
	prices := []string{"0", "0.99", "1", "999.5", "400000", "2000000"}

	for _, c := range coupons {
		for _, p := range prices {
			for _, m := range []shipping.Method{shipping.MethodStandard, shipping.MethodExpress} {
				q, err := e.Quote([]LineItem{line(p, 1)}, Context{CouponCode: c.Code, Coupon: c, ShippingMethod: m})
				require.NoError(t, err)
				assert.GreaterOrEqual(t, q.Total, money.Amount(0))
				assert.LessOrEqual(t, q.Discount, q.Subtotal)
				assert.Equal(t, q.Subtotal-q.Discount+q.ShippingFee+q.Tax, q.Total)
			}
		}
	}
}

func TestEngine_InvalidLines(t *testing.T) {
	e := newTestEngine(tax.Config{})

	_, err := e.Quote(nil, Context{})
	require.ErrorIs(t, err, ErrEmptyLines)

	_, err = e.Quote([]LineItem{line("10", 1), line("10", 0)}, Context{})
	var lineErr *InvalidLineError
	require.ErrorAs(t, err, &lineErr)
	assert.Equal(t, 1, lineErr.Position)
	assert.ErrorIs(t, err, ErrInvalidLine)

	_, err = e.Quote([]LineItem{line("-1", 1)}, Context{})
	require.ErrorIs(t, err, ErrInvalidLine)
}

func TestEngine_AmountBounds(t *testing.T) {
	e := newTestEngine(tax.Config{DefaultRate: decimal.NewFromInt(9)})
	limit := decimal.NewFromInt(int64(MaxSubtotal))

	for _, tt := range []struct {
		name     string
		lines    []LineItem
		position int
	}{
		{"PriceAboveInt64", []LineItem{line("10000000000000000000", 1)}, 0},
		{"QuantityOverflow", []LineItem{line("4000000000000000000", 3)}, 0},
		{"SubtotalOverflow", []LineItem{line("10", 1), line(limit.String(), 1)}, 1},
		{"JustAboveLimit", []LineItem{{Title: "item", UnitPrice: limit.Add(decimal.RequireFromString("0.5")), Quantity: 1}}, 0},
	} {
		t.Run(tt.name, func(t *testing.T) {
			q, err := e.Quote(tt.lines, Context{})
			require.ErrorIs(t, err, ErrInvalidLine)
			assert.Nil(t, q)
			var lineErr *InvalidLineError
			require.ErrorAs(t, err, &lineErr)
			assert.Equal(t, tt.position, lineErr.Position)
		})
	}

	q, err := e.Quote([]LineItem{line(limit.String(), 1)}, Context{})
	require.NoError(t, err)
	assert.Equal(t, MaxSubtotal, q.Subtotal)
	assert.Positive(t, int64(q.Total))
	assert.Equal(t, q.Subtotal-q.Discount+q.ShippingFee+q.Tax, q.Total)
}
