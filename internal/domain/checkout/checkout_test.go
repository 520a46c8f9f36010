package checkout_test

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/event"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
	"github.com/xenking/storefront-checkout/internal/domain/tax"
	"github.com/xenking/storefront-checkout/internal/storage/memory"
)

type stubGateway struct {
	err error
}

func (g *stubGateway) Name() string { return "card" }

func (g *stubGateway) CreateSession(_ context.Context, req payment.SessionRequest) (*payment.Session, error) {
	if g.err != nil {
		return nil, g.err
	}
	return &payment.Session{Authority: "AUTH-" + req.OrderNumber, ApprovalURL: "https://pay.example/" + req.PaymentID}, nil
}

func (g *stubGateway) Verify(context.Context, string, money.Amount) (*payment.Verification, error) {
	return &payment.Verification{Success: true}, nil
}

type countingPublisher struct {
	types []event.Type
}

func (p *countingPublisher) Publish(_ context.Context, ev event.Event) error {
	p.types = append(p.types, ev.Type)
	return nil
}

type fixture struct {
	store   *memory.Store
	svc     *checkout.Service
	gateway *stubGateway
	events  *countingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	lg := zap.NewNop()

	f := &fixture{
		store:   memory.New(),
		gateway: &stubGateway{},
		events:  &countingPublisher{},
	}
	orders := order.NewService(f.store.Orders(), f.store, f.store.Inventory(), f.events, lg)
	payments, err := payment.NewService(payment.Params{
		Payments: f.store.Payments(),
		Orders:   f.store.Orders(),
		Machine:  orders,
		Coupons:  f.store.Coupons(),
		Tx:       f.store,
		Gateways: payment.NewRegistry(f.gateway),
		Events:   f.events,
		Logger:   lg,
	})
	require.NoError(t, err)

	engine := pricing.NewEngine(
		"IRR",
		coupon.NewEvaluator(lg),
		tax.NewCalculator(tax.Config{DefaultRate: decimal.NewFromInt(9)}),
		shipping.NewResolver(shipping.Config{
			BaseFee:          30000,
			FreeThreshold:    1000000,
			ExpressSurcharge: 50000,
		}),
	)
	f.svc = checkout.NewService(engine, f.store.Coupons(), orders, f.store, f.store.Inventory(), payments, f.events, lg)

	require.NoError(t, f.store.Coupons().Upsert(context.Background(), &coupon.Coupon{
		Code:         "WELCOME15",
		Type:         coupon.TypePercent,
		PercentValue: decimal.NewFromInt(15),
		MinSubtotal:  400000,
		IsActive:     true,
	}))
	return f
}

func cart() []pricing.LineItem {
	product := "prod-mug"
	return []pricing.LineItem{
		{ProductID: &product, Title: "Mug", UnitPrice: decimal.NewFromInt(200000), Quantity: 2},
		{Title: "Tea", UnitPrice: decimal.NewFromInt(100000), Quantity: 1},
	}
}

func TestService_Quote(t *testing.T) {
	f := newFixture(t)

	q, err := f.svc.Quote(context.Background(), checkout.QuoteRequest{Lines: cart(), CouponCode: "welcome15"})
	require.NoError(t, err)
	assert.Equal(t, money.Amount(500000), q.Subtotal)
	assert.Equal(t, money.Amount(75000), q.Discount)
	assert.Equal(t, money.Amount(502700), q.Total)

	q, err = f.svc.Quote(context.Background(), checkout.QuoteRequest{Lines: cart(), CouponCode: "NOPE"})
	require.NoError(t, err)
	require.NotNil(t, q.Coupon)
	assert.Equal(t, coupon.ReasonNotFound, q.Coupon.Reason)
}

func TestService_PlaceOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	res, err := f.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		QuoteRequest:  checkout.QuoteRequest{Lines: cart(), CouponCode: "WELCOME15"},
		PaymentMethod: payment.MethodGateway,
		Gateway:       "card",
	})
	require.NoError(t, err)

	o := res.Order
	assert.Equal(t, order.StatusAwaitingPayment, o.Status)
	assert.Equal(t, order.FormatNumber(time.Now().UTC().Year(), 1), o.Number)
	assert.Equal(t, "WELCOME15", o.CouponCode)
	assert.Equal(t, money.Amount(502700), o.Total)
	require.NoError(t, o.CheckTotals())
	require.Len(t, o.Items, 2)
	assert.Equal(t, 1, o.Items[1].Position)
	assert.Equal(t, money.Amount(400000), o.Items[0].LineTotal)

	require.NotNil(t, res.Session)
	assert.Equal(t, "AUTH-"+o.Number, res.Payment.Authority)

	holds, err := f.store.Inventory().Holds(ctx, o.ID)
	require.NoError(t, err)
	assert.Len(t, holds, 2)

	assert.Equal(t, []event.Type{event.OrderCreated, event.OrderStatusChanged}, f.events.types)
}

func TestService_PlaceOrder_RejectedCoupon(t *testing.T) {
	f := newFixture(t)

	lines := cart()[1:]
	_, err := f.svc.PlaceOrder(context.Background(), checkout.PlaceOrderRequest{
		QuoteRequest:  checkout.QuoteRequest{Lines: lines, CouponCode: "WELCOME15"},
		PaymentMethod: payment.MethodCOD,
	})

	var rejected *coupon.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, coupon.ReasonMinNotMet, rejected.Reason)
	assert.Equal(t, apperr.Validation, apperr.CodeOf(err))
	assert.Empty(t, f.events.types)
}

func TestService_PlaceOrder_GatewayDown(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.gateway.err = errors.New("dial tcp: connection refused")

	res, err := f.svc.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		QuoteRequest:  checkout.QuoteRequest{Lines: cart()},
		PaymentMethod: payment.MethodGateway,
		Gateway:       "card",
	})
	require.Error(t, err)
	assert.Equal(t, apperr.GatewayUnavailable, apperr.CodeOf(err))

	require.NotNil(t, res)
	assert.Equal(t, order.StatusDraft, res.Order.Status)
	require.NotNil(t, res.Payment)
	assert.Equal(t, payment.StatusFailed, res.Payment.Status)

	stored, err := f.store.Orders().Get(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDraft, stored.Status)
}

func TestService_PlaceOrder_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		req  checkout.PlaceOrderRequest
		want error
	}{
		{
			name: "empty cart",
			req:  checkout.PlaceOrderRequest{PaymentMethod: payment.MethodCOD},
			want: pricing.ErrEmptyLines,
		},
		{
			name: "zero quantity",
			req: checkout.PlaceOrderRequest{
				QuoteRequest:  checkout.QuoteRequest{Lines: []pricing.LineItem{{Title: "x", UnitPrice: decimal.NewFromInt(1)}}},
				PaymentMethod: payment.MethodCOD,
			},
			want: pricing.ErrInvalidLine,
		},
		{
			name: "unknown payment method",
			req:  checkout.PlaceOrderRequest{QuoteRequest: checkout.QuoteRequest{Lines: cart()}, PaymentMethod: "barter"},
			want: payment.ErrUnknownMethod,
		},
		{
			name: "unknown gateway",
			req: checkout.PlaceOrderRequest{
				QuoteRequest:  checkout.QuoteRequest{Lines: cart()},
				PaymentMethod: payment.MethodGateway,
				Gateway:       "paypal",
			},
			want: payment.ErrUnknownGateway,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.PlaceOrder(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.want)
			assert.Equal(t, apperr.Validation, apperr.CodeOf(err))
		})
	}
}
