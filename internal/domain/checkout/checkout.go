// Package checkout prices carts and turns them into orders with a started
// payment.
package checkout

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/event"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/region"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
)

// Inventory reserves stock for a new order.
type Inventory interface {
	HoldForOrder(ctx context.Context, orderID string, items []order.Item) error
}

// PaymentStarter opens the first payment attempt of an order.
type PaymentStarter interface {
	CheckStart(req payment.StartRequest) error
	Start(ctx context.Context, orderID string, req payment.StartRequest) (*payment.StartResult, error)
}

// QuoteRequest is a cart to price.
type QuoteRequest struct {
	Lines          []pricing.LineItem
	UserID         *string
	CouponCode     string
	Address        *region.Address
	ShippingMethod shipping.Method
}

// PlaceOrderRequest is a cart to buy.
type PlaceOrderRequest struct {
	QuoteRequest
	PaymentMethod payment.Method
	Gateway       string
}

// PlaceOrderResult is a placed order. Payment and Session are set once a
// payment was started; Session is nil for cash on delivery.
type PlaceOrderResult struct {
	Order   *order.Order
	Quote   *pricing.Quote
	Payment *payment.Payment
	Session *payment.Session
}

// Service implements checkout.
type Service struct {
	engine    *pricing.Engine
	coupons   coupon.Repository
	orders    *order.Service
	tx        order.Transactor
	inventory Inventory
	payments  PaymentStarter
	events    event.Publisher
	lg        *zap.Logger
	now       func() time.Time
}

// NewService creates a checkout Service.
func NewService(
	engine *pricing.Engine,
	coupons coupon.Repository,
	orders *order.Service,
	tx order.Transactor,
	inventory Inventory,
	payments PaymentStarter,
	events event.Publisher,
	lg *zap.Logger,
) *Service {
	return &Service{
		engine:    engine,
		coupons:   coupons,
		orders:    orders,
		tx:        tx,
		inventory: inventory,
		payments:  payments,
		events:    events,
		lg:        lg,
		now:       time.Now,
	}
}

// Quote prices a cart. A coupon that does not apply is reported in the
// quote, not as an error.
func (s *Service) Quote(ctx context.Context, req QuoteRequest) (*pricing.Quote, error) {
	pc := pricing.Context{
		CouponCode:     req.CouponCode,
		Now:            s.now().UTC(),
		Address:        req.Address,
		ShippingMethod: req.ShippingMethod,
	}
	if code := coupon.NormalizeCode(req.CouponCode); code != "" {
		c, err := s.coupons.FindByCode(ctx, code)
		switch {
		case errors.Is(err, coupon.ErrNotFound):
		case err != nil:
			return nil, errors.Wrap(err, "find coupon")
		default:
			usage, err := s.coupons.Usage(ctx, c.ID, req.UserID)
			if err != nil {
				return nil, errors.Wrap(err, "coupon usage")
			}
			pc.Coupon, pc.Usage = c, usage
		}
	}
	return s.engine.Quote(req.Lines, pc)
}

// PlaceOrder prices the cart, stores a draft order with held stock and
// starts its payment. When the gateway cannot be reached the order stays in
// draft and the result is returned together with the error so the buyer
// can retry the payment.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	start := payment.StartRequest{Method: req.PaymentMethod, Gateway: req.Gateway}
	if err := s.payments.CheckStart(start); err != nil {
		return nil, err
	}

	q, err := s.Quote(ctx, req.QuoteRequest)
	if err != nil {
		return nil, err
	}
	if q.Coupon != nil && !q.Coupon.OK {
		return nil, &coupon.RejectedError{Code: q.Coupon.Code, Reason: q.Coupon.Reason}
	}

	o := newOrder(req, q)
	var created event.Event
	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if created, err = s.orders.Create(ctx, o); err != nil {
			return err
		}
		if err := s.inventory.HoldForOrder(ctx, o.ID, o.Items); err != nil {
			return errors.Wrap(err, "hold inventory")
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "place order")
	}

	lg := s.lg.With(zap.String("order_id", o.ID), zap.String("order_number", o.Number))
	lg.Info("Order placed",
		zap.Int64("total", int64(o.Total)),
		zap.String("currency", string(o.Currency)),
		zap.String("coupon_code", o.CouponCode),
	)
	event.Emit(ctx, s.events, s.lg, created)

	res := &PlaceOrderResult{Order: o, Quote: q}
	started, err := s.payments.Start(ctx, o.ID, start)
	if started != nil {
		res.Payment, res.Session = started.Payment, started.Session
		if started.Order != nil {
			res.Order = started.Order
		}
	}
	if err != nil {
		lg.Warn("Start payment failed", zap.Error(err))
		return res, err
	}
	return res, nil
}

func newOrder(req PlaceOrderRequest, q *pricing.Quote) *order.Order {
	o := &order.Order{
		UserID:         req.UserID,
		Subtotal:       q.Subtotal,
		Discount:       q.Discount,
		ShippingFee:    q.ShippingFee,
		Tax:            q.Tax,
		TaxIncluded:    q.TaxIncluded,
		Total:          q.Total,
		Currency:       q.Currency,
		ShippingMethod: q.Shipping.Method,
		Items:          make([]order.Item, len(req.Lines)),
	}
	if q.Coupon != nil {
		o.CouponCode = q.Coupon.Code
	}
	if req.Address != nil {
		o.Address = *req.Address
	}
	for i, l := range req.Lines {
		o.Items[i] = order.Item{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			Title:       l.Title,
			VariantName: l.VariantName,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			LineTotal:   q.LineTotals[i],
			ImageURL:    l.ImageURL,
		}
	}
	return o
}
