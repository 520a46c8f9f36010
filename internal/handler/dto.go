package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/domain/pricing"
	"github.com/xenking/storefront-checkout/internal/domain/region"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
)

type lineDTO struct {
	ProductID   *string         `json:"product_id,omitempty"`
	VariantID   *string         `json:"variant_id,omitempty"`
	Title       string          `json:"title"`
	VariantName string          `json:"variant_name,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	ImageURL    string          `json:"image_url,omitempty"`
}

type addressDTO struct {
	Country    string `json:"country"`
	Province   string `json:"province,omitempty"`
	City       string `json:"city,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

type quoteRequest struct {
	Lines          []lineDTO   `json:"lines"`
	UserID         *string     `json:"user_id,omitempty"`
	CouponCode     string      `json:"coupon_code,omitempty"`
	Address        *addressDTO `json:"address,omitempty"`
	ShippingMethod string      `json:"shipping_method,omitempty"`
}

func (q quoteRequest) domain() (checkout.QuoteRequest, error) {
	method, err := shipping.ParseMethod(q.ShippingMethod)
	if err != nil {
		return checkout.QuoteRequest{}, err
	}
	req := checkout.QuoteRequest{
		Lines:          make([]pricing.LineItem, len(q.Lines)),
		UserID:         q.UserID,
		CouponCode:     q.CouponCode,
		ShippingMethod: method,
	}
	for i, l := range q.Lines {
		req.Lines[i] = pricing.LineItem{
			ProductID:   l.ProductID,
			VariantID:   l.VariantID,
			Title:       l.Title,
			VariantName: l.VariantName,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
			ImageURL:    l.ImageURL,
		}
	}
	if q.Address != nil {
		req.Address = &region.Address{
			Country:    q.Address.Country,
			Province:   q.Address.Province,
			City:       q.Address.City,
			PostalCode: q.Address.PostalCode,
		}
	}
	return req, nil
}

type placeOrderRequest struct {
	quoteRequest
	PaymentMethod string `json:"payment_method"`
	Gateway       string `json:"gateway,omitempty"`
}

type startPaymentRequest struct {
	PaymentMethod string `json:"payment_method"`
	Gateway       string `json:"gateway,omitempty"`
}

func (s startPaymentRequest) domain() (payment.StartRequest, error) {
	m, err := payment.ParseMethod(s.PaymentMethod)
	if err != nil {
		return payment.StartRequest{}, err
	}
	return payment.StartRequest{Method: m, Gateway: s.Gateway}, nil
}

type couponDTO struct {
	Code             string       `json:"code"`
	OK               bool         `json:"ok"`
	Reason           string       `json:"reason,omitempty"`
	Discount         money.Amount `json:"discount"`
	ShippingDiscount money.Amount `json:"shipping_discount"`
	FreeShipping     bool         `json:"free_shipping"`
}

type shippingDTO struct {
	Method shipping.Method `json:"method"`
	Amount money.Amount    `json:"amount"`
	ETA    string          `json:"eta,omitempty"`
	Free   bool            `json:"free"`
}

type quoteResponse struct {
	Currency    money.Currency  `json:"currency"`
	Subtotal    money.Amount    `json:"subtotal"`
	Discount    money.Amount    `json:"discount"`
	ShippingFee money.Amount    `json:"shipping_fee"`
	Tax         money.Amount    `json:"tax"`
	TaxIncluded money.Amount    `json:"tax_included"`
	Total       money.Amount    `json:"total"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Inclusive   bool            `json:"tax_inclusive"`
	LineTotals  []money.Amount  `json:"line_totals"`
	Shipping    shippingDTO     `json:"shipping"`
	Coupon      *couponDTO      `json:"coupon,omitempty"`
}

func newQuoteResponse(q *pricing.Quote) *quoteResponse {
	resp := &quoteResponse{
		Currency:    q.Currency,
		Subtotal:    q.Subtotal,
		Discount:    q.Discount,
		ShippingFee: q.ShippingFee,
		Tax:         q.Tax,
		TaxIncluded: q.TaxIncluded,
		Total:       q.Total,
		TaxRate:     q.TaxRate,
		Inclusive:   q.Inclusive,
		LineTotals:  q.LineTotals,
		Shipping: shippingDTO{
			Method: q.Shipping.Method,
			Amount: q.Shipping.Amount,
			ETA:    q.Shipping.ETA,
			Free:   q.Shipping.Free,
		},
	}
	if c := q.Coupon; c != nil {
		resp.Coupon = &couponDTO{
			Code:             c.Code,
			OK:               c.OK,
			Reason:           string(c.Reason),
			Discount:         c.Effect.Discount,
			ShippingDiscount: c.Effect.ShippingDiscount,
			FreeShipping:     c.Effect.FreeShipping,
		}
	}
	return resp
}

type itemDTO struct {
	Position    int             `json:"position"`
	ProductID   *string         `json:"product_id,omitempty"`
	VariantID   *string         `json:"variant_id,omitempty"`
	Title       string          `json:"title"`
	VariantName string          `json:"variant_name,omitempty"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Quantity    int             `json:"quantity"`
	LineTotal   money.Amount    `json:"line_total"`
	ImageURL    string          `json:"image_url,omitempty"`
}

type orderResponse struct {
	ID             string          `json:"id"`
	Number         string          `json:"number"`
	Status         order.Status    `json:"status"`
	UserID         *string         `json:"user_id,omitempty"`
	Subtotal       money.Amount    `json:"subtotal"`
	Discount       money.Amount    `json:"discount"`
	ShippingFee    money.Amount    `json:"shipping_fee"`
	Tax            money.Amount    `json:"tax"`
	TaxIncluded    money.Amount    `json:"tax_included"`
	Total          money.Amount    `json:"total"`
	Currency       money.Currency  `json:"currency"`
	CouponCode     string          `json:"coupon_code,omitempty"`
	ShippingMethod shipping.Method `json:"shipping_method"`
	Address        addressDTO      `json:"address"`
	CancelReason   string          `json:"cancel_reason,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	PlacedAt       time.Time       `json:"placed_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
	Items          []itemDTO       `json:"items"`
	Payments       []paymentDTO    `json:"payments,omitempty"`
}

func newOrderResponse(o *order.Order) *orderResponse {
	resp := &orderResponse{
		ID:             o.ID,
		Number:         o.Number,
		Status:         o.Status,
		UserID:         o.UserID,
		Subtotal:       o.Subtotal,
		Discount:       o.Discount,
		ShippingFee:    o.ShippingFee,
		Tax:            o.Tax,
		TaxIncluded:    o.TaxIncluded,
		Total:          o.Total,
		Currency:       o.Currency,
		CouponCode:     o.CouponCode,
		ShippingMethod: o.ShippingMethod,
		Address: addressDTO{
			Country:    o.Address.Country,
			Province:   o.Address.Province,
			City:       o.Address.City,
			PostalCode: o.Address.PostalCode,
		},
		CancelReason: o.CancelReason,
		CancelledAt:  o.CancelledAt,
		PlacedAt:     o.PlacedAt,
		UpdatedAt:    o.UpdatedAt,
		Items:        make([]itemDTO, len(o.Items)),
	}
	for i, it := range o.Items {
		resp.Items[i] = itemDTO{
			Position:    it.Position,
			ProductID:   it.ProductID,
			VariantID:   it.VariantID,
			Title:       it.Title,
			VariantName: it.VariantName,
			UnitPrice:   it.UnitPrice,
			Quantity:    it.Quantity,
			LineTotal:   it.LineTotal,
			ImageURL:    it.ImageURL,
		}
	}
	return resp
}

type paymentDTO struct {
	ID             string         `json:"id"`
	OrderID        string         `json:"order_id"`
	Method         payment.Method `json:"method"`
	Gateway        string         `json:"gateway"`
	Status         payment.Status `json:"status"`
	Amount         money.Amount   `json:"amount"`
	Currency       money.Currency `json:"currency"`
	Authority      string         `json:"authority,omitempty"`
	TransactionRef string         `json:"transaction_ref,omitempty"`
	FailureReason  string         `json:"failure_reason,omitempty"`
	RefundedAmount money.Amount   `json:"refunded_amount,omitempty"`
	RefundReason   string         `json:"refund_reason,omitempty"`
	RefundRef      string         `json:"refund_ref,omitempty"`
	PaidAt         *time.Time     `json:"paid_at,omitempty"`
	RefundedAt     *time.Time     `json:"refunded_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

func newPaymentDTO(p *payment.Payment) *paymentDTO {
	return &paymentDTO{
		ID:             p.ID,
		OrderID:        p.OrderID,
		Method:         p.Method,
		Gateway:        p.Gateway,
		Status:         p.Status,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Authority:      p.Authority,
		TransactionRef: p.TransactionRef,
		FailureReason:  p.FailureReason,
		RefundedAmount: p.RefundedAmount,
		RefundReason:   p.RefundReason,
		RefundRef:      p.RefundRef,
		PaidAt:         p.PaidAt,
		RefundedAt:     p.RefundedAt,
		CreatedAt:      p.CreatedAt,
	}
}

type sessionDTO struct {
	Authority   string `json:"authority"`
	ApprovalURL string `json:"approval_url"`
}

// paymentResponse answers order placement and payment starts.
type paymentResponse struct {
	Order   *orderResponse `json:"order"`
	Quote   *quoteResponse `json:"quote,omitempty"`
	Payment *paymentDTO    `json:"payment,omitempty"`
	Session *sessionDTO    `json:"session,omitempty"`
	// Error is set when the order exists but its payment could not start.
	Error *errorResponse `json:"error,omitempty"`
}

func newPaymentResponse(o *order.Order, p *payment.Payment, s *payment.Session) *paymentResponse {
	resp := &paymentResponse{Order: newOrderResponse(o)}
	if p != nil {
		resp.Payment = newPaymentDTO(p)
	}
	if s != nil {
		resp.Session = &sessionDTO{Authority: s.Authority, ApprovalURL: s.ApprovalURL}
	}
	return resp
}
