package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// GetOrder returns an order with its payment attempts.
//
// GET /api/orders/{orderID}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	o, err := h.orders.Get(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	payments, err := h.payments.ListForOrder(ctx, o.ID)
	if err != nil {
		writeError(ctx, w, errors.Wrap(err, "list payments"))
		return
	}
	resp := newOrderResponse(o)
	for i := range payments {
		resp.Payments = append(resp.Payments, *newPaymentDTO(&payments[i]))
	}
	writeJSON(ctx, w, http.StatusOK, resp)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus moves an order along its lifecycle.
//
// POST /api/orders/{orderID}/status
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body updateStatusRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	to, err := order.ParseStatus(body.Status)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	o, err := h.orders.UpdateStatus(ctx, chi.URLParam(r, "orderID"), to)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelOrder cancels an order and releases its stock.
//
// POST /api/orders/{orderID}/cancel
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body cancelRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &body); err != nil {
			writeError(ctx, w, err)
			return
		}
	}
	o, err := h.orders.Cancel(ctx, chi.URLParam(r, "orderID"), body.Reason)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}

// StartPayment opens a new payment attempt, superseding pending ones.
//
// POST /api/orders/{orderID}/payments
func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body startPaymentRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	req, err := body.domain()
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	res, err := h.payments.Start(ctx, chi.URLParam(r, "orderID"), req)
	if res == nil || res.Order == nil {
		if err == nil {
			err = errors.New("payment start returned no order")
		}
		writeError(ctx, w, err)
		return
	}
	resp := newPaymentResponse(res.Order, res.Payment, res.Session)
	if err != nil {
		code := apperr.CodeOf(err)
		resp.Error = &errorResponse{Code: code, Message: err.Error()}
		writeJSON(ctx, w, statusOf(code), resp)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, resp)
}

type collectRequest struct {
	ReceiptRef string `json:"receipt_ref"`
}

// CollectCash confirms a cash on delivery payment.
//
// POST /api/orders/{orderID}/cod-collect
func (h *Handler) CollectCash(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body collectRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	o, err := h.payments.CollectCashOnDelivery(ctx, chi.URLParam(r, "orderID"), body.ReceiptRef)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newOrderResponse(o))
}

type refundRequest struct {
	// Amount defaults to the full payment amount.
	Amount *money.Amount `json:"amount,omitempty"`
	Reason string        `json:"reason"`
}

// Refund returns money for a paid payment.
//
// POST /api/payments/{paymentID}/refund
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body refundRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	p, err := h.payments.Refund(ctx, chi.URLParam(r, "paymentID"), payment.RefundParams{
		Reason: body.Reason,
		Amount: body.Amount,
	})
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newPaymentDTO(p))
}
