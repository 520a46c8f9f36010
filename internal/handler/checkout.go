package handler

import (
	"net/http"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// Quote prices a cart without storing anything.
//
// POST /api/checkout/quote
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body quoteRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	req, err := body.domain()
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	q, err := h.checkout.Quote(ctx, req)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, newQuoteResponse(q))
}

// PlaceOrder creates an order and starts its payment. When the order was
// stored but the payment could not start, the order is returned together
// with the error.
//
// POST /api/checkout/orders
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var body placeOrderRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(ctx, w, err)
		return
	}
	quote, err := body.quoteRequest.domain()
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	method, err := payment.ParseMethod(body.PaymentMethod)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	res, err := h.checkout.PlaceOrder(ctx, checkout.PlaceOrderRequest{
		QuoteRequest:  quote,
		PaymentMethod: method,
		Gateway:       body.Gateway,
	})
	if res == nil {
		writeError(ctx, w, err)
		return
	}

	resp := newPaymentResponse(res.Order, res.Payment, res.Session)
	resp.Quote = newQuoteResponse(res.Quote)
	if err != nil {
		code := apperr.CodeOf(err)
		resp.Error = &errorResponse{Code: code, Message: err.Error()}
		writeJSON(ctx, w, statusOf(code), resp)
		return
	}
	writeJSON(ctx, w, http.StatusCreated, resp)
}
