// Package handler is the HTTP surface of the checkout service: cart pricing
// and order placement, order administration, and payment callbacks.
package handler

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/coupon"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// maxBodySize bounds JSON request and webhook bodies.
const maxBodySize = 1 << 20

// WebhookParser authenticates and translates a gateway webhook. ok=false
// marks an event type that needs no processing.
type WebhookParser interface {
	ParseWebhook(h http.Header, body []byte, now time.Time) (cb payment.Callback, ok bool, err error)
}

// ReturnParser translates a buyer's return redirect query.
type ReturnParser func(q url.Values) (payment.Callback, error)

// Deduper remembers processed webhook event IDs.
type Deduper interface {
	Seen(ctx context.Context, gateway, eventID string) (bool, error)
	Remember(ctx context.Context, gateway, eventID string) error
}

// Config holds non-dependency settings.
type Config struct {
	// StorefrontURL receives buyers after a payment return, as
	// <StorefrontURL>/orders/<id>?payment=<status>. Empty answers with JSON.
	StorefrontURL string
	// RequestTimeout bounds API requests. Callback routes are not limited.
	RequestTimeout time.Duration
}

// Params are the Handler dependencies. Dedup and Admin are optional.
type Params struct {
	Checkout *checkout.Service
	Orders   *order.Service
	Payments *payment.Service
	Webhooks map[string]WebhookParser
	Returns  map[string]ReturnParser
	Dedup    Deduper
	Admin    *AdminAuth
	Config   Config
}

// Handler serves the HTTP API.
type Handler struct {
	checkout *checkout.Service
	orders   *order.Service
	payments *payment.Service
	webhooks map[string]WebhookParser
	returns  map[string]ReturnParser
	dedup    Deduper
	admin    *AdminAuth
	cfg      Config
	now      func() time.Time
}

// New creates a Handler.
func New(p Params) *Handler {
	if p.Config.RequestTimeout <= 0 {
		p.Config.RequestTimeout = 30 * time.Second
	}
	return &Handler{
		checkout: p.Checkout,
		orders:   p.Orders,
		payments: p.Payments,
		webhooks: p.Webhooks,
		returns:  p.Returns,
		dedup:    p.Dedup,
		admin:    p.Admin,
		cfg:      p.Config,
		now:      time.Now,
	}
}

// Routes mounts the API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(h.cfg.RequestTimeout))

		r.Post("/checkout/quote", h.Quote)
		r.Post("/checkout/orders", h.PlaceOrder)
		r.Get("/orders/{orderID}", h.GetOrder)
		r.Post("/orders/{orderID}/payments", h.StartPayment)

		r.Group(func(r chi.Router) {
			if h.admin != nil {
				r.Use(h.admin.Middleware)
			}
			r.Post("/orders/{orderID}/status", h.UpdateStatus)
			r.Post("/orders/{orderID}/cancel", h.CancelOrder)
			r.Post("/orders/{orderID}/cod-collect", h.CollectCash)
			r.Post("/payments/{paymentID}/refund", h.Refund)
		})
	})
	r.Post("/webhooks/{gateway}", h.Webhook)
	r.Get("/payments/{gateway}/return", h.Return)
}

// errorResponse is the body of every error answer.
type errorResponse struct {
	Code    apperr.Code `json:"code"`
	Message string      `json:"message"`
	Reason  string      `json:"reason,omitempty"`
}

// statusOf maps an error code to an HTTP status.
func statusOf(code apperr.Code) int {
	switch code {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.BadStatus, apperr.BadState, apperr.Conflict:
		return http.StatusConflict
	case apperr.Validation, apperr.BadPayload:
		return http.StatusBadRequest
	case apperr.BadSignature:
		return http.StatusUnauthorized
	case apperr.GatewayUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(ctx context.Context, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zctx.From(ctx).Debug("Write response failed", zap.Error(err))
	}
}

// writeError answers with the code carried by err. Internal errors are
// logged and their message hidden.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code := apperr.CodeOf(err)
	resp := errorResponse{Code: code, Message: err.Error()}
	if code == apperr.Internal {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
		resp.Message = "internal error"
	}
	var rejected *coupon.RejectedError
	if errors.As(err, &rejected) {
		resp.Reason = string(rejected.Reason)
	}
	writeJSON(ctx, w, statusOf(code), resp)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrapf(errBadRequest, "decode body: %s", err)
	}
	return nil
}

var errBadRequest = apperr.New(apperr.Validation, "malformed request")
