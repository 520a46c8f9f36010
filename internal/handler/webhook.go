package handler

import (
	"context"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

var errUnknownCallback = errors.Wrap(payment.ErrUnknownGateway, "no callback handler")

type callbackResponse struct {
	Status    string `json:"status"`
	PaymentID string `json:"payment_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
}

// Webhook processes a gateway notification. Anything that was understood is
// acknowledged with 200, including unmatched and repeated events; only
// authentication failures, malformed payloads and processing failures are
// answered with an error so the provider retries the latter.
//
// POST /webhooks/{gateway}
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gateway := chi.URLParam(r, "gateway")
	parser, ok := h.webhooks[gateway]
	if !ok {
		writeError(ctx, w, errors.Wrapf(errUnknownCallback, "%q", gateway))
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(ctx, w, errors.Wrap(payment.ErrBadPayload, "read body"))
		return
	}

	cb, ok, err := parser.ParseWebhook(r.Header, body, h.now())
	if err != nil {
		zctx.From(ctx).Warn("Rejected webhook", zap.String("gateway", gateway), zap.Error(err))
		writeError(ctx, w, err)
		return
	}
	lg := zctx.From(ctx).With(
		zap.String("gateway", gateway),
		zap.String("event_id", cb.EventID),
	)
	if !ok {
		lg.Debug("Ignoring webhook event type")
		writeJSON(ctx, w, http.StatusOK, callbackResponse{Status: "ignored"})
		return
	}

	// The event ID is recorded only after Reconcile committed. Concurrent
	// redeliveries may both reconcile, which is idempotent.
	dedup := h.dedup != nil && cb.EventID != ""
	if dedup {
		seen, err := h.dedup.Seen(ctx, gateway, cb.EventID)
		switch {
		case err != nil:
			lg.Warn("Webhook dedup unavailable, processing anyway", zap.Error(err))
		case seen:
			lg.Info("Webhook event already processed")
			writeJSON(ctx, w, http.StatusOK, callbackResponse{Status: "duplicate"})
			return
		}
	}

	res, err := h.payments.Reconcile(ctx, cb)
	if err != nil {
		writeError(ctx, w, err)
		return
	}
	if dedup {
		if err := h.dedup.Remember(context.WithoutCancel(ctx), gateway, cb.EventID); err != nil {
			lg.Warn("Remember webhook event failed", zap.Error(err))
		}
	}
	writeJSON(ctx, w, http.StatusOK, newCallbackResponse(res))
}

// Return handles the buyer coming back from a gateway. The claim is always
// verified with the gateway before anything changes.
//
// GET /payments/{gateway}/return
func (h *Handler) Return(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gateway := chi.URLParam(r, "gateway")
	parse, ok := h.returns[gateway]
	if !ok {
		writeError(ctx, w, errors.Wrapf(errUnknownCallback, "%q", gateway))
		return
	}
	q := r.URL.Query()
	cb, err := parse(q)
	if err != nil {
		writeError(ctx, w, err)
		return
	}

	res, err := h.payments.Reconcile(ctx, cb)
	if err != nil {
		zctx.From(ctx).Warn("Payment return not reconciled",
			zap.String("gateway", gateway),
			zap.String("authority", cb.Authority),
			zap.Error(err),
		)
		if h.cfg.StorefrontURL != "" && cb.OrderID != "" {
			h.redirect(w, r, cb.OrderID, "pending")
			return
		}
		writeError(ctx, w, err)
		return
	}

	if h.cfg.StorefrontURL == "" {
		writeJSON(ctx, w, http.StatusOK, newCallbackResponse(res))
		return
	}
	orderID := res.OrderID
	if orderID == "" {
		orderID = cb.OrderID
	}
	h.redirect(w, r, orderID, returnStatus(res, cb))
}

func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, orderID, status string) {
	target := h.cfg.StorefrontURL + "/orders/" + url.PathEscape(orderID) + "?" + url.Values{"payment": {status}}.Encode()
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// returnStatus summarizes a reconciled return for the storefront.
func returnStatus(res *payment.ReconcileResult, cb payment.Callback) string {
	if res.Pending {
		return "pending"
	}
	if !res.Matched || res.Order == nil {
		if cb.Outcome == payment.OutcomeFailed {
			return "failed"
		}
		return "unknown"
	}
	switch res.Order.Status {
	case order.StatusPaid, order.StatusProcessing, order.StatusShipped, order.StatusDelivered:
		return "success"
	case order.StatusDraft, order.StatusAwaitingPayment:
		return "failed"
	default:
		return res.Order.Status.String()
	}
}

func newCallbackResponse(res *payment.ReconcileResult) callbackResponse {
	resp := callbackResponse{
		Status:    "processed",
		PaymentID: res.PaymentID,
		OrderID:   res.OrderID,
	}
	switch {
	case !res.Matched:
		resp.Status = "unmatched"
	case res.Pending:
		resp.Status = "pending"
	case !res.Applied:
		resp.Status = "duplicate"
	}
	return resp
}
