// Package card is a client for the card payment provider: hosted checkout
// sessions, refunds and signed webhooks.
package card

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/gateway"
)

// Name is the gateway name used in routes and payment records.
const Name = "card"

// ErrRejected is returned when the provider refuses a request.
var ErrRejected = apperr.New(apperr.Validation, "card provider rejected the request")

// Session statuses reported by the provider. Any other status, such as
// open or processing, is not final.
const (
	statusSucceeded = "succeeded"
	statusFailed    = "failed"
	statusExpired   = "expired"
	statusCanceled  = "canceled"
)

// Config configures the client.
type Config struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
}

// Client implements payment.Gateway and payment.Refunder.
type Client struct {
	cfg  Config
	http *http.Client
}

var (
	_ payment.Gateway  = (*Client)(nil)
	_ payment.Refunder = (*Client)(nil)
)

// New creates a Client.
func New(cfg Config, client *http.Client) *Client {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: client}
}

func (c *Client) Name() string { return Name }

func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(int64(req.Amount))
	e.FieldStart("currency")
	e.Str(strings.ToLower(string(req.Currency)))
	e.FieldStart("reference")
	e.Str(req.PaymentID)
	e.FieldStart("return_url")
	e.Str(req.ReturnURL)
	e.FieldStart("description")
	e.Str(req.Description)
	e.FieldStart("metadata")
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(req.OrderID)
	e.FieldStart("order_number")
	e.Str(req.OrderNumber)
	e.ObjEnd()
	e.ObjEnd()

	body, err := c.do(ctx, http.MethodPost, "/v1/sessions", e.Bytes(), "")
	if err != nil {
		return nil, errors.Wrap(err, "create session")
	}
	s, err := decodeSession(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	if s.ID == "" || s.URL == "" {
		return nil, errors.Wrap(ErrRejected, "session without id or url")
	}
	return &payment.Session{Authority: s.ID, ApprovalURL: s.URL}, nil
}

// Verify reads the session status. Only succeeded counts as paid; sessions
// that are not final yet are reported as pending.
func (c *Client) Verify(ctx context.Context, authority string, _ money.Amount) (*payment.Verification, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/sessions/"+url.PathEscape(authority), nil, "")
	if err != nil {
		return nil, errors.Wrap(err, "get session")
	}
	s, err := decodeSession(body)
	if err != nil {
		return nil, errors.Wrap(err, "decode session")
	}
	v := &payment.Verification{Message: s.Status}
	if s.FailureMessage != "" {
		v.Message = s.FailureMessage
	}
	switch s.Status {
	case statusSucceeded:
		v.Success = true
		v.RefID = s.TransactionID
	case statusFailed, statusExpired, statusCanceled:
	default:
		v.Pending = true
	}
	return v, nil
}

// Refund returns money for a captured payment. The idempotency key makes
// retries safe on the provider side.
func (c *Client) Refund(ctx context.Context, req payment.RefundRequest) (string, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("session_id")
	e.Str(req.Authority)
	if req.TransactionRef != "" {
		e.FieldStart("transaction_id")
		e.Str(req.TransactionRef)
	}
	e.FieldStart("amount")
	e.Int64(int64(req.Amount))
	e.FieldStart("currency")
	e.Str(strings.ToLower(string(req.Currency)))
	if req.Reason != "" {
		e.FieldStart("reason")
		e.Str(req.Reason)
	}
	e.ObjEnd()

	body, err := c.do(ctx, http.MethodPost, "/v1/refunds", e.Bytes(), req.IdempotencyKey)
	if err != nil {
		return "", errors.Wrap(err, "create refund")
	}
	s, err := decodeSession(body)
	if err != nil {
		return "", errors.Wrap(err, "decode refund")
	}
	if s.Status == statusFailed {
		return "", errors.Wrapf(ErrRejected, "refund %s failed: %s", s.ID, s.FailureMessage)
	}
	return s.ID, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if idempotencyKey != "" {
		h.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := gateway.Do(ctx, c.http, gateway.Request{
		Method: method,
		URL:    c.cfg.BaseURL + path,
		Body:   body,
		Header: h,
	})
	if err != nil {
		return nil, err
	}
	if resp.Status >= http.StatusBadRequest {
		msg := decodeErrorMessage(resp.Body)
		if resp.Status == http.StatusUnauthorized || resp.Status == http.StatusForbidden ||
			resp.Status == http.StatusTooManyRequests {
			return nil, errors.Wrapf(payment.ErrGatewayUnavailable, "status %d: %s", resp.Status, msg)
		}
		return nil, errors.Wrapf(ErrRejected, "status %d: %s", resp.Status, msg)
	}
	return resp.Body, nil
}
