// Package zarinpal is a client for the Zarinpal v4 payment gateway.
package zarinpal

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/payment"
	"github.com/xenking/storefront-checkout/internal/gateway"
)

// Name is the gateway name used in routes and payment records.
const Name = "zarinpal"

const (
	requestPath  = "/pg/v4/payment/request.json"
	verifyPath   = "/pg/v4/payment/verify.json"
	startPayPath = "/pg/StartPay/"

	codeSuccess         = 100
	codeAlreadyVerified = 101
)

// ErrRejected is returned when the gateway refuses a request.
var ErrRejected = apperr.New(apperr.Validation, "zarinpal rejected the request")

// Config configures the client.
type Config struct {
	MerchantID string
	// BaseURL defaults to https://payment.zarinpal.com.
	BaseURL string
}

// Client implements payment.Gateway.
type Client struct {
	cfg  Config
	http *http.Client
}

var _ payment.Gateway = (*Client)(nil)

// New creates a Client.
func New(cfg Config, client *http.Client) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://payment.zarinpal.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{cfg: cfg, http: client}
}

func (c *Client) Name() string { return Name }

// CreateSession requests a payment authority. The order ID travels in the
// metadata so unmatched returns can still be traced.
func (c *Client) CreateSession(ctx context.Context, req payment.SessionRequest) (*payment.Session, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("merchant_id")
	e.Str(c.cfg.MerchantID)
	e.FieldStart("amount")
	e.Int64(int64(req.Amount))
	e.FieldStart("currency")
	e.Str(currency(req.Currency))
	e.FieldStart("callback_url")
	e.Str(req.ReturnURL)
	e.FieldStart("description")
	e.Str(req.Description)
	e.FieldStart("metadata")
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(req.OrderID)
	e.ObjEnd()
	e.ObjEnd()

	res, err := c.call(ctx, requestPath, e.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "request payment")
	}
	if res.Code != codeSuccess || res.Authority == "" {
		return nil, errors.Wrapf(ErrRejected, "request payment: code %d: %s", res.Code, res.Message)
	}
	return &payment.Session{
		Authority:   res.Authority,
		ApprovalURL: c.cfg.BaseURL + startPayPath + url.PathEscape(res.Authority),
	}, nil
}

// Verify confirms a payment. Codes 100 and 101 mean paid.
func (c *Client) Verify(ctx context.Context, authority string, amount money.Amount) (*payment.Verification, error) {
	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("merchant_id")
	e.Str(c.cfg.MerchantID)
	e.FieldStart("amount")
	e.Int64(int64(amount))
	e.FieldStart("authority")
	e.Str(authority)
	e.ObjEnd()

	res, err := c.call(ctx, verifyPath, e.Bytes())
	if err != nil {
		return nil, errors.Wrap(err, "verify payment")
	}
	v := &payment.Verification{Message: res.Message}
	if res.Code == codeSuccess || res.Code == codeAlreadyVerified {
		v.Success = true
		v.RefID = res.RefID
	}
	if v.Message == "" {
		v.Message = "code " + strconv.Itoa(res.Code)
	}
	return v, nil
}

func (c *Client) call(ctx context.Context, path string, body []byte) (*result, error) {
	resp, err := gateway.Do(ctx, c.http, gateway.Request{
		Method: http.MethodPost,
		URL:    c.cfg.BaseURL + path,
		Body:   body,
	})
	if err != nil {
		return nil, err
	}
	res, err := decodeResult(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "decode response (status %d)", resp.Status)
	}
	return res, nil
}

// currency maps to the unit names the gateway accepts.
func currency(c money.Currency) string {
	if c == "IRT" {
		return "IRT"
	}
	return "IRR"
}

// ParseReturn translates the buyer's return redirect. Returns are not
// authenticated, so a successful return still needs verification.
func ParseReturn(q url.Values) (payment.Callback, error) {
	authority := q.Get("Authority")
	if authority == "" {
		return payment.Callback{}, errors.Wrap(payment.ErrBadPayload, "missing Authority")
	}
	cb := payment.Callback{
		Gateway:   Name,
		Authority: authority,
		OrderID:   q.Get("order_id"),
	}
	switch status := q.Get("Status"); status {
	case "OK":
		cb.Outcome = payment.OutcomeNeedsVerification
	case "NOK":
		cb.Outcome = payment.OutcomeFailed
		cb.Reason = "cancelled by buyer"
	default:
		return payment.Callback{}, errors.Wrapf(payment.ErrBadPayload, "unknown Status %q", status)
	}
	return cb, nil
}
