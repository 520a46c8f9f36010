package card

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/payment"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>".
const SignatureHeader = "Card-Signature"

// SignatureTolerance bounds the age of a signed webhook.
const SignatureTolerance = 5 * time.Minute

// Webhook event types.
const (
	EventPaymentSucceeded = "payment.succeeded"
	EventPaymentFailed    = "payment.failed"
)

// Sign returns the signature header value for body at t.
func Sign(secret string, t time.Time, body []byte) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac(secret, ts, body))
}

func mac(secret, ts string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	m.Write([]byte(ts))
	m.Write([]byte("."))
	m.Write(body)
	return m.Sum(nil)
}

// VerifySignature checks a signature header against body. Any v1 entry may
// match, which allows secret rotation.
func VerifySignature(secret, header string, body []byte, now time.Time) error {
	var (
		ts   string
		sigs [][]byte
	)
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			if sig, err := hex.DecodeString(v); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == "" || len(sigs) == 0 {
		return errors.Wrap(payment.ErrBadSignature, "malformed signature header")
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return errors.Wrap(payment.ErrBadSignature, "malformed timestamp")
	}
	if age := now.Sub(time.Unix(unix, 0)); age > SignatureTolerance || age < -SignatureTolerance {
		return errors.Wrapf(payment.ErrBadSignature, "timestamp outside tolerance (%s)", age.Round(time.Second))
	}

	want := mac(secret, ts, body)
	for _, sig := range sigs {
		if hmac.Equal(sig, want) {
			return nil
		}
	}
	return errors.Wrap(payment.ErrBadSignature, "no matching signature")
}

// ParseWebhook authenticates and translates a webhook delivery. Unknown
// event types return ok=false and should be acknowledged.
func (c *Client) ParseWebhook(h http.Header, body []byte, now time.Time) (cb payment.Callback, ok bool, err error) {
	if err := VerifySignature(c.cfg.WebhookSecret, h.Get(SignatureHeader), body, now); err != nil {
		return payment.Callback{}, false, err
	}
	ev, err := decodeWebhook(body)
	if err != nil {
		return payment.Callback{}, false, errors.Wrapf(payment.ErrBadPayload, "decode webhook: %s", err)
	}
	if ev.ID == "" || ev.SessionID == "" {
		return payment.Callback{}, false, errors.Wrap(payment.ErrBadPayload, "webhook without id or session")
	}

	cb = payment.Callback{
		Gateway:        Name,
		EventID:        ev.ID,
		Authority:      ev.SessionID,
		TransactionRef: ev.TransactionID,
		OrderID:        ev.OrderID,
	}
	switch ev.Type {
	case EventPaymentSucceeded:
		cb.Outcome = payment.OutcomeSucceeded
	case EventPaymentFailed:
		cb.Outcome = payment.OutcomeFailed
		cb.Reason = ev.FailureReason
		if cb.Reason == "" {
			cb.Reason = "declined by provider"
		}
	default:
		return cb, false, nil
	}
	return cb, true, nil
}

// ParseReturn translates the buyer's return redirect
// (?session_id=...&order_id=...). It always needs verification.
func ParseReturn(q url.Values) (payment.Callback, error) {
	sessionID := q.Get("session_id")
	if sessionID == "" {
		return payment.Callback{}, errors.Wrap(payment.ErrBadPayload, "missing session_id")
	}
	return payment.Callback{
		Gateway:   Name,
		Authority: sessionID,
		OrderID:   q.Get("order_id"),
		Outcome:   payment.OutcomeNeedsVerification,
	}, nil
}
