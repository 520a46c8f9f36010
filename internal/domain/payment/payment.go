// Package payment reconciles gateway callbacks with local payment records and
// drives the order lifecycle on payment outcomes.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
)

// Method is how an order is paid.
type Method string

const (
	MethodGateway Method = "gateway"
	MethodCOD     Method = "cod"
)

// CODGateway is the gateway name stored on cash-on-delivery payments.
const CODGateway = "cod"

// ParseMethod parses a payment method name.
func ParseMethod(s string) (Method, error) {
	switch m := Method(s); m {
	case MethodGateway, MethodCOD:
		return m, nil
	default:
		return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
}

// Status is a payment state. The zero value is invalid.
type Status uint8

const (
	statusInvalid Status = iota
	StatusPending
	StatusPaid
	StatusFailed
	StatusRefunded
)

var statusNames = [...]string{
	statusInvalid:  "",
	StatusPending:  "pending",
	StatusPaid:     "paid",
	StatusFailed:   "failed",
	StatusRefunded: "refunded",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return ""
}

// ParseStatus parses an exact status name.
func ParseStatus(name string) (Status, error) {
	for s := StatusPending; s <= StatusRefunded; s++ {
		if statusNames[s] == name {
			return s, nil
		}
	}
	return statusInvalid, errors.Errorf("unknown payment status %q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	if s == statusInvalid || int(s) >= len(statusNames) {
		return nil, errors.Errorf("invalid payment status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	v, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

var (
	// ErrNotFound is returned when a payment does not exist or does not
	// belong to the given order.
	ErrNotFound = apperr.New(apperr.NotFound, "payment not found")
	// ErrBadState is returned when a payment cannot undergo the operation.
	ErrBadState = apperr.New(apperr.BadState, "payment is not in a valid state for this operation")
	// ErrNotPayable is returned when starting a payment for an order that is
	// past awaiting payment.
	ErrNotPayable = apperr.New(apperr.BadStatus, "order does not accept payments")
	// ErrGatewayUnavailable is returned when a gateway call fails.
	ErrGatewayUnavailable = apperr.New(apperr.GatewayUnavailable, "payment gateway unavailable")
	// ErrUnknownGateway is returned for a gateway name with no registered client.
	ErrUnknownGateway = apperr.New(apperr.Validation, "unknown payment gateway")
	// ErrUnknownMethod is returned by ParseMethod.
	ErrUnknownMethod = apperr.New(apperr.Validation, "unknown payment method")
	// ErrInvalidRefundAmount is returned for a refund outside (0, amount].
	ErrInvalidRefundAmount = apperr.New(apperr.Validation, "invalid refund amount")
	// ErrBadSignature is returned for a webhook that fails authentication.
	ErrBadSignature = apperr.New(apperr.BadSignature, "invalid webhook signature")
	// ErrBadPayload is returned for a callback that cannot be parsed.
	ErrBadPayload = apperr.New(apperr.BadPayload, "malformed callback payload")
)

// Payment is one attempt to pay an order.
type Payment struct {
	ID             string
	OrderID        string
	Method         Method
	Gateway        string
	Status         Status
	Amount         money.Amount
	Currency       money.Currency
	Authority      string
	TransactionRef string
	FailureReason  string
	RefundedAmount money.Amount
	RefundReason   string
	RefundRef      string
	PaidAt         *time.Time
	RefundedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository defines persistence operations for payments. Methods join the
// transaction carried by ctx, if any.
type Repository interface {
	Create(ctx context.Context, p *Payment) error
	Get(ctx context.Context, id string) (*Payment, error)
	// GetForUpdate loads a payment and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Payment, error)
	FindByAuthority(ctx context.Context, gateway, authority string) (*Payment, error)
	// LatestPending returns the newest pending payment of the order made
	// with method, or ErrNotFound.
	LatestPending(ctx context.Context, orderID string, method Method) (*Payment, error)
	ListByOrder(ctx context.Context, orderID string) ([]Payment, error)
	Update(ctx context.Context, p *Payment) error
}
