package payment

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
)

// SessionRequest asks a gateway to start a payment.
type SessionRequest struct {
	PaymentID   string
	OrderID     string
	OrderNumber string
	Amount      money.Amount
	Currency    money.Currency
	ReturnURL   string
	Description string
}

// Session is a started gateway payment. Authority correlates callbacks.
type Session struct {
	Authority   string
	ApprovalURL string
}

// Verification is the gateway's confirmation of a payment. Pending means
// the gateway has no final result yet and nothing should change.
type Verification struct {
	Success bool
	Pending bool
	RefID   string
	Message string
}

// RefundRequest asks a gateway to return money.
type RefundRequest struct {
	PaymentID      string
	Authority      string
	TransactionRef string
	Amount         money.Amount
	Currency       money.Currency
	Reason         string
	IdempotencyKey string
}

// Gateway is an external payment provider.
type Gateway interface {
	Name() string
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	Verify(ctx context.Context, authority string, amount money.Amount) (*Verification, error)
}

// Refunder is implemented by gateways that support refunds.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (refundID string, err error)
}

// Registry holds gateways by name.
type Registry struct {
	gateways map[string]Gateway
}

// NewRegistry creates a Registry.
func NewRegistry(gateways ...Gateway) *Registry {
	r := &Registry{gateways: make(map[string]Gateway, len(gateways))}
	for _, g := range gateways {
		r.gateways[g.Name()] = g
	}
	return r
}

// Get returns the named gateway or ErrUnknownGateway.
func (r *Registry) Get(name string) (Gateway, error) {
	g, ok := r.gateways[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownGateway, "%q", name)
	}
	return g, nil
}

// Names lists registered gateways.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.gateways))
	for name := range r.gateways {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Outcome is what a callback claims happened.
type Outcome uint8

const (
	// OutcomeSucceeded is an authenticated success notification.
	OutcomeSucceeded Outcome = iota + 1
	// OutcomeFailed is a failure or user cancellation.
	OutcomeFailed
	// OutcomeNeedsVerification is an unauthenticated success claim, such as
	// a browser return, that must be verified with the gateway.
	OutcomeNeedsVerification
	// OutcomePending means the gateway has no final result yet.
	OutcomePending
)

// Callback is a gateway notification translated to a common shape.
type Callback struct {
	Gateway        string
	EventID        string
	Authority      string
	TransactionRef string
	OrderID        string
	Outcome        Outcome
	Reason         string
}

// gatewayError makes sure err carries a reason code.
func gatewayError(op string, err error) error {
	if apperr.CodeOf(err) == apperr.Internal {
		return fmt.Errorf("%s: %w: %w", op, ErrGatewayUnavailable, err)
	}
	return errors.Wrap(err, op)
}
