package order

import (
	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/apperr"
)

// Status is an order lifecycle state. The zero value is invalid.
type Status uint8

const (
	statusInvalid Status = iota
	StatusDraft
	StatusAwaitingPayment
	StatusPaid
	StatusProcessing
	StatusShipped
	StatusDelivered
	StatusCancelled
	StatusReturned
)

// Statuses lists every valid status.
var Statuses = []Status{
	StatusDraft,
	StatusAwaitingPayment,
	StatusPaid,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
	StatusReturned,
}

var statusNames = [...]string{
	statusInvalid:         "",
	StatusDraft:           "draft",
	StatusAwaitingPayment: "awaiting_payment",
	StatusPaid:            "paid",
	StatusProcessing:      "processing",
	StatusShipped:         "shipped",
	StatusDelivered:       "delivered",
	StatusCancelled:       "cancelled",
	StatusReturned:        "returned",
}

// ErrUnknownStatus is returned when parsing an unrecognized status name.
var ErrUnknownStatus = apperr.New(apperr.Validation, "unknown order status")

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return ""
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s > statusInvalid && int(s) < len(statusNames)
}

// ParseStatus parses an exact status name.
func ParseStatus(name string) (Status, error) {
	for _, s := range Statuses {
		if statusNames[s] == name {
			return s, nil
		}
	}
	return statusInvalid, errors.Wrapf(ErrUnknownStatus, "%q", name)
}

func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, errors.Errorf("invalid order status %d", uint8(s))
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

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusDraft:
		return next == StatusAwaitingPayment || next == StatusCancelled
	case StatusAwaitingPayment:
		return next == StatusPaid || next == StatusCancelled
	case StatusPaid:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusShipped || next == StatusCancelled
	case StatusShipped:
		return next == StatusDelivered || next == StatusReturned
	case StatusDelivered:
		return next == StatusReturned
	default:
		return false
	}
}

// Next lists the statuses reachable from s in one step.
func (s Status) Next() []Status {
	var next []Status
	for _, to := range Statuses {
		if s.CanTransitionTo(to) {
			next = append(next, to)
		}
	}
	return next
}

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return len(s.Next()) == 0
}
