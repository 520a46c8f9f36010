package coupon

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
)

// Type enumerates the supported coupon effects.
type Type string

const (
	// TypePercent discounts a percentage of the subtotal.
	TypePercent Type = "percent"
	// TypeAmount discounts a fixed amount capped at the subtotal.
	TypeAmount Type = "amount"
	// TypeFreeShipping waives the base shipping fee.
	TypeFreeShipping Type = "free_shipping"
)

// Known reports whether t is one of the supported types.
func (t Type) Known() bool {
	switch t {
	case TypePercent, TypeAmount, TypeFreeShipping:
		return true
	default:
		return false
	}
}

// Reason explains why a coupon was rejected.
type Reason string

const (
	ReasonNotFound              Reason = "NOT_FOUND"
	ReasonInactive              Reason = "INACTIVE"
	ReasonNotStarted            Reason = "NOT_STARTED"
	ReasonExpired               Reason = "EXPIRED"
	ReasonMinNotMet             Reason = "MIN_NOT_MET"
	ReasonInvalidDefinition     Reason = "INVALID_DEFINITION"
	ReasonUsageLimitReached     Reason = "USAGE_LIMIT_REACHED"
	ReasonUserUsageLimitReached Reason = "USER_USAGE_LIMIT_REACHED"
)

var (
	// ErrNotFound is returned when no coupon has the requested code.
	ErrNotFound = apperr.New(apperr.NotFound, "coupon not found")
	// ErrRejected is the sentinel behind every *RejectedError.
	ErrRejected = apperr.New(apperr.Validation, "coupon rejected")
	// ErrInvalidDefinition is returned when a coupon definition cannot be stored.
	ErrInvalidDefinition = apperr.New(apperr.Validation, "invalid coupon definition")
)

// RejectedError reports a coupon that cannot be applied to the order.
type RejectedError struct {
	Code   string
	Reason Reason
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("coupon %s rejected: %s", e.Code, e.Reason)
}

func (e *RejectedError) Unwrap() error {
	return ErrRejected
}

// Coupon is a discount definition. PercentValue is used by TypePercent,
// AmountValue by TypeAmount.
type Coupon struct {
	ID             string
	Code           string
	Type           Type
	PercentValue   decimal.Decimal
	AmountValue    money.Amount
	MinSubtotal    money.Amount
	MaxUses        *int64
	MaxUsesPerUser *int64
	StartsAt       *time.Time
	EndsAt         *time.Time
	IsActive       bool
	Description    string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

var hundred = decimal.NewFromInt(100)

// definitionValid reports whether the value matches the coupon's type.
// Unknown types have no value constraints.
func (c *Coupon) definitionValid() bool {
	switch c.Type {
	case TypePercent:
		return c.PercentValue.IsPositive() && c.PercentValue.LessThanOrEqual(hundred)
	case TypeAmount:
		return c.AmountValue > 0
	default:
		return true
	}
}

// Validate checks a definition before it is stored. Unlike evaluation,
// unknown types are rejected here.
func (c *Coupon) Validate() error {
	if NormalizeCode(c.Code) == "" {
		return fmt.Errorf("%w: empty code", ErrInvalidDefinition)
	}
	if !c.Type.Known() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidDefinition, c.Type)
	}
	if !c.definitionValid() {
		return fmt.Errorf("%w: value out of range for %s", ErrInvalidDefinition, c.Type)
	}
	if c.MinSubtotal < 0 {
		return fmt.Errorf("%w: negative min subtotal", ErrInvalidDefinition)
	}
	if c.StartsAt != nil && c.EndsAt != nil && c.EndsAt.Before(*c.StartsAt) {
		return fmt.Errorf("%w: window ends before it starts", ErrInvalidDefinition)
	}
	return nil
}

// Redemption records that a coupon was used by a paid order.
type Redemption struct {
	ID         string
	CouponID   string
	OrderID    string
	UserID     *string
	RedeemedAt time.Time
}

// Usage holds redemption counters used for limit checks.
type Usage struct {
	Global int64
	User   int64
}

// NormalizeCode upper-cases a code and strips all whitespace.
func NormalizeCode(code string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, code)
}

// Repository provides coupon lookup and redemption bookkeeping.
type Repository interface {
	// FindByCode returns ErrNotFound when no coupon has the normalized code.
	FindByCode(ctx context.Context, code string) (*Coupon, error)
	// Usage counts redemptions of a coupon, globally and for userID when set.
	Usage(ctx context.Context, couponID string, userID *string) (Usage, error)
	// InsertRedemption stores r unless a redemption for the same coupon and
	// order exists. It reports whether a row was inserted.
	InsertRedemption(ctx context.Context, r Redemption) (bool, error)
	// Upsert creates or replaces a coupon by code.
	Upsert(ctx context.Context, c *Coupon) error
}
