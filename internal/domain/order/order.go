package order

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/region"
	"github.com/xenking/storefront-checkout/internal/domain/shipping"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = apperr.New(apperr.NotFound, "order not found")
	// ErrBadStatus is the sentinel behind every *TransitionError.
	ErrBadStatus = apperr.New(apperr.BadStatus, "illegal order status transition")
	// ErrStatusConflict is returned when the stored status changed underneath
	// a conditional update.
	ErrStatusConflict = apperr.New(apperr.Conflict, "order status changed concurrently")
	// ErrInconsistentTotals is returned when totals do not add up.
	ErrInconsistentTotals = apperr.New(apperr.Validation, "order totals are inconsistent")
)

// TransitionError reports a transition the lifecycle does not allow.
type TransitionError struct {
	OrderID string
	From    Status
	To      Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("order %s: cannot move from %s to %s", e.OrderID, e.From, e.To)
}

func (e *TransitionError) Unwrap() error {
	return ErrBadStatus
}

// Order is a placed order with its item snapshots.
type Order struct {
	ID             string
	Number         string
	Status         Status
	UserID         *string
	Subtotal       money.Amount
	Discount       money.Amount
	ShippingFee    money.Amount
	Tax            money.Amount
	TaxIncluded    money.Amount
	Total          money.Amount
	Currency       money.Currency
	CouponCode     string
	ShippingMethod shipping.Method
	Address        region.Address
	CancelReason   string
	CancelledAt    *time.Time
	PlacedAt       time.Time
	UpdatedAt      time.Time
	Items          []Item
}

// CheckTotals verifies total = max(0, subtotal - discount + shipping + tax).
func (o *Order) CheckTotals() error {
	want := money.NonNegative(o.Subtotal - o.Discount + o.ShippingFee + o.Tax)
	if o.Total != want || o.Total < 0 || o.Discount > o.Subtotal {
		return fmt.Errorf("%w: total %d, expected %d", ErrInconsistentTotals, o.Total, want)
	}
	return nil
}

// Item is an immutable snapshot of a purchased line.
type Item struct {
	Position    int
	ProductID   *string
	VariantID   *string
	Title       string
	VariantName string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   money.Amount
	ImageURL    string
}

// StatusChange is a persisted status transition.
type StatusChange struct {
	From   Status
	To     Status
	Reason string
	At     time.Time
}

// Repository defines persistence operations for orders. Methods join the
// transaction carried by ctx, if any.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// GetForUpdate loads an order and locks it until the transaction ends.
	GetForUpdate(ctx context.Context, id string) (*Order, error)
	// UpdateStatus applies ch if the stored status still equals ch.From and
	// returns ErrStatusConflict otherwise.
	UpdateStatus(ctx context.Context, id string, ch StatusChange) error
	// NextNumber returns the next value of the order number sequence.
	NextNumber(ctx context.Context) (int64, error)
}

// Inventory releases stock held for an order.
type Inventory interface {
	ReleaseForOrder(ctx context.Context, orderID string) error
}

// Transactor runs fn in a transaction carried by the context passed to fn.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// FormatNumber renders the human-readable order number.
func FormatNumber(year int, seq int64) string {
	return fmt.Sprintf("SO-%04d-%06d", year, seq)
}
