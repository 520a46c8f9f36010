// Package shipping quotes shipping fees.
package shipping

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/apperr"
	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/region"
)

// Method is a delivery speed.
type Method string

const (
	MethodStandard Method = "standard"
	MethodExpress  Method = "express"
)

// ErrUnknownMethod is returned by ParseMethod.
var ErrUnknownMethod = apperr.New(apperr.Validation, "unknown shipping method")

// ParseMethod parses a method name; the empty string means standard.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case "", MethodStandard:
		return MethodStandard, nil
	case MethodExpress:
		return MethodExpress, nil
	default:
		return "", errors.Wrapf(ErrUnknownMethod, "%q", s)
	}
}

// Override adjusts the base fee for a region: fee*Multiplier + Extra.
// A zero multiplier means 1.
type Override struct {
	region.Selector `yaml:",inline"`
	Multiplier      decimal.Decimal `yaml:"multiplier"`
	Extra           money.Amount    `yaml:"extra"`
}

// Config holds shipping rates.
type Config struct {
	BaseFee money.Amount `yaml:"base_fee"`
	// FreeThreshold waives the base fee for subtotals at or above it. Zero disables it.
	FreeThreshold    money.Amount `yaml:"free_threshold"`
	ExpressSurcharge money.Amount `yaml:"express_surcharge"`
	StandardETA      string       `yaml:"standard_eta"`
	ExpressETA       string       `yaml:"express_eta"`
	Overrides        []Override   `yaml:"overrides"`
}

// Options select the method and coupon waiver.
type Options struct {
	Method         Method
	CouponFreeShip bool
}

// Quote is a shipping fee. Free reports that the base fee was waived.
type Quote struct {
	Method Method
	Amount money.Amount
	ETA    string
	Free   bool
}

// Resolver quotes shipping from a Config.
type Resolver struct {
	cfg Config
}

// NewResolver creates a Resolver.
func NewResolver(cfg Config) *Resolver {
	return &Resolver{cfg: cfg}
}

// Quote computes the fee for a subtotal. The express surcharge applies even
// when the base fee is waived.
func (r *Resolver) Quote(subtotal money.Amount, addr *region.Address, opts Options) Quote {
	q := Quote{Method: opts.Method, ETA: r.cfg.StandardETA}
	if q.Method != MethodExpress {
		q.Method = MethodStandard
	}

	thresholdMet := r.cfg.FreeThreshold > 0 && subtotal >= r.cfg.FreeThreshold
	if opts.CouponFreeShip || thresholdMet {
		q.Free = true
	} else {
		q.Amount = r.base(addr)
	}

	if q.Method == MethodExpress {
		q.Amount += r.cfg.ExpressSurcharge
		q.ETA = r.cfg.ExpressETA
	}
	return q
}

func (r *Resolver) base(addr *region.Address) money.Amount {
	fee := r.cfg.BaseFee
	i := region.Best(addr, r.cfg.Overrides, func(o Override) region.Selector { return o.Selector })
	if i < 0 {
		return money.NonNegative(fee)
	}
	o := r.cfg.Overrides[i]
	if !o.Multiplier.IsZero() {
		fee = money.Floor(fee.Decimal().Mul(o.Multiplier))
	}
	return money.NonNegative(fee + o.Extra)
}
