// Package tax resolves regional tax rates and splits amounts into net and tax.
package tax

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/storefront-checkout/internal/domain/money"
	"github.com/xenking/storefront-checkout/internal/domain/region"
)

// Rule overrides the default rate for a region.
type Rule struct {
	region.Selector `yaml:",inline"`
	Rate            decimal.Decimal `yaml:"rate"`
}

// Config holds the rate table. Rates are percentages.
type Config struct {
	DefaultRate decimal.Decimal `yaml:"default_rate"`
	// Inclusive means catalog prices already contain tax.
	Inclusive bool `yaml:"inclusive"`
	// ExemptShipping excludes the shipping fee from the taxable base.
	ExemptShipping bool   `yaml:"exempt_shipping"`
	Regions        []Rule `yaml:"regions"`
}

// Context carries per-order inputs.
type Context struct {
	Address   *region.Address
	Inclusive bool
	Exempt    bool
}

// Result is the tax breakdown of an order. In inclusive mode the amounts are
// contained in the inputs; in exclusive mode they are added on top.
type Result struct {
	LineTaxes   []money.Amount
	ShippingTax money.Amount
	Total       money.Amount
	Rate        decimal.Decimal
	Inclusive   bool
}

// Calculator computes taxes from a Config.
type Calculator struct {
	cfg Config
}

// NewCalculator creates a Calculator.
func NewCalculator(cfg Config) *Calculator {
	return &Calculator{cfg: cfg}
}

// Inclusive reports the configured pricing mode.
func (c *Calculator) Inclusive() bool {
	return c.cfg.Inclusive
}

// ResolveRate returns the rate of the most specific region rule matching
// addr, or the default rate.
func (c *Calculator) ResolveRate(addr *region.Address) decimal.Decimal {
	if i := region.Best(addr, c.cfg.Regions, func(r Rule) region.Selector { return r.Selector }); i >= 0 {
		return c.cfg.Regions[i].Rate
	}
	return c.cfg.DefaultRate
}

// ComputeForLines taxes each line base and the shipping amount.
func (c *Calculator) ComputeForLines(lines []money.Amount, shipping money.Amount, tc Context) Result {
	res := Result{
		LineTaxes: make([]money.Amount, len(lines)),
		Inclusive: tc.Inclusive,
		Rate:      decimal.Zero,
	}
	if tc.Exempt {
		return res
	}

	rate := c.ResolveRate(tc.Address)
	if !rate.IsPositive() {
		return res
	}
	res.Rate = rate

	taxOf := func(base money.Amount) money.Amount {
		if tc.Inclusive {
			_, t := SplitInclusive(base, rate)
			return t
		}
		return OnExclusive(base, rate)
	}

	for i, base := range lines {
		res.LineTaxes[i] = taxOf(base)
		res.Total += res.LineTaxes[i]
	}
	if !c.cfg.ExemptShipping {
		res.ShippingTax = taxOf(shipping)
		res.Total += res.ShippingTax
	}
	return res
}

var hundred = decimal.NewFromInt(100)

// SplitInclusive splits a gross amount into net = floor(gross/(1+rate/100))
// and tax = gross - net.
func SplitInclusive(gross money.Amount, rate decimal.Decimal) (net, tax money.Amount) {
	if gross <= 0 {
		return 0, 0
	}
	divisor := decimal.NewFromInt(1).Add(rate.Div(hundred))
	net = money.Floor(gross.Decimal().Div(divisor))
	return net, gross - net
}

// OnExclusive returns floor(base * rate / 100).
func OnExclusive(base money.Amount, rate decimal.Decimal) money.Amount {
	if base <= 0 {
		return 0
	}
	return money.NonNegative(base.Percent(rate))
}
