// Package money holds integer amounts in the smallest currency unit.
package money

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in the smallest currency unit (e.g. rials).
type Amount int64

// Currency is an ISO 4217 code.
type Currency string

// NormalizeCurrency upper-cases and trims a currency code.
func NormalizeCurrency(s string) Currency {
	return Currency(strings.ToUpper(strings.TrimSpace(s)))
}

var hundred = decimal.NewFromInt(100)

// Floor converts a decimal to an Amount rounding toward negative infinity.
func Floor(d decimal.Decimal) Amount {
	return Amount(d.Floor().IntPart())
}

// Decimal returns the amount as a decimal.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.NewFromInt(int64(a))
}

// Percent returns floor(a * rate / 100).
func (a Amount) Percent(rate decimal.Decimal) Amount {
	return Floor(a.Decimal().Mul(rate).Div(hundred))
}

// NonNegative clamps a to zero from below.
func NonNegative(a Amount) Amount {
	if a < 0 {
		return 0
	}
	return a
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Sum adds all amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}
