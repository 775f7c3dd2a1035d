// Package money converts between the wire representation of prices (IEEE-754
// float64 dollars, per spec.md §6) and the engine's internal fixed-point cents
// (domain.Price). Every boundary crossing goes through here so the float
// drift the spec explicitly forbids never leaks past the wire decoder.
package money

import (
	"github.com/shopspring/decimal"

	"equityexchange/domain"
)

var hundred = decimal.NewFromInt(100)

// FromDollars rounds dollars to the nearest cent, half-up, and returns it as
// a domain.Price. half-up matches spec.md §3's rounding rule exactly (0.5
// always rounds away from zero toward the next cent).
func FromDollars(dollars float64) domain.Price {
	d := decimal.NewFromFloat(dollars).Mul(hundred).RoundHalfUp()
	return domain.Price(d.IntPart())
}

// ToDollars renders a domain.Price as dollars for the wire and for display.
func ToDollars(p domain.Price) float64 {
	d := decimal.NewFromInt(int64(p)).Div(hundred)
	f, _ := d.Float64()
	return f
}
