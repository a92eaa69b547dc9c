package tax

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Midpoint rounding modes supported by the rounding policy.
const (
	MidpointHalfEven = "half_even"
	MidpointHalfUp   = "half_up"
)

// RoundingPolicy fixes how monetary decimals are rounded at the display
// boundary. Digits come from the currency's standard fraction digits;
// intermediate sums are never rounded.
type RoundingPolicy struct {
	Digits   int32
	Midpoint string
}

// PolicyForCurrency derives the rounding policy from the ISO currency code.
// Unknown codes fall back to two fraction digits.
func PolicyForCurrency(code string, midpoint string) RoundingPolicy {
	digits := int32(2)
	if unit, err := currency.ParseISO(strings.TrimSpace(code)); err == nil {
		scale, _ := currency.Standard.Rounding(unit)
		digits = int32(scale)
	}
	if midpoint != MidpointHalfUp {
		midpoint = MidpointHalfEven
	}
	return RoundingPolicy{Digits: digits, Midpoint: midpoint}
}

// Apply rounds the value according to the policy.
func (p RoundingPolicy) Apply(value decimal.Decimal) decimal.Decimal {
	if p.Midpoint == MidpointHalfUp {
		return value.Round(p.Digits)
	}
	return value.RoundBank(p.Digits)
}

// MinorUnits converts a boundary-rounded major amount into minor units.
func (p RoundingPolicy) MinorUnits(value decimal.Decimal) int64 {
	return p.Apply(value).Shift(p.Digits).IntPart()
}

// FromMinorUnits converts minor units into a major-unit decimal.
func (p RoundingPolicy) FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.NewFromInt(amount).Shift(-p.Digits)
}
