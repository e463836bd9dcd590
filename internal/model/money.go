package model

import (
	"github.com/shopspring/decimal"
)

// ToMinorUnits converts a major-unit amount to cents, rounding half away from zero.
// Examples: 30.80 → 3080, 0.005 → 1
func ToMinorUnits(d decimal.Decimal) int64 {
	return d.Shift(2).Round(0).IntPart()
}

// FormatAmount renders an amount with exactly two decimals for display.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
