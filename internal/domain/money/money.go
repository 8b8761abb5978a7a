// Package money holds the numeric policy shared by promotions and discount
// codes: amounts are decimals, discounts are rounded half-up to whole
// currency units and never exceed the amount they are taken from.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// Round rounds d half-up to whole currency units. Only non-negative amounts
// reach this function, where half-away-from-zero equals half-up.
func Round(d decimal.Decimal) decimal.Decimal {
	return d.Round(0)
}

// Percent returns pct percent of total, rounded to whole units.
func Percent(total, pct decimal.Decimal) decimal.Decimal {
	return Round(total.Mul(pct).Div(hundred))
}

// CapAt returns amount limited to ceiling.
func CapAt(amount, ceiling decimal.Decimal) decimal.Decimal {
	return decimal.Min(amount, ceiling)
}

// FloorAtZero clamps negative values to zero.
func FloorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

// ValidPercentage reports whether v lies in [0, 100].
func ValidPercentage(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThanOrEqual(hundred)
}
