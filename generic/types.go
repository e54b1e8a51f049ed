/*
Package generic provides domain-agnostic building blocks for the lot-sales
readjustment engine.

PURPOSE:
  This package contains the money, date, and error primitives that the
  readjustment engine is built on. Nothing here knows about contracts or
  economic indices; the reajuste package layers that on top.

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: currency amounts as decimal.Decimal, rounded half-up to cents
  - Percent: percentage points as decimal.Decimal (5.5 means 5.5%)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal everywhere, never float64 for money
  2. Determinism: the same inputs always produce byte-identical outputs
  3. Rounding happens once, at the boundary where a value becomes money

USAGE:
  price := generic.MustParseDecimal("1000.00")
  adjusted := generic.RoundMoney(price.Mul(generic.PercentFactor(pct)))

SEE ALSO:
  - time.go: TimePoint and calendar month arithmetic
  - errors.go: error categories shared by every package
  - lock.go: keyed mutual exclusion
*/
package generic

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Currency amounts with fixed two-decimal precision
// =============================================================================

// MoneyPlaces is the number of decimal places kept for currency values.
const MoneyPlaces int32 = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds to cents, half away from zero. For the non-negative
// amounts this engine deals in that is the usual half-up rule.
func RoundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(MoneyPlaces)
}

// PercentFactor turns percentage points into a multiplier: 11.5 -> 1.115.
func PercentFactor(pct decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(1).Add(pct.Div(hundred))
}

// PercentOf returns part/whole expressed in percentage points, rounded to
// two places. A zero whole yields zero rather than a division panic.
func PercentOf(part, whole decimal.Decimal) decimal.Decimal {
	if whole.IsZero() {
		return decimal.Zero
	}
	return part.Div(whole).Mul(hundred).Round(MoneyPlaces)
}

// MustParseDecimal parses s, returning zero on malformed input.
// Intended for literals and fixtures, not user input.
func MustParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SumMoney adds values without intermediate rounding.
func SumMoney(values ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}
