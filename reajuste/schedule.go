package reajuste

import "github.com/terravista/lot-sales/generic"

// =============================================================================
// SCHEDULE - Which installment is readjusted next, and when it falls due
// =============================================================================
//
// Readjustment boundaries are fixed multiples of the interval counted from the
// contract start: with interval 12 they are installments 12, 24, 36, ...
// Applying a readjustment does not move the boundaries.
//
// These functions are pure. The engine and every preview path share them so
// what is shown is exactly what gets applied.

// NextReferenceInstallment is the smallest multiple of interval strictly
// greater than paid. interval must be >= 1.
func NextReferenceInstallment(paid, interval int) int {
	if paid < 0 {
		paid = 0
	}
	return ((paid + interval) / interval) * interval
}

// IsExhausted reports whether the contract has no installment left to readjust.
func IsExhausted(next, total int) bool {
	return next > total
}

// ReferenceDate is the due date of installment number next for a contract
// starting at start: installment 1 is due on the start date, each following
// one a calendar month later.
func ReferenceDate(start generic.TimePoint, next int) generic.TimePoint {
	return start.AddMonths(next - 1)
}
