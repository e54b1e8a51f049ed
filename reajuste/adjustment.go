package reajuste

import (
	"github.com/shopspring/decimal"
	"github.com/terravista/lot-sales/generic"
)

// =============================================================================
// ADJUSTMENT - The arithmetic of a single readjustment
// =============================================================================

// Adjustment is the result of ComputeAdjustment.
type Adjustment struct {
	TotalPercent decimal.Decimal
	Adjusted     decimal.Decimal
}

// ComputeAdjustment raises original by indexValue + additionalPercent
// percentage points, rounding the result to cents.
func ComputeAdjustment(original, indexValue, additionalPercent decimal.Decimal) Adjustment {
	total := indexValue.Add(additionalPercent)
	return Adjustment{
		TotalPercent: total,
		Adjusted:     generic.RoundMoney(original.Mul(generic.PercentFactor(total))),
	}
}

// BaseInstallmentValue is the financed amount split evenly:
// (TotalValue - EntryValue) / TotalInstallments, rounded to cents.
func BaseInstallmentValue(c Contract) decimal.Decimal {
	if c.TotalInstallments <= 0 {
		return decimal.Zero
	}
	financed := c.TotalValue.Sub(c.EntryValue)
	return generic.RoundMoney(financed.Div(decimal.NewFromInt(int64(c.TotalInstallments))))
}

// InstallmentValue is the installment value in force just before reference
// installment next: the adjusted value of the latest applied record for an
// earlier installment, or the base value when there is none. Readjustments
// compound.
func InstallmentValue(c Contract, history []Record, next int) decimal.Decimal {
	var prior *Record
	for i := range history {
		r := &history[i]
		if r.Status != StatusApplied || r.ContractID != c.ID || r.ReferenceInstallment >= next {
			continue
		}
		if prior == nil || r.ReferenceInstallment > prior.ReferenceInstallment {
			prior = r
		}
	}
	if prior != nil {
		return prior.AdjustedValue
	}
	return BaseInstallmentValue(c)
}

// Plan computes the next readjustment of c under p with the given index
// value and the contract's applied history. ok is false when the contract is
// exhausted; next is returned either way so callers can report it.
func Plan(c Contract, history []Record, p Parameters, indexValue decimal.Decimal) (rec Record, next int, ok bool) {
	next = NextReferenceInstallment(c.PaidInstallments, p.InstallmentInterval)
	if IsExhausted(next, c.TotalInstallments) {
		return Record{}, next, false
	}

	original := InstallmentValue(c, history, next)
	adj := ComputeAdjustment(original, indexValue, p.AdditionalPercent)
	return Record{
		ContractID:           c.ID,
		ReferenceInstallment: next,
		OriginalValue:        original,
		AdjustedValue:        adj.Adjusted,
		IndexName:            p.IndexName,
		IndexValue:           indexValue,
		AdditionalPercent:    p.AdditionalPercent,
		TotalPercent:         adj.TotalPercent,
		ReferenceDate:        ReferenceDate(c.StartDate, next),
		Status:               StatusPending,
	}, next, true
}
