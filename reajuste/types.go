/*
Package reajuste implements the contract readjustment engine for lot sales.

PURPOSE:
  Installment contracts for land lots are readjusted periodically: every
  InstallmentInterval installments, the value of the remaining installments
  is raised by an economic index plus a fixed additional percent. This
  package decides WHEN the next readjustment falls due, computes HOW MUCH it
  is, previews it without side effects, commits it exactly once, and reports
  on what has been applied.

KEY CONCEPTS IN THIS FILE (types.go):
  - Parameters: the single active readjustment configuration
  - IndexSnapshot: economic index values effective from a date
  - Contract: the sale contract as read from the contracts collaborator
  - Record: one readjustment, either a preview or an applied history entry

COMPONENTS:
  ParameterService  parameters.go  get-or-create-default / validated update
  IndexRegistry     indices.go     append-only index series, latest lookup
  schedule.go                      which installment is next, and when
  adjustment.go                    how much the adjusted value is
  Engine            engine.go      forecast / simulate / apply
  Reporter          history.go     per-contract history and portfolio report

INVARIANTS:
  - ReferenceInstallment is the smallest multiple of the interval strictly
    greater than PaidInstallments.
  - TotalPercent = IndexValue + AdditionalPercent.
  - AdjustedValue = round(OriginalValue x (1 + TotalPercent/100), 2).
  - A contract whose next reference installment exceeds TotalInstallments
    is exhausted.
  - At most one applied Record per (ContractID, ReferenceInstallment).
    Applied records are never updated or deleted.

SEE ALSO:
  - store.go: repository interfaces implemented by store/memory and store/sqldb
  - errors.go: domain errors
*/
package reajuste

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/terravista/lot-sales/generic"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ContractID string
type RecordID string

// =============================================================================
// ECONOMIC INDICES
// =============================================================================

// IndexName identifies an economic index. The set is closed.
type IndexName string

const (
	IndexIGPM  IndexName = "IGPM"  // primary index, the default
	IndexIPCA  IndexName = "IPCA"
	IndexINPC  IndexName = "INPC"
	IndexINCC  IndexName = "INCC"
	IndexIGPDI IndexName = "IGPDI"
)

// KnownIndices lists the accepted index identifiers in display order.
func KnownIndices() []IndexName {
	return []IndexName{IndexIGPM, IndexIPCA, IndexINPC, IndexINCC, IndexIGPDI}
}

// Valid reports whether n belongs to the closed set.
func (n IndexName) Valid() bool {
	for _, k := range KnownIndices() {
		if n == k {
			return true
		}
	}
	return false
}

// IndexSnapshot is a set of index values effective from EffectiveDate.
// Snapshots form an append-only series; the latest is the one with the
// greatest EffectiveDate.
type IndexSnapshot struct {
	ID            string
	Values        map[IndexName]decimal.Decimal
	EffectiveDate generic.TimePoint
	Source        string
	RecordedAt    time.Time
}

// Value returns the value for name and whether the snapshot carries it.
func (s IndexSnapshot) Value(name IndexName) (decimal.Decimal, bool) {
	v, ok := s.Values[name]
	return v, ok
}

// defaultIndexValues seeds an empty series. Percent per readjustment period.
func defaultIndexValues() map[IndexName]decimal.Decimal {
	return map[IndexName]decimal.Decimal{
		IndexIGPM:  decimal.RequireFromString("4.50"),
		IndexIPCA:  decimal.RequireFromString("4.62"),
		IndexINPC:  decimal.RequireFromString("4.48"),
		IndexINCC:  decimal.RequireFromString("5.20"),
		IndexIGPDI: decimal.RequireFromString("4.30"),
	}
}

// =============================================================================
// PARAMETERS - The single active readjustment configuration
// =============================================================================

type Parameters struct {
	IndexName           IndexName
	AdditionalPercent   decimal.Decimal
	InstallmentInterval int
	EarlyWarningDays    int
	UpdatedAt           time.Time
}

// DefaultParameters is what an empty store is seeded with.
func DefaultParameters() Parameters {
	return Parameters{
		IndexName:           IndexIGPM,
		AdditionalPercent:   decimal.NewFromInt(6),
		InstallmentInterval: 12,
		EarlyWarningDays:    30,
	}
}

// Validate checks every field, reporting the first violation.
func (p Parameters) Validate() error {
	if !p.IndexName.Valid() {
		return &ValidationError{Field: "index_name", Message: "unknown index: " + string(p.IndexName)}
	}
	if p.AdditionalPercent.IsNegative() {
		return &ValidationError{Field: "additional_percent", Message: "additional percent must be >= 0"}
	}
	if p.InstallmentInterval < 1 {
		return &ValidationError{Field: "installment_interval", Message: "installment interval must be >= 1"}
	}
	if p.EarlyWarningDays < 1 {
		return &ValidationError{Field: "early_warning_days", Message: "early warning days must be >= 1"}
	}
	return nil
}

// Overrides replace individual parameter fields for a single simulation.
// A nil field keeps the global value. IndexValue bypasses the registry.
type Overrides struct {
	IndexName           *IndexName
	IndexValue          *decimal.Decimal
	AdditionalPercent   *decimal.Decimal
	InstallmentInterval *int
}

// Merge applies the overrides on top of p.
func (o Overrides) Merge(p Parameters) Parameters {
	if o.IndexName != nil {
		p.IndexName = *o.IndexName
	}
	if o.AdditionalPercent != nil {
		p.AdditionalPercent = *o.AdditionalPercent
	}
	if o.InstallmentInterval != nil {
		p.InstallmentInterval = *o.InstallmentInterval
	}
	return p
}

// =============================================================================
// CONTRACT - Read from the contracts collaborator
// =============================================================================

type ContractStatus string

const (
	ContractActive    ContractStatus = "active"
	ContractSettled   ContractStatus = "settled"
	ContractCancelled ContractStatus = "cancelled"
)

type Contract struct {
	ID                ContractID
	ClientName        string
	LotCode           string
	StartDate         generic.TimePoint
	TotalInstallments int
	PaidInstallments  int
	TotalValue        decimal.Decimal
	EntryValue        decimal.Decimal
	Status            ContractStatus

	// Written back by Engine.Apply for display layers. The engine itself
	// derives values from the applied records, never from this summary.
	LastAdjustment *LastAdjustment
}

// LastAdjustment is the denormalized summary of the most recent applied
// readjustment, kept on the contract for display.
type LastAdjustment struct {
	RecordID             RecordID
	ReferenceInstallment int
	IndexName            IndexName
	IndexValue           decimal.Decimal
	TotalPercent         decimal.Decimal
	InstallmentValue     decimal.Decimal
	Date                 generic.TimePoint
}

// =============================================================================
// RECORD - A readjustment, previewed or applied
// =============================================================================

type RecordStatus string

const (
	StatusPending RecordStatus = "pending"
	StatusApplied RecordStatus = "applied"
)

// Record is one readjustment. Previews (forecast, simulate) carry
// Simulated=true, StatusPending and no ID; they are never persisted.
type Record struct {
	ID                   RecordID
	ContractID           ContractID
	ReferenceInstallment int
	OriginalValue        decimal.Decimal
	AdjustedValue        decimal.Decimal
	IndexName            IndexName
	IndexValue           decimal.Decimal
	AdditionalPercent    decimal.Decimal
	TotalPercent         decimal.Decimal
	ReferenceDate        generic.TimePoint
	ApplicationDate      *time.Time
	Status               RecordStatus
	Simulated            bool
}

// Delta is AdjustedValue - OriginalValue.
func (r Record) Delta() decimal.Decimal {
	return r.AdjustedValue.Sub(r.OriginalValue)
}

// CycleState is where a contract stands in the current readjustment cycle.
type CycleState string

const (
	StateExhausted CycleState = "exhausted"
	StatePending   CycleState = "pending"
	StateApplied   CycleState = "applied"
)

// RecordFilter selects records for reports. Zero fields match everything.
// From/To bound ReferenceDate, inclusive.
type RecordFilter struct {
	ContractID ContractID
	IndexName  IndexName
	Status     RecordStatus
	From       *generic.TimePoint
	To         *generic.TimePoint
}

// Matches reports whether r passes every set criterion.
func (f RecordFilter) Matches(r Record) bool {
	if f.ContractID != "" && r.ContractID != f.ContractID {
		return false
	}
	if f.IndexName != "" && r.IndexName != f.IndexName {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.From != nil && r.ReferenceDate.Before(*f.From) {
		return false
	}
	if f.To != nil && r.ReferenceDate.After(*f.To) {
		return false
	}
	return true
}
