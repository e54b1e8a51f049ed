package reajuste

import (
	"fmt"

	"github.com/terravista/lot-sales/generic"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrContractNotFound is returned for an unknown contract id.
	ErrContractNotFound = fmt.Errorf("%w: contract", generic.ErrNotFound)

	// ErrNoPendingAdjustment is returned when the contract is exhausted:
	// its next reference installment is past the last installment.
	ErrNoPendingAdjustment = fmt.Errorf("%w: no pending readjustment", generic.ErrBusinessRule)

	// ErrDuplicateApplication is returned when the reference installment
	// already has an applied record.
	ErrDuplicateApplication = fmt.Errorf("%w: readjustment already applied", generic.ErrConflict)

	// ErrUnknownIndex is returned for an index outside the closed set or
	// one the latest snapshot has no value for.
	ErrUnknownIndex = fmt.Errorf("%w: unknown economic index", generic.ErrValidation)
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes malformed parameter or snapshot input.
// Message is written to be shown to the operator as is.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Unwrap() error { return generic.ErrValidation }

type ContractNotFoundError struct {
	ID ContractID
}

func (e *ContractNotFoundError) Error() string {
	return fmt.Sprintf("contract not found: %s", e.ID)
}

func (e *ContractNotFoundError) Unwrap() error { return ErrContractNotFound }

type NoPendingAdjustmentError struct {
	ContractID        ContractID
	NextInstallment   int
	TotalInstallments int
}

func (e *NoPendingAdjustmentError) Error() string {
	return fmt.Sprintf("no pending readjustment for contract %s: next reference installment %d exceeds %d installments",
		e.ContractID, e.NextInstallment, e.TotalInstallments)
}

func (e *NoPendingAdjustmentError) Unwrap() error { return ErrNoPendingAdjustment }

// DuplicateApplicationError is both a conflict (someone else applied first)
// and a business rule rejection (the installment is already readjusted).
type DuplicateApplicationError struct {
	ContractID           ContractID
	ReferenceInstallment int
	ExistingID           RecordID
}

func (e *DuplicateApplicationError) Error() string {
	if e.ExistingID == "" {
		return fmt.Sprintf("readjustment for contract %s installment %d already applied",
			e.ContractID, e.ReferenceInstallment)
	}
	return fmt.Sprintf("readjustment for contract %s installment %d already applied (record %s)",
		e.ContractID, e.ReferenceInstallment, e.ExistingID)
}

func (e *DuplicateApplicationError) Unwrap() []error {
	return []error{ErrDuplicateApplication, generic.ErrBusinessRule}
}

type UnknownIndexError struct {
	Name   IndexName
	Reason string
}

func (e *UnknownIndexError) Error() string {
	return fmt.Sprintf("unknown economic index %q: %s", e.Name, e.Reason)
}

func (e *UnknownIndexError) Unwrap() error { return ErrUnknownIndex }
