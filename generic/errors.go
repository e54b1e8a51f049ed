/*
errors.go - Error categories shared by every package

PURPOSE:
  All error categories in one place for consistency and discoverability.
  Domain packages define their own sentinels by wrapping these, so callers
  can branch on the category without knowing the concrete domain error.

ERROR CATEGORIES:
  1. Validation errors - malformed input, rejected before persistence
  2. Not found errors - unknown contract or configuration record
  3. Business rule errors - operation rejected by the current state
  4. Conflict errors - a concurrent writer got there first
  5. Store errors - persistence or transaction failures (system faults)

USAGE:
  Domain packages wrap the categories:

    var ErrDuplicateApplication = fmt.Errorf("%w: readjustment already applied", generic.ErrConflict)

    if generic.IsConflict(err) {
        // answer 409
    }

SEE ALSO:
  - reajuste/errors.go: domain errors built on these categories
  - api/handlers.go: maps categories to HTTP status codes
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation marks malformed input. The message is safe to show verbatim.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound marks a reference to a record that does not exist.
	ErrNotFound = errors.New("not found")

	// ErrBusinessRule marks an operation the current state does not allow.
	// Retrying unchanged will fail the same way.
	ErrBusinessRule = errors.New("business rule violation")

	// ErrConflict marks a write that lost against a concurrent writer.
	ErrConflict = errors.New("conflict")

	// ErrStore marks a persistence failure.
	ErrStore = errors.New("store failure")

	// ErrInvalidWindow is returned when a date window ends before it starts.
	ErrInvalidWindow = fmt.Errorf("%w: invalid window: end before start", ErrValidation)

	// ErrLockTimeout is returned when a keyed lock cannot be acquired in time.
	ErrLockTimeout = errors.New("lock acquisition timed out")
)

// =============================================================================
// ERROR HELPERS
// =============================================================================

// StoreError wraps a persistence failure with the operation that failed.
func StoreError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStore, err)
}

// IsRetryable returns true if the error might succeed on an unchanged retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStore) || errors.Is(err, ErrLockTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsBusinessRule returns true if the state of the system rejected the call.
func IsBusinessRule(err error) bool {
	return errors.Is(err, ErrBusinessRule)
}

// IsConflict returns true if a concurrent writer won.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
