/*
errors.go - Centralized error types for the rules engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Lifecycle managers return the structured errors; stores return (wrapped)
  sentinels. Callers branch with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Caller errors    - ValidationError, CoverageError, LimitExceededError
  2. Lifecycle errors - InvalidStateError, InvalidTransitionError
  3. Lookup errors    - NotFoundError
  4. Store errors     - ErrConcurrentModification, ErrDuplicateNumber, ErrStoreUnavailable

PROPAGATION:
  Validation and state errors are returned immediately and never retried.
  ErrConcurrentModification and ErrStoreUnavailable are retryable.
  Allocation failures triggered by a policy mutation never surface here;
  see policy.Mutation.AllocationErr.

SEE ALSO:
  - store.go: Store contract for these errors
  - api/errors.go: HTTP status mapping
*/
package insurance

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrValidation             = errors.New("validation failed")
	ErrNotFound               = errors.New("not found")
	ErrInvalidState           = errors.New("invalid state")
	ErrInvalidTransition      = errors.New("invalid transition")
	ErrCoverage               = errors.New("coverage check failed")
	ErrLimitExceeded          = errors.New("limit exceeded")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrStoreUnavailable       = errors.New("store unavailable")

	// ErrDuplicateNumber is returned by Insert when the generated policy or
	// claim number already exists. AssignNumber retries on it.
	ErrDuplicateNumber = errors.New("duplicate sequential number")

	// ErrConflict is returned when a unique business key (e.g. reinsurer code) is taken.
	ErrConflict = errors.New("conflict")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError reports a missing or malformed field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError reports a referenced entity that does not exist.
type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// InvalidStateError reports an operation that is not legal in the current state.
type InvalidStateError struct {
	Entity    string
	Current   string
	Operation string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s in status %s", e.Operation, e.Entity, e.Current)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// InvalidTransitionError reports a lifecycle edge outside the allowed table.
type InvalidTransitionError struct {
	Entity    string
	Current   string
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("cannot transition %s from %s to %s", e.Entity, e.Current, e.Requested)
}

func (e *InvalidTransitionError) Unwrap() error { return ErrInvalidTransition }

// CoverageError reports why a claim is not covered by its policy.
type CoverageError struct {
	Reason string
}

func (e *CoverageError) Error() string {
	return fmt.Sprintf("coverage check failed: %s", e.Reason)
}

func (e *CoverageError) Unwrap() error { return ErrCoverage }

// LimitExceededError reports an amount above a hard cap.
type LimitExceededError struct {
	Subject   string
	Requested Amount
	Limit     Amount
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("%s %s exceeds limit %s", e.Subject, e.Requested, e.Limit)
}

func (e *LimitExceededError) Unwrap() error { return ErrLimitExceeded }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// Unavailable wraps an infrastructure failure as ErrStoreUnavailable.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrDuplicateNumber)
}

// IsClientError returns true if the error is due to invalid client input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrCoverage) ||
		errors.Is(err, ErrLimitExceeded) ||
		errors.Is(err, ErrInvalidState) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrConflict)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
