/*
errors.go - Centralized error types for the stock engine

ERROR CATEGORIES:
  1. Retryable conflict - duplicate key on a sequence-backed id. Handled by
     the SequenceGuard; surfaced only when the retry fails as well.
  2. Stock shortfall - NEVER an error. Returned as data (Shortage rows).
  3. Missing configuration - no supplier link, no shelf slot. Reported per
     item or group; sibling work in the same cycle continues.
  4. Validation - rejected at the boundary before any write.
  5. Anything else from the store aborts the unit of work.

USAGE:
  var conflict *engine.ConflictError
  if errors.As(err, &conflict) {
      // conflict.Sequence names the key space that drifted
  }

SEE ALSO:
  - sequence.go: Retry policy for ConflictError
  - replenish.go: Per-item MissingConfigError reporting
*/
package engine

import (
	"errors"
	"fmt"
	"strings"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrSequenceConflict is wrapped by every ConflictError.
	ErrSequenceConflict = errors.New("duplicate key on sequence-backed id")

	// ErrSequenceExhausted is returned when a write conflicts again on a key
	// space that was already repaired in the same guarded call.
	ErrSequenceExhausted = errors.New("sequence conflict persisted after repair")

	// ErrEmptyCart is returned for a sale without lines.
	ErrEmptyCart = errors.New("cart has no lines")

	// ErrInvalidQuantity is returned for negative or zero quantities where a
	// positive one is required.
	ErrInvalidQuantity = errors.New("invalid quantity")

	// ErrUnknownTier is returned for a tier other than warehouse or shelf.
	ErrUnknownTier = errors.New("unknown stock tier")

	// ErrMissingSupplier is returned when an item has no linked supplier.
	ErrMissingSupplier = errors.New("no supplier linked to item")

	// ErrMissingSlot is returned when a shelf placement has no slot.
	ErrMissingSlot = errors.New("no shelf slot configured")

	// ErrNotFound is returned for an unknown sale, item or layer.
	ErrNotFound = errors.New("not found")

	// ErrInvalidRequest wraps boundary validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConflictError is a uniqueness violation on an auto-assigned id. Stores
// return it instead of a driver error so the guard can repair Sequence.
type ConflictError struct {
	Sequence Sequence
	Err      error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("sequence %s conflict: %v", e.Sequence, e.Err)
	}
	return fmt.Sprintf("sequence %s conflict", e.Sequence)
}

func (e *ConflictError) Unwrap() error {
	return ErrSequenceConflict
}

// MissingConfigError names the item and the piece of configuration it lacks.
type MissingConfigError struct {
	ItemID ItemID
	What   error
}

func (e *MissingConfigError) Error() string {
	return fmt.Sprintf("item %d: %v", e.ItemID, e.What)
}

func (e *MissingConfigError) Unwrap() error {
	return e.What
}

// ValidationError lists every field that failed boundary validation.
type ValidationError struct {
	Fields []FieldError
}

type FieldError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "invalid request: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidRequest
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed after a sequence repair.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrSequenceConflict) && !errors.Is(err, ErrSequenceExhausted)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrEmptyCart) ||
		errors.Is(err, ErrInvalidQuantity) ||
		errors.Is(err, ErrUnknownTier)
}

// IsMissingConfig returns true for supplier or slot configuration gaps.
func IsMissingConfig(err error) bool {
	return errors.Is(err, ErrMissingSupplier) || errors.Is(err, ErrMissingSlot)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
