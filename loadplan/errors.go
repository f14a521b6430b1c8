/*
errors.go - Centralized error types for the load-planning core

PURPOSE:
  All error types in one place for consistency and discoverability.
  Every failure leaving this package is an *Error carrying a stable Kind,
  so callers (API, CLI) can map it without string matching.

ERROR KINDS:
  validation:        Malformed input, fixed/occupied/empty slot, over capacity
  not_found:         Unknown flight, unit or slot
  infeasible:        Solver found no optimum, or more units than slots
  incomplete_result: Solver said optimal but the layout does not cover every unit
  internal:          Unexpected failure in a collaborator
  busy:              A load or optimization is already in flight

USAGE:
  if errors.Is(err, loadplan.ErrFixedSlot) { ... }
  switch loadplan.KindOf(err) { case loadplan.KindNotFound: ... }

SEE ALSO:
  - mutation.go: Returns validation / not_found errors
  - exact.go: Returns infeasible / incomplete_result errors
  - session.go: Returns busy errors
*/
package loadplan

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidInput is returned for missing identifiers and non-finite or
	// out-of-range numeric fields.
	ErrInvalidInput = errors.New("invalid input")

	// ErrDuplicateID is returned when unit or slot identifiers repeat.
	ErrDuplicateID = errors.New("duplicate identifier")

	// ErrFlightNotFound is returned when the repository has no such flight.
	ErrFlightNotFound = errors.New("flight not found")

	// ErrUnitNotFound is returned when a referenced unit doesn't exist.
	ErrUnitNotFound = errors.New("load unit not found")

	// ErrSlotNotFound is returned when a referenced slot doesn't exist.
	ErrSlotNotFound = errors.New("slot not found")

	// ErrFixedSlot is returned when an operation would alter a pinned slot.
	ErrFixedSlot = errors.New("slot is fixed")

	// ErrSlotOccupied is returned when the target slot already holds a unit.
	ErrSlotOccupied = errors.New("slot is occupied")

	// ErrSlotEmpty is returned when the operation needs an assigned slot.
	ErrSlotEmpty = errors.New("slot is empty")

	// ErrUnitUnavailable is returned when the unit is not in the unassigned pool.
	ErrUnitUnavailable = errors.New("load unit is not in the unassigned pool")

	// ErrOverCapacity is returned when a unit is heavier than a slot allows.
	ErrOverCapacity = errors.New("slot capacity exceeded")

	// ErrTooManyUnits is returned when movable units outnumber movable slots.
	ErrTooManyUnits = errors.New("more load units than available slots")

	// ErrInfeasible is returned when the solver reports a non-optimal status.
	ErrInfeasible = errors.New("no optimal layout found")

	// ErrIncompleteResult is returned when an optimal solution fails to place
	// every unit exactly once.
	ErrIncompleteResult = errors.New("optimization result is incomplete")

	// ErrSolverFailed is returned when the solver collaborator errors out.
	ErrSolverFailed = errors.New("solver failed")

	// ErrRepository is returned when the flight repository errors out.
	ErrRepository = errors.New("repository failed")

	// ErrBusy is returned when a load or optimization is already running.
	ErrBusy = errors.New("another load or optimization is in progress")

	// ErrNoState is returned when no flight has been loaded.
	ErrNoState = errors.New("no flight loaded")

	// ErrUnknownOperation is returned for unsupported mutation operations.
	ErrUnknownOperation = errors.New("unknown operation")

	errSlotSetChanged = errors.New("slot list changed shape")
)

// =============================================================================
// KIND - Stable error classification
// =============================================================================

type Kind string

const (
	KindValidation       Kind = "validation"
	KindNotFound         Kind = "not_found"
	KindInfeasible       Kind = "infeasible"
	KindIncompleteResult Kind = "incomplete_result"
	KindInternal         Kind = "internal"
	KindBusy             Kind = "busy"
)

// =============================================================================
// STRUCTURED ERROR
// =============================================================================

// Error is the only error type returned across the package boundary.
type Error struct {
	Kind    Kind
	Op      string // e.g. "assign", "optimize_exact"
	Message string // human-readable
	Err     error  // sentinel or cause
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, op string, sentinel error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Err: sentinel}
}

func validationErr(op string, sentinel error, format string, args ...any) *Error {
	return newError(KindValidation, op, sentinel, format, args...)
}

func notFoundErr(op string, sentinel error, format string, args ...any) *Error {
	return newError(KindNotFound, op, sentinel, format, args...)
}

// internalErr wraps an unexpected collaborator failure, keeping both the
// sentinel and the cause reachable through errors.Is.
func internalErr(op string, sentinel, cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Op:      op,
		Message: fmt.Sprintf("%v: %v", sentinel, cause),
		Err:     fmt.Errorf("%w: %w", sentinel, cause),
	}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// KindOf classifies any error. Errors not produced by this package are
// reported as internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsNotFound returns true if the error indicates a missing flight, unit or slot.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrFlightNotFound) ||
		errors.Is(err, ErrUnitNotFound) ||
		errors.Is(err, ErrSlotNotFound)
}

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindBusy:
		return true
	}
	return false
}

// asBoundaryError converts any error into an *Error, wrapping foreign errors
// as internal under the given op.
func asBoundaryError(op string, err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Kind: KindInternal, Op: op, Message: err.Error(), Err: err}
}
