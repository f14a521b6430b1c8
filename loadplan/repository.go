/*
repository.go - Collaborator interfaces for flight data and layout storage

PURPOSE:
  Defines what the core needs from the outside world. Implementations are
  injected into the Session; nothing here is resolved by convention.

KEY INTERFACES:
  FlightRepository: Flight lookup by code, then manifest and slot table by flight id
  LayoutSink:       Stores layouts produced by the exact optimizer

NOT FOUND CONTRACT:
  FindFlight returns an error wrapping ErrFlightNotFound when no flight
  matches. Any other error is treated as a repository failure.

IMPLEMENTATIONS:
  - store/sqlite/: SQLite
  - loadplan/store/memory.go: In-memory for testing

SEE ALSO:
  - session.go: Consumes both interfaces
*/
package loadplan

import (
	"context"
	"regexp"
	"strings"
)

// =============================================================================
// INTERFACES
// =============================================================================

// FlightRepository provides the data needed to build a Snapshot.
type FlightRepository interface {
	// FindFlight resolves a normalized flight code.
	FindFlight(ctx context.Context, code string) (Flight, error)

	// Units returns the load unit manifest of a flight.
	Units(ctx context.Context, flightID FlightID) ([]LoadUnit, error)

	// Slots returns the slot table of a flight, including pinned assignments.
	Slots(ctx context.Context, flightID FlightID) ([]Slot, error)
}

// LayoutSink stores a computed layout under an optimization job id.
// Failures are logged by the caller and never fail the optimization.
type LayoutSink interface {
	SaveLayout(ctx context.Context, flightID FlightID, jobID string, items []LayoutItem) error
}

// =============================================================================
// FLIGHT CODES
// =============================================================================

// flightCodePattern accepts a two-character airline designator followed by
// one to four digits and an optional suffix letter (e.g. CX2025, BA9, 3U8881A).
var flightCodePattern = regexp.MustCompile(`^[A-Z0-9]{2}[0-9]{1,4}[A-Z]?$`)

// NormalizeFlightCode trims and upper-cases a flight code and checks its shape.
func NormalizeFlightCode(code string) (string, error) {
	const op = "load_snapshot"

	normalized := strings.ToUpper(strings.TrimSpace(code))
	if normalized == "" {
		return "", validationErr(op, ErrInvalidInput, "flight code is required")
	}
	if !flightCodePattern.MatchString(normalized) {
		return "", validationErr(op, ErrInvalidInput, "%q is not a valid flight code", code)
	}
	return normalized, nil
}
