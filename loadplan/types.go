/*
Package loadplan provides the load-planning core: assigning load units to
stowage slots while keeping the vehicle's center of gravity near a target.

PURPOSE:
  This package owns the assignment aggregate (State), the pure functions
  derived from it (CG, score, suggestion), the validated mutations used by
  interactive editing, and the two optimizers (exact MILP and greedy
  heuristic). Everything that touches the outside world - the flight
  repository, the layout sink, the MILP solver, metrics - is an interface
  defined here and implemented elsewhere.

KEY CONCEPTS IN THIS FILE (types.go):
  - LoadUnit: An immutable cargo unit (ULD) with a weight
  - Slot: A fixed stowage position with coordinates and a weight capacity
  - Flight: Flight identity and target CG
  - Snapshot: Raw data used to build a State
  - Placement: A (weight, x) pair feeding the CG calculation

DESIGN PRINCIPLES:
  1. Immutability: A State is never edited in place; every mutation returns a new State
  2. Derivation: CG, score, suggestion and the unassigned pool are recomputed, never patched
  3. Type Safety: Distinct ID types keep unit and slot identifiers apart
  4. Pinned data wins: Fixed slots are never altered by any core operation

USAGE:
  state, err := loadplan.NewState(snapshot)
  next, err := loadplan.Assign(state, "AKE1001CX", "11L")
  fmt.Println(next.CG(), next.Score(), next.Suggestion())

SEE ALSO:
  - state.go: The State aggregate and its invariants
  - mutation.go: Assign / Unassign / Swap / Move / SwapSlots
  - exact.go, heuristic.go: Optimizers
*/
package loadplan

import (
	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UnitID string
type SlotID string

// UnitType is the container tag carried by a load unit (e.g. "AKE", "AMA").
type UnitType string

const (
	UnitTypeAKE UnitType = "AKE"
	UnitTypeAMA UnitType = "AMA"
)

// =============================================================================
// LOAD UNIT - Immutable cargo unit
// =============================================================================

// LoadUnit is a discrete cargo container placed in exactly one slot.
// Only its assignment relationship changes; the unit itself never does.
type LoadUnit struct {
	ID       UnitID
	Weight   float64
	Volume   float64 // informational
	Priority bool
	Type     UnitType
}

// =============================================================================
// SLOT - Fixed stowage position
// =============================================================================

// Slot is a stowage position. CurrentWeight is derived: it equals the
// assigned unit's weight, or zero when AssignedUnit is empty.
type Slot struct {
	ID            SlotID
	X             float64 // longitudinal coordinate
	Y             float64 // lateral coordinate
	MaxWeight     float64
	CurrentWeight float64
	AssignedUnit  UnitID // "" = empty
	Fixed         bool   // assignment pinned externally
}

// IsEmpty reports whether no unit is assigned to the slot.
func (s Slot) IsEmpty() bool { return s.AssignedUnit == "" }

// Fits reports whether the slot's capacity can hold the unit.
func (s Slot) Fits(u LoadUnit) bool { return u.Weight <= s.MaxWeight }

// =============================================================================
// FLIGHT
// =============================================================================

type FlightID int64

// Flight identifies the flight a state was loaded for.
type Flight struct {
	ID       FlightID
	Code     string
	TargetCG *float64 // nil = use configured default
}

// =============================================================================
// SNAPSHOT - Input to NewState
// =============================================================================

// Snapshot is the external data a State is built from. Slot.CurrentWeight is
// ignored on input and re-derived from the assignments.
type Snapshot struct {
	Flight Flight
	Units  []LoadUnit
	Slots  []Slot
}

// =============================================================================
// PLACEMENT / LAYOUT
// =============================================================================

// Placement is one loaded mass at a longitudinal coordinate.
type Placement struct {
	Weight float64
	X      float64
}

// LayoutItem is one unit->slot row of a computed layout.
type LayoutItem struct {
	UnitID UnitID
	SlotID SlotID
	Weight float64
	X      float64
	Y      float64
}

// =============================================================================
// DISPLAY ROUNDING
// =============================================================================

// CGPrecision is the number of decimal places a State's CG is reported with.
const CGPrecision = 1

func roundTo(v float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(v).Round(places).Float64()
	return f
}
