/*
mutation.go - Validated, atomic state transitions

PURPOSE:
  The interactive editing surface. Each operation validates its inputs
  against the current State and either returns a brand-new State (with CG,
  score and suggestion recomputed) or an error, leaving the input State
  untouched. There is no partially applied transition.

OPERATIONS:
  assign(unit, slot):       pool unit -> empty movable slot
  unassign(slot):           occupied movable slot -> unit back to pool
  swap(unit, slot):         pool unit replaces the unit in an occupied slot
  move(from, to):           relocate a unit between two movable slots
  swap_slots(a, b):         exchange the units of two occupied movable slots
  reset:                    release every movable slot back to the pool

CAPACITY POLICY:
  Reject. A unit heavier than the receiving slot's MaxWeight fails the
  operation with ErrOverCapacity. The heuristic and exact optimizers apply
  the same rule.

SEE ALSO:
  - state.go: replaceSlots performs the invariant checks
  - session.go: Serializes mutations and records metrics
*/
package loadplan

import (
	"fmt"
	"strings"
)

// =============================================================================
// OPERATION
// =============================================================================

type Operation string

const (
	OpAssign    Operation = "assign"
	OpUnassign  Operation = "unassign"
	OpSwap      Operation = "swap"
	OpMove      Operation = "move"
	OpSwapSlots Operation = "swap_slots"
	OpReset     Operation = "reset"
)

// Mutation names an operation and its arguments. Unused arguments are ignored.
type Mutation struct {
	Op   Operation
	Unit UnitID // assign, swap
	Slot SlotID // assign, unassign, swap
	From SlotID // move; first slot of swap_slots
	To   SlotID // move; second slot of swap_slots
}

// Result is the outcome of a successful transition.
type Result struct {
	State   *State
	Message string
	Touched []SlotID // slots whose assignment changed
}

// Apply dispatches a Mutation to the matching operation.
func Apply(s *State, m Mutation) (Result, error) {
	switch m.Op {
	case OpAssign:
		return Assign(s, m.Unit, m.Slot)
	case OpUnassign:
		return Unassign(s, m.Slot)
	case OpSwap:
		return Swap(s, m.Unit, m.Slot)
	case OpMove:
		return Move(s, m.From, m.To)
	case OpSwapSlots:
		return SwapSlots(s, m.From, m.To)
	case OpReset:
		return Reset(s)
	default:
		return Result{}, validationErr(string(m.Op), ErrUnknownOperation, "operation %q is not supported", m.Op)
	}
}

// =============================================================================
// OPERATIONS
// =============================================================================

// Assign places a pool unit into an empty movable slot.
func Assign(s *State, unitID UnitID, slotID SlotID) (Result, error) {
	const op = string(OpAssign)

	slot, err := movableSlot(s, op, slotID)
	if err != nil {
		return Result{}, err
	}
	if !slot.IsEmpty() {
		return Result{}, validationErr(op, ErrSlotOccupied, "%s already holds %s; use swap instead", slot.ID, slot.AssignedUnit)
	}
	unit, err := poolUnit(s, op, unitID)
	if err != nil {
		return Result{}, err
	}
	if err := checkCapacity(op, slot, unit); err != nil {
		return Result{}, err
	}

	slots := s.Slots()
	slots[s.slotIndex[slot.ID]].AssignedUnit = unit.ID
	return commit(s, op, slots, fmt.Sprintf("%s assigned to %s", unit.ID, slot.ID), slot.ID)
}

// Unassign releases the unit of a movable slot back to the pool.
func Unassign(s *State, slotID SlotID) (Result, error) {
	const op = string(OpUnassign)

	slot, err := movableSlot(s, op, slotID)
	if err != nil {
		return Result{}, err
	}
	if slot.IsEmpty() {
		return Result{}, validationErr(op, ErrSlotEmpty, "%s holds no load unit", slot.ID)
	}

	slots := s.Slots()
	slots[s.slotIndex[slot.ID]].AssignedUnit = ""
	return commit(s, op, slots, fmt.Sprintf("%s released", slot.ID), slot.ID)
}

// Swap replaces the unit of an occupied movable slot with a pool unit; the
// previous unit returns to the pool.
func Swap(s *State, unitID UnitID, slotID SlotID) (Result, error) {
	const op = string(OpSwap)

	slot, err := movableSlot(s, op, slotID)
	if err != nil {
		return Result{}, err
	}
	if slot.IsEmpty() {
		return Result{}, validationErr(op, ErrSlotEmpty, "%s holds no load unit; use assign instead", slot.ID)
	}
	unit, err := poolUnit(s, op, unitID)
	if err != nil {
		return Result{}, err
	}
	if err := checkCapacity(op, slot, unit); err != nil {
		return Result{}, err
	}

	slots := s.Slots()
	slots[s.slotIndex[slot.ID]].AssignedUnit = unit.ID
	return commit(s, op, slots, fmt.Sprintf("%s now holds %s", slot.ID, unit.ID), slot.ID)
}

// Move relocates the unit of one movable slot into an empty movable slot.
func Move(s *State, fromID, toID SlotID) (Result, error) {
	const op = string(OpMove)

	from, err := movableSlot(s, op, fromID)
	if err != nil {
		return Result{}, err
	}
	to, err := movableSlot(s, op, toID)
	if err != nil {
		return Result{}, err
	}
	if from.IsEmpty() {
		return Result{}, validationErr(op, ErrSlotEmpty, "%s holds no load unit", from.ID)
	}
	if !to.IsEmpty() {
		return Result{}, validationErr(op, ErrSlotOccupied, "%s already holds %s", to.ID, to.AssignedUnit)
	}
	unit, _ := s.Unit(from.AssignedUnit)
	if err := checkCapacity(op, to, unit); err != nil {
		return Result{}, err
	}

	slots := s.Slots()
	slots[s.slotIndex[from.ID]].AssignedUnit = ""
	slots[s.slotIndex[to.ID]].AssignedUnit = unit.ID
	return commit(s, op, slots, fmt.Sprintf("%s moved from %s to %s", unit.ID, from.ID, to.ID), from.ID, to.ID)
}

// SwapSlots exchanges the units of two occupied movable slots.
func SwapSlots(s *State, aID, bID SlotID) (Result, error) {
	const op = string(OpSwapSlots)

	a, err := movableSlot(s, op, aID)
	if err != nil {
		return Result{}, err
	}
	b, err := movableSlot(s, op, bID)
	if err != nil {
		return Result{}, err
	}
	if a.ID == b.ID {
		return Result{}, validationErr(op, ErrInvalidInput, "cannot swap %s with itself", a.ID)
	}
	if a.IsEmpty() {
		return Result{}, validationErr(op, ErrSlotEmpty, "%s holds no load unit", a.ID)
	}
	if b.IsEmpty() {
		return Result{}, validationErr(op, ErrSlotEmpty, "%s holds no load unit", b.ID)
	}
	unitA, _ := s.Unit(a.AssignedUnit)
	unitB, _ := s.Unit(b.AssignedUnit)
	if err := checkCapacity(op, b, unitA); err != nil {
		return Result{}, err
	}
	if err := checkCapacity(op, a, unitB); err != nil {
		return Result{}, err
	}

	slots := s.Slots()
	slots[s.slotIndex[a.ID]].AssignedUnit = unitB.ID
	slots[s.slotIndex[b.ID]].AssignedUnit = unitA.ID
	return commit(s, op, slots, fmt.Sprintf("%s and %s exchanged", a.ID, b.ID), a.ID, b.ID)
}

// Reset releases every movable slot. Fixed slots keep their units.
func Reset(s *State) (Result, error) {
	const op = string(OpReset)

	slots := s.Slots()
	var touched []SlotID
	for i := range slots {
		if slots[i].Fixed || slots[i].IsEmpty() {
			continue
		}
		slots[i].AssignedUnit = ""
		touched = append(touched, slots[i].ID)
	}
	return commit(s, op, slots, fmt.Sprintf("%d slots released", len(touched)), touched...)
}

// =============================================================================
// HELPERS
// =============================================================================

func commit(s *State, op string, slots []Slot, message string, touched ...SlotID) (Result, error) {
	next, err := s.replaceSlots(op, slots)
	if err != nil {
		return Result{}, err
	}
	return Result{State: next, Message: message, Touched: touched}, nil
}

// movableSlot resolves a slot that exists and is not fixed.
func movableSlot(s *State, op string, id SlotID) (Slot, error) {
	id = SlotID(strings.TrimSpace(string(id)))
	if id == "" {
		return Slot{}, validationErr(op, ErrInvalidInput, "slot id is required")
	}
	slot, ok := s.Slot(id)
	if !ok {
		return Slot{}, notFoundErr(op, ErrSlotNotFound, "slot %s does not exist", id)
	}
	if slot.Fixed {
		return Slot{}, validationErr(op, ErrFixedSlot, "%s is fixed and cannot be changed", id)
	}
	return slot, nil
}

// poolUnit resolves a unit that exists and is currently unassigned.
func poolUnit(s *State, op string, id UnitID) (LoadUnit, error) {
	id = UnitID(strings.TrimSpace(string(id)))
	if id == "" {
		return LoadUnit{}, validationErr(op, ErrInvalidInput, "load unit id is required")
	}
	unit, ok := s.Unit(id)
	if !ok {
		return LoadUnit{}, notFoundErr(op, ErrUnitNotFound, "load unit %s does not exist", id)
	}
	if !s.InPool(id) {
		return LoadUnit{}, validationErr(op, ErrUnitUnavailable, "load unit %s is not available", id)
	}
	return unit, nil
}

func checkCapacity(op string, slot Slot, unit LoadUnit) error {
	if slot.Fits(unit) {
		return nil
	}
	return validationErr(op, ErrOverCapacity, "%s (%v) exceeds the capacity of %s (%v)", unit.ID, unit.Weight, slot.ID, slot.MaxWeight)
}
