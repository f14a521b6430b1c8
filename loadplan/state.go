/*
state.go - The assignment aggregate and its invariants

PURPOSE:
  State is the aggregate root of the load plan: the slot list, the unit
  manifest, the derived unassigned pool, and the last-computed CG, score
  and suggestion. A State value is never modified after construction.
  Mutations and optimizers produce a new slot list and hand it to
  replaceSlots, which re-derives everything and checks the invariants.

INVARIANTS (checked on every construction):
  1. Each unit is referenced by at most one slot.
  2. slot.CurrentWeight == 0 iff the slot is empty, else the unit's weight.
  3. A fixed slot's assignment never changes (checked against the previous State).
  4. Unit and slot identifiers are unique.
  5. Unassigned pool == units - units referenced by a slot (manifest order).

LIFECYCLE:
  NewState(snapshot) -> mutations / optimizer output -> replaced by a new
  flight load or cleared by the Session.

SEE ALSO:
  - mutation.go: Interactive transitions
  - evaluate.go: Derived values
*/
package loadplan

import (
	"math"
	"strings"
)

// State is an immutable assignment of load units to slots.
type State struct {
	flight     Flight
	units      []LoadUnit
	slots      []Slot
	unassigned []LoadUnit
	unitIndex  map[UnitID]int
	slotIndex  map[SlotID]int

	cg         float64
	score      float64
	suggestion string
}

// =============================================================================
// CONSTRUCTION
// =============================================================================

// NewState validates a snapshot and builds the State it describes.
// Slot.CurrentWeight from the snapshot is ignored and re-derived.
func NewState(snap Snapshot) (*State, error) {
	const op = "load_snapshot"

	units := make([]LoadUnit, len(snap.Units))
	unitIndex := make(map[UnitID]int, len(snap.Units))
	for i, u := range snap.Units {
		u.ID = UnitID(strings.TrimSpace(string(u.ID)))
		if err := validateUnit(op, i, u); err != nil {
			return nil, err
		}
		if _, dup := unitIndex[u.ID]; dup {
			return nil, validationErr(op, ErrDuplicateID, "load unit %q appears more than once", u.ID)
		}
		unitIndex[u.ID] = i
		units[i] = u
	}

	slots := make([]Slot, len(snap.Slots))
	slotIndex := make(map[SlotID]int, len(snap.Slots))
	for i, s := range snap.Slots {
		s.ID = SlotID(strings.TrimSpace(string(s.ID)))
		s.AssignedUnit = UnitID(strings.TrimSpace(string(s.AssignedUnit)))
		if err := validateSlot(op, i, s); err != nil {
			return nil, err
		}
		if _, dup := slotIndex[s.ID]; dup {
			return nil, validationErr(op, ErrDuplicateID, "slot %q appears more than once", s.ID)
		}
		if !s.IsEmpty() {
			if _, ok := unitIndex[s.AssignedUnit]; !ok {
				return nil, notFoundErr(op, ErrUnitNotFound, "slot %s references unknown load unit %q", s.ID, s.AssignedUnit)
			}
		}
		slotIndex[s.ID] = i
		slots[i] = s
	}

	st := &State{
		flight:    snap.Flight,
		units:     units,
		unitIndex: unitIndex,
		slotIndex: slotIndex,
	}
	return st.derive(op, slots)
}

// replaceSlots builds the successor of s from a proposed slot list. The
// list must keep the same slots in the same order; only assignments may
// differ, and never on a fixed slot.
func (s *State) replaceSlots(op string, slots []Slot) (*State, error) {
	if len(slots) != len(s.slots) {
		return nil, internalErr(op, ErrInvalidInput, errSlotSetChanged)
	}
	for i, prev := range s.slots {
		next := slots[i]
		if next.ID != prev.ID {
			return nil, internalErr(op, ErrInvalidInput, errSlotSetChanged)
		}
		if prev.Fixed && next.AssignedUnit != prev.AssignedUnit {
			return nil, validationErr(op, ErrFixedSlot, "%s is fixed and cannot be changed", prev.ID)
		}
	}

	next := &State{
		flight:    s.flight,
		units:     s.units,
		unitIndex: s.unitIndex,
		slotIndex: s.slotIndex,
	}
	return next.derive(op, slots)
}

// derive fills in everything that is a function of the assignments:
// slot weights, the unassigned pool, CG, score and suggestion.
func (s *State) derive(op string, slots []Slot) (*State, error) {
	placed := make(map[UnitID]SlotID, len(slots))
	out := make([]Slot, len(slots))
	for i, slot := range slots {
		slot.CurrentWeight = 0
		if !slot.IsEmpty() {
			idx, ok := s.unitIndex[slot.AssignedUnit]
			if !ok {
				return nil, notFoundErr(op, ErrUnitNotFound, "load unit %q does not exist", slot.AssignedUnit)
			}
			if other, dup := placed[slot.AssignedUnit]; dup {
				return nil, validationErr(op, ErrDuplicateID, "load unit %s is assigned to both %s and %s", slot.AssignedUnit, other, slot.ID)
			}
			placed[slot.AssignedUnit] = slot.ID
			slot.CurrentWeight = s.units[idx].Weight
		}
		out[i] = slot
	}

	unassigned := make([]LoadUnit, 0, len(s.units)-len(placed))
	for _, u := range s.units {
		if _, ok := placed[u.ID]; !ok {
			unassigned = append(unassigned, u)
		}
	}

	s.slots = out
	s.unassigned = unassigned
	s.cg = roundTo(CenterOfGravity(placementsOf(out)), CGPrecision)
	s.score = Score(out, unassigned)
	s.suggestion = Suggestion(out, unassigned)
	return s, nil
}

// =============================================================================
// ACCESSORS - all return copies
// =============================================================================

func (s *State) Flight() Flight { return s.flight }
func (s *State) CG() float64 { return s.cg }
func (s *State) Score() float64 { return s.score }
func (s *State) Suggestion() string { return s.suggestion }
func (s *State) Units() []LoadUnit { return append([]LoadUnit(nil), s.units...) }
func (s *State) Slots() []Slot { return append([]Slot(nil), s.slots...) }
func (s *State) Unassigned() []LoadUnit {
	return append([]LoadUnit(nil), s.unassigned...)
}

// Unit looks up a unit of the manifest.
func (s *State) Unit(id UnitID) (LoadUnit, bool) {
	idx, ok := s.unitIndex[id]
	if !ok {
		return LoadUnit{}, false
	}
	return s.units[idx], true
}

// Slot looks up a slot by ID.
func (s *State) Slot(id SlotID) (Slot, bool) {
	idx, ok := s.slotIndex[id]
	if !ok {
		return Slot{}, false
	}
	return s.slots[idx], true
}

// SlotOf returns the slot holding the unit, if any.
func (s *State) SlotOf(id UnitID) (SlotID, bool) {
	for _, slot := range s.slots {
		if slot.AssignedUnit == id {
			return slot.ID, true
		}
	}
	return "", false
}

// InPool reports whether the unit is currently unassigned.
func (s *State) InPool(id UnitID) bool {
	for _, u := range s.unassigned {
		if u.ID == id {
			return true
		}
	}
	return false
}

// LoadedWeight is the sum of all slot weights.
func (s *State) LoadedWeight() float64 {
	total := 0.0
	for _, slot := range s.slots {
		total += slot.CurrentWeight
	}
	return total
}

// Layout lists every assigned slot as a unit->slot row, in slot order.
func (s *State) Layout() []LayoutItem {
	items := make([]LayoutItem, 0, len(s.slots))
	for _, slot := range s.slots {
		if slot.IsEmpty() {
			continue
		}
		items = append(items, LayoutItem{
			UnitID: slot.AssignedUnit,
			SlotID: slot.ID,
			Weight: slot.CurrentWeight,
			X:      slot.X,
			Y:      slot.Y,
		})
	}
	return items
}

// Snapshot returns the data needed to rebuild an identical State.
func (s *State) Snapshot() Snapshot {
	return Snapshot{Flight: s.flight, Units: s.Units(), Slots: s.Slots()}
}

// =============================================================================
// INVARIANT CHECK
// =============================================================================

// CheckInvariants re-verifies invariants 1, 2, 4 and 5 from scratch.
// It is used by tests and by the Session before installing optimizer output.
func (s *State) CheckInvariants() error {
	const op = "check_invariants"

	seenSlots := make(map[SlotID]bool, len(s.slots))
	placed := make(map[UnitID]bool, len(s.units))
	for _, slot := range s.slots {
		if seenSlots[slot.ID] {
			return validationErr(op, ErrDuplicateID, "slot %q appears more than once", slot.ID)
		}
		seenSlots[slot.ID] = true

		if slot.IsEmpty() {
			if slot.CurrentWeight != 0 {
				return validationErr(op, ErrInvalidInput, "empty slot %s carries weight %v", slot.ID, slot.CurrentWeight)
			}
			continue
		}
		u, ok := s.Unit(slot.AssignedUnit)
		if !ok {
			return notFoundErr(op, ErrUnitNotFound, "slot %s references unknown load unit %q", slot.ID, slot.AssignedUnit)
		}
		if slot.CurrentWeight != u.Weight {
			return validationErr(op, ErrInvalidInput, "slot %s weight %v does not match unit %s weight %v", slot.ID, slot.CurrentWeight, u.ID, u.Weight)
		}
		if placed[u.ID] {
			return validationErr(op, ErrDuplicateID, "load unit %s is assigned more than once", u.ID)
		}
		placed[u.ID] = true
	}

	seenUnits := make(map[UnitID]bool, len(s.units))
	for _, u := range s.units {
		if seenUnits[u.ID] {
			return validationErr(op, ErrDuplicateID, "load unit %q appears more than once", u.ID)
		}
		seenUnits[u.ID] = true
	}

	if len(s.unassigned)+len(placed) != len(s.units) {
		return validationErr(op, ErrInvalidInput, "unassigned pool has %d units, expected %d", len(s.unassigned), len(s.units)-len(placed))
	}
	for _, u := range s.unassigned {
		if placed[u.ID] || !seenUnits[u.ID] {
			return validationErr(op, ErrInvalidInput, "unassigned pool contains %s incorrectly", u.ID)
		}
	}
	return nil
}

// =============================================================================
// FIELD VALIDATION
// =============================================================================

func validateUnit(op string, i int, u LoadUnit) error {
	if u.ID == "" {
		return validationErr(op, ErrInvalidInput, "load unit [%d] has no id", i)
	}
	if !isFinite(u.Weight) || u.Weight <= 0 {
		return validationErr(op, ErrInvalidInput, "load unit %s weight must be a positive number", u.ID)
	}
	if !isFinite(u.Volume) || u.Volume < 0 {
		return validationErr(op, ErrInvalidInput, "load unit %s volume must be a non-negative number", u.ID)
	}
	return nil
}

func validateSlot(op string, i int, s Slot) error {
	if s.ID == "" {
		return validationErr(op, ErrInvalidInput, "slot [%d] has no id", i)
	}
	if !isFinite(s.X) || !isFinite(s.Y) {
		return validationErr(op, ErrInvalidInput, "slot %s coordinates must be finite", s.ID)
	}
	if !isFinite(s.MaxWeight) || s.MaxWeight <= 0 {
		return validationErr(op, ErrInvalidInput, "slot %s capacity must be a positive number", s.ID)
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
