/*
heuristic.go - Greedy left/right weight balancing

PURPOSE:
  A fast, solver-free "one-click" layout. It balances weight between the
  two longitudinal halves of the hold; it does NOT minimize deviation from
  an arbitrary target CG the way the exact optimizer does.

ALGORITHM:
  1. Keep fixed slots as they are; clear every movable slot.
  2. Split movable slots at Split (x <= split is left, x > split is right),
     each side sorted by lateral coordinate y.
  3. Sort every unit not pinned to a fixed slot by weight, heaviest first.
  4. Put each unit on the side with the lower cumulative weight (ties go
     left), in that side's first unused slot able to hold it. If that side
     has no such slot, use the other side. If neither has one, the unit
     stays in the pool.
  5. Re-derive the State and report the slots whose assignment changed.

  O(n log n) for sorting; slot selection is linear per side.

SPLIT:
  HeuristicOptions.Split overrides the split coordinate. When unset, the
  midpoint of the movable slots' x-range is used.
*/
package loadplan

import (
	"cmp"
	"fmt"
	"slices"
)

// HeuristicOptions tunes Balance.
type HeuristicOptions struct {
	Split *float64 // nil = midpoint of movable slot x-range
}

type side struct {
	slots []int // indexes into the slot list, sorted by y
	used  []bool
	load  float64
}

// firstFit returns the position in side.slots of the first unused slot
// able to hold the unit, or -1.
func (sd *side) firstFit(slots []Slot, u LoadUnit) int {
	for i, idx := range sd.slots {
		if !sd.used[i] && slots[idx].Fits(u) {
			return i
		}
	}
	return -1
}

// Balance computes a weight-balanced layout for every unit not pinned to a
// fixed slot.
func Balance(s *State, opts HeuristicOptions) (Result, error) {
	const op = "optimize_heuristic"

	slots := s.Slots()
	pinned := make(map[UnitID]bool)
	var movable []int
	for i := range slots {
		if slots[i].Fixed {
			if !slots[i].IsEmpty() {
				pinned[slots[i].AssignedUnit] = true
			}
			continue
		}
		slots[i].AssignedUnit = ""
		movable = append(movable, i)
	}

	split := splitPoint(slots, movable, opts.Split)
	left, right := &side{}, &side{}
	for _, idx := range movable {
		if slots[idx].X <= split {
			left.slots = append(left.slots, idx)
		} else {
			right.slots = append(right.slots, idx)
		}
	}
	for _, sd := range []*side{left, right} {
		slices.SortStableFunc(sd.slots, func(a, b int) int { return cmp.Compare(slots[a].Y, slots[b].Y) })
		sd.used = make([]bool, len(sd.slots))
	}

	candidates := make([]LoadUnit, 0, len(s.units))
	for _, u := range s.units {
		if !pinned[u.ID] {
			candidates = append(candidates, u)
		}
	}
	slices.SortStableFunc(candidates, func(a, b LoadUnit) int { return cmp.Compare(b.Weight, a.Weight) })

	placed := 0
	for _, u := range candidates {
		li, ri := left.firstFit(slots, u), right.firstFit(slots, u)
		var target *side
		var pos int
		switch {
		case li < 0 && ri < 0:
			continue
		case ri < 0:
			target, pos = left, li
		case li < 0:
			target, pos = right, ri
		case left.load <= right.load:
			target, pos = left, li
		default:
			target, pos = right, ri
		}

		target.used[pos] = true
		target.load += u.Weight
		slots[target.slots[pos]].AssignedUnit = u.ID
		placed++
	}

	var touched []SlotID
	for i, prev := range s.slots {
		if slots[i].AssignedUnit != prev.AssignedUnit {
			touched = append(touched, prev.ID)
		}
	}

	return commit(s, op, slots,
		fmt.Sprintf("Balanced layout applied: %d of %d movable units placed (left %.0f, right %.0f)", placed, len(candidates), left.load, right.load),
		touched...)
}

func splitPoint(slots []Slot, movable []int, override *float64) float64 {
	if override != nil {
		return *override
	}
	if len(movable) == 0 {
		return 0
	}
	lo, hi := slots[movable[0]].X, slots[movable[0]].X
	for _, idx := range movable[1:] {
		lo = min(lo, slots[idx].X)
		hi = max(hi, slots[idx].X)
	}
	return (lo + hi) / 2
}
