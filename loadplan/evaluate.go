/*
evaluate.go - Pure functions derived from an assignment

PURPOSE:
  The three read-side calculations every State carries:
  - CenterOfGravity: weighted-average longitudinal position of loaded mass
  - Score: 0-100 quality from occupancy and waiting priority units
  - Suggestion: rule-based advisory text

  All three are pure and O(n). State recomputes them from scratch after
  every transition so they can never drift from the assignment data.

NEUTRAL CG:
  With no weight loaded there is no center of gravity. NeutralCG (50.0)
  is reported instead, the middle of the 0-100 station range used by the
  slot tables.

SCORE FORMULA:
  occupancy = filled slots / total slots
  score     = round(occupancy*60 + max(0, 40 - 5*waiting priority units))
  clamped to [0, 100]

SEE ALSO:
  - state.go: Calls these after each transition
*/
package loadplan

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// NeutralCG is the CG reported when no weight is loaded.
const NeutralCG = 50.0

const (
	occupancyWeight     = 60.0
	priorityAllowance   = 40.0
	priorityWaitPenalty = 5.0
)

// =============================================================================
// CENTER OF GRAVITY
// =============================================================================

// CenterOfGravity returns sum(w*x)/sum(w), or NeutralCG when sum(w) is zero.
func CenterOfGravity(placements []Placement) float64 {
	weights := make([]float64, len(placements))
	xs := make([]float64, len(placements))
	for i, p := range placements {
		weights[i] = p.Weight
		xs[i] = p.X
	}
	if floats.Sum(weights) == 0 {
		return NeutralCG
	}
	return stat.Mean(xs, weights)
}

// placementsOf collects the loaded mass of every assigned slot.
func placementsOf(slots []Slot) []Placement {
	placements := make([]Placement, 0, len(slots))
	for _, s := range slots {
		if s.IsEmpty() {
			continue
		}
		placements = append(placements, Placement{Weight: s.CurrentWeight, X: s.X})
	}
	return placements
}

// =============================================================================
// SCORE
// =============================================================================

// Score rates a layout from slot occupancy and unassigned priority units.
func Score(slots []Slot, unassigned []LoadUnit) float64 {
	filled := 0
	for _, s := range slots {
		if !s.IsEmpty() {
			filled++
		}
	}
	occupancy := 0.0
	if len(slots) > 0 {
		occupancy = float64(filled) / float64(len(slots))
	}

	waiting := 0
	for _, u := range unassigned {
		if u.Priority {
			waiting++
		}
	}
	balance := math.Max(0, priorityAllowance-priorityWaitPenalty*float64(waiting))

	score := math.Round(occupancy*occupancyWeight + balance)
	return math.Min(100, math.Max(0, score))
}

// =============================================================================
// SUGGESTION
// =============================================================================

// Suggestion returns the advisory for the current layout. Rules, in order:
// waiting priority units, then empty movable slots, then balanced.
func Suggestion(slots []Slot, unassigned []LoadUnit) string {
	var priority []string
	for _, u := range unassigned {
		if u.Priority {
			priority = append(priority, string(u.ID))
		}
	}
	if len(priority) > 0 {
		return fmt.Sprintf("Load priority units %s into available slots first.", strings.Join(priority, ", "))
	}

	var open []string
	for _, s := range slots {
		if s.IsEmpty() && !s.Fixed {
			open = append(open, string(s.ID))
		}
	}
	if len(open) > 0 {
		return fmt.Sprintf("Slots still open: %s. Loading can continue.", strings.Join(open, ", "))
	}

	return "Layout is balanced. Keep the current loading plan."
}
