package loadplan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/load-engine/loadplan"
)

// =============================================================================
// CENTER OF GRAVITY TESTS
// =============================================================================

func TestCenterOfGravity_WeightedMean(t *testing.T) {
	// GIVEN: 100 at x=10 and 100 at x=50
	// WHEN: Computing CG
	// THEN: CG is 30

	cg := loadplan.CenterOfGravity([]loadplan.Placement{
		{Weight: 100, X: 10},
		{Weight: 100, X: 50},
	})
	assert.InDelta(t, 30, cg, 1e-9)
}

func TestCenterOfGravity_Unequal(t *testing.T) {
	cg := loadplan.CenterOfGravity([]loadplan.Placement{
		{Weight: 300, X: 0},
		{Weight: 100, X: 100},
	})
	assert.InDelta(t, 25, cg, 1e-9)
}

func TestCenterOfGravity_NoWeightIsNeutral(t *testing.T) {
	assert.Equal(t, loadplan.NeutralCG, loadplan.CenterOfGravity(nil))
	assert.Equal(t, loadplan.NeutralCG, loadplan.CenterOfGravity([]loadplan.Placement{}))
}

func TestState_CGFromAssignments(t *testing.T) {
	// GIVEN: Two 100-weight units assigned to slots at x=10 and x=50
	// WHEN: Building the State
	// THEN: State CG is 30

	st := newState(t, loadplan.Snapshot{
		Units: []loadplan.LoadUnit{{ID: "A", Weight: 100}, {ID: "B", Weight: 100}},
		Slots: []loadplan.Slot{
			{ID: "P1", X: 10, MaxWeight: 500, AssignedUnit: "A"},
			{ID: "P2", X: 50, MaxWeight: 500, AssignedUnit: "B"},
		},
	})
	assert.Equal(t, 30.0, st.CG())
}

func TestState_CGRoundedToOneDecimal(t *testing.T) {
	// 100@0 + 200@10 -> 6.666...
	st := newState(t, loadplan.Snapshot{
		Units: []loadplan.LoadUnit{{ID: "A", Weight: 100}, {ID: "B", Weight: 200}},
		Slots: []loadplan.Slot{
			{ID: "P1", X: 0, MaxWeight: 500, AssignedUnit: "A"},
			{ID: "P2", X: 10, MaxWeight: 500, AssignedUnit: "B"},
		},
	})
	assert.Equal(t, 6.7, st.CG())
}

// =============================================================================
// SCORE TESTS
// =============================================================================

func TestScore(t *testing.T) {
	full := []loadplan.Slot{{ID: "A", AssignedUnit: "U1"}, {ID: "B", AssignedUnit: "U2"}}
	half := []loadplan.Slot{{ID: "A", AssignedUnit: "U1"}, {ID: "B"}}

	tests := []struct {
		name       string
		slots      []loadplan.Slot
		unassigned []loadplan.LoadUnit
		want       float64
	}{
		{"full, nothing waiting", full, nil, 100},
		{"half, nothing waiting", half, nil, 70},
		{"half, one priority waiting", half, []loadplan.LoadUnit{{ID: "P", Priority: true}}, 65},
		{"half, normal unit waiting", half, []loadplan.LoadUnit{{ID: "N"}}, 70},
		{"no slots", nil, nil, 40},
		{"allowance floors at zero", nil, []loadplan.LoadUnit{
			{ID: "1", Priority: true}, {ID: "2", Priority: true}, {ID: "3", Priority: true},
			{ID: "4", Priority: true}, {ID: "5", Priority: true}, {ID: "6", Priority: true},
			{ID: "7", Priority: true}, {ID: "8", Priority: true}, {ID: "9", Priority: true},
		}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, loadplan.Score(tt.slots, tt.unassigned))
		})
	}
}

func TestScore_Rounds(t *testing.T) {
	// 1 of 7 filled: 8.57 + 40 -> 49
	slots := make([]loadplan.Slot, 7)
	slots[0].AssignedUnit = "U"
	assert.Equal(t, 49.0, loadplan.Score(slots, nil))
}

// =============================================================================
// SUGGESTION TESTS
// =============================================================================

func TestSuggestion_PriorityFirst(t *testing.T) {
	slots := []loadplan.Slot{{ID: "A"}}
	pool := []loadplan.LoadUnit{{ID: "P1", Priority: true}, {ID: "N1"}, {ID: "P2", Priority: true}}

	assert.Equal(t, "Load priority units P1, P2 into available slots first.", loadplan.Suggestion(slots, pool))
}

func TestSuggestion_OpenSlotsIgnoreFixed(t *testing.T) {
	slots := []loadplan.Slot{{ID: "A"}, {ID: "B", AssignedUnit: "U"}, {ID: "C"}, {ID: "F", Fixed: true}}

	assert.Equal(t, "Slots still open: A, C. Loading can continue.", loadplan.Suggestion(slots, []loadplan.LoadUnit{{ID: "N"}}))
}

func TestSuggestion_Balanced(t *testing.T) {
	slots := []loadplan.Slot{{ID: "A", AssignedUnit: "U"}, {ID: "F", Fixed: true}}

	assert.Equal(t, "Layout is balanced. Keep the current loading plan.", loadplan.Suggestion(slots, nil))
}
