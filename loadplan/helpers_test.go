package loadplan_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/warp/load-engine/loadplan"
	"github.com/warp/load-engine/milp"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// fixture: four movable slots (two each side of x=50), one fixed slot at
// x=50 pinning U4, and three units in the pool (U3 is priority).
func fixture() loadplan.Snapshot {
	return loadplan.Snapshot{
		Flight: loadplan.Flight{ID: 1, Code: "CX2025"},
		Units: []loadplan.LoadUnit{
			{ID: "U1", Weight: 1000, Type: loadplan.UnitTypeAKE},
			{ID: "U2", Weight: 2000, Type: loadplan.UnitTypeAKE},
			{ID: "U3", Weight: 3000, Type: loadplan.UnitTypeAMA, Priority: true},
			{ID: "U4", Weight: 1500, Type: loadplan.UnitTypeAKE},
		},
		Slots: []loadplan.Slot{
			{ID: "S1", X: 10, MaxWeight: 5000},
			{ID: "S2", X: 20, MaxWeight: 5000},
			{ID: "S3", X: 80, MaxWeight: 5000},
			{ID: "S4", X: 90, MaxWeight: 5000},
			{ID: "F1", X: 50, MaxWeight: 5000, AssignedUnit: "U4", Fixed: true},
		},
	}
}

func newState(t *testing.T, snap loadplan.Snapshot) *loadplan.State {
	t.Helper()
	st, err := loadplan.NewState(snap)
	require.NoError(t, err)
	return st
}

func mustApply(t *testing.T, st *loadplan.State, m loadplan.Mutation) *loadplan.State {
	t.Helper()
	res, err := loadplan.Apply(st, m)
	require.NoError(t, err)
	require.NoError(t, res.State.CheckInvariants())
	return res.State
}

func assignments(st *loadplan.State) map[loadplan.SlotID]loadplan.UnitID {
	out := make(map[loadplan.SlotID]loadplan.UnitID)
	for _, s := range st.Slots() {
		out[s.ID] = s.AssignedUnit
	}
	return out
}

func realSolver() *milp.BranchAndBound {
	return milp.NewBranchAndBound(milp.DefaultOptions(), nil)
}

// fakeSolver counts calls and delegates to fn.
type fakeSolver struct {
	calls int
	last  *milp.Problem
	fn    func(ctx context.Context, p *milp.Problem) (*milp.Solution, error)
}

func (f *fakeSolver) Solve(ctx context.Context, p *milp.Problem) (*milp.Solution, error) {
	f.calls++
	f.last = p
	if f.fn == nil {
		return realSolver().Solve(ctx, p)
	}
	return f.fn(ctx, p)
}

func requireKind(t *testing.T, err error, kind loadplan.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, loadplan.KindOf(err), "error: %v", err)
}
