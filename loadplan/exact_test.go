package loadplan_test

import (
	"context"
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/load-engine/factory"
	"github.com/warp/load-engine/loadplan"
	"github.com/warp/load-engine/milp"
)

// =============================================================================
// TEST SETUP
// =============================================================================

// threeByThree: units [1000, 2000, 3000], slots at x = [0, 50, 100].
func threeByThree() loadplan.Snapshot {
	return loadplan.Snapshot{
		Flight: loadplan.Flight{ID: 7, Code: "CX2025"},
		Units: []loadplan.LoadUnit{
			{ID: "U1", Weight: 1000},
			{ID: "U2", Weight: 2000},
			{ID: "U3", Weight: 3000},
		},
		Slots: []loadplan.Slot{
			{ID: "P0", X: 0, MaxWeight: 5000},
			{ID: "P50", X: 50, MaxWeight: 5000},
			{ID: "P100", X: 100, MaxWeight: 5000},
		},
	}
}

// bestDeviation enumerates every permutation of weights over positions.
func bestDeviation(weights, xs []float64, target float64) float64 {
	best := math.Inf(1)
	var walk func(i int, used []bool, moment, total float64)
	walk = func(i int, used []bool, moment, total float64) {
		if i == len(weights) {
			best = math.Min(best, math.Abs(moment/total-target))
			return
		}
		for j := range xs {
			if used[j] {
				continue
			}
			used[j] = true
			walk(i+1, used, moment+weights[i]*xs[j], total+weights[i])
			used[j] = false
		}
	}
	walk(0, make([]bool, len(xs)), 0, 0)
	return best
}

// stateBestDeviation enumerates every layout of the eligible units over
// the movable slots that respects capacity, counting pinned weight.
func stateBestDeviation(st *loadplan.State, target float64) float64 {
	var (
		movable         []loadplan.Slot
		units           []loadplan.LoadUnit
		pinned          = map[loadplan.UnitID]bool{}
		moment0, total0 float64
	)
	for _, s := range st.Slots() {
		if !s.Fixed {
			movable = append(movable, s)
			continue
		}
		if !s.IsEmpty() {
			pinned[s.AssignedUnit] = true
			moment0 += s.CurrentWeight * s.X
			total0 += s.CurrentWeight
		}
	}
	for _, u := range st.Units() {
		if !pinned[u.ID] {
			units = append(units, u)
			total0 += u.Weight
		}
	}

	best := math.Inf(1)
	used := make([]bool, len(movable))
	var walk func(i int, moment float64)
	walk = func(i int, moment float64) {
		if i == len(units) {
			best = math.Min(best, math.Abs(moment/total0-target))
			return
		}
		for j, s := range movable {
			if used[j] || !s.Fits(units[i]) {
				continue
			}
			used[j] = true
			walk(i+1, moment+units[i].Weight*s.X)
			used[j] = false
		}
	}
	walk(0, moment0)
	return best
}

func presetState(t *testing.T, code string) *loadplan.State {
	t.Helper()
	snaps, err := factory.NewSnapshotFactory().Presets()
	require.NoError(t, err)
	for _, snap := range snaps {
		if snap.Flight.Code == code {
			return newState(t, snap)
		}
	}
	t.Fatalf("preset %s not found", code)
	return nil
}

// =============================================================================
// OPTIMALITY TESTS
// =============================================================================

func TestExact_MatchesBruteForce(t *testing.T) {
	// GIVEN: Units [1000, 2000, 3000], slots x=[0, 50, 100], target 50
	// WHEN: Running the exact optimizer
	// THEN: Every unit placed once, no slot reused, deviation equals the
	//       brute-force minimum (25/3)

	st := newState(t, threeByThree())
	opt := loadplan.NewExactOptimizer(realSolver(), 0, nil)

	res, err := opt.Optimize(context.Background(), st, 50)
	require.NoError(t, err)

	require.Len(t, res.Layout, 3)
	units := map[loadplan.UnitID]bool{}
	slots := map[loadplan.SlotID]bool{}
	for _, item := range res.Layout {
		assert.False(t, units[item.UnitID], "unit %s placed twice", item.UnitID)
		assert.False(t, slots[item.SlotID], "slot %s reused", item.SlotID)
		units[item.UnitID], slots[item.SlotID] = true, true
	}
	assert.Len(t, units, 3)

	want := bestDeviation([]float64{1000, 2000, 3000}, []float64{0, 50, 100}, 50)
	assert.InDelta(t, 25.0/3, want, 1e-9)
	assert.LessOrEqual(t, res.Deviation, want+1e-6)
	assert.InDelta(t, want, math.Abs(res.PureCG-50), 1e-6, "reported deviation matches the layout")
	assert.InDelta(t, res.PureCG, res.CG, 1e-6)
	assert.Equal(t, 0.0, res.Score, "deviation beyond the default tolerance")
	assert.Empty(t, res.State.Unassigned())
	assert.NoError(t, res.State.CheckInvariants())
}

func TestExact_BruteForceAcrossTargets(t *testing.T) {
	weights := []float64{1200, 800, 2500, 400}
	xs := []float64{-20, 5, 30, 60, 75}

	snap := loadplan.Snapshot{}
	for i, w := range weights {
		snap.Units = append(snap.Units, loadplan.LoadUnit{ID: loadplan.UnitID(string(rune('A' + i))), Weight: w})
	}
	for i, x := range xs {
		snap.Slots = append(snap.Slots, loadplan.Slot{ID: loadplan.SlotID(string(rune('P' + i))), X: x, MaxWeight: 3000})
	}
	st := newState(t, snap)
	opt := loadplan.NewExactOptimizer(realSolver(), 0, nil)

	for _, target := range []float64{-5, 10, 22, 40, 90} {
		res, err := opt.Optimize(context.Background(), st, target)
		require.NoError(t, err, "target %v", target)

		want := bestDeviation(weights, xs, target)
		assert.InDelta(t, want, res.Deviation, 1e-6, "target %v", target)
		assert.InDelta(t, want, math.Abs(res.PureCG-target), 1e-6, "target %v", target)
	}
}

func TestExact_PresetMatchesBruteForce(t *testing.T) {
	// GIVEN: The CX2025 preset (one pinned unit, capacity-limited side slots)
	// WHEN: Optimizing across several targets
	// THEN: The deviation equals the exhaustive minimum and the layout
	//       achieves it

	st := presetState(t, "CX2025")
	opt := loadplan.NewExactOptimizer(realSolver(), 0, nil)

	for _, target := range []float64{15, 20, 22, 24.5, 28} {
		res, err := opt.Optimize(context.Background(), st, target)
		require.NoError(t, err, "target %v", target)

		want := stateBestDeviation(st, target)
		assert.InDelta(t, want, res.Deviation, milp.DefaultOptions().Gap, "target %v", target)
		assert.InDelta(t, res.Deviation, math.Abs(res.PureCG-target), 1e-6, "target %v", target)
		assert.NoError(t, res.State.CheckInvariants())
	}
}

func TestExact_EightUnitsInTenSlots(t *testing.T) {
	// GIVEN: 8 units of 500-3500 kg in 10 slots at x = 5..32
	// WHEN: Optimizing for target 22 with default solver options
	// THEN: Optimal, equal to the exhaustive minimum

	weights := []float64{2140, 870, 3320, 1560, 610, 2980, 1230, 3410}
	snap := loadplan.Snapshot{Flight: loadplan.Flight{ID: 9, Code: "CX0808"}}
	for i, w := range weights {
		snap.Units = append(snap.Units, loadplan.LoadUnit{ID: loadplan.UnitID(fmt.Sprintf("U%d", i+1)), Weight: w})
	}
	for i := range 10 {
		snap.Slots = append(snap.Slots, loadplan.Slot{ID: loadplan.SlotID(fmt.Sprintf("P%d", i+1)), X: float64(5 + 3*i), MaxWeight: 5000})
	}
	st := newState(t, snap)

	res, err := loadplan.NewExactOptimizer(realSolver(), 0, nil).Optimize(context.Background(), st, 22)
	require.NoError(t, err)

	assert.InDelta(t, stateBestDeviation(st, 22), res.Deviation, milp.DefaultOptions().Gap)
	assert.Len(t, res.Layout, len(weights))
	assert.Empty(t, res.State.Unassigned())
}

func TestExact_IntegerFlightsWithoutExactHit(t *testing.T) {
	// GIVEN: 11-12 units with integer kg weights in slots at integer
	//        stations, targets that no layout reaches exactly
	// WHEN: Optimizing with default solver options
	// THEN: A complete optimal layout whose CG sits within the tolerance

	tests := []struct {
		units, slots int
		target       float64
	}{
		{12, 14, 21.7},
		{12, 14, 18.1},
		{11, 13, 20.0003},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dx%d@%v", tt.units, tt.slots, tt.target), func(t *testing.T) {
			snap := loadplan.Snapshot{Flight: loadplan.Flight{ID: 11, Code: "CX1212"}}
			for i := range tt.units {
				snap.Units = append(snap.Units, loadplan.LoadUnit{
					ID:     loadplan.UnitID(fmt.Sprintf("U%d", i+1)),
					Weight: float64(1000 + 97*i*i%2500),
				})
			}
			for j := range tt.slots {
				snap.Slots = append(snap.Slots, loadplan.Slot{
					ID: loadplan.SlotID(fmt.Sprintf("P%d", j+1)), X: float64(5 + 2*j), MaxWeight: 5000,
				})
			}
			st := newState(t, snap)

			res, err := loadplan.NewExactOptimizer(realSolver(), 0, nil).Optimize(context.Background(), st, tt.target)
			require.NoError(t, err)

			assert.Len(t, res.Layout, tt.units)
			assert.Empty(t, res.State.Unassigned())
			assert.InDelta(t, res.Deviation, math.Abs(res.PureCG-tt.target), 1e-6)
			assert.Less(t, res.Deviation, loadplan.DefaultCGTolerance)
			assert.NoError(t, res.State.CheckInvariants())
		})
	}
}

func TestExact_PinnedWeightCountsTowardCG(t *testing.T) {
	// GIVEN: U4 (1500) pinned at x=50, three movable units, target 30
	// WHEN: Optimizing
	// THEN: The solver's CG is the vehicle-wide CG, pinned slot untouched

	st := newState(t, fixture())
	opt := loadplan.NewExactOptimizer(realSolver(), 0, nil)

	res, err := opt.Optimize(context.Background(), st, 30)
	require.NoError(t, err)

	assert.InDelta(t, res.PureCG, res.CG, 1e-6)
	assert.Equal(t, loadplan.UnitID("U4"), assignments(res.State)["F1"])
	for _, item := range res.Layout {
		assert.NotEqual(t, loadplan.SlotID("F1"), item.SlotID)
	}
	assert.NotContains(t, res.Touched, loadplan.SlotID("F1"))
}

func TestExact_RespectsCapacity(t *testing.T) {
	// GIVEN: P50 can only hold 1000
	// WHEN: Optimizing for target 50
	// THEN: Only U1 may sit at P50

	snap := threeByThree()
	snap.Slots[1].MaxWeight = 1000
	st := newState(t, snap)

	res, err := loadplan.NewExactOptimizer(realSolver(), 0, nil).Optimize(context.Background(), st, 50)
	require.NoError(t, err)

	assert.Equal(t, loadplan.UnitID("U1"), assignments(res.State)["P50"])
}

// =============================================================================
// FAILURE TESTS
// =============================================================================

func TestExact_TooManyUnitsSkipsSolver(t *testing.T) {
	// GIVEN: Four movable units and three movable slots
	// WHEN: Optimizing
	// THEN: Infeasible error and the solver is never called

	snap := threeByThree()
	snap.Units = append(snap.Units, loadplan.LoadUnit{ID: "U4", Weight: 10})
	st := newState(t, snap)
	solver := &fakeSolver{}

	_, err := loadplan.NewExactOptimizer(solver, 0, nil).Optimize(context.Background(), st, 50)

	requireKind(t, err, loadplan.KindInfeasible)
	assert.ErrorIs(t, err, loadplan.ErrTooManyUnits)
	assert.Zero(t, solver.calls)
}

func TestExact_NonOptimalStatusIsInfeasible(t *testing.T) {
	st := newState(t, threeByThree())
	solver := &fakeSolver{fn: func(context.Context, *milp.Problem) (*milp.Solution, error) {
		return &milp.Solution{Status: milp.StatusNodeLimit}, nil
	}}

	_, err := loadplan.NewExactOptimizer(solver, 0, nil).Optimize(context.Background(), st, 50)

	requireKind(t, err, loadplan.KindInfeasible)
	assert.ErrorIs(t, err, loadplan.ErrInfeasible)
}

func TestExact_UnitFitsNowhereIsInfeasible(t *testing.T) {
	snap := threeByThree()
	snap.Units[2].Weight = 9000
	st := newState(t, snap)

	_, err := loadplan.NewExactOptimizer(realSolver(), 0, nil).Optimize(context.Background(), st, 50)
	requireKind(t, err, loadplan.KindInfeasible)
}

func TestExact_IncompleteResult(t *testing.T) {
	// GIVEN: A solver that claims optimal but places nothing
	// WHEN: Optimizing
	// THEN: Incomplete-result error, no partial layout

	st := newState(t, threeByThree())
	solver := &fakeSolver{fn: func(context.Context, *milp.Problem) (*milp.Solution, error) {
		return &milp.Solution{Status: milp.StatusOptimal, Values: map[string]float64{}}, nil
	}}

	res, err := loadplan.NewExactOptimizer(solver, 0, nil).Optimize(context.Background(), st, 50)

	requireKind(t, err, loadplan.KindIncompleteResult)
	assert.ErrorIs(t, err, loadplan.ErrIncompleteResult)
	assert.Nil(t, res)
}

func TestExact_SlotChosenTwiceIsIncomplete(t *testing.T) {
	st := newState(t, threeByThree())
	solver := &fakeSolver{fn: func(context.Context, *milp.Problem) (*milp.Solution, error) {
		return &milp.Solution{Status: milp.StatusOptimal, Values: map[string]float64{
			"x_u0_p0": 1, "x_u1_p0": 1, "x_u2_p2": 1,
		}}, nil
	}}

	_, err := loadplan.NewExactOptimizer(solver, 0, nil).Optimize(context.Background(), st, 50)
	requireKind(t, err, loadplan.KindIncompleteResult)
}

func TestExact_SolverErrorIsInternal(t *testing.T) {
	st := newState(t, threeByThree())
	boom := errors.New("boom")
	solver := &fakeSolver{fn: func(context.Context, *milp.Problem) (*milp.Solution, error) {
		return nil, boom
	}}

	_, err := loadplan.NewExactOptimizer(solver, 0, nil).Optimize(context.Background(), st, 50)

	requireKind(t, err, loadplan.KindInternal)
	assert.ErrorIs(t, err, loadplan.ErrSolverFailed)
	assert.ErrorIs(t, err, boom)
}

func TestExact_RejectsBadInput(t *testing.T) {
	st := newState(t, threeByThree())
	opt := loadplan.NewExactOptimizer(&fakeSolver{}, 0, nil)

	_, err := opt.Optimize(context.Background(), st, math.NaN())
	requireKind(t, err, loadplan.KindValidation)

	// Only pinned units: nothing to optimize
	pinnedOnly := newState(t, loadplan.Snapshot{
		Units: []loadplan.LoadUnit{{ID: "A", Weight: 10}},
		Slots: []loadplan.Slot{{ID: "P", X: 1, MaxWeight: 10, AssignedUnit: "A", Fixed: true}},
	})
	_, err = opt.Optimize(context.Background(), pinnedOnly, 50)
	requireKind(t, err, loadplan.KindValidation)
}

// =============================================================================
// SCORE TESTS
// =============================================================================

func TestExact_ScoreFromDeviation(t *testing.T) {
	// GIVEN: A solver result with deviation 2.5 and tolerance 5
	// WHEN: Scoring
	// THEN: 100 - 100*2.5/5 = 50; beyond the tolerance the score is 0

	st := newState(t, threeByThree())
	withDev := func(dev float64) *fakeSolver {
		return &fakeSolver{fn: func(ctx context.Context, p *milp.Problem) (*milp.Solution, error) {
			sol, err := realSolver().Solve(ctx, p)
			if err == nil {
				sol.Values["cg_dev"] = dev
			}
			return sol, err
		}}
	}

	res, err := loadplan.NewExactOptimizer(withDev(2.5), 5, nil).Optimize(context.Background(), st, 50)
	require.NoError(t, err)
	assert.InDelta(t, 50, res.Score, 1e-9)

	res, err = loadplan.NewExactOptimizer(withDev(12), 5, nil).Optimize(context.Background(), st, 50)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Score)
}

func TestExact_ModelShape(t *testing.T) {
	// GIVEN: A 3x3 problem
	// WHEN: Building the model
	// THEN: 9 binaries, 3 unit rows, 3 slot rows, the balance row and two deviation rows

	st := newState(t, threeByThree())
	solver := &fakeSolver{}

	_, err := loadplan.NewExactOptimizer(solver, 0, nil).Optimize(context.Background(), st, 50)
	require.NoError(t, err)

	p := solver.last
	require.NotNil(t, p)
	assert.Len(t, p.Binaries, 9)
	assert.Len(t, p.Constraints, 9)
	assert.Equal(t, milp.Minimize, p.Objective.Direction)

	byName := map[string]milp.Constraint{}
	for _, c := range p.Constraints {
		byName[c.Name] = c
	}
	assert.Equal(t, milp.Exactly(1), byName["assign_uld_0"].Bounds)
	assert.Equal(t, milp.AtMost(1), byName["position_capacity_2"].Bounds)
	assert.Equal(t, milp.AtMost(50), byName["cg_above_target"].Bounds)
	assert.Equal(t, milp.AtMost(-50), byName["cg_below_target"].Bounds)
	assert.Equal(t, 6000.0, byName["cg_balance"].Terms[0].Coef)
}
