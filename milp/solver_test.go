package milp_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/load-engine/milp"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newSolver(t *testing.T) *milp.BranchAndBound {
	t.Helper()
	return milp.NewBranchAndBound(milp.DefaultOptions(), nil)
}

func terms(pairs ...any) []milp.Term {
	out := make([]milp.Term, 0, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		out = append(out, milp.Term{Var: pairs[i].(string), Coef: pairs[i+1].(float64)})
	}
	return out
}

// =============================================================================
// LP TESTS
// =============================================================================

func TestSolve_ContinuousLP(t *testing.T) {
	// GIVEN: max x + y s.t. x + 2y <= 4, 3x + y <= 6, x, y >= 0
	// WHEN: Solving
	// THEN: Optimum at x = 1.6, y = 1.2 with objective 2.8

	p := &milp.Problem{
		Name:      "lp",
		Objective: milp.Objective{Direction: milp.Maximize, Terms: terms("x", 1.0, "y", 1.0)},
		Constraints: []milp.Constraint{
			{Name: "c1", Terms: terms("x", 1.0, "y", 2.0), Bounds: milp.AtMost(4)},
			{Name: "c2", Terms: terms("x", 3.0, "y", 1.0), Bounds: milp.AtMost(6)},
		},
	}

	sol, err := newSolver(t).Solve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, milp.StatusOptimal, sol.Status)
	assert.InDelta(t, 2.8, sol.Objective, 1e-6)
	assert.InDelta(t, 1.6, sol.Value("x"), 1e-6)
	assert.InDelta(t, 1.2, sol.Value("y"), 1e-6)
}

func TestSolve_FreeVariableAndAbsoluteDeviation(t *testing.T) {
	// GIVEN: c free with c == 7, dev >= |c - 10|
	// WHEN: Minimizing dev
	// THEN: dev == 3, c == 7

	p := &milp.Problem{
		Objective: milp.Objective{Terms: terms("dev", 1.0)},
		Constraints: []milp.Constraint{
			{Name: "pin", Terms: terms("c", 1.0), Bounds: milp.Exactly(7)},
			{Name: "dev_pos", Terms: terms("c", 1.0, "dev", -1.0), Bounds: milp.AtMost(10)},
			{Name: "dev_neg", Terms: terms("c", -1.0, "dev", -1.0), Bounds: milp.AtMost(-10)},
		},
		Bounds: []milp.VarBound{{Var: "c", Bounds: milp.Free()}},
	}

	sol, err := newSolver(t).Solve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, milp.StatusOptimal, sol.Status)
	assert.InDelta(t, 3, sol.Value("dev"), 1e-6)
	assert.InDelta(t, 7, sol.Value("c"), 1e-6)
}

func TestSolve_NegativeFreeValue(t *testing.T) {
	// GIVEN: A free variable pinned below zero by a range constraint
	// WHEN: Minimizing it
	// THEN: The lower end of the range is returned

	p := &milp.Problem{
		Objective: milp.Objective{Terms: terms("z", 1.0)},
		Constraints: []milp.Constraint{
			{Name: "range", Terms: terms("z", 1.0), Bounds: milp.Between(-5, 3)},
		},
		Bounds: []milp.VarBound{{Var: "z", Bounds: milp.Free()}},
	}

	sol, err := newSolver(t).Solve(context.Background(), p)
	require.NoError(t, err)
	assert.InDelta(t, -5, sol.Value("z"), 1e-6)
	assert.InDelta(t, -5, sol.Objective, 1e-6)
}

func TestSolve_Infeasible(t *testing.T) {
	// GIVEN: x >= 5 and x <= 2
	// WHEN: Solving
	// THEN: Status infeasible, no values

	p := &milp.Problem{
		Objective: milp.Objective{Terms: terms("x", 1.0)},
		Constraints: []milp.Constraint{
			{Name: "lo", Terms: terms("x", 1.0), Bounds: milp.AtLeast(5)},
			{Name: "hi", Terms: terms("x", 1.0), Bounds: milp.AtMost(2)},
		},
	}

	sol, err := newSolver(t).Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, milp.StatusInfeasible, sol.Status)
	assert.Nil(t, sol.Values)
}

func TestSolve_Unbounded(t *testing.T) {
	// GIVEN: max x with only x >= 1
	// WHEN: Solving
	// THEN: Status unbounded

	p := &milp.Problem{
		Objective:   milp.Objective{Direction: milp.Maximize, Terms: terms("x", 1.0)},
		Constraints: []milp.Constraint{{Name: "lo", Terms: terms("x", 1.0), Bounds: milp.AtLeast(1)}},
	}

	sol, err := newSolver(t).Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, milp.StatusUnbounded, sol.Status)
}

// =============================================================================
// INTEGER TESTS
// =============================================================================

func TestSolve_Knapsack(t *testing.T) {
	// GIVEN: Items (value, weight) = (10,5) (7,4) (6,3) (2,1), capacity 8
	// WHEN: Maximizing value with binary picks
	// THEN: Picks items 1 and 3 for value 16; the LP optimum would be fractional

	p := &milp.Problem{
		Name:      "knapsack",
		Objective: milp.Objective{Direction: milp.Maximize, Terms: terms("a", 10.0, "b", 7.0, "c", 6.0, "d", 2.0)},
		Constraints: []milp.Constraint{
			{Name: "capacity", Terms: terms("a", 5.0, "b", 4.0, "c", 3.0, "d", 1.0), Bounds: milp.AtMost(8)},
		},
		Binaries: []string{"a", "b", "c", "d"},
	}

	sol, err := newSolver(t).Solve(context.Background(), p)
	require.NoError(t, err)

	assert.Equal(t, milp.StatusOptimal, sol.Status)
	assert.InDelta(t, 16, sol.Objective, 1e-6)
	assert.Equal(t, 1.0, sol.Value("a"))
	assert.Equal(t, 0.0, sol.Value("b"))
	assert.Equal(t, 1.0, sol.Value("c"))
	assert.Equal(t, 0.0, sol.Value("d"))
}

func TestSolve_AssignmentExactlyOne(t *testing.T) {
	// GIVEN: Two items, two places, cost matrix favoring the anti-diagonal
	// WHEN: Minimizing cost with exactly-one rows and at-most-one columns
	// THEN: Every item placed once on its cheap place

	p := &milp.Problem{
		Objective: milp.Objective{Terms: terms("x11", 5.0, "x12", 1.0, "x21", 1.0, "x22", 5.0)},
		Constraints: []milp.Constraint{
			{Name: "item1", Terms: terms("x11", 1.0, "x12", 1.0), Bounds: milp.Exactly(1)},
			{Name: "item2", Terms: terms("x21", 1.0, "x22", 1.0), Bounds: milp.Exactly(1)},
			{Name: "place1", Terms: terms("x11", 1.0, "x21", 1.0), Bounds: milp.AtMost(1)},
			{Name: "place2", Terms: terms("x12", 1.0, "x22", 1.0), Bounds: milp.AtMost(1)},
		},
		Binaries: []string{"x11", "x12", "x21", "x22"},
	}

	sol, err := newSolver(t).Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, milp.StatusOptimal, sol.Status)
	assert.InDelta(t, 2, sol.Objective, 1e-6)
	assert.Equal(t, 1.0, sol.Value("x12"))
	assert.Equal(t, 1.0, sol.Value("x21"))
}

func TestSolve_IntegerInfeasible(t *testing.T) {
	// GIVEN: a + b == 1.5 with binary a, b (LP feasible, integer infeasible)
	// WHEN: Solving
	// THEN: Status infeasible

	p := &milp.Problem{
		Objective:   milp.Objective{Terms: terms("a", 1.0)},
		Constraints: []milp.Constraint{{Name: "half", Terms: terms("a", 1.0, "b", 1.0), Bounds: milp.Exactly(1.5)}},
		Binaries:    []string{"a", "b"},
	}

	sol, err := newSolver(t).Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, milp.StatusInfeasible, sol.Status)
}

func TestSolve_NodeLimit(t *testing.T) {
	// GIVEN: A problem that needs branching and a node limit of 1
	// WHEN: Solving
	// THEN: Status node_limit

	p := &milp.Problem{
		Objective:   milp.Objective{Terms: terms("a", 1.0)},
		Constraints: []milp.Constraint{{Name: "half", Terms: terms("a", 1.0, "b", 1.0), Bounds: milp.Exactly(1.5)}},
		Binaries:    []string{"a", "b"},
	}

	solver := milp.NewBranchAndBound(milp.Options{NodeLimit: 1}, nil)
	sol, err := solver.Solve(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, milp.StatusNodeLimit, sol.Status)
	assert.Equal(t, 1, sol.Nodes)
}

func TestSolve_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &milp.Problem{Objective: milp.Objective{Terms: terms("x", 1.0)}}
	_, err := newSolver(t).Solve(ctx, p)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// VALIDATION TESTS
// =============================================================================

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		p    *milp.Problem
	}{
		{"nil problem", nil},
		{"unnamed constraint", &milp.Problem{Constraints: []milp.Constraint{{Terms: terms("x", 1.0), Bounds: milp.AtMost(1)}}}},
		{"duplicate constraint", &milp.Problem{Constraints: []milp.Constraint{
			{Name: "c", Terms: terms("x", 1.0), Bounds: milp.AtMost(1)},
			{Name: "c", Terms: terms("x", 1.0), Bounds: milp.AtMost(2)},
		}}},
		{"inverted range", &milp.Problem{Constraints: []milp.Constraint{{Name: "c", Terms: terms("x", 1.0), Bounds: milp.Between(2, 1)}}}},
		{"empty variable", &milp.Problem{Objective: milp.Objective{Terms: []milp.Term{{Coef: 1}}}}},
		{"empty binary", &milp.Problem{Binaries: []string{""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.p.Validate()
			assert.ErrorIs(t, err, milp.ErrInvalidProblem)
		})
	}
}
