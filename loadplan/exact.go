/*
exact.go - Globally optimal CG-balanced layout via MILP

PURPOSE:
  Builds a binary assignment model over eligible units (not pinned to a
  fixed slot) and movable slots, hands it to a Solver, and turns the
  solver's variable values back into a State.

MODEL:
  x_u{i}_p{j}   binary, 1 iff unit i sits in movable slot j
  cg_long       free, vehicle-wide longitudinal CG
  cg_dev        >= 0, deviation from target

  assign_uld_i:       Σ_j x[i,j] == 1
  position_cap_j:     Σ_i x[i,j] <= 1
  cg_balance:         W·cg_long − Σ w_i·X_j·x[i,j] == M_fixed
  cg_above_target:    cg_long − cg_dev <= target
  cg_below_target:   −cg_long − cg_dev <= −target

  minimize cg_dev

  W is the weight of every eligible unit plus the weight already pinned in
  fixed slots; M_fixed is the pinned moment. cg_long is therefore the CG of
  the whole loaded vehicle, the same value State.CG reports once the
  layout is applied. (unit, slot) pairs where the unit exceeds the slot's
  capacity get no variable.

RESULT HANDLING:
  non-optimal status                 -> infeasible
  x > 0.5 not covering every unit    -> incomplete_result
  solver error                       -> internal

SEE ALSO:
  - milp/: Solver implementation
  - session.go: Single-flight wrapper and layout persistence
*/
package loadplan

import (
	"context"
	"fmt"
	"math"

	"github.com/warp/load-engine/milp"
	"go.uber.org/zap"
)

const (
	// DefaultTargetCG is used when neither the caller nor the flight names a target.
	DefaultTargetCG = 22.0

	// DefaultCGTolerance is the deviation at which the exact score reaches 0.
	DefaultCGTolerance = 5.0

	modelName  = "cg_optimizer"
	cgVarName  = "cg_long"
	devVarName = "cg_dev"
)

// Solver solves a MILP description. *milp.BranchAndBound implements it.
type Solver interface {
	Solve(ctx context.Context, p *milp.Problem) (*milp.Solution, error)
}

// ExactResult is the outcome of a successful exact optimization.
type ExactResult struct {
	State     *State
	Layout    []LayoutItem // movable assignments chosen by the solver
	Target    float64
	CG        float64 // solver's cg_long
	PureCG    float64 // recomputed from the resulting State
	Deviation float64
	Score     float64 // 100 at zero deviation, 0 at or beyond the tolerance
	Touched   []SlotID
	JobID     string // set by Session when the layout is persisted
}

// ExactOptimizer finds the layout minimizing |CG − target|.
type ExactOptimizer struct {
	solver    Solver
	tolerance float64
	logger    *zap.Logger
}

// NewExactOptimizer creates an optimizer. A non-positive tolerance falls
// back to DefaultCGTolerance.
func NewExactOptimizer(solver Solver, tolerance float64, logger *zap.Logger) *ExactOptimizer {
	if tolerance <= 0 || !isFinite(tolerance) {
		tolerance = DefaultCGTolerance
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExactOptimizer{solver: solver, tolerance: tolerance, logger: logger}
}

// assignVar identifies the unit and slot behind one binary variable.
type assignVar struct {
	name string
	unit int // index into eligible units
	slot int // index into State slots
}

type exactModel struct {
	problem *milp.Problem
	units   []LoadUnit
	vars    []assignVar
}

// =============================================================================
// OPTIMIZE
// =============================================================================

// Optimize solves the model for the given State and target CG. The input
// State is not modified.
func (o *ExactOptimizer) Optimize(ctx context.Context, s *State, target float64) (*ExactResult, error) {
	const op = "optimize_exact"

	if !isFinite(target) {
		return nil, validationErr(op, ErrInvalidInput, "target CG must be a finite number")
	}
	model, err := buildExactModel(s, target)
	if err != nil {
		return nil, err
	}

	o.logger.Debug("solving exact model",
		zap.String("flight", s.Flight().Code),
		zap.Int("units", len(model.units)),
		zap.Int("variables", len(model.vars)),
		zap.Float64("target", target),
	)

	sol, err := o.solver.Solve(ctx, model.problem)
	if err != nil {
		return nil, internalErr(op, ErrSolverFailed, err)
	}
	if sol == nil || sol.Status != milp.StatusOptimal {
		status := "none"
		if sol != nil {
			status = string(sol.Status)
		}
		return nil, newError(KindInfeasible, op, ErrInfeasible, "solver finished with status %s", status)
	}

	slots, layout, err := model.extract(op, s, sol)
	if err != nil {
		return nil, err
	}

	var touched []SlotID
	for i, prev := range s.slots {
		if slots[i].AssignedUnit != prev.AssignedUnit {
			touched = append(touched, prev.ID)
		}
	}
	res, err := commit(s, op, slots, "", touched...)
	if err != nil {
		return nil, err
	}

	dev := max(0, sol.Value(devVarName))
	return &ExactResult{
		State:     res.State,
		Layout:    layout,
		Target:    target,
		CG:        sol.Value(cgVarName),
		PureCG:    CenterOfGravity(placementsOf(res.State.slots)),
		Deviation: dev,
		Score:     o.score(dev),
		Touched:   touched,
	}, nil
}

func (o *ExactOptimizer) score(dev float64) float64 {
	return math.Max(0, math.Min(100, 100-dev/o.tolerance*100))
}

// =============================================================================
// MODEL
// =============================================================================

func buildExactModel(s *State, target float64) (*exactModel, error) {
	const op = "optimize_exact"

	pinned := make(map[UnitID]bool)
	var movable []int
	totalWeight, fixedMoment := 0.0, 0.0
	for i, slot := range s.slots {
		if slot.Fixed {
			if !slot.IsEmpty() {
				pinned[slot.AssignedUnit] = true
				totalWeight += slot.CurrentWeight
				fixedMoment += slot.CurrentWeight * slot.X
			}
			continue
		}
		movable = append(movable, i)
	}

	var units []LoadUnit
	for _, u := range s.units {
		if !pinned[u.ID] {
			units = append(units, u)
			totalWeight += u.Weight
		}
	}
	if len(units) == 0 {
		return nil, validationErr(op, ErrInvalidInput, "no load units are eligible for optimization")
	}
	if len(units) > len(movable) {
		return nil, newError(KindInfeasible, op, ErrTooManyUnits, "%d load units cannot fit in %d movable slots", len(units), len(movable))
	}

	m := &exactModel{units: units}
	p := &milp.Problem{
		Name: modelName,
		Objective: milp.Objective{
			Name:      "deviation",
			Direction: milp.Minimize,
			Terms:     []milp.Term{{Var: devVarName, Coef: 1}},
		},
		Bounds: []milp.VarBound{
			{Var: cgVarName, Bounds: milp.Free()},
			{Var: devVarName, Bounds: milp.AtLeast(0)},
		},
	}

	unitTerms := make([][]milp.Term, len(units))
	slotTerms := make(map[int][]milp.Term, len(movable))
	balance := []milp.Term{{Var: cgVarName, Coef: totalWeight}}
	for i, u := range units {
		for j, idx := range movable {
			slot := s.slots[idx]
			if !slot.Fits(u) {
				continue
			}
			name := fmt.Sprintf("x_u%d_p%d", i, j)
			m.vars = append(m.vars, assignVar{name: name, unit: i, slot: idx})
			p.Binaries = append(p.Binaries, name)
			unitTerms[i] = append(unitTerms[i], milp.Term{Var: name, Coef: 1})
			slotTerms[j] = append(slotTerms[j], milp.Term{Var: name, Coef: 1})
			balance = append(balance, milp.Term{Var: name, Coef: -u.Weight * slot.X})
		}
	}

	for i, ts := range unitTerms {
		p.Constraints = append(p.Constraints, milp.Constraint{
			Name: fmt.Sprintf("assign_uld_%d", i), Terms: ts, Bounds: milp.Exactly(1),
		})
	}
	for j := range movable {
		if ts := slotTerms[j]; len(ts) > 0 {
			p.Constraints = append(p.Constraints, milp.Constraint{
				Name: fmt.Sprintf("position_capacity_%d", j), Terms: ts, Bounds: milp.AtMost(1),
			})
		}
	}
	p.Constraints = append(p.Constraints,
		milp.Constraint{Name: "cg_balance", Terms: balance, Bounds: milp.Exactly(fixedMoment)},
		milp.Constraint{
			Name:   "cg_above_target",
			Terms:  []milp.Term{{Var: cgVarName, Coef: 1}, {Var: devVarName, Coef: -1}},
			Bounds: milp.AtMost(target),
		},
		milp.Constraint{
			Name:   "cg_below_target",
			Terms:  []milp.Term{{Var: cgVarName, Coef: -1}, {Var: devVarName, Coef: -1}},
			Bounds: milp.AtMost(-target),
		},
	)
	m.problem = p
	return m, nil
}

// extract rebuilds the slot list from the solver values. Every eligible
// unit must land in exactly one slot and no slot may be used twice.
func (m *exactModel) extract(op string, s *State, sol *milp.Solution) ([]Slot, []LayoutItem, error) {
	slots := s.Slots()
	for i := range slots {
		if !slots[i].Fixed {
			slots[i].AssignedUnit = ""
		}
	}

	placed := make([]int, len(m.units))
	chosen := make(map[int]int, len(m.units)) // slot index -> unit index
	for _, v := range m.vars {
		if sol.Value(v.name) <= 0.5 {
			continue
		}
		placed[v.unit]++
		if _, dup := chosen[v.slot]; dup {
			return nil, nil, newError(KindIncompleteResult, op, ErrIncompleteResult, "slot %s chosen for more than one load unit", slots[v.slot].ID)
		}
		chosen[v.slot] = v.unit
		slots[v.slot].AssignedUnit = m.units[v.unit].ID
	}
	for i, n := range placed {
		if n != 1 {
			return nil, nil, newError(KindIncompleteResult, op, ErrIncompleteResult, "load unit %s placed %d times", m.units[i].ID, n)
		}
	}

	layout := make([]LayoutItem, 0, len(m.units))
	for idx, slot := range slots {
		ui, ok := chosen[idx]
		if !ok {
			continue
		}
		u := m.units[ui]
		layout = append(layout, LayoutItem{UnitID: u.ID, SlotID: slot.ID, Weight: u.Weight, X: slot.X, Y: slot.Y})
	}
	return slots, layout, nil
}
