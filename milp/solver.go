/*
solver.go - Depth-first branch and bound over LP relaxations

ALGORITHM:
  1. Solve the LP relaxation of the node (binaries relaxed to [0, 1],
     binaries fixed by earlier branching substituted as constants).
  2. Prune when the relaxation is infeasible or its objective cannot beat
     the incumbent.
  3. If every binary is integral, the relaxation is the new incumbent.
  4. Otherwise branch on the most fractional binary. The child that rounds
     it to the nearest integer is explored first.

FAST PATHS:
  - Binaries inside a Σ x == 1 or Σ x <= 1 row of unit coefficients are
    already bounded above by that row, so their relaxation bound is x >= 0
    and the standard form skips the x <= 1 row and slack.
  - Problems shaped as "one option per row, minimize |Σ c·x − target|" are
    handed to the direct search in deviation.go unless Options.Generic.

OPTIMALITY GAP:
  A node is explored only when its bound beats the incumbent by more than
  Options.Gap (objective units). "optimal" therefore means no solution is
  better than the returned one by more than the gap. The direct search
  uses the same gap and also stops as soon as its objective is within it.

TERMINATION:
  The search ends when the stack is empty (status optimal or infeasible),
  when NodeLimit relaxations have been solved (status node_limit, with the
  incumbent if there is one), or when the context is done (ctx.Err()).
*/
package milp

import (
	"context"
	"errors"
	"fmt"
	"math"
	"maps"

	"go.uber.org/zap"
)

const pruneTol = 1e-9

// Options tunes BranchAndBound.
type Options struct {
	NodeLimit            int     // maximum relaxations solved per Solve
	Tolerance            float64 // simplex tolerance
	IntegralityTolerance float64 // distance from 0/1 still treated as integral
	SearchLimit          int     // maximum nodes of the direct deviation search
	Gap                  float64 // absolute optimality gap, in objective units
	Generic              bool    // always use LP branch and bound
}

func DefaultOptions() Options {
	return Options{
		NodeLimit:            200000,
		Tolerance:            1e-10,
		IntegralityTolerance: 1e-6,
		SearchLimit:          50_000_000,
		Gap:                  1e-4,
	}
}

// BranchAndBound is an exact MILP solver for problems whose integer
// variables are all binary.
type BranchAndBound struct {
	opts   Options
	logger *zap.Logger
}

// NewBranchAndBound creates a solver. Zero option fields take their defaults.
func NewBranchAndBound(opts Options, logger *zap.Logger) *BranchAndBound {
	def := DefaultOptions()
	if opts.NodeLimit <= 0 {
		opts.NodeLimit = def.NodeLimit
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = def.Tolerance
	}
	if opts.IntegralityTolerance <= 0 {
		opts.IntegralityTolerance = def.IntegralityTolerance
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = def.SearchLimit
	}
	if !(opts.Gap > 0) || math.IsInf(opts.Gap, 0) {
		opts.Gap = def.Gap
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BranchAndBound{opts: opts, logger: logger}
}

type node struct {
	fixed map[string]float64
	bound float64 // parent relaxation objective
}

func (n node) child(name string, value, bound float64) node {
	fixed := maps.Clone(n.fixed)
	if fixed == nil {
		fixed = make(map[string]float64, 1)
	}
	fixed[name] = value
	return node{fixed: fixed, bound: bound}
}

// Solve runs branch and bound to completion, to the node limit, or until
// ctx is done.
func (b *BranchAndBound) Solve(ctx context.Context, p *Problem) (*Solution, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	order := p.variables()
	base := p.effectiveBounds(order)
	binaries := uniqueNames(p.Binaries)

	if !b.opts.Generic {
		if m, ok := detectDeviation(p, order, base, binaries); ok {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return b.solveDeviation(ctx, p, m)
		}
	}
	relaxImpliedBounds(p, base, binaries)

	var (
		incumbent map[string]float64
		best      = math.Inf(1)
		nodes     int
		stack     = []node{{bound: math.Inf(-1)}}
	)

	for len(stack) > 0 && nodes < b.opts.NodeLimit {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n.bound >= best-b.prune() {
			continue
		}

		nodes++
		rel, err := b.relax(p, order, base, n.fixed)
		switch {
		case errors.Is(err, errRelaxInfeasible):
			continue
		case errors.Is(err, errRelaxUnbounded):
			return b.finish(p, &Solution{Status: StatusUnbounded, Nodes: nodes}), nil
		case err != nil:
			return nil, fmt.Errorf("milp: %s: node %d: %w", p.Name, nodes, err)
		}
		if rel.objective >= best-b.prune() {
			continue
		}

		name, value := b.mostFractional(binaries, rel.values, n.fixed)
		if name == "" {
			incumbent, best = rel.values, rel.objective
			b.logger.Debug("incumbent improved",
				zap.String("problem", p.Name),
				zap.Int("node", nodes),
				zap.Float64("objective", best),
			)
			continue
		}

		down, up := n.child(name, 0, rel.objective), n.child(name, 1, rel.objective)
		if value >= 0.5 {
			stack = append(stack, down, up)
		} else {
			stack = append(stack, up, down)
		}
	}

	sol := &Solution{Status: StatusOptimal, Nodes: nodes}
	switch {
	case len(stack) > 0:
		sol.Status = StatusNodeLimit
	case incumbent == nil:
		sol.Status = StatusInfeasible
	}
	if incumbent != nil {
		sol.Values = incumbent
		for _, name := range binaries {
			sol.Values[name] = math.Round(sol.Values[name])
		}
		sol.Objective = best
		if p.Objective.Direction == Maximize {
			sol.Objective = -best
		}
	}
	return b.finish(p, sol), nil
}

func (b *BranchAndBound) finish(p *Problem, sol *Solution) *Solution {
	b.logger.Debug("branch and bound finished",
		zap.String("problem", p.Name),
		zap.String("status", string(sol.Status)),
		zap.Int("nodes", sol.Nodes),
		zap.Float64("objective", sol.Objective),
	)
	return sol
}

func (b *BranchAndBound) relax(p *Problem, order []string, base map[string]Bounds, fixed map[string]float64) (relaxation, error) {
	bounds := base
	if len(fixed) > 0 {
		bounds = maps.Clone(base)
		for name, v := range fixed {
			bounds[name] = Exactly(v)
		}
	}
	sf, err := toStandard(p, order, bounds)
	if err != nil {
		return relaxation{}, err
	}
	return sf.solve(b.opts.Tolerance)
}

// mostFractional returns the unfixed binary farthest from an integer, and
// its relaxed value. The name is empty when all binaries are integral.
func (b *BranchAndBound) mostFractional(binaries []string, values, fixed map[string]float64) (string, float64) {
	var (
		pick     string
		pickVal  float64
		pickDist = b.opts.IntegralityTolerance
	)
	for _, name := range binaries {
		if _, ok := fixed[name]; ok {
			continue
		}
		v := values[name]
		dist := math.Abs(v - math.Round(v))
		if dist > pickDist {
			pick, pickVal, pickDist = name, v, dist
		}
	}
	return pick, pickVal
}

// prune is how much a node's bound must beat the incumbent by to be explored.
func (b *BranchAndBound) prune() float64 {
	return math.Max(pruneTol, b.opts.Gap)
}

// relaxImpliedBounds drops the upper bound of binaries that sit in a
// unit-coefficient row capped at 1.
func relaxImpliedBounds(p *Problem, bounds map[string]Bounds, binaries []string) {
	binary := make(map[string]bool, len(binaries))
	for _, name := range binaries {
		binary[name] = true
	}
	for _, c := range p.Constraints {
		capped := (c.Bounds.Type == BoundFixed && c.Bounds.Lower == 1) || (c.Bounds.Type == BoundUpper && c.Bounds.Upper == 1)
		if !capped || !unitRow(c, binary) {
			continue
		}
		for _, t := range c.Terms {
			bounds[t.Var] = AtLeast(0)
		}
	}
}

func uniqueNames(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
