/*
Package milp describes mixed-integer linear programs and solves them.

PURPOSE:
  A solver-neutral model format (objective, named constraints with bound
  types, per-variable bounds, a set of binary variables) plus a
  branch-and-bound solver that relaxes binaries and solves each node's LP
  with the gonum simplex implementation.

MODEL CONVENTIONS:
  - Variables exist by being named in the objective, a constraint, a
    bound or the binary set.
  - A variable without an explicit bound is non-negative (lower bound 0).
  - Binary variables are integer within [0, 1]; explicit bounds on them
    are ignored.

USAGE:
  p := &milp.Problem{
      Objective: milp.Objective{Direction: milp.Minimize, Terms: []milp.Term{{Var: "dev", Coef: 1}}},
      Constraints: []milp.Constraint{
          {Name: "pick_one", Terms: []milp.Term{{"a", 1}, {"b", 1}}, Bounds: milp.Exactly(1)},
      },
      Binaries: []string{"a", "b"},
  }
  sol, err := milp.NewBranchAndBound(milp.DefaultOptions(), logger).Solve(ctx, p)

SEE ALSO:
  - standard.go: Conversion to equality standard form
  - solver.go: Branch and bound
  - deviation.go: Direct search for assignment models with a deviation objective
*/
package milp

import (
	"errors"
	"fmt"
	"math"
)

// =============================================================================
// BOUNDS
// =============================================================================

type BoundType int

const (
	BoundFree   BoundType = iota // -inf < x < +inf
	BoundLower                   // lb <= x
	BoundUpper                   // x <= ub
	BoundDouble                  // lb <= x <= ub
	BoundFixed                   // x == lb
)

func (t BoundType) String() string {
	switch t {
	case BoundFree:
		return "free"
	case BoundLower:
		return "lower"
	case BoundUpper:
		return "upper"
	case BoundDouble:
		return "double"
	case BoundFixed:
		return "fixed"
	}
	return fmt.Sprintf("BoundType(%d)", int(t))
}

// Bounds restricts a variable or a constraint row.
type Bounds struct {
	Type  BoundType
	Lower float64
	Upper float64
}

func Free() Bounds { return Bounds{Type: BoundFree} }
func AtLeast(lb float64) Bounds { return Bounds{Type: BoundLower, Lower: lb} }
func AtMost(ub float64) Bounds { return Bounds{Type: BoundUpper, Upper: ub} }
func Between(lb, ub float64) Bounds { return Bounds{Type: BoundDouble, Lower: lb, Upper: ub} }
func Exactly(v float64) Bounds { return Bounds{Type: BoundFixed, Lower: v, Upper: v} }

// =============================================================================
// MODEL
// =============================================================================

type Direction int

const (
	Minimize Direction = iota
	Maximize
)

type Term struct {
	Var  string
	Coef float64
}

type Objective struct {
	Name      string
	Direction Direction
	Terms     []Term
}

type Constraint struct {
	Name   string
	Terms  []Term
	Bounds Bounds
}

type VarBound struct {
	Var    string
	Bounds Bounds
}

// Problem is a complete MILP description.
type Problem struct {
	Name        string
	Objective   Objective
	Constraints []Constraint
	Bounds      []VarBound
	Binaries    []string
}

// =============================================================================
// SOLUTION
// =============================================================================

type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusInfeasible Status = "infeasible"
	StatusUnbounded  Status = "unbounded"
	StatusNodeLimit  Status = "node_limit" // incumbent found, optimality unproven
)

// Solution carries the solver status and, when a feasible point was found,
// the value of every variable.
type Solution struct {
	Status    Status
	Objective float64
	Values    map[string]float64
	Nodes     int
}

// Value returns the value of a variable, zero when absent.
func (s *Solution) Value(name string) float64 {
	if s == nil || s.Values == nil {
		return 0
	}
	return s.Values[name]
}

// =============================================================================
// VALIDATION
// =============================================================================

// ErrInvalidProblem is returned by Validate and Solve for malformed models.
var ErrInvalidProblem = errors.New("milp: invalid problem")

// Validate checks names, coefficient finiteness and bound consistency.
func (p *Problem) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil problem", ErrInvalidProblem)
	}
	if err := validateTerms("objective", p.Objective.Terms); err != nil {
		return err
	}
	names := make(map[string]bool, len(p.Constraints))
	for i, c := range p.Constraints {
		if c.Name == "" {
			return fmt.Errorf("%w: constraint [%d] has no name", ErrInvalidProblem, i)
		}
		if names[c.Name] {
			return fmt.Errorf("%w: constraint %q declared twice", ErrInvalidProblem, c.Name)
		}
		names[c.Name] = true
		if err := validateTerms(c.Name, c.Terms); err != nil {
			return err
		}
		if err := validateBounds(c.Name, c.Bounds); err != nil {
			return err
		}
	}
	for _, vb := range p.Bounds {
		if vb.Var == "" {
			return fmt.Errorf("%w: bound without variable name", ErrInvalidProblem)
		}
		if err := validateBounds(vb.Var, vb.Bounds); err != nil {
			return err
		}
	}
	for _, name := range p.Binaries {
		if name == "" {
			return fmt.Errorf("%w: empty binary variable name", ErrInvalidProblem)
		}
	}
	return nil
}

func validateTerms(where string, terms []Term) error {
	for _, t := range terms {
		if t.Var == "" {
			return fmt.Errorf("%w: %s has a term without variable", ErrInvalidProblem, where)
		}
		if math.IsNaN(t.Coef) || math.IsInf(t.Coef, 0) {
			return fmt.Errorf("%w: %s coefficient of %s is not finite", ErrInvalidProblem, where, t.Var)
		}
	}
	return nil
}

func validateBounds(where string, b Bounds) error {
	finite := func(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
	switch b.Type {
	case BoundFree:
	case BoundLower, BoundFixed:
		if !finite(b.Lower) {
			return fmt.Errorf("%w: %s lower bound is not finite", ErrInvalidProblem, where)
		}
	case BoundUpper:
		if !finite(b.Upper) {
			return fmt.Errorf("%w: %s upper bound is not finite", ErrInvalidProblem, where)
		}
	case BoundDouble:
		if !finite(b.Lower) || !finite(b.Upper) {
			return fmt.Errorf("%w: %s bounds are not finite", ErrInvalidProblem, where)
		}
		if b.Upper < b.Lower {
			return fmt.Errorf("%w: %s upper bound below lower bound", ErrInvalidProblem, where)
		}
	default:
		return fmt.Errorf("%w: %s has unknown bound type %d", ErrInvalidProblem, where, int(b.Type))
	}
	return nil
}

// variables lists every variable name in order of first appearance.
func (p *Problem) variables() []string {
	seen := make(map[string]bool)
	var order []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			order = append(order, name)
		}
	}
	for _, t := range p.Objective.Terms {
		add(t.Var)
	}
	for _, c := range p.Constraints {
		for _, t := range c.Terms {
			add(t.Var)
		}
	}
	for _, vb := range p.Bounds {
		add(vb.Var)
	}
	for _, name := range p.Binaries {
		add(name)
	}
	return order
}

// effectiveBounds resolves the bound of every variable: explicit bounds,
// then [0,1] for binaries, else non-negative.
func (p *Problem) effectiveBounds(order []string) map[string]Bounds {
	bounds := make(map[string]Bounds, len(order))
	for _, name := range order {
		bounds[name] = AtLeast(0)
	}
	for _, vb := range p.Bounds {
		bounds[vb.Var] = vb.Bounds
	}
	for _, name := range p.Binaries {
		bounds[name] = Between(0, 1)
	}
	return bounds
}
