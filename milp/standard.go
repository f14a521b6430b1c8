/*
standard.go - LP relaxation in equality standard form

PURPOSE:
  gonum's simplex solves  minimize c·x  s.t.  A·x = b, x >= 0.
  This file rewrites a Problem (with some variables possibly fixed by
  branching) into that form, solves it, and maps the column values back to
  the original variable names.

VARIABLE MAPPING (value = offset + Σ sign·column):
  free        x = p - n                 two columns
  lower lb    x = lb + y                one column
  upper ub    x = ub - y                one column
  double      x = lb + y, y + s = ub-lb one column, one slack, one row
  fixed v     x = v                     no column

CONSTRAINT MAPPING (after substituting the variable mapping):
  fixed       a·y = rhs
  upper       a·y + s = rhs
  lower       a·y - s = rhs
  double      both rows
  free        dropped

CLEANUP BEFORE SIMPLEX:
  - Rows with no coefficient are dropped, or make the node infeasible when
    their right-hand side is non-zero.
  - Columns that appear in no row are dropped (value 0), or make the
    relaxation unbounded when their cost is negative.
  - Rows are scaled so their largest coefficient is 1, then negated when
    the right-hand side is negative.
*/
package milp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"
)

const (
	zeroTol        = 1e-12
	feasibilityTol = 1e-9
)

var (
	errRelaxInfeasible = errors.New("relaxation infeasible")
	errRelaxUnbounded  = errors.New("relaxation unbounded")
)

// varMap expresses an original variable through standard-form columns.
type varMap struct {
	offset float64
	cols   []int
	signs  []float64
}

type sparseRow map[int]float64

type standardForm struct {
	ncols    int
	rows     []sparseRow
	rhs      []float64
	cost     []float64
	constant float64
	vars     map[string]varMap
}

// relaxation is the optimum of one LP, in minimization sense.
type relaxation struct {
	objective float64
	values    map[string]float64
}

// =============================================================================
// BUILD
// =============================================================================

func toStandard(p *Problem, order []string, bounds map[string]Bounds) (*standardForm, error) {
	sf := &standardForm{vars: make(map[string]varMap, len(order))}
	for _, name := range order {
		vm, err := sf.mapVariable(bounds[name])
		if err != nil {
			return nil, err
		}
		sf.vars[name] = vm
	}
	for _, c := range p.Constraints {
		if err := sf.addConstraint(c); err != nil {
			return nil, err
		}
	}

	sign := 1.0
	if p.Objective.Direction == Maximize {
		sign = -1
	}
	coefs, constant := sf.expand(p.Objective.Terms)
	for col, v := range coefs {
		sf.cost[col] += sign * v
	}
	sf.constant = sign * constant
	return sf, nil
}

func (sf *standardForm) newColumn() int {
	sf.cost = append(sf.cost, 0)
	sf.ncols++
	return sf.ncols - 1
}

func (sf *standardForm) mapVariable(b Bounds) (varMap, error) {
	switch b.Type {
	case BoundFixed:
		return varMap{offset: b.Lower}, nil
	case BoundLower:
		return varMap{offset: b.Lower, cols: []int{sf.newColumn()}, signs: []float64{1}}, nil
	case BoundUpper:
		return varMap{offset: b.Upper, cols: []int{sf.newColumn()}, signs: []float64{-1}}, nil
	case BoundDouble:
		width := b.Upper - b.Lower
		if width < -feasibilityTol {
			return varMap{}, errRelaxInfeasible
		}
		if width <= feasibilityTol {
			return varMap{offset: b.Lower}, nil
		}
		col, slack := sf.newColumn(), sf.newColumn()
		if err := sf.addRow(sparseRow{col: 1, slack: 1}, width); err != nil {
			return varMap{}, err
		}
		return varMap{offset: b.Lower, cols: []int{col}, signs: []float64{1}}, nil
	default:
		pos, neg := sf.newColumn(), sf.newColumn()
		return varMap{cols: []int{pos, neg}, signs: []float64{1, -1}}, nil
	}
}

// expand substitutes the variable mapping into a linear expression,
// returning column coefficients and the constant part.
func (sf *standardForm) expand(terms []Term) (sparseRow, float64) {
	row := make(sparseRow, len(terms))
	constant := 0.0
	for _, t := range terms {
		vm := sf.vars[t.Var]
		constant += t.Coef * vm.offset
		for k, col := range vm.cols {
			row[col] += t.Coef * vm.signs[k]
		}
	}
	return row, constant
}

func (sf *standardForm) addConstraint(c Constraint) error {
	if c.Bounds.Type == BoundFree {
		return nil
	}
	row, constant := sf.expand(c.Terms)

	withSlack := func(lhs sparseRow, sign, rhs float64) error {
		out := make(sparseRow, len(lhs)+1)
		for col, v := range lhs {
			out[col] = v
		}
		out[sf.newColumn()] = sign
		return sf.addRow(out, rhs-constant)
	}

	switch c.Bounds.Type {
	case BoundFixed:
		return sf.addRow(row, c.Bounds.Lower-constant)
	case BoundUpper:
		return withSlack(row, 1, c.Bounds.Upper)
	case BoundLower:
		return withSlack(row, -1, c.Bounds.Lower)
	case BoundDouble:
		if c.Bounds.Upper-c.Bounds.Lower <= feasibilityTol {
			return sf.addRow(row, c.Bounds.Lower-constant)
		}
		if err := withSlack(row, -1, c.Bounds.Lower); err != nil {
			return err
		}
		return withSlack(row, 1, c.Bounds.Upper)
	}
	return fmt.Errorf("%w: constraint %q has unknown bound type", ErrInvalidProblem, c.Name)
}

func (sf *standardForm) addRow(row sparseRow, rhs float64) error {
	for col, v := range row {
		if math.Abs(v) <= zeroTol {
			delete(row, col)
		}
	}
	if len(row) == 0 {
		if math.Abs(rhs) > feasibilityTol {
			return errRelaxInfeasible
		}
		return nil
	}
	sf.rows = append(sf.rows, row)
	sf.rhs = append(sf.rhs, rhs)
	return nil
}

// =============================================================================
// SOLVE
// =============================================================================

func (sf *standardForm) solve(tol float64) (relaxation, error) {
	used := make([]bool, sf.ncols)
	for _, row := range sf.rows {
		for col := range row {
			used[col] = true
		}
	}
	var keep []int
	for col := 0; col < sf.ncols; col++ {
		if used[col] {
			keep = append(keep, col)
			continue
		}
		if sf.cost[col] < 0 {
			return relaxation{}, errRelaxUnbounded
		}
	}

	x := make([]float64, sf.ncols)
	objective := sf.constant
	if len(sf.rows) > 0 {
		dense := make(map[int]int, len(keep))
		for i, col := range keep {
			dense[col] = i
		}
		m, n := len(sf.rows), len(keep)
		data := make([]float64, m*n)
		b := make([]float64, m)
		for i, row := range sf.rows {
			line := data[i*n : (i+1)*n]
			for col, v := range row {
				line[dense[col]] = v
			}
			scale := 1 / floats.Norm(line, math.Inf(1))
			if sf.rhs[i] < 0 {
				scale = -scale
			}
			floats.Scale(scale, line)
			b[i] = scale * sf.rhs[i]
		}
		c := make([]float64, n)
		for i, col := range keep {
			c[i] = sf.cost[col]
		}

		opt, sol, err := simplex(c, mat.NewDense(m, n, data), b, tol)
		if err != nil {
			return relaxation{}, err
		}
		objective += opt
		for i, col := range keep {
			x[col] = sol[i]
		}
	}

	values := make(map[string]float64, len(sf.vars))
	for name, vm := range sf.vars {
		v := vm.offset
		for k, col := range vm.cols {
			v += vm.signs[k] * x[col]
		}
		values[name] = v
	}
	return relaxation{objective: objective, values: values}, nil
}

// simplex calls gonum and turns its panics (shape or rank violations)
// into errors.
func simplex(c []float64, a mat.Matrix, b []float64, tol float64) (opt float64, x []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			opt, x, err = 0, nil, fmt.Errorf("simplex: %v", r)
		}
	}()

	opt, x, err = lp.Simplex(c, a, b, tol, nil)
	switch {
	case err == nil:
		return opt, x, nil
	case errors.Is(err, lp.ErrInfeasible):
		return 0, nil, errRelaxInfeasible
	case errors.Is(err, lp.ErrUnbounded):
		return 0, nil, errRelaxUnbounded
	default:
		return 0, nil, fmt.Errorf("simplex: %w", err)
	}
}
