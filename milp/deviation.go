/*
deviation.go - Direct search for assignment models with an absolute-deviation objective

PURPOSE:
  "Place every item exactly once and keep a weighted sum close to a target"
  has an LP relaxation that is almost always zero, so branch and bound over
  relaxations hardly prunes and each node pays for a full simplex. When a
  Problem has that shape, Solve enumerates choices directly and bounds every
  partial assignment by the interval its remaining rows can still reach.

RECOGNIZED SHAPE:
  choice rows      Σ x == 1   binaries only, coefficient 1, one per binary
  capacity rows    Σ x <= 1   binaries only, coefficient 1, at most one per binary
  link row         a·v + Σ c_k·x_k == M        v free, not binary
  deviation rows   s·v − e·d <= r,  −s'·v − e'·d <= r'   (e, e' > 0)
  objective        minimize k·d,  k > 0,  d >= 0 or free

  After dividing each deviation row by its d coefficient both rows must
  read σ·(v − t) <= d and σ·(t − v) <= d for one σ > 0 and one t. Then
  d = σ·|v − t| at the optimum and minimizing it is minimizing
  |Σ c_k·x_k − (M − a·t)|. Anything else falls back to branch and bound.

BOUNDS:
  - Independent: each remaining row adds [min, max] of its coefficients
    over options whose capacity row is still free.
  - Rearrangement: when every coefficient factors as c = α(row)·β(capacity),
    the extreme sums over injective completions come from pairing sorted
    α with sorted β. Both intervals are relaxations; the search uses their
    intersection.

OPTIMALITY GAP:
  Options.Gap is converted from objective units to link-row units
  (× |a| / (k·σ)). A partial assignment is pruned when its bound is within
  the gap of the incumbent, and the search stops once the incumbent itself
  is within the gap of the target. With integer weights and stations the
  reachable sums are integers, so without a gap the search would have to
  exhaust every near-tie of a non-zero optimum.

SYMMETRY:
  Capacity rows with identical coefficients in every choice row are
  interchangeable. Each node tries only one free member of such a class.
*/
package milp

import (
	"context"
	"errors"
	"math"
	"slices"

	"go.uber.org/zap"
)

const (
	factorTol  = 1e-9
	checkEvery = 4096
)

var (
	errSearchLimit = errors.New("search limit reached")
	errSearchExact = errors.New("deviation within the optimality gap")
)

type choiceOption struct {
	name     string
	coef     float64
	capacity int // -1 when the binary has no capacity row
}

type choiceRow struct {
	options []choiceOption
	alpha   float64
}

// deviationModel is a Problem recognized as minimizing |Σ c·x − target|
// over one option per choice row.
type deviationModel struct {
	rows       []choiceRow
	capacities int
	binaries   []string

	linkVar, devVar string
	linkCoef        float64 // a
	linkRHS         float64 // M
	slope           float64 // σ
	center          float64 // t
	objCoef         float64 // k
	target          float64 // M − a·t

	factored bool
	beta     []float64 // per capacity row, when factored
	class    []int     // per capacity row, symmetry class
}

// =============================================================================
// DETECTION
// =============================================================================

// unitRow reports whether every term is a distinct binary with coefficient 1.
func unitRow(c Constraint, binary map[string]bool) bool {
	if len(c.Terms) == 0 {
		return false
	}
	seen := make(map[string]bool, len(c.Terms))
	for _, t := range c.Terms {
		if !binary[t.Var] || t.Coef != 1 || seen[t.Var] {
			return false
		}
		seen[t.Var] = true
	}
	return true
}

func hasVar(c Constraint, name string) bool {
	for _, t := range c.Terms {
		if t.Var == name {
			return true
		}
	}
	return false
}

func detectDeviation(p *Problem, order []string, bounds map[string]Bounds, binaries []string) (*deviationModel, bool) {
	if p.Objective.Direction != Minimize || len(p.Objective.Terms) != 1 || len(binaries) == 0 {
		return nil, false
	}
	obj := p.Objective.Terms[0]
	binary := make(map[string]bool, len(binaries))
	for _, name := range binaries {
		binary[name] = true
	}
	if obj.Coef <= 0 || binary[obj.Var] {
		return nil, false
	}
	m := &deviationModel{devVar: obj.Var, objCoef: obj.Coef, binaries: binaries}

	var choices, capacities, links, devs []Constraint
	for _, c := range p.Constraints {
		switch {
		case unitRow(c, binary) && c.Bounds.Type == BoundFixed && c.Bounds.Lower == 1:
			choices = append(choices, c)
		case unitRow(c, binary) && c.Bounds.Type == BoundUpper && c.Bounds.Upper == 1:
			capacities = append(capacities, c)
		case hasVar(c, m.devVar):
			devs = append(devs, c)
		default:
			links = append(links, c)
		}
	}
	if len(choices) == 0 || len(links) != 1 || len(devs) != 2 {
		return nil, false
	}

	// link row: exactly one continuous variable, the rest binaries
	link := links[0]
	if link.Bounds.Type != BoundFixed {
		return nil, false
	}
	coef := make(map[string]float64, len(link.Terms))
	for _, t := range link.Terms {
		if binary[t.Var] {
			coef[t.Var] += t.Coef
			continue
		}
		if m.linkVar != "" && m.linkVar != t.Var {
			return nil, false
		}
		m.linkVar = t.Var
		m.linkCoef += t.Coef
	}
	if m.linkVar == "" || m.linkVar == m.devVar || math.Abs(m.linkCoef) <= zeroTol {
		return nil, false
	}
	m.linkRHS = link.Bounds.Lower

	if !m.readDeviationRows(devs) {
		return nil, false
	}

	// only the link, deviation and binary variables may exist
	for _, name := range order {
		if name != m.linkVar && name != m.devVar && !binary[name] {
			return nil, false
		}
	}
	if bounds[m.linkVar].Type != BoundFree {
		return nil, false
	}
	switch b := bounds[m.devVar]; b.Type {
	case BoundFree:
	case BoundLower:
		if b.Lower > 0 {
			return nil, false
		}
	default:
		return nil, false
	}

	capOf := make(map[string]int, len(binaries))
	for j, c := range capacities {
		for _, t := range c.Terms {
			if _, dup := capOf[t.Var]; dup {
				return nil, false
			}
			capOf[t.Var] = j
		}
	}
	m.capacities = len(capacities)

	placed := make(map[string]bool, len(binaries))
	for _, c := range choices {
		row := choiceRow{options: make([]choiceOption, 0, len(c.Terms))}
		for _, t := range c.Terms {
			if placed[t.Var] {
				return nil, false
			}
			placed[t.Var] = true
			capacity, ok := capOf[t.Var]
			if !ok {
				capacity = -1
			}
			row.options = append(row.options, choiceOption{name: t.Var, coef: coef[t.Var], capacity: capacity})
		}
		m.rows = append(m.rows, row)
	}
	if len(placed) != len(binaries) {
		return nil, false
	}

	m.target = m.linkRHS - m.linkCoef*m.center
	m.factor()
	m.classify()
	return m, true
}

// readDeviationRows checks that the two rows bound d from below by
// σ·|v − t| and records σ and t.
func (m *deviationModel) readDeviationRows(rows []Constraint) bool {
	type normalized struct{ slope, rhs float64 }
	var up, down *normalized
	for _, c := range rows {
		if c.Bounds.Type != BoundUpper || len(c.Terms) != 2 {
			return false
		}
		var sv, sd float64
		for _, t := range c.Terms {
			switch t.Var {
			case m.linkVar:
				sv += t.Coef
			case m.devVar:
				sd += t.Coef
			default:
				return false
			}
		}
		if sd >= 0 || sv == 0 {
			return false
		}
		n := &normalized{slope: sv / -sd, rhs: c.Bounds.Upper / -sd}
		if n.slope > 0 {
			up = n
		} else {
			down = n
		}
	}
	if up == nil || down == nil {
		return false
	}
	if math.Abs(up.slope+down.slope) > factorTol*math.Max(1, up.slope) {
		return false
	}
	m.slope = up.slope
	m.center = up.rhs / up.slope
	if other := -down.rhs / m.slope; math.Abs(other-m.center) > factorTol*math.Max(1, math.Abs(m.center)) {
		return false
	}
	return true
}

// factor looks for α per row and β per capacity with c = α·β on every
// option. It requires every option to have a capacity row.
func (m *deviationModel) factor() {
	for _, row := range m.rows {
		for _, o := range row.options {
			if o.capacity < 0 {
				return
			}
		}
	}
	alpha := make([]float64, len(m.rows))
	beta := make([]float64, m.capacities)
	rowSet := make([]bool, len(m.rows))
	capSet := make([]bool, m.capacities)
	byCap := make([][]int, m.capacities)
	for i, row := range m.rows {
		for _, o := range row.options {
			byCap[o.capacity] = append(byCap[o.capacity], i)
		}
	}

	// Walk the row/capacity graph through non-zero coefficients. Each
	// component is scaled from its first row with α = 1.
	for root := range m.rows {
		if rowSet[root] {
			continue
		}
		rowSet[root], alpha[root] = true, 1
		queue := []int{root}
		for len(queue) > 0 {
			i := queue[0]
			queue = queue[1:]
			for _, o := range m.rows[i].options {
				if capSet[o.capacity] || alpha[i] == 0 || o.coef == 0 {
					continue
				}
				capSet[o.capacity], beta[o.capacity] = true, o.coef/alpha[i]
				for _, k := range byCap[o.capacity] {
					if rowSet[k] {
						continue
					}
					for _, ok := range m.rows[k].options {
						if ok.capacity == o.capacity {
							rowSet[k], alpha[k] = true, ok.coef/beta[o.capacity]
							queue = append(queue, k)
							break
						}
					}
				}
			}
		}
	}

	for i, row := range m.rows {
		for _, o := range row.options {
			want := alpha[i] * beta[o.capacity]
			if math.Abs(want-o.coef) > factorTol*math.Max(1, math.Abs(o.coef)) {
				return
			}
		}
	}
	for i := range m.rows {
		m.rows[i].alpha = alpha[i]
	}
	m.beta, m.factored = beta, true
}

// classify groups capacity rows that every choice row sees identically.
func (m *deviationModel) classify() {
	type entry struct {
		row  int
		coef float64
	}
	sig := make([][]entry, m.capacities)
	for i, row := range m.rows {
		for _, o := range row.options {
			if o.capacity >= 0 {
				sig[o.capacity] = append(sig[o.capacity], entry{row: i, coef: o.coef})
			}
		}
	}
	m.class = make([]int, m.capacities)
	for j := range m.class {
		m.class[j] = j
		for k := 0; k < j; k++ {
			if m.class[k] == k && slices.Equal(sig[j], sig[k]) {
				m.class[j] = k
				break
			}
		}
	}
}

// =============================================================================
// SEARCH
// =============================================================================

type candidate struct {
	option int
	score  float64
}

type deviationSearch struct {
	m     *deviationModel
	order []int // row indices, widest coefficient range first
	limit int
	gap   float64 // optimality gap in link-row units

	used      []bool
	choice    []int // option per position in order
	best      float64
	bestPick  []int
	nodes     int
	alphaDesc [][]float64 // α of rows order[pos:], sorted descending
	betaAsc   []int       // capacity rows sorted by β ascending
	scratch   [][]candidate
	betaBuf   []float64
	classSeen []int
}

func newDeviationSearch(m *deviationModel, limit int, gap float64) *deviationSearch {
	s := &deviationSearch{
		m:         m,
		limit:     limit,
		used:      make([]bool, m.capacities),
		choice:    make([]int, len(m.rows)),
		best:      math.Inf(1),
		scratch:   make([][]candidate, len(m.rows)),
		classSeen: make([]int, m.capacities),
	}

	spread := make([]float64, len(m.rows))
	scale := math.Max(1, math.Abs(m.target))
	for i, row := range m.rows {
		lo, hi := math.Inf(1), math.Inf(-1)
		for _, o := range row.options {
			lo, hi = math.Min(lo, o.coef), math.Max(hi, o.coef)
		}
		if len(row.options) > 0 {
			spread[i] = hi - lo
			scale += math.Max(math.Abs(lo), math.Abs(hi))
		}
		s.order = append(s.order, i)
	}
	slices.SortStableFunc(s.order, func(a, b int) int {
		switch {
		case spread[a] > spread[b]:
			return -1
		case spread[a] < spread[b]:
			return 1
		}
		return 0
	})
	// objective = k·σ/|a| · |Σ c·x − target|
	s.gap = math.Max(1e-9*scale, gap*math.Abs(m.linkCoef)/(m.objCoef*m.slope))

	if m.factored {
		s.alphaDesc = make([][]float64, len(m.rows)+1)
		for pos := range s.order {
			alphas := make([]float64, 0, len(m.rows)-pos)
			for _, i := range s.order[pos:] {
				alphas = append(alphas, m.rows[i].alpha)
			}
			slices.Sort(alphas)
			slices.Reverse(alphas)
			s.alphaDesc[pos] = alphas
		}
		for j := range m.capacities {
			s.betaAsc = append(s.betaAsc, j)
		}
		slices.SortStableFunc(s.betaAsc, func(a, b int) int {
			switch {
			case m.beta[a] < m.beta[b]:
				return -1
			case m.beta[a] > m.beta[b]:
				return 1
			}
			return 0
		})
		s.betaBuf = make([]float64, 0, m.capacities)
	}
	return s
}

func (s *deviationSearch) free(o choiceOption) bool {
	return o.capacity < 0 || !s.used[o.capacity]
}

// reach returns the interval of Σ c over the rows at positions pos and
// later, given the capacity rows in use. ok is false when some row has no
// free option or there are more rows than free capacities to pair with.
func (s *deviationSearch) reach(pos int) (lo, hi float64, ok bool) {
	for _, i := range s.order[pos:] {
		rlo, rhi := math.Inf(1), math.Inf(-1)
		for _, o := range s.m.rows[i].options {
			if s.free(o) {
				rlo, rhi = math.Min(rlo, o.coef), math.Max(rhi, o.coef)
			}
		}
		if math.IsInf(rlo, 1) {
			return 0, 0, false
		}
		lo, hi = lo+rlo, hi+rhi
	}
	if !s.m.factored || pos == len(s.order) {
		return lo, hi, true
	}

	s.betaBuf = s.betaBuf[:0]
	for _, j := range s.betaAsc {
		if !s.used[j] {
			s.betaBuf = append(s.betaBuf, s.m.beta[j])
		}
	}
	alphas := s.alphaDesc[pos]
	if len(alphas) > len(s.betaBuf) {
		return 0, 0, false
	}
	lo = math.Max(lo, minPairing(alphas, s.betaBuf, 1))
	hi = math.Min(hi, -minPairing(alphas, s.betaBuf, -1))
	return lo, hi, true
}

// minPairing is the smallest Σ sign·α_i·β_σ(i) over injections σ, for α
// sorted descending and β ascending. Positive products take the smallest
// β, negative ones the largest.
func minPairing(alphaDesc, betaAsc []float64, sign float64) float64 {
	total := 0.0
	k, n := len(alphaDesc), len(betaAsc)
	lowFill, highFill := 0, n-1
	for i := 0; i < k; i++ {
		a := sign * alphaDesc[i]
		if sign < 0 {
			a = sign * alphaDesc[k-1-i]
		}
		if a > 0 {
			total += a * betaAsc[lowFill]
			lowFill++
		}
	}
	for i := k - 1; i >= 0; i-- {
		a := sign * alphaDesc[i]
		if sign < 0 {
			a = sign * alphaDesc[k-1-i]
		}
		if a < 0 {
			total += a * betaAsc[highFill]
			highFill--
		}
	}
	return total
}

func (s *deviationSearch) visit(ctx context.Context, pos int, sum float64) error {
	s.nodes++
	if s.nodes%checkEvery == 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	if s.nodes > s.limit {
		return errSearchLimit
	}

	need := s.m.target - sum
	if pos == len(s.order) {
		if dev := math.Abs(need); dev < s.best {
			s.best = dev
			s.bestPick = slices.Clone(s.choice)
			if dev <= s.gap {
				return errSearchExact
			}
		}
		return nil
	}

	lo, hi, ok := s.reach(pos)
	if !ok || math.Max(0, math.Max(lo-need, need-hi)) >= s.best-s.gap {
		return nil
	}

	// Aim each option at the middle of what the later rows can still add.
	mid := (lo + hi) / 2
	row := s.m.rows[s.order[pos]]
	restLo, restHi, restOK := s.reach(pos + 1)
	if restOK {
		mid = (restLo + restHi) / 2
	}

	cands := s.scratch[pos][:0]
	for j := range s.classSeen {
		s.classSeen[j] = -1
	}
	for k, o := range row.options {
		if !s.free(o) {
			continue
		}
		if o.capacity >= 0 {
			c := s.m.class[o.capacity]
			if s.classSeen[c] == pos {
				continue
			}
			s.classSeen[c] = pos
		}
		cands = append(cands, candidate{option: k, score: math.Abs(need - o.coef - mid)})
	}
	slices.SortStableFunc(cands, func(a, b candidate) int {
		switch {
		case a.score < b.score:
			return -1
		case a.score > b.score:
			return 1
		}
		return 0
	})
	s.scratch[pos] = cands

	for _, c := range cands {
		o := row.options[c.option]
		if o.capacity >= 0 {
			s.used[o.capacity] = true
		}
		s.choice[pos] = c.option
		err := s.visit(ctx, pos+1, sum+o.coef)
		if o.capacity >= 0 {
			s.used[o.capacity] = false
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// solveDeviation runs the direct search and maps the best choice back to
// variable values.
func (b *BranchAndBound) solveDeviation(ctx context.Context, p *Problem, m *deviationModel) (*Solution, error) {
	s := newDeviationSearch(m, b.opts.SearchLimit, b.opts.Gap)
	b.logger.Debug("solving as deviation assignment",
		zap.String("problem", p.Name),
		zap.Int("rows", len(m.rows)),
		zap.Int("capacities", m.capacities),
		zap.Bool("factored", m.factored),
	)

	sol := &Solution{Status: StatusOptimal}
	switch err := s.visit(ctx, 0, 0); {
	case err == nil, errors.Is(err, errSearchExact):
	case errors.Is(err, errSearchLimit):
		sol.Status = StatusNodeLimit
	default:
		return nil, err
	}
	sol.Nodes = s.nodes
	if s.bestPick == nil {
		if sol.Status == StatusOptimal {
			sol.Status = StatusInfeasible
		}
		return b.finish(p, sol), nil
	}

	values := make(map[string]float64, len(m.binaries)+2)
	for _, name := range m.binaries {
		values[name] = 0
	}
	sum := 0.0
	for pos, i := range s.order {
		o := m.rows[i].options[s.bestPick[pos]]
		values[o.name] = 1
		sum += o.coef
	}
	v := (m.linkRHS - sum) / m.linkCoef
	d := m.slope * math.Abs(v-m.center)
	values[m.linkVar] = v
	values[m.devVar] = d

	sol.Values = values
	sol.Objective = m.objCoef * d
	return b.finish(p, sol), nil
}
