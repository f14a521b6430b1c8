/*
session.go - Owned state behind a synchronized interface

PURPOSE:
  The Session is the core's boundary. It owns the current State, loads it
  from the FlightRepository, routes mutations and optimizations through it,
  persists exact layouts to the LayoutSink, and reports to Metrics. Every
  error leaving a Session method is an *Error.

SINGLE-FLIGHT:
  Loading and optimizing set a busy flag before they start and always clear
  it when they finish, on success, failure or panic. While busy:
  - another load or optimization is rejected with KindBusy (never queued)
  - mutations, reset and clear are rejected with KindBusy
  Reads are always allowed and see the last installed State.

CANCELLATION:
  Loads and optimizations run on context.WithoutCancel(ctx): once started
  they reach completion or failure even if the caller goes away.

RECENTLY OPTIMIZED:
  The slots changed by the last heuristic run are kept for highlighting
  until the next mutation, load, clear or AcknowledgeOptimized call.

SEE ALSO:
  - mutation.go, heuristic.go, exact.go: The operations being serialized
  - api/handlers.go: HTTP surface
*/
package loadplan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Session serializes access to one State. Safe for concurrent use.
type Session struct {
	repo      FlightRepository
	exact     *ExactOptimizer
	sink      LayoutSink
	metrics   Metrics
	logger    *zap.Logger
	target    float64
	heuristic HeuristicOptions

	busy atomic.Bool

	mu     sync.RWMutex
	state  *State
	recent []SlotID
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLayoutSink persists successful exact layouts.
func WithLayoutSink(sink LayoutSink) SessionOption {
	return func(s *Session) { s.sink = sink }
}

func WithMetrics(m Metrics) SessionOption {
	return func(s *Session) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithLogger(l *zap.Logger) SessionOption {
	return func(s *Session) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultTarget sets the target CG used when neither the caller nor the
// flight provides one.
func WithDefaultTarget(cg float64) SessionOption {
	return func(s *Session) { s.target = cg }
}

func WithHeuristicOptions(opts HeuristicOptions) SessionOption {
	return func(s *Session) { s.heuristic = opts }
}

// NewSession creates a Session with no State loaded.
func NewSession(repo FlightRepository, exact *ExactOptimizer, opts ...SessionOption) *Session {
	s := &Session{
		repo:    repo,
		exact:   exact,
		metrics: NopMetrics(),
		logger:  zap.NewNop(),
		target:  DefaultTargetCG,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// LOAD
// =============================================================================

// LoadSnapshot loads a flight and replaces the current State. Loading the
// flight that is already loaded returns the current State unchanged.
func (s *Session) LoadSnapshot(ctx context.Context, code string) (st *State, err error) {
	const op = "load_snapshot"

	code, err = NormalizeFlightCode(code)
	if err != nil {
		return nil, err
	}
	if cur := s.current(); cur != nil && cur.Flight().Code == code {
		return cur, nil
	}

	if err := s.acquire(op); err != nil {
		return nil, err
	}
	defer s.release()
	defer recoverInternal(op, &err)

	start := time.Now()
	st, err = s.fetch(context.WithoutCancel(ctx), code)
	s.metrics.RecordLoad(time.Since(start), err)
	if err != nil {
		s.logger.Warn("flight load failed", zap.String("flight", code), zap.Error(err))
		return nil, asBoundaryError(op, err)
	}

	s.install(st, nil)
	s.logger.Info("flight loaded",
		zap.String("flight", code),
		zap.Int("units", len(st.units)),
		zap.Int("slots", len(st.slots)),
		zap.Float64("cg", st.CG()),
	)
	return st, nil
}

func (s *Session) fetch(ctx context.Context, code string) (*State, error) {
	const op = "load_snapshot"

	flight, err := s.repo.FindFlight(ctx, code)
	if errors.Is(err, ErrFlightNotFound) {
		return nil, notFoundErr(op, ErrFlightNotFound, "flight %s was not found", code)
	}
	if err != nil {
		return nil, internalErr(op, ErrRepository, err)
	}
	if flight.Code == "" {
		flight.Code = code
	}

	var (
		units []LoadUnit
		slots []Slot
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		units, err = s.repo.Units(gctx, flight.ID)
		return err
	})
	g.Go(func() error {
		var err error
		slots, err = s.repo.Slots(gctx, flight.ID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, internalErr(op, ErrRepository, err)
	}

	return NewState(Snapshot{Flight: flight, Units: units, Slots: slots})
}

// =============================================================================
// MUTATIONS
// =============================================================================

// Mutate applies one mutation to the current State.
func (s *Session) Mutate(m Mutation) (Result, error) {
	op := string(m.Op)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy.Load() {
		s.metrics.RecordBusyRejection(op)
		return Result{}, busyErr(op)
	}
	if s.state == nil {
		return Result{}, noStateErr(op)
	}

	res, err := Apply(s.state, m)
	s.metrics.RecordMutation(m.Op, err)
	if err != nil {
		s.logger.Debug("mutation rejected", zap.String("op", op), zap.Error(err))
		return Result{}, asBoundaryError(op, err)
	}

	s.state = res.State
	s.recent = nil
	s.observe(res.State)
	return res, nil
}

// Reset releases every movable slot back to the pool.
func (s *Session) Reset() (Result, error) {
	return s.Mutate(Mutation{Op: OpReset})
}

// Clear drops the current State.
func (s *Session) Clear() error {
	const op = "clear"

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.busy.Load() {
		s.metrics.RecordBusyRejection(op)
		return busyErr(op)
	}
	s.state = nil
	s.recent = nil
	return nil
}

// Invalidate drops the current State when it belongs to the given flight,
// so the next LoadSnapshot reads the flight again. Other flights are left
// loaded.
func (s *Session) Invalidate(code string) error {
	const op = "invalidate"

	code, err := NormalizeFlightCode(code)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil || s.state.Flight().Code != code {
		return nil
	}
	if s.busy.Load() {
		s.metrics.RecordBusyRejection(op)
		return busyErr(op)
	}
	s.state = nil
	s.recent = nil
	s.logger.Debug("loaded flight invalidated", zap.String("flight", code))
	return nil
}

// =============================================================================
// OPTIMIZATION
// =============================================================================

// OptimizeExact runs the exact optimizer and installs its layout. A nil
// target falls back to the flight's target, then to the configured default.
// The layout is persisted when a LayoutSink is configured; persistence
// failures are logged only.
func (s *Session) OptimizeExact(ctx context.Context, target *float64) (res *ExactResult, err error) {
	const op = "optimize_exact"

	if err := s.acquire(op); err != nil {
		return nil, err
	}
	defer s.release()
	defer recoverInternal(op, &err)

	st := s.current()
	if st == nil {
		return nil, noStateErr(op)
	}
	goal := s.target
	switch {
	case target != nil:
		goal = *target
	case st.Flight().TargetCG != nil:
		goal = *st.Flight().TargetCG
	}

	ctx = context.WithoutCancel(ctx)
	start := time.Now()
	res, err = s.exact.Optimize(ctx, st, goal)
	s.metrics.RecordOptimization("exact", time.Since(start), err)
	if err != nil {
		s.logger.Warn("exact optimization failed", zap.String("flight", st.Flight().Code), zap.Error(err))
		return nil, asBoundaryError(op, err)
	}

	s.install(res.State, nil)
	s.logger.Info("exact optimization applied",
		zap.String("flight", st.Flight().Code),
		zap.Float64("target", goal),
		zap.Float64("cg", res.CG),
		zap.Float64("deviation", res.Deviation),
		zap.Float64("score", res.Score),
		zap.Duration("elapsed", time.Since(start)),
	)

	if s.sink != nil {
		res.JobID = uuid.NewString()
		flight := res.State.Flight()
		if err := s.sink.SaveLayout(ctx, flight.ID, res.JobID, res.State.Layout()); err != nil {
			s.logger.Warn("layout persistence failed",
				zap.String("flight", flight.Code),
				zap.String("job_id", res.JobID),
				zap.Error(err),
			)
			res.JobID = ""
		}
	}
	return res, nil
}

// OptimizeHeuristic runs the greedy balancer synchronously and installs its
// layout.
func (s *Session) OptimizeHeuristic() (Result, error) {
	const op = "optimize_heuristic"

	if err := s.acquire(op); err != nil {
		return Result{}, err
	}
	defer s.release()
	return s.runHeuristic()
}

// HeuristicOutcome is delivered by OptimizeHeuristicAsync.
type HeuristicOutcome struct {
	Result Result
	Err    error
}

// OptimizeHeuristicAsync runs the greedy balancer in the background. The
// busy check happens before returning; a rejection is delivered on the
// channel immediately. The busy flag is cleared before the outcome is sent,
// and the channel is closed after it.
func (s *Session) OptimizeHeuristicAsync() <-chan HeuristicOutcome {
	const op = "optimize_heuristic"

	out := make(chan HeuristicOutcome, 1)
	if err := s.acquire(op); err != nil {
		out <- HeuristicOutcome{Err: err}
		close(out)
		return out
	}

	go func() {
		defer close(out)
		res, err := s.runHeuristic()
		s.release()
		out <- HeuristicOutcome{Result: res, Err: err}
	}()
	return out
}

func (s *Session) runHeuristic() (res Result, err error) {
	const op = "optimize_heuristic"
	defer recoverInternal(op, &err)

	st := s.current()
	if st == nil {
		return Result{}, noStateErr(op)
	}

	start := time.Now()
	res, err = Balance(st, s.heuristic)
	s.metrics.RecordOptimization("heuristic", time.Since(start), err)
	if err != nil {
		return Result{}, asBoundaryError(op, err)
	}

	s.install(res.State, res.Touched)
	s.logger.Info("heuristic layout applied",
		zap.String("flight", st.Flight().Code),
		zap.Int("touched", len(res.Touched)),
		zap.Float64("cg", res.State.CG()),
	)
	return res, nil
}

// =============================================================================
// READ ACCESSORS
// =============================================================================

// State returns the current State.
func (s *Session) State() (*State, error) {
	st := s.current()
	if st == nil {
		return nil, noStateErr("state")
	}
	return st, nil
}

func (s *Session) CG() (float64, error) {
	st, err := s.State()
	if err != nil {
		return 0, err
	}
	return st.CG(), nil
}

func (s *Session) Score() (float64, error) {
	st, err := s.State()
	if err != nil {
		return 0, err
	}
	return st.Score(), nil
}

func (s *Session) Suggestion() (string, error) {
	st, err := s.State()
	if err != nil {
		return "", err
	}
	return st.Suggestion(), nil
}

func (s *Session) Unassigned() ([]LoadUnit, error) {
	st, err := s.State()
	if err != nil {
		return nil, err
	}
	return st.Unassigned(), nil
}

// Busy reports whether a load or optimization is in flight.
func (s *Session) Busy() bool { return s.busy.Load() }

// RecentlyOptimized returns the slots changed by the last heuristic run.
func (s *Session) RecentlyOptimized() []SlotID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]SlotID(nil), s.recent...)
}

// AcknowledgeOptimized forgets the recently optimized slots.
func (s *Session) AcknowledgeOptimized() {
	s.mu.Lock()
	s.recent = nil
	s.mu.Unlock()
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Session) current() *State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Session) install(st *State, touched []SlotID) {
	s.mu.Lock()
	s.state = st
	s.recent = touched
	s.mu.Unlock()
	s.observe(st)
}

func (s *Session) observe(st *State) {
	s.metrics.ObserveState(st.CG(), st.Score(), len(st.unassigned))
}

func (s *Session) acquire(op string) error {
	if !s.busy.CompareAndSwap(false, true) {
		s.metrics.RecordBusyRejection(op)
		return busyErr(op)
	}
	return nil
}

func (s *Session) release() { s.busy.Store(false) }

func busyErr(op string) *Error {
	return newError(KindBusy, op, ErrBusy, "a load or optimization is already in progress")
}

func noStateErr(op string) *Error {
	return validationErr(op, ErrNoState, "no flight is loaded")
}

// recoverInternal turns a panic into an internal *Error assigned to *err.
func recoverInternal(op string, err *error) {
	if r := recover(); r != nil {
		*err = &Error{Kind: KindInternal, Op: op, Message: fmt.Sprintf("unexpected failure: %v", r), Err: fmt.Errorf("panic: %v", r)}
	}
}
