package fixedpoint

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
	"github.com/adjoint-ml/adjoint/internal/metrics"
)

// Solver treats a cyclic system of equations as a single equation over the
// union of their solution variables. The forward solve sweeps the equations
// in order until the combined change norm meets the tolerance; the adjoint
// solve runs the corresponding reverse iteration, exchanging cross-terms
// between the equations' right-hand-side accumulators after every inner
// solve.
type Solver struct {
	*equation.Base

	eqs    []equation.Equation
	params Parameters
	logger *slog.Logger

	normSqs    [][]NormSq
	adjNormSqs [][]NormSq

	// Index tables, fixed at construction. eqXIndices and eqDepIndices
	// slice the solver-level X and dependency lists down to one
	// equation's view; eqNLDepIndices does the same for the non-linear
	// list. eqDepIndexMap inverts each equation's dependency list by
	// function id, depEqIndexMap lists the equations referencing a
	// function, and depBIndices locates, per equation and local
	// dependency index, the accumulator (equation, component) the
	// dependency's adjoint cross-term belongs to.
	eqXIndices     [][]int
	eqDepIndices   [][]int
	eqNLDepIndices [][]int
	eqDepIndexMap  []map[uint64]int
	depEqIndexMap  map[uint64][]int
	depBIndices    []map[int][2]int
}

// NewSolver combines eqs into a fixed-point system. Every solution variable
// must be owned by exactly one equation.
func NewSolver(eqs []equation.Equation, params Parameters, opts ...SolverOption) (*Solver, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	cfg := solverConfig{logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	// (equation, component) owning each solution variable.
	xOwner := make(map[uint64][2]int)
	var X []fn.Fn
	xFlat := make(map[uint64]int)
	for i, eq := range eqs {
		for m, x := range eq.X() {
			if _, ok := xOwner[x.ID()]; ok {
				return nil, fmt.Errorf("%w: %d", ErrDuplicateSolve, x.ID())
			}
			xOwner[x.ID()] = [2]int{i, m}
			xFlat[x.ID()] = len(X)
			X = append(X, x)
		}
	}

	s := &Solver{
		eqs:            append([]equation.Equation(nil), eqs...),
		params:         params,
		logger:         cfg.logger,
		eqXIndices:     make([][]int, len(eqs)),
		eqDepIndices:   make([][]int, len(eqs)),
		eqNLDepIndices: make([][]int, len(eqs)),
		eqDepIndexMap:  make([]map[uint64]int, len(eqs)),
		depEqIndexMap:  make(map[uint64][]int),
		depBIndices:    make([]map[int][2]int, len(eqs)),
	}

	var deps, nlDeps []fn.Fn
	depIndex := make(map[uint64]int)
	nlDepIndex := make(map[uint64]int)
	for i, eq := range eqs {
		for _, x := range eq.X() {
			s.eqXIndices[i] = append(s.eqXIndices[i], xFlat[x.ID()])
		}
		s.eqDepIndexMap[i] = make(map[uint64]int)
		s.depBIndices[i] = make(map[int][2]int)
		for local, dep := range eq.Dependencies() {
			id := dep.ID()
			j, ok := depIndex[id]
			if !ok {
				j = len(deps)
				depIndex[id] = j
				deps = append(deps, dep)
			}
			s.eqDepIndices[i] = append(s.eqDepIndices[i], j)
			s.eqDepIndexMap[i][id] = local
			s.depEqIndexMap[id] = append(s.depEqIndexMap[id], i)
			if km, ok := xOwner[id]; ok && km[0] != i {
				s.depBIndices[i][local] = km
			}
		}
		for _, dep := range eq.NonlinearDependencies() {
			id := dep.ID()
			j, ok := nlDepIndex[id]
			if !ok {
				j = len(nlDeps)
				nlDepIndex[id] = j
				nlDeps = append(nlDeps, dep)
			}
			s.eqNLDepIndices[i] = append(s.eqNLDepIndices[i], j)
		}
	}

	s.normSqs = cfg.normSqs
	if s.normSqs == nil {
		s.normSqs = defaultNorms(eqs)
	}
	if err := checkNorms(eqs, s.normSqs); err != nil {
		return nil, err
	}
	s.adjNormSqs = cfg.adjNormSqs
	if s.adjNormSqs == nil {
		s.adjNormSqs = defaultNorms(eqs)
	}
	if err := checkNorms(eqs, s.adjNormSqs); err != nil {
		return nil, err
	}

	// A solution consumed before the equation that produces it needs its
	// value from the previous replay, or from the caller on the first.
	var icDeps []fn.Fn
	if params.NonzeroInitialGuess {
		icDeps = forwardInitialConditions(eqs, xOwner)
	}
	var adjICDeps []fn.Fn
	if params.AdjointNonzeroInitialGuess {
		adjICDeps = append([]fn.Fn(nil), X...)
	}

	var adjXTypes []fn.SpaceType
	for _, eq := range eqs {
		adjXTypes = append(adjXTypes, eq.AdjXTypes()...)
	}

	base, err := equation.NewBase(X, deps,
		equation.WithNonlinearDeps(nlDeps...),
		equation.WithICDeps(icDeps...),
		equation.WithAdjICDeps(adjICDeps...),
		equation.WithAdjointTypes(adjXTypes...))
	if err != nil {
		return nil, err
	}
	s.Base = base

	refs := make([]*equation.Referrer, len(eqs))
	for i, eq := range eqs {
		refs[i] = eq.Referrer()
	}
	if err := s.Referrer().AddReferrer(refs...); err != nil {
		return nil, err
	}
	return s, nil
}

func defaultNorms(eqs []equation.Equation) [][]NormSq {
	out := make([][]NormSq, len(eqs))
	for i, eq := range eqs {
		out[i] = make([]NormSq, len(eq.X()))
		for m := range out[i] {
			out[i][m] = L2NormSq
		}
	}
	return out
}

func checkNorms(eqs []equation.Equation, norms [][]NormSq) error {
	if len(norms) != len(eqs) {
		return fmt.Errorf("%w: %d norms for %d equations", ErrInvalidParameters, len(norms), len(eqs))
	}
	for i, eq := range eqs {
		if len(norms[i]) != len(eq.X()) {
			return fmt.Errorf("%w: %d norms for %d components of equation %d", ErrInvalidParameters, len(norms[i]), len(eq.X()), i)
		}
	}
	return nil
}

func forwardInitialConditions(eqs []equation.Equation, xOwner map[uint64][2]int) []fn.Fn {
	var icDeps []fn.Fn
	seen := make(map[uint64]struct{})
	remaining := make(map[uint64]struct{}, len(xOwner))
	for id := range xOwner {
		remaining[id] = struct{}{}
	}
	for _, eq := range eqs {
		for _, x := range eq.X() {
			delete(remaining, x.ID())
		}
		for _, dep := range eq.Dependencies() {
			if _, ok := remaining[dep.ID()]; !ok {
				continue
			}
			if _, ok := seen[dep.ID()]; ok {
				continue
			}
			seen[dep.ID()] = struct{}{}
			icDeps = append(icDeps, dep)
		}
		for _, dep := range eq.InitialConditionDependencies() {
			if _, ok := seen[dep.ID()]; ok {
				continue
			}
			seen[dep.ID()] = struct{}{}
			icDeps = append(icDeps, dep)
		}
	}
	return icDeps
}

// Equations returns the combined equations in solve order.
func (s *Solver) Equations() []equation.Equation { return s.eqs }

// Parameters returns the iteration parameters.
func (s *Solver) Parameters() Parameters { return s.params }

// toleranceSq resolves the squared convergence threshold for the current
// solution norm.
func (s *Solver) toleranceSq(xNormSq float64) float64 {
	tolSq := s.params.AbsoluteTolerance * s.params.AbsoluteTolerance
	if s.params.RelativeTolerance != 0 {
		if rel := xNormSq * s.params.RelativeTolerance * s.params.RelativeTolerance; rel > tolSq {
			tolSq = rel
		}
	}
	return tolSq
}

func sumNormSq(norms [][]NormSq, eqXIndices [][]int, X []fn.Fn) (float64, error) {
	var total float64
	for i := range eqXIndices {
		for m, k := range eqXIndices[i] {
			v, err := norms[i][m](X[k])
			if err != nil {
				return 0, err
			}
			if v < 0 {
				return 0, fmt.Errorf("%w: negative norm", ErrInvalidParameters)
			}
			total += v
		}
	}
	return total, nil
}

// ForwardSolve sweeps the equations in order until the combined change norm
// meets the tolerance.
func (s *Solver) ForwardSolve(X []fn.Fn, deps []fn.Fn) error {
	eqDeps := make([][]fn.Fn, len(s.eqs))
	if deps != nil {
		for i := range s.eqs {
			eqDeps[i] = pick(deps, s.eqDepIndices[i])
		}
	}

	if !s.params.NonzeroInitialGuess {
		for _, x := range X {
			if err := x.Zero(); err != nil {
				return err
			}
		}
		fn.UpdateState(X...)
		if err := fn.UpdateCaches(s.X(), X); err != nil {
			return err
		}
	}

	previous := make([]fn.Fn, len(X))
	for k, x := range X {
		c, err := x.Copy()
		if err != nil {
			return err
		}
		previous[k] = c
	}

	it := 0
	for {
		it++
		for i, eq := range s.eqs {
			if err := equation.Forward(eq, pick(X, s.eqXIndices[i]), eqDeps[i]); err != nil {
				return err
			}
		}

		// previous becomes the change once the new values are
		// subtracted out.
		for k, x := range X {
			if err := previous[k].Axpy(-1.0, x); err != nil {
				return err
			}
		}
		changeNormSq, err := sumNormSq(s.normSqs, s.eqXIndices, previous)
		if err != nil {
			return err
		}
		if math.IsNaN(changeNormSq) {
			return fmt.Errorf("%w: NaN encountered after %d iterations", ErrNotConverged, it)
		}
		xNormSq, err := sumNormSq(s.normSqs, s.eqXIndices, X)
		if err != nil {
			return err
		}
		tolSq := s.toleranceSq(xNormSq)
		s.logger.Debug("fixed point iteration",
			"pass", "forward",
			"iteration", it,
			"change_norm", math.Sqrt(changeNormSq),
			"tolerance", math.Sqrt(tolSq))
		if changeNormSq == 0 || changeNormSq < tolSq {
			break
		}
		if it >= s.params.MaximumIterations {
			return fmt.Errorf("%w: %d forward iterations", ErrNotConverged, it)
		}
		for k, x := range X {
			if err := previous[k].Assign(x); err != nil {
				return err
			}
		}
	}
	metrics.FixedPointIterations.WithLabelValues("forward").Observe(float64(it))
	return nil
}

// AdjointJacobianSolve runs the reverse fixed-point iteration. Each pass
// solves the equations in reverse order, rotated by AdjointEqsIndex0, and
// exchanges cross-terms between the equations' accumulators; an equation's
// own accumulator is re-seeded from the outer right-hand-side after its
// solve so contributions from the rest of the pass land on a fresh seed.
func (s *Solver) AdjointJacobianSolve(adjX []fn.Fn, nlDeps []fn.Fn, B []fn.Fn) ([]fn.Fn, error) {
	n := len(s.eqs)
	if adjX == nil {
		adjX = s.NewAdjX()
	}
	adjX = append([]fn.Fn(nil), adjX...)

	eqAdjX := make([][]fn.Fn, n)
	eqNLDeps := make([][]fn.Fn, n)
	for i := range s.eqs {
		eqAdjX[i] = pick(adjX, s.eqXIndices[i])
		eqNLDeps[i] = pick(nlDeps, s.eqNLDepIndices[i])
	}

	adjB := equation.NewAdjointModelRHS(s.eqs)
	depBs := make([]map[int]*equation.AdjointRHS, n)
	for i := range s.eqs {
		for j, k := range s.eqXIndices[i] {
			if err := adjB.Eq(i).At(j).Fn().Assign(B[k]); err != nil {
				return nil, err
			}
		}
		depBs[i] = make(map[int]*equation.AdjointRHS, len(s.depBIndices[i]))
		for local, km := range s.depBIndices[i] {
			depBs[i][local] = adjB.Eq(km[0]).At(km[1])
		}
	}

	if s.params.AdjointNonzeroInitialGuess {
		for i, eq := range s.eqs {
			if err := equation.AdjointCached(eq, eqAdjX[i], eqNLDeps[i], depBs[i]); err != nil {
				return nil, err
			}
		}
	} else {
		for _, ax := range adjX {
			if err := ax.Zero(); err != nil {
				return nil, err
			}
		}
	}

	previous := make([]fn.Fn, len(adjX))
	for k, ax := range adjX {
		c, err := ax.Copy()
		if err != nil {
			return nil, err
		}
		previous[k] = c
	}

	it := 0
	for {
		it++
		for ii := n - 1; ii >= 0; ii-- {
			i := wrap(ii-s.params.AdjointEqsIndex0, n)
			eqB, err := adjB.Eq(i).BCopy()
			if err != nil {
				return nil, err
			}
			sol, err := equation.Adjoint(s.eqs[i], eqAdjX[i], eqNLDeps[i], eqB, depBs[i])
			if err != nil {
				return nil, err
			}
			if sol == nil {
				sol = newAdjXFor(s.eqs[i])
			}
			eqAdjX[i] = sol
			for j, k := range s.eqXIndices[i] {
				adjX[k] = sol[j]
			}
			for j, k := range s.eqXIndices[i] {
				if err := adjB.Eq(i).At(j).Fn().Assign(B[k]); err != nil {
					return nil, err
				}
			}
		}

		for k, ax := range adjX {
			if err := previous[k].Axpy(-1.0, ax); err != nil {
				return nil, err
			}
		}
		changeNormSq, err := sumNormSq(s.adjNormSqs, s.eqXIndices, previous)
		if err != nil {
			return nil, err
		}
		if math.IsNaN(changeNormSq) {
			return nil, fmt.Errorf("%w: NaN encountered after %d adjoint iterations", ErrNotConverged, it)
		}
		adjNormSq, err := sumNormSq(s.adjNormSqs, s.eqXIndices, adjX)
		if err != nil {
			return nil, err
		}
		tolSq := s.toleranceSq(adjNormSq)
		s.logger.Debug("fixed point iteration",
			"pass", "adjoint",
			"iteration", it,
			"change_norm", math.Sqrt(changeNormSq),
			"tolerance", math.Sqrt(tolSq))
		if changeNormSq == 0 || changeNormSq < tolSq {
			break
		}
		if it >= s.params.MaximumIterations {
			return nil, fmt.Errorf("%w: %d adjoint iterations", ErrNotConverged, it)
		}
		for k, ax := range adjX {
			if err := previous[k].Assign(ax); err != nil {
				return nil, err
			}
		}
	}
	metrics.FixedPointIterations.WithLabelValues("adjoint").Observe(float64(it))
	return adjX, nil
}

// AdjointDerivativeAction never applies: derivative actions are batched
// through SubtractAdjointDerivativeActions.
func (s *Solver) AdjointDerivativeAction(_ []fn.Fn, _ int, _ []fn.Fn) (fn.Fn, error) {
	return nil, fmt.Errorf("%w: fixed point derivative actions are batched", equation.ErrNotImplemented)
}

// SubtractAdjointDerivativeActions routes each accumulator to the equations
// referencing its dependency and delegates to them.
func (s *Solver) SubtractAdjointDerivativeActions(adjX []fn.Fn, nlDeps []fn.Fn, depBs map[int]*equation.AdjointRHS) error {
	deps := s.Dependencies()
	eqDepBs := make([]map[int]*equation.AdjointRHS, len(s.eqs))
	for i := range s.eqs {
		eqDepBs[i] = make(map[int]*equation.AdjointRHS)
	}
	for depIndex, b := range depBs {
		if depIndex < 0 || depIndex >= len(deps) {
			return fmt.Errorf("%w: %d", equation.ErrIndexOutOfBounds, depIndex)
		}
		id := deps[depIndex].ID()
		for _, i := range s.depEqIndexMap[id] {
			eqDepBs[i][s.eqDepIndexMap[i][id]] = b
		}
	}
	for i, eq := range s.eqs {
		if len(eqDepBs[i]) == 0 {
			continue
		}
		err := eq.SubtractAdjointDerivativeActions(
			pick(adjX, s.eqXIndices[i]),
			pick(nlDeps, s.eqNLDepIndices[i]),
			eqDepBs[i])
		if err != nil {
			return err
		}
	}
	return nil
}

// TangentLinear derives every combined equation and wraps the results in a
// new solver with the same parameters and norms.
func (s *Solver) TangentLinear(m, dm []fn.Fn, tlmMap *equation.TLMMap) (equation.Equation, error) {
	tlmEqs := make([]equation.Equation, len(s.eqs))
	for i, eq := range s.eqs {
		te, err := eq.TangentLinear(m, dm, tlmMap)
		if err != nil {
			return nil, err
		}
		if te == nil {
			return nil, fmt.Errorf("%w: equation %d", equation.ErrNilTangentLinear, i)
		}
		tlmEqs[i] = te
	}
	return NewSolver(tlmEqs, s.params,
		WithNormSqs(s.normSqs),
		WithAdjointNormSqs(s.adjNormSqs),
		WithLogger(s.logger))
}

// DropReferences drops the solver's own lists and forwards to the combined
// equations.
func (s *Solver) DropReferences() {
	if s.Referrer().Dropped() {
		return
	}
	for _, eq := range s.eqs {
		eq.DropReferences()
	}
	s.Base.DropReferences()
}

func newAdjXFor(eq equation.Equation) []fn.Fn {
	adjTypes := eq.AdjXTypes()
	X := eq.X()
	adjX := make([]fn.Fn, len(X))
	for m, x := range X {
		adjX[m] = x.NewLike(adjTypes[m])
	}
	return adjX
}

func pick(src []fn.Fn, idx []int) []fn.Fn {
	out := make([]fn.Fn, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

func wrap(i, n int) int {
	return ((i % n) + n) % n
}
