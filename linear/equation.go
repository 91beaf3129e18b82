package linear

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
)

// LinearEquation represents A x = Σ terms, with forward residual
// F = A x − Σ b_i, or x = Σ terms when no operator is given.
//
// Construction flattens the dependencies of the solution variables, the
// terms, and the operator into a single list in first-seen order, and records
// index tables so that solve and adjoint calls can slice out exactly the
// values each part needs.
type LinearEquation struct {
	*equation.Base

	a     Matrix
	terms []Term

	termDepIndices   [][]int
	termNLDepIndices [][]int
	termDepIDs       []map[uint64]int
	aDepIndices      []int
	aNLDepIndices    []int
	aNLDepIDs        map[uint64]int
	aXIndices        []int
}

type linearConfig struct {
	a         Matrix
	adjXTypes []fn.SpaceType
}

// LinearOption configures a LinearEquation.
type LinearOption func(*linearConfig)

// WithMatrix sets the left-hand operator. Without it the equation is the
// direct assignment x = Σ terms.
func WithMatrix(a Matrix) LinearOption {
	return func(c *linearConfig) { c.a = a }
}

// WithAdjointTypes overrides the adjoint variable space types. Defaults to
// fn.Primal with an operator and fn.ConjugateDual without.
func WithAdjointTypes(types ...fn.SpaceType) LinearOption {
	return func(c *linearConfig) { c.adjXTypes = types }
}

// NewLinearEquation builds the equation A x = Σ terms for the solution
// variables X.
func NewLinearEquation(X []fn.Fn, terms []Term, opts ...LinearOption) (*LinearEquation, error) {
	var cfg linearConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	xIDs := make(map[uint64]struct{}, len(X))
	deps := make([]fn.Fn, 0, len(X))
	depIndex := make(map[uint64]int, len(X))
	for _, x := range X {
		if x == nil {
			return nil, equation.ErrNotFunction
		}
		if _, ok := xIDs[x.ID()]; ok {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateSolve, x.ID())
		}
		xIDs[x.ID()] = struct{}{}
		depIndex[x.ID()] = len(deps)
		deps = append(deps, x)
	}

	var nlDeps []fn.Fn
	nlDepIndex := make(map[uint64]int)

	le := &LinearEquation{
		a:                cfg.a,
		terms:            append([]Term(nil), terms...),
		termDepIndices:   make([][]int, len(terms)),
		termNLDepIndices: make([][]int, len(terms)),
		termDepIDs:       make([]map[uint64]int, len(terms)),
	}
	for i, t := range terms {
		tDeps := t.Dependencies()
		le.termDepIDs[i] = make(map[uint64]int, len(tDeps))
		for local, dep := range tDeps {
			id := dep.ID()
			if _, ok := xIDs[id]; ok {
				return nil, fmt.Errorf("%w: term %d depends on a solution variable", ErrInvalidDependency, i)
			}
			j, ok := depIndex[id]
			if !ok {
				j = len(deps)
				depIndex[id] = j
				deps = append(deps, dep)
			}
			le.termDepIndices[i] = append(le.termDepIndices[i], j)
			le.termDepIDs[i][id] = local
		}
		for _, dep := range t.NonlinearDependencies() {
			id := dep.ID()
			j, ok := nlDepIndex[id]
			if !ok {
				j = len(nlDeps)
				nlDepIndex[id] = j
				nlDeps = append(nlDeps, dep)
			}
			le.termNLDepIndices[i] = append(le.termNLDepIndices[i], j)
		}
	}

	if cfg.a != nil {
		aNLDeps := cfg.a.NonlinearDependencies()
		le.aNLDepIDs = make(map[uint64]int, len(aNLDeps))
		for local, dep := range aNLDeps {
			id := dep.ID()
			if _, ok := xIDs[id]; ok {
				return nil, fmt.Errorf("%w: operator depends on a solution variable", ErrInvalidDependency)
			}
			j, ok := depIndex[id]
			if !ok {
				j = len(deps)
				depIndex[id] = j
				deps = append(deps, dep)
			}
			le.aDepIndices = append(le.aDepIndices, j)
			k, ok := nlDepIndex[id]
			if !ok {
				k = len(nlDeps)
				nlDepIndex[id] = k
				nlDeps = append(nlDeps, dep)
			}
			le.aNLDepIndices = append(le.aNLDepIndices, k)
			le.aNLDepIDs[id] = local
		}
		// A nonlinear operator needs the solved values again when its
		// derivative is linearized around them.
		if len(aNLDeps) > 0 {
			for _, x := range X {
				id := x.ID()
				k, ok := nlDepIndex[id]
				if !ok {
					k = len(nlDeps)
					nlDepIndex[id] = k
					nlDeps = append(nlDeps, x)
				}
				le.aXIndices = append(le.aXIndices, k)
			}
		}
	}

	adjXTypes := cfg.adjXTypes
	if adjXTypes == nil {
		if cfg.a == nil {
			adjXTypes = []fn.SpaceType{fn.ConjugateDual}
		} else {
			adjXTypes = []fn.SpaceType{fn.Primal}
		}
	}

	base, err := equation.NewBase(X, deps,
		equation.WithNonlinearDeps(nlDeps...),
		equation.WithInitialCondition(cfg.a != nil && cfg.a.HasInitialCondition()),
		equation.WithAdjointInitialCondition(cfg.a != nil && cfg.a.AdjointHasInitialCondition()),
		equation.WithAdjointTypes(adjXTypes...))
	if err != nil {
		return nil, err
	}
	le.Base = base

	refs := make([]*equation.Referrer, 0, len(terms)+1)
	for _, t := range terms {
		refs = append(refs, t.Referrer())
	}
	if cfg.a != nil {
		refs = append(refs, cfg.a.Referrer())
	}
	if err := le.Referrer().AddReferrer(refs...); err != nil {
		return nil, err
	}
	return le, nil
}

// Matrix returns the left-hand operator, nil for direct assignments.
func (le *LinearEquation) Matrix() Matrix { return le.a }

// Terms returns the right-hand-side terms.
func (le *LinearEquation) Terms() []Term { return le.terms }

// ForwardSolve assembles the right-hand-side and solves for X. Without an
// operator the terms accumulate directly into X.
func (le *LinearEquation) ForwardSolve(X []fn.Fn, deps []fn.Fn) error {
	if deps == nil {
		deps = le.Dependencies()
	}
	var B []fn.Fn
	if le.a == nil {
		for _, x := range X {
			if err := x.Zero(); err != nil {
				return err
			}
		}
		B = X
	} else {
		adjXTypes := le.AdjXTypes()
		B = make([]fn.Fn, len(X))
		for m, x := range X {
			B[m] = x.NewLike(adjXTypes[m].ConjugateDualType())
		}
	}
	for i, t := range le.terms {
		if err := t.AddForward(B, pick(deps, le.termDepIndices[i])); err != nil {
			return err
		}
	}
	if le.a != nil {
		return le.a.ForwardSolve(X, pick(deps, le.aDepIndices), B)
	}
	return nil
}

// AdjointJacobianSolve solves the adjoint system. Without an operator the
// Jacobian is the identity and B passes through.
func (le *LinearEquation) AdjointJacobianSolve(adjX []fn.Fn, nlDeps []fn.Fn, B []fn.Fn) ([]fn.Fn, error) {
	if le.a == nil {
		return B, nil
	}
	return le.a.AdjointSolve(adjX, pick(nlDeps, le.aNLDepIndices), B)
}

// AdjointDerivativeAction routes the dependency to the parts that reference
// it: a solution index goes to the operator's adjoint action, any other index
// to the terms that carry it, plus the operator derivative when the operator
// depends on it.
func (le *LinearEquation) AdjointDerivativeAction(nlDeps []fn.Fn, depIndex int, adjX []fn.Fn) (fn.Fn, error) {
	deps := le.Dependencies()
	if depIndex < 0 || depIndex >= len(deps) {
		return nil, fmt.Errorf("%w: %d", equation.ErrIndexOutOfBounds, depIndex)
	}
	if depIndex < len(le.X()) {
		if le.a == nil {
			return adjX[depIndex], nil
		}
		f := deps[depIndex].NewLike(fn.ConjugateDual)
		if err := le.a.AdjointAction(pick(nlDeps, le.aNLDepIndices), adjX, f, depIndex, Assign); err != nil {
			return nil, err
		}
		return f, nil
	}

	dep := deps[depIndex]
	f := dep.NewLike(fn.ConjugateDual)
	for i, t := range le.terms {
		local, ok := le.termDepIDs[i][dep.ID()]
		if !ok {
			continue
		}
		if err := t.SubtractAdjointDerivativeAction(pick(nlDeps, le.termNLDepIndices[i]), local, adjX, f); err != nil {
			return nil, err
		}
	}
	if le.a != nil {
		if local, ok := le.aNLDepIDs[dep.ID()]; ok {
			X := pick(nlDeps, le.aXIndices)
			if err := le.a.AdjointDerivativeAction(pick(nlDeps, le.aNLDepIndices), local, X, adjX, f, Add); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

// SubtractAdjointDerivativeActions applies the default per-dependency loop.
func (le *LinearEquation) SubtractAdjointDerivativeActions(adjX []fn.Fn, nlDeps []fn.Fn, depBs map[int]*equation.AdjointRHS) error {
	return equation.SubtractAdjointDerivativeActionsDefault(le, adjX, nlDeps, depBs)
}

// TangentLinear differentiates every term and the operator, reusing the same
// operator for the tangent-linear solve. A derivative with no surviving terms
// collapses to a ZeroAssignment.
func (le *LinearEquation) TangentLinear(m, dm []fn.Fn, tlmMap *equation.TLMMap) (equation.Equation, error) {
	X := le.X()
	for _, mi := range m {
		for _, x := range X {
			if x.ID() == mi.ID() {
				return nil, fmt.Errorf("%w: control is a solution variable", ErrInvalidDependency)
			}
		}
	}

	var tlmTerms []Term
	if le.a != nil {
		ts, err := le.a.TangentLinearRHS(m, dm, tlmMap, X)
		if err != nil {
			return nil, err
		}
		tlmTerms = append(tlmTerms, ts...)
	}
	for _, t := range le.terms {
		ts, err := t.TangentLinearRHS(m, dm, tlmMap)
		if err != nil {
			return nil, err
		}
		tlmTerms = append(tlmTerms, ts...)
	}

	tlmX := make([]fn.Fn, len(X))
	for i, x := range X {
		tlmX[i] = tlmMap.Get(x)
	}
	if len(tlmTerms) == 0 {
		return equation.NewZeroAssignment(tlmX)
	}
	opts := []LinearOption{WithAdjointTypes(le.AdjXTypes()...)}
	if le.a != nil {
		opts = append(opts, WithMatrix(le.a))
	}
	return NewLinearEquation(tlmX, tlmTerms, opts...)
}

// DropReferences drops the equation's own lists and forwards to the terms and
// the operator.
func (le *LinearEquation) DropReferences() {
	if le.Referrer().Dropped() {
		return
	}
	for _, t := range le.terms {
		t.DropReferences()
	}
	if le.a != nil {
		le.a.DropReferences()
	}
	le.Base.DropReferences()
}

// pick gathers src elements at the given indices.
func pick(src []fn.Fn, idx []int) []fn.Fn {
	out := make([]fn.Fn, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}
