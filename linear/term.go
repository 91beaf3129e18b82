package linear

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
)

// Term represents one additive right-hand-side contribution b_i(deps).
type Term interface {
	// Dependencies returns the functions the term depends on, unique by
	// identity.
	Dependencies() []fn.Fn
	// NonlinearDependencies returns the subset of dependencies required to
	// linearize the term.
	NonlinearDependencies() []fn.Fn

	// AddForward adds the term's value to B.
	AddForward(B []fn.Fn, deps []fn.Fn) error
	// SubtractAdjointDerivativeAction subtracts the action of the adjoint
	// of d(b_i)/d(deps[depIndex]) on adjX from b.
	SubtractAdjointDerivativeAction(nlDeps []fn.Fn, depIndex int, adjX []fn.Fn, b fn.Fn) error
	// TangentLinearRHS returns the terms obtained by differentiating b_i
	// with respect to controls m along direction dm. A nil slice means the
	// derivative is structurally zero.
	TangentLinearRHS(m, dm []fn.Fn, tlmMap *equation.TLMMap) ([]Term, error)

	// DropReferences replaces held functions with placeholders.
	DropReferences()
	// Referrer returns the reference-graph node.
	Referrer() *equation.Referrer
}

// TermBase carries the dependency bookkeeping shared by Term implementations.
type TermBase struct {
	ref    *equation.Referrer
	deps   []fn.Fn
	nlDeps []fn.Fn
}

// NewTermBase validates that deps are unique and nlDeps is a unique subset of
// deps.
func NewTermBase(deps []fn.Fn, nlDeps []fn.Fn) (*TermBase, error) {
	depIDs := make(map[uint64]struct{}, len(deps))
	for i, dep := range deps {
		if dep == nil {
			return nil, equation.ErrNotFunction
		}
		if _, ok := depIDs[dep.ID()]; ok {
			return nil, fmt.Errorf("%w: dependency %d", equation.ErrDuplicateDependency, i)
		}
		depIDs[dep.ID()] = struct{}{}
	}
	seen := make(map[uint64]struct{}, len(nlDeps))
	for i, dep := range nlDeps {
		if _, ok := seen[dep.ID()]; ok {
			return nil, fmt.Errorf("%w: non-linear dependency %d", equation.ErrDuplicateDependency, i)
		}
		seen[dep.ID()] = struct{}{}
		if _, ok := depIDs[dep.ID()]; !ok {
			return nil, fmt.Errorf("%w: non-linear dependency %d", equation.ErrNotDependency, i)
		}
	}
	return &TermBase{
		ref:    equation.NewReferrer(),
		deps:   append([]fn.Fn(nil), deps...),
		nlDeps: append([]fn.Fn(nil), nlDeps...),
	}, nil
}

// Dependencies returns the term dependencies.
func (b *TermBase) Dependencies() []fn.Fn { return b.deps }

// NonlinearDependencies returns the non-linear subset.
func (b *TermBase) NonlinearDependencies() []fn.Fn { return b.nlDeps }

// Referrer returns the reference-graph node.
func (b *TermBase) Referrer() *equation.Referrer { return b.ref }

// DropReferences swaps held functions for placeholders. Idempotent.
func (b *TermBase) DropReferences() {
	if b.ref.Dropped() {
		return
	}
	b.deps = fn.ReplaceAll(b.deps)
	b.nlDeps = fn.ReplaceAll(b.nlDeps)
	b.ref.MarkDropped()
}
