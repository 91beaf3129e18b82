// Package linear decomposes a linear solve A x = Σ b_i into a left-hand
// operator and additively-combined right-hand-side terms, each independently
// differentiable. LinearEquation ties them together into an Equation with
// forward residual F = A x − Σ b_i (or F = x − Σ b_i when A is absent).
package linear

import (
	"errors"
	"fmt"

	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
)

var (
	// ErrDuplicateSolve reports a solution variable appearing twice.
	ErrDuplicateSolve = errors.New("linear: duplicate solve")
	// ErrInvalidDependency reports a right-hand-side term depending on a
	// solution variable of its own equation.
	ErrInvalidDependency = errors.New("linear: invalid dependency in linear equation")
	// ErrSingleComponent reports a multi-component solve passed to an
	// operator that handles one component.
	ErrSingleComponent = errors.New("linear: operator handles a single component")
	// ErrSingular reports an operator that cannot be inverted.
	ErrSingular = errors.New("linear: singular operator")
)

// AccMode selects how an action result combines into its target.
type AccMode int

const (
	// Assign overwrites the target with the result.
	Assign AccMode = iota
	// Add adds the result to the target.
	Add
	// Sub subtracts the result from the target.
	Sub
)

// Matrix represents a possibly-nonlinear left-hand operator A(y)·x.
//
// Implementations provide the forward and adjoint actions and solves, the
// adjoint action of derivatives with respect to the operator's own
// dependencies, and the tangent-linear right-hand-side terms obtained by
// differentiating −A x with respect to those dependencies.
type Matrix interface {
	// NonlinearDependencies returns the functions the operator depends
	// on, unique by identity.
	NonlinearDependencies() []fn.Fn
	// HasInitialCondition reports whether solving A x = b uses an initial
	// guess.
	HasInitialCondition() bool
	// AdjointHasInitialCondition reports whether solving A* λ = b uses an
	// initial guess.
	AdjointHasInitialCondition() bool

	// ForwardAction evaluates A x into B with the given accumulation
	// mode.
	ForwardAction(nlDeps []fn.Fn, X []fn.Fn, B []fn.Fn, mode AccMode) error
	// ForwardSolve solves A x = b for x. X may carry an initial guess.
	ForwardSolve(X []fn.Fn, nlDeps []fn.Fn, B []fn.Fn) error
	// AdjointAction evaluates component bIndex of A* λ into b with the
	// given accumulation mode.
	AdjointAction(nlDeps []fn.Fn, adjX []fn.Fn, b fn.Fn, bIndex int, mode AccMode) error
	// AdjointSolve solves A* λ = b for λ. adjX, when non-nil, carries an
	// initial guess and may be modified or returned.
	AdjointSolve(adjX []fn.Fn, nlDeps []fn.Fn, B []fn.Fn) ([]fn.Fn, error)
	// AdjointDerivativeAction evaluates the action of the adjoint of
	// d(A x)/d(nlDeps[nlDepIndex]) on adjX into b with the given
	// accumulation mode.
	AdjointDerivativeAction(nlDeps []fn.Fn, nlDepIndex int, X []fn.Fn, adjX []fn.Fn, b fn.Fn, mode AccMode) error
	// TangentLinearRHS returns the right-hand-side terms obtained by
	// differentiating −A x with respect to the operator's dependencies,
	// excluding the −A τ_x term. A nil slice means no terms.
	TangentLinearRHS(m, dm []fn.Fn, tlmMap *equation.TLMMap, X []fn.Fn) ([]Term, error)

	// DropReferences replaces held functions with placeholders.
	DropReferences()
	// Referrer returns the reference-graph node.
	Referrer() *equation.Referrer
}

// MatrixBase carries the dependency bookkeeping shared by Matrix
// implementations.
type MatrixBase struct {
	ref    *equation.Referrer
	nlDeps []fn.Fn
	ic     bool
	adjIC  bool
}

// MatrixOption configures a MatrixBase.
type MatrixOption func(*MatrixBase)

// WithInitialCondition sets whether forward solves use an initial guess.
// Defaults to true.
func WithInitialCondition(ic bool) MatrixOption {
	return func(b *MatrixBase) { b.ic = ic }
}

// WithAdjointInitialCondition sets whether adjoint solves use an initial
// guess. Defaults to true.
func WithAdjointInitialCondition(adjIC bool) MatrixOption {
	return func(b *MatrixBase) { b.adjIC = adjIC }
}

// NewMatrixBase validates the operator dependencies.
func NewMatrixBase(nlDeps []fn.Fn, opts ...MatrixOption) (*MatrixBase, error) {
	seen := make(map[uint64]struct{}, len(nlDeps))
	for i, dep := range nlDeps {
		if _, ok := seen[dep.ID()]; ok {
			return nil, fmt.Errorf("%w: non-linear dependency %d", equation.ErrDuplicateDependency, i)
		}
		seen[dep.ID()] = struct{}{}
	}
	b := &MatrixBase{
		ref:    equation.NewReferrer(),
		nlDeps: append([]fn.Fn(nil), nlDeps...),
		ic:     true,
		adjIC:  true,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NonlinearDependencies returns the operator dependencies.
func (b *MatrixBase) NonlinearDependencies() []fn.Fn { return b.nlDeps }

// HasInitialCondition reports whether forward solves use an initial guess.
func (b *MatrixBase) HasInitialCondition() bool { return b.ic }

// AdjointHasInitialCondition reports whether adjoint solves use an initial
// guess.
func (b *MatrixBase) AdjointHasInitialCondition() bool { return b.adjIC }

// Referrer returns the reference-graph node.
func (b *MatrixBase) Referrer() *equation.Referrer { return b.ref }

// DropReferences swaps held functions for placeholders. Idempotent.
func (b *MatrixBase) DropReferences() {
	if b.ref.Dropped() {
		return
	}
	b.nlDeps = fn.ReplaceAll(b.nlDeps)
	b.ref.MarkDropped()
}
