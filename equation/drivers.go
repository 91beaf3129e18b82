package equation

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/fn"
)

// Forward wraps ForwardSolve with cache invalidation. Entries tied to the
// old dependency values are cleared before the solve; the solution states
// are bumped and entries tied to the old solution values are cleared after.
// deps, when non-nil, supplies dependency values in place of the attached
// ones, which allows equation re-use after value substitution inside
// tangent-linear models and fixed-point iterations.
func Forward(eq Equation, X []fn.Fn, deps []fn.Fn) error {
	if err := fn.UpdateCaches(eq.Dependencies(), deps); err != nil {
		return err
	}
	if err := eq.ForwardSolve(X, deps); err != nil {
		return err
	}
	fn.UpdateState(X...)
	return fn.UpdateCaches(eq.X(), X)
}

// Adjoint computes the adjoint solution and subtracts this equation's
// derivative actions from the right-hand-sides of other equations.
//
// adjX, when non-nil, carries an initial guess. B holds one functional
// gradient seed per solution component. depBs maps dependency indices to the
// accumulators of the equations that produced those dependencies. A nil
// result means the adjoint solution is structurally zero; the caller stops
// propagating upstream.
func Adjoint(eq Equation, adjX []fn.Fn, nlDeps []fn.Fn, B []fn.Fn, depBs map[int]*AdjointRHS) ([]fn.Fn, error) {
	if err := fn.UpdateCaches(eq.NonlinearDependencies(), nlDeps); err != nil {
		return nil, err
	}
	adjX, err := eq.AdjointJacobianSolve(adjX, nlDeps, B)
	if err != nil {
		return nil, err
	}
	if adjX == nil {
		return nil, nil
	}
	if err := eq.SubtractAdjointDerivativeActions(adjX, nlDeps, depBs); err != nil {
		return nil, err
	}
	adjTypes := eq.AdjXTypes()
	for m, x := range eq.X() {
		if err := fn.CheckSpaceType(x, adjX[m], adjTypes[m]); err != nil {
			return nil, fmt.Errorf("adjoint component %d: %w", m, err)
		}
	}
	return adjX, nil
}

// AdjointCached subtracts derivative actions for an already-known adjoint
// solution, without re-solving. Used when the adjoint variable was computed
// earlier and only the propagation step needs repeating.
func AdjointCached(eq Equation, adjX []fn.Fn, nlDeps []fn.Fn, depBs map[int]*AdjointRHS) error {
	if err := fn.UpdateCaches(eq.NonlinearDependencies(), nlDeps); err != nil {
		return err
	}
	return eq.SubtractAdjointDerivativeActions(adjX, nlDeps, depBs)
}

// Solve runs the forward computation against the attached dependencies and
// reports to the current Recorder: initial-condition dependencies before the
// solve, the equation itself after.
func Solve(eq Equation) error {
	rec := CurrentRecorder()
	for _, dep := range eq.InitialConditionDependencies() {
		rec.AddInitialCondition(dep)
	}
	if err := Forward(eq, eq.X(), nil); err != nil {
		return err
	}
	rec.AddEquation(eq)
	return nil
}
