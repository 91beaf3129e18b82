package equation

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/fn"
)

// ZeroAssignment represents the assignment x = 0, with forward residual
// F(x) = x. It is the canonical structurally-zero equation: tangent-linear
// derivations return it instead of a nil Equation.
type ZeroAssignment struct {
	*Base
}

// NewZeroAssignment creates the assignment X = 0.
func NewZeroAssignment(X []fn.Fn) (*ZeroAssignment, error) {
	base, err := NewBase(X, X,
		WithNonlinearDeps(),
		WithInitialCondition(false),
		WithAdjointInitialCondition(false))
	if err != nil {
		return nil, err
	}
	return &ZeroAssignment{Base: base}, nil
}

// ForwardSolve zeroes every solution component.
func (z *ZeroAssignment) ForwardSolve(X []fn.Fn, _ []fn.Fn) error {
	for _, x := range X {
		if err := x.Zero(); err != nil {
			return err
		}
	}
	return nil
}

// AdjointJacobianSolve passes the right-hand-side through: the Jacobian is
// the identity.
func (z *ZeroAssignment) AdjointJacobianSolve(_ []fn.Fn, _ []fn.Fn, B []fn.Fn) ([]fn.Fn, error) {
	return B, nil
}

// AdjointDerivativeAction returns the adjoint component for the dependency,
// which for F(x) = x is the adjoint variable itself.
func (z *ZeroAssignment) AdjointDerivativeAction(_ []fn.Fn, depIndex int, adjX []fn.Fn) (fn.Fn, error) {
	if depIndex < 0 || depIndex >= len(adjX) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfBounds, depIndex)
	}
	return adjX[depIndex], nil
}

// SubtractAdjointDerivativeActions applies the default per-dependency loop.
func (z *ZeroAssignment) SubtractAdjointDerivativeActions(adjX []fn.Fn, nlDeps []fn.Fn, depBs map[int]*AdjointRHS) error {
	return SubtractAdjointDerivativeActionsDefault(z, adjX, nlDeps, depBs)
}

// TangentLinear returns a ZeroAssignment over the tangent-linear variables.
func (z *ZeroAssignment) TangentLinear(_, _ []fn.Fn, tlmMap *TLMMap) (Equation, error) {
	tlmX := make([]fn.Fn, len(z.X()))
	for i, x := range z.X() {
		tlmX[i] = tlmMap.Get(x)
	}
	return NewZeroAssignment(tlmX)
}
