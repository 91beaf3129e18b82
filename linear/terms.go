package linear

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
)

// ScaledTerm contributes alpha*y to a single-component right-hand-side. The
// contribution is linear in y, so the term carries no non-linear
// dependencies.
type ScaledTerm struct {
	*TermBase
	alpha float64
}

// NewScaledTerm creates the contribution alpha*y.
func NewScaledTerm(alpha float64, y fn.Fn) (*ScaledTerm, error) {
	base, err := NewTermBase([]fn.Fn{y}, nil)
	if err != nil {
		return nil, err
	}
	return &ScaledTerm{TermBase: base, alpha: alpha}, nil
}

// AddForward adds alpha*y to B[0].
func (t *ScaledTerm) AddForward(B []fn.Fn, deps []fn.Fn) error {
	return B[0].Axpy(t.alpha, deps[0])
}

// SubtractAdjointDerivativeAction subtracts alpha*adjX[0] from b.
func (t *ScaledTerm) SubtractAdjointDerivativeAction(_ []fn.Fn, depIndex int, adjX []fn.Fn, b fn.Fn) error {
	if depIndex != 0 {
		return fmt.Errorf("%w: %d", equation.ErrIndexOutOfBounds, depIndex)
	}
	return b.Axpy(-t.alpha, adjX[0])
}

// TangentLinearRHS differentiates to alpha*tau_y.
func (t *ScaledTerm) TangentLinearRHS(_, _ []fn.Fn, tlmMap *equation.TLMMap) ([]Term, error) {
	tau, err := NewScaledTerm(t.alpha, tlmMap.Get(t.Dependencies()[0]))
	if err != nil {
		return nil, err
	}
	return []Term{tau}, nil
}

// HadamardTerm contributes alpha*(y ⊙ z), the scaled elementwise product, to
// a single-component right-hand-side. Bilinear in (y, z), so both are
// non-linear dependencies.
type HadamardTerm struct {
	*TermBase
	alpha float64
}

// NewHadamardTerm creates the contribution alpha*(y ⊙ z). y and z must be
// distinct functions.
func NewHadamardTerm(alpha float64, y, z fn.Fn) (*HadamardTerm, error) {
	deps := []fn.Fn{y, z}
	base, err := NewTermBase(deps, deps)
	if err != nil {
		return nil, err
	}
	return &HadamardTerm{TermBase: base, alpha: alpha}, nil
}

// AddForward adds alpha*(y ⊙ z) to B[0].
func (t *HadamardTerm) AddForward(B []fn.Fn, deps []fn.Fn) error {
	yv, err := values(deps[0])
	if err != nil {
		return err
	}
	zv, err := values(deps[1])
	if err != nil {
		return err
	}
	if len(yv) != len(zv) {
		return fmt.Errorf("%w: %d != %d", fn.ErrShapeMismatch, len(yv), len(zv))
	}
	v := make([]float64, len(yv))
	for i := range v {
		v[i] = t.alpha * yv[i] * zv[i]
	}
	return accumulate(B[0], Add, v)
}

// SubtractAdjointDerivativeAction subtracts alpha*(other ⊙ adjX[0]) from b,
// where other is the factor the derivative is not taken with respect to.
func (t *HadamardTerm) SubtractAdjointDerivativeAction(nlDeps []fn.Fn, depIndex int, adjX []fn.Fn, b fn.Fn) error {
	if depIndex != 0 && depIndex != 1 {
		return fmt.Errorf("%w: %d", equation.ErrIndexOutOfBounds, depIndex)
	}
	ov, err := values(nlDeps[1-depIndex])
	if err != nil {
		return err
	}
	av, err := values(adjX[0])
	if err != nil {
		return err
	}
	if len(ov) != len(av) {
		return fmt.Errorf("%w: %d != %d", fn.ErrShapeMismatch, len(ov), len(av))
	}
	v := make([]float64, len(ov))
	for i := range v {
		v[i] = t.alpha * ov[i] * av[i]
	}
	return accumulate(b, Sub, v)
}

// TangentLinearRHS differentiates by the product rule to
// alpha*(tau_y ⊙ z) + alpha*(y ⊙ tau_z).
func (t *HadamardTerm) TangentLinearRHS(_, _ []fn.Fn, tlmMap *equation.TLMMap) ([]Term, error) {
	y, z := t.Dependencies()[0], t.Dependencies()[1]
	first, err := NewHadamardTerm(t.alpha, tlmMap.Get(y), z)
	if err != nil {
		return nil, err
	}
	second, err := NewHadamardTerm(t.alpha, y, tlmMap.Get(z))
	if err != nil {
		return nil, err
	}
	return []Term{first, second}, nil
}
