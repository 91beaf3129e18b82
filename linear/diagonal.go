package linear

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
)

// DiagonalMatrix is the operator A(c) x = c ⊙ x with a function-valued
// diagonal. The diagonal is a non-linear dependency: the operator must be
// re-linearized around it during adjoint and tangent-linear calculations.
type DiagonalMatrix struct {
	*MatrixBase
}

// NewDiagonalMatrix creates the operator with diagonal c.
func NewDiagonalMatrix(c fn.Fn) (*DiagonalMatrix, error) {
	base, err := NewMatrixBase([]fn.Fn{c},
		WithInitialCondition(false),
		WithAdjointInitialCondition(false))
	if err != nil {
		return nil, err
	}
	return &DiagonalMatrix{MatrixBase: base}, nil
}

func hadamard(y, z fn.Fn) ([]float64, error) {
	yv, err := values(y)
	if err != nil {
		return nil, err
	}
	zv, err := values(z)
	if err != nil {
		return nil, err
	}
	if len(yv) != len(zv) {
		return nil, fmt.Errorf("%w: %d != %d", fn.ErrShapeMismatch, len(yv), len(zv))
	}
	v := make([]float64, len(yv))
	for i := range v {
		v[i] = yv[i] * zv[i]
	}
	return v, nil
}

func diagonalSolve(x, c, b fn.Fn) error {
	xv, err := values(x)
	if err != nil {
		return err
	}
	cv, err := values(c)
	if err != nil {
		return err
	}
	bv, err := values(b)
	if err != nil {
		return err
	}
	if len(xv) != len(cv) || len(xv) != len(bv) {
		return fmt.Errorf("%w: %d, %d, %d", fn.ErrShapeMismatch, len(xv), len(cv), len(bv))
	}
	for i := range xv {
		if cv[i] == 0 {
			return fmt.Errorf("%w: zero diagonal entry %d", ErrSingular, i)
		}
		xv[i] = bv[i] / cv[i]
	}
	x.BumpState()
	return nil
}

// ForwardAction evaluates c ⊙ x into B[0].
func (m *DiagonalMatrix) ForwardAction(nlDeps []fn.Fn, X []fn.Fn, B []fn.Fn, mode AccMode) error {
	if len(X) != 1 || len(B) != 1 {
		return ErrSingleComponent
	}
	v, err := hadamard(nlDeps[0], X[0])
	if err != nil {
		return err
	}
	return accumulate(B[0], mode, v)
}

// ForwardSolve divides elementwise. The initial guess is ignored.
func (m *DiagonalMatrix) ForwardSolve(X []fn.Fn, nlDeps []fn.Fn, B []fn.Fn) error {
	if len(X) != 1 || len(B) != 1 {
		return ErrSingleComponent
	}
	return diagonalSolve(X[0], nlDeps[0], B[0])
}

// AdjointAction evaluates c ⊙ λ into b: the operator is symmetric.
func (m *DiagonalMatrix) AdjointAction(nlDeps []fn.Fn, adjX []fn.Fn, b fn.Fn, bIndex int, mode AccMode) error {
	if len(adjX) != 1 || bIndex != 0 {
		return ErrSingleComponent
	}
	v, err := hadamard(nlDeps[0], adjX[0])
	if err != nil {
		return err
	}
	return accumulate(b, mode, v)
}

// AdjointSolve divides elementwise, as in the forward direction.
func (m *DiagonalMatrix) AdjointSolve(adjX []fn.Fn, nlDeps []fn.Fn, B []fn.Fn) ([]fn.Fn, error) {
	if len(B) != 1 {
		return nil, ErrSingleComponent
	}
	if adjX == nil {
		adjX = []fn.Fn{B[0].NewLike(fn.ConjugateDual)}
	} else if len(adjX) != 1 {
		return nil, ErrSingleComponent
	}
	if err := diagonalSolve(adjX[0], nlDeps[0], B[0]); err != nil {
		return nil, err
	}
	return adjX, nil
}

// AdjointDerivativeAction evaluates the derivative with respect to the
// diagonal: d(c ⊙ x)/dc is diag(x), so the action is x ⊙ λ.
func (m *DiagonalMatrix) AdjointDerivativeAction(_ []fn.Fn, nlDepIndex int, X []fn.Fn, adjX []fn.Fn, b fn.Fn, mode AccMode) error {
	if nlDepIndex != 0 {
		return fmt.Errorf("%w: %d", equation.ErrIndexOutOfBounds, nlDepIndex)
	}
	if len(X) != 1 || len(adjX) != 1 {
		return ErrSingleComponent
	}
	v, err := hadamard(X[0], adjX[0])
	if err != nil {
		return err
	}
	return accumulate(b, mode, v)
}

// TangentLinearRHS contributes −tau_c ⊙ x, from differentiating −A(c) x with
// respect to the diagonal.
func (m *DiagonalMatrix) TangentLinearRHS(_, _ []fn.Fn, tlmMap *equation.TLMMap, X []fn.Fn) ([]Term, error) {
	if len(X) != 1 {
		return nil, ErrSingleComponent
	}
	tau := tlmMap.Get(m.NonlinearDependencies()[0])
	term, err := NewHadamardTerm(-1.0, tau, X[0])
	if err != nil {
		return nil, err
	}
	return []Term{term}, nil
}
