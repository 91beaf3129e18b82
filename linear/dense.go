package linear

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/adjoint-ml/adjoint/cache"
	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
)

// DenseMatrix is a constant square operator backed by a gonum dense matrix.
// Solves go through a cached LU factorization shared between the forward and
// adjoint directions via the transpose solve.
type DenseMatrix struct {
	*MatrixBase
	id uint64
	a  *mat.Dense
	c  *cache.Cache
}

type denseLUKey struct {
	matrix uint64
}

// NewDenseMatrix wraps a square matrix. The matrix data is not copied; it
// must not change after construction, since the factorization is cached.
func NewDenseMatrix(a *mat.Dense) (*DenseMatrix, error) {
	r, c := a.Dims()
	if r != c {
		return nil, fmt.Errorf("%w: %dx%d operator is not square", fn.ErrShapeMismatch, r, c)
	}
	base, err := NewMatrixBase(nil,
		WithInitialCondition(false),
		WithAdjointInitialCondition(false))
	if err != nil {
		return nil, err
	}
	return &DenseMatrix{
		MatrixBase: base,
		id:         fn.NextID(),
		a:          a,
		c:          cache.LinearSolverCache(),
	}, nil
}

func (m *DenseMatrix) factorization() (*mat.LU, error) {
	_, v, err := m.c.Add(denseLUKey{matrix: m.id}, func() (any, error) {
		var lu mat.LU
		lu.Factorize(m.a)
		if lu.Cond() > 1e16 {
			return nil, fmt.Errorf("%w: condition number %g", ErrSingular, lu.Cond())
		}
		return &lu, nil
	}, nil)
	if err != nil {
		return nil, err
	}
	return v.(*mat.LU), nil
}

func (m *DenseMatrix) mulVec(x fn.Fn, trans bool) ([]float64, error) {
	xv, err := values(x)
	if err != nil {
		return nil, err
	}
	n, _ := m.a.Dims()
	if len(xv) != n {
		return nil, fmt.Errorf("%w: %d != %d", fn.ErrShapeMismatch, len(xv), n)
	}
	var y mat.VecDense
	if trans {
		y.MulVec(m.a.T(), mat.NewVecDense(n, xv))
	} else {
		y.MulVec(m.a, mat.NewVecDense(n, xv))
	}
	return y.RawVector().Data, nil
}

func (m *DenseMatrix) solve(x, b fn.Fn, trans bool) error {
	lu, err := m.factorization()
	if err != nil {
		return err
	}
	xv, err := values(x)
	if err != nil {
		return err
	}
	bv, err := values(b)
	if err != nil {
		return err
	}
	n, _ := m.a.Dims()
	if len(xv) != n || len(bv) != n {
		return fmt.Errorf("%w: operator is %dx%d", fn.ErrShapeMismatch, n, n)
	}
	dst := mat.NewVecDense(n, xv)
	if err := lu.SolveVecTo(dst, trans, mat.NewVecDense(n, bv)); err != nil {
		return fmt.Errorf("%w: %v", ErrSingular, err)
	}
	x.BumpState()
	return nil
}

// ForwardAction evaluates A x into B[0].
func (m *DenseMatrix) ForwardAction(_ []fn.Fn, X []fn.Fn, B []fn.Fn, mode AccMode) error {
	if len(X) != 1 || len(B) != 1 {
		return ErrSingleComponent
	}
	v, err := m.mulVec(X[0], false)
	if err != nil {
		return err
	}
	return accumulate(B[0], mode, v)
}

// ForwardSolve solves A x = b through the cached factorization. The initial
// guess is ignored.
func (m *DenseMatrix) ForwardSolve(X []fn.Fn, _ []fn.Fn, B []fn.Fn) error {
	if len(X) != 1 || len(B) != 1 {
		return ErrSingleComponent
	}
	return m.solve(X[0], B[0], false)
}

// AdjointAction evaluates Aᵀ λ into b.
func (m *DenseMatrix) AdjointAction(_ []fn.Fn, adjX []fn.Fn, b fn.Fn, bIndex int, mode AccMode) error {
	if len(adjX) != 1 || bIndex != 0 {
		return ErrSingleComponent
	}
	v, err := m.mulVec(adjX[0], true)
	if err != nil {
		return err
	}
	return accumulate(b, mode, v)
}

// AdjointSolve solves Aᵀ λ = b, reusing the forward factorization.
func (m *DenseMatrix) AdjointSolve(adjX []fn.Fn, _ []fn.Fn, B []fn.Fn) ([]fn.Fn, error) {
	if len(B) != 1 {
		return nil, ErrSingleComponent
	}
	if adjX == nil {
		adjX = []fn.Fn{B[0].NewLike(fn.ConjugateDual)}
	} else if len(adjX) != 1 {
		return nil, ErrSingleComponent
	}
	if err := m.solve(adjX[0], B[0], true); err != nil {
		return nil, err
	}
	return adjX, nil
}

// AdjointDerivativeAction never applies: the operator is constant.
func (m *DenseMatrix) AdjointDerivativeAction(_ []fn.Fn, _ int, _ []fn.Fn, _ []fn.Fn, _ fn.Fn, _ AccMode) error {
	return fmt.Errorf("%w: constant operator has no dependencies", equation.ErrNotImplemented)
}

// TangentLinearRHS contributes nothing: the operator is constant.
func (m *DenseMatrix) TangentLinearRHS(_, _ []fn.Fn, _ *equation.TLMMap, _ []fn.Fn) ([]Term, error) {
	return nil, nil
}
