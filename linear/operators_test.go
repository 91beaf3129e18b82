package linear

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adjoint-ml/adjoint/cache"
	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
)

func TestDenseMatrixSolve(t *testing.T) {
	old := cache.SetLinearSolverCache(cache.New())
	defer cache.SetLinearSolverCache(old)

	a, err := NewDenseMatrix(mat.NewDense(2, 2, []float64{
		2, 0,
		1, 3,
	}))
	require.NoError(t, err)

	x := fn.NewDense(2)
	b := fn.NewDenseFromSlice([]float64{4, 7})
	eq, err := NewLinearEquation([]fn.Fn{x}, []Term{scaled(t, 1, b)}, WithMatrix(a))
	require.NoError(t, err)

	assert.Empty(t, eq.InitialConditionDependencies(),
		"a direct solver takes no initial guess")
	assert.Equal(t, []fn.SpaceType{fn.Primal}, eq.AdjXTypes())

	require.NoError(t, equation.Forward(eq, eq.X(), nil))
	assert.InDelta(t, 2.0, x.Values()[0], 1e-14)
	assert.InDelta(t, 5.0/3.0, x.Values()[1], 1e-14)
}

func TestDenseMatrixFactorizationCached(t *testing.T) {
	c := cache.New()
	old := cache.SetLinearSolverCache(c)
	defer cache.SetLinearSolverCache(old)

	a, err := NewDenseMatrix(mat.NewDense(2, 2, []float64{
		2, 0,
		0, 2,
	}))
	require.NoError(t, err)

	x := fn.NewDense(2)
	b := fn.NewDenseFromSlice([]float64{2, 4})
	eq, err := NewLinearEquation([]fn.Fn{x}, []Term{scaled(t, 1, b)}, WithMatrix(a))
	require.NoError(t, err)

	require.NoError(t, equation.Forward(eq, eq.X(), nil))
	require.NoError(t, equation.Forward(eq, eq.X(), nil))
	assert.Equal(t, 1, c.Len(), "repeat solves reuse the factorization")
	assert.Equal(t, []float64{1, 2}, x.Values())
}

func TestDenseMatrixAdjoint(t *testing.T) {
	old := cache.SetLinearSolverCache(cache.New())
	defer cache.SetLinearSolverCache(old)

	a, err := NewDenseMatrix(mat.NewDense(2, 2, []float64{
		2, 0,
		1, 3,
	}))
	require.NoError(t, err)

	x := fn.NewDense(2)
	b := fn.NewDenseFromSlice([]float64{4, 7})
	eq, err := NewLinearEquation([]fn.Fn{x}, []Term{scaled(t, 1, b)}, WithMatrix(a))
	require.NoError(t, err)
	require.NoError(t, equation.Forward(eq, eq.X(), nil))

	seed := fn.NewDenseFromSlice([]float64{1, 0}, fn.WithSpaceType(fn.ConjugateDual))
	depB := equation.NewAdjointRHS(b)
	adjX, err := equation.Adjoint(eq, nil, eq.NonlinearDependencies(),
		[]fn.Fn{seed}, map[int]*equation.AdjointRHS{1: depB})
	require.NoError(t, err)

	// Aᵀλ = seed: 2λ₀ + λ₁ = 1, 3λ₁ = 0.
	assert.InDelta(t, 0.5, adjX[0].(*fn.Dense).Values()[0], 1e-14)
	assert.InDelta(t, 0.0, adjX[0].(*fn.Dense).Values()[1], 1e-14)
	assert.InDelta(t, 0.5, depB.Fn().(*fn.Dense).Values()[0], 1e-14)
}

func TestDenseMatrixRejectsNonSquare(t *testing.T) {
	_, err := NewDenseMatrix(mat.NewDense(2, 3, nil))
	assert.ErrorIs(t, err, fn.ErrShapeMismatch)
}

func TestDenseMatrixSingular(t *testing.T) {
	old := cache.SetLinearSolverCache(cache.New())
	defer cache.SetLinearSolverCache(old)

	a, err := NewDenseMatrix(mat.NewDense(2, 2, []float64{
		1, 1,
		1, 1,
	}))
	require.NoError(t, err)

	x := fn.NewDense(2)
	b := fn.NewDenseFromSlice([]float64{1, 2})
	eq, err := NewLinearEquation([]fn.Fn{x}, []Term{scaled(t, 1, b)}, WithMatrix(a))
	require.NoError(t, err)
	assert.ErrorIs(t, equation.Forward(eq, eq.X(), nil), ErrSingular)
}

func TestDiagonalMatrixSolve(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{2, 4})
	x := fn.NewDense(2)
	b := fn.NewDenseFromSlice([]float64{6, 8})

	a, err := NewDiagonalMatrix(c)
	require.NoError(t, err)
	eq, err := NewLinearEquation([]fn.Fn{x}, []Term{scaled(t, 1, b)}, WithMatrix(a))
	require.NoError(t, err)

	assert.Equal(t, fn.IDs([]fn.Fn{x, b, c}), fn.IDs(eq.Dependencies()))
	assert.Equal(t, fn.IDs([]fn.Fn{c, x}), fn.IDs(eq.NonlinearDependencies()),
		"the solution re-enters the non-linear set for a non-constant operator")

	require.NoError(t, equation.Forward(eq, eq.X(), nil))
	assert.Equal(t, []float64{3, 2}, x.Values())
}

func TestDiagonalMatrixAdjointDerivative(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{2, 4})
	x := fn.NewDense(2)
	b := fn.NewDenseFromSlice([]float64{6, 8})

	a, err := NewDiagonalMatrix(c)
	require.NoError(t, err)
	eq, err := NewLinearEquation([]fn.Fn{x}, []Term{scaled(t, 1, b)}, WithMatrix(a))
	require.NoError(t, err)
	require.NoError(t, equation.Forward(eq, eq.X(), nil))

	seed := fn.NewDenseFromSlice([]float64{1, 0}, fn.WithSpaceType(fn.ConjugateDual))
	depBC := equation.NewAdjointRHS(c)
	adjX, err := equation.Adjoint(eq, nil, eq.NonlinearDependencies(),
		[]fn.Fn{seed}, map[int]*equation.AdjointRHS{2: depBC})
	require.NoError(t, err)

	// λ = seed / c, and d(xᵢ)/d(cᵢ) = -bᵢ/cᵢ² = -xᵢ/cᵢ.
	assert.InDelta(t, 0.5, adjX[0].(*fn.Dense).Values()[0], 1e-14)
	got := depBC.Fn().(*fn.Dense).Values()
	assert.InDelta(t, -1.5, got[0], 1e-14)
	assert.InDelta(t, 0.0, got[1], 1e-14)
}

func TestDiagonalMatrixSingular(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{1, 0})
	x := fn.NewDense(2)
	b := fn.NewDenseFromSlice([]float64{1, 1})

	a, err := NewDiagonalMatrix(c)
	require.NoError(t, err)
	eq, err := NewLinearEquation([]fn.Fn{x}, []Term{scaled(t, 1, b)}, WithMatrix(a))
	require.NoError(t, err)
	assert.ErrorIs(t, equation.Forward(eq, eq.X(), nil), ErrSingular)
}

func TestDiagonalMatrixTangentLinear(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{2, 4})
	x := fn.NewDense(2)
	b := fn.NewDenseFromSlice([]float64{6, 8})
	dc := fn.NewDenseFromSlice([]float64{1, 1})

	a, err := NewDiagonalMatrix(c)
	require.NoError(t, err)
	eq, err := NewLinearEquation([]fn.Fn{x}, []Term{scaled(t, 1, b)}, WithMatrix(a))
	require.NoError(t, err)
	require.NoError(t, equation.Forward(eq, eq.X(), nil))

	tlmMap, err := equation.NewTLMMap([]fn.Fn{c}, []fn.Fn{dc})
	require.NoError(t, err)
	tlmEq, err := eq.TangentLinear([]fn.Fn{c}, []fn.Fn{dc}, tlmMap)
	require.NoError(t, err)
	require.NoError(t, equation.Forward(tlmEq, tlmEq.X(), nil))

	// dx/dc · dc = -x/c elementwise for dc = 1.
	tau := tlmMap.Get(x).(*fn.Dense)
	assert.InDelta(t, -1.5, tau.Values()[0], 1e-14)
	assert.InDelta(t, -0.5, tau.Values()[1], 1e-14)
}

func TestConstantMatrixTangentLinearCollapses(t *testing.T) {
	old := cache.SetLinearSolverCache(cache.New())
	defer cache.SetLinearSolverCache(old)

	a, err := NewDenseMatrix(mat.NewDense(1, 1, []float64{2}))
	require.NoError(t, err)

	x := fn.NewDense(1)
	eq, err := NewLinearEquation([]fn.Fn{x}, nil, WithMatrix(a))
	require.NoError(t, err)

	m := fn.NewDense(1)
	dm := fn.NewDenseFromSlice([]float64{1})
	tlmMap, err := equation.NewTLMMap([]fn.Fn{m}, []fn.Fn{dm})
	require.NoError(t, err)
	tlmEq, err := eq.TangentLinear([]fn.Fn{m}, []fn.Fn{dm}, tlmMap)
	require.NoError(t, err)
	assert.IsType(t, &equation.ZeroAssignment{}, tlmEq,
		"no surviving terms collapses to the zero assignment")
}
