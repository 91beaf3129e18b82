package fixedpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adjoint-ml/adjoint/equation"
	"github.com/adjoint-ml/adjoint/fn"
	"github.com/adjoint-ml/adjoint/linear"
)

// halvingSystem builds the cyclic pair x = y/2 + c, y = x, whose fixed point
// is x = y = 2c.
func halvingSystem(t *testing.T, c fn.Fn) (x, y *fn.Dense, eqs []equation.Equation) {
	t.Helper()
	x = fn.NewDense(1)
	y = fn.NewDense(1)

	half, err := linear.NewScaledTerm(0.5, y)
	require.NoError(t, err)
	one, err := linear.NewScaledTerm(1, c)
	require.NoError(t, err)
	eq1, err := linear.NewLinearEquation([]fn.Fn{x}, []linear.Term{half, one})
	require.NoError(t, err)

	carry, err := linear.NewScaledTerm(1, x)
	require.NoError(t, err)
	eq2, err := linear.NewLinearEquation([]fn.Fn{y}, []linear.Term{carry})
	require.NoError(t, err)

	return x, y, []equation.Equation{eq1, eq2}
}

func tightParameters() Parameters {
	p := DefaultParameters()
	p.AbsoluteTolerance = 1e-13
	return p
}

func TestForwardConvergence(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{1})
	x, y, eqs := halvingSystem(t, c)

	s, err := NewSolver(eqs, tightParameters())
	require.NoError(t, err)

	assert.Equal(t, fn.IDs([]fn.Fn{x, y, c}), fn.IDs(s.Dependencies()))
	assert.Equal(t, fn.IDs([]fn.Fn{y}), fn.IDs(s.InitialConditionDependencies()),
		"y is consumed before the equation producing it")

	require.NoError(t, equation.Forward(s, s.X(), nil))
	assert.InDelta(t, 2.0, x.Values()[0], 1e-12)
	assert.InDelta(t, 2.0, y.Values()[0], 1e-12)
}

func TestForwardZeroInitialGuess(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{3})
	x, _, eqs := halvingSystem(t, c)
	x.Values()[0] = 1e6
	x.BumpState()

	p := tightParameters()
	p.NonzeroInitialGuess = false
	s, err := NewSolver(eqs, p)
	require.NoError(t, err)

	assert.Empty(t, s.InitialConditionDependencies(),
		"zeroed starting values need no prior state")
	require.NoError(t, equation.Forward(s, s.X(), nil))
	assert.InDelta(t, 6.0, x.Values()[0], 1e-11)
}

func TestForwardIterationLimit(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{1})
	_, _, eqs := halvingSystem(t, c)

	p := tightParameters()
	p.MaximumIterations = 3
	s, err := NewSolver(eqs, p)
	require.NoError(t, err)

	err = equation.Forward(s, s.X(), nil)
	assert.ErrorIs(t, err, ErrNotConverged)
}

func TestAdjointGradient(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{1})
	x, y, eqs := halvingSystem(t, c)

	s, err := NewSolver(eqs, tightParameters())
	require.NoError(t, err)
	require.NoError(t, equation.Forward(s, s.X(), nil))

	// J = x, so the seeds are dJ/dx = 1 and dJ/dy = 0.
	seedX := fn.NewDenseFromSlice([]float64{1}, fn.WithSpaceType(fn.ConjugateDual))
	seedY := fn.NewDense(1, fn.WithSpaceType(fn.ConjugateDual))
	depBC := equation.NewAdjointRHS(c)

	adjX, err := equation.Adjoint(s, nil, s.NonlinearDependencies(),
		[]fn.Fn{seedX, seedY}, map[int]*equation.AdjointRHS{2: depBC})
	require.NoError(t, err)
	require.Len(t, adjX, 2)

	// λ₁ = 1 + λ₂ and λ₂ = λ₁/2, so λ₁ = 2, λ₂ = 1.
	assert.InDelta(t, 2.0, adjX[0].(*fn.Dense).Values()[0], 1e-11)
	assert.InDelta(t, 1.0, adjX[1].(*fn.Dense).Values()[0], 1e-11)
	assert.InDelta(t, 2.0, depBC.Fn().(*fn.Dense).Values()[0], 1e-11)

	// The adjoint replay must not disturb the forward solution.
	assert.InDelta(t, 2.0, x.Values()[0], 1e-12)
	assert.InDelta(t, 2.0, y.Values()[0], 1e-12)
}

func TestAdjointGradientMatchesFiniteDifference(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{1})
	x, _, eqs := halvingSystem(t, c)

	s, err := NewSolver(eqs, tightParameters())
	require.NoError(t, err)

	solve := func(cv float64) float64 {
		c.Values()[0] = cv
		c.BumpState()
		require.NoError(t, equation.Forward(s, s.X(), nil))
		return x.Values()[0]
	}

	solve(1)
	seedX := fn.NewDenseFromSlice([]float64{1}, fn.WithSpaceType(fn.ConjugateDual))
	seedY := fn.NewDense(1, fn.WithSpaceType(fn.ConjugateDual))
	depBC := equation.NewAdjointRHS(c)
	_, err = equation.Adjoint(s, nil, s.NonlinearDependencies(),
		[]fn.Fn{seedX, seedY}, map[int]*equation.AdjointRHS{2: depBC})
	require.NoError(t, err)
	grad := depBC.Fn().(*fn.Dense).Values()[0]

	h := 1e-4
	fd := (solve(1+h) - solve(1-h)) / (2 * h)
	assert.InDelta(t, fd, grad, 1e-6,
		"the adjoint gradient must match a central finite difference")
}

func TestAdjointOrderRotationInvariance(t *testing.T) {
	for _, i0 := range []int{0, 1} {
		c := fn.NewDenseFromSlice([]float64{1})
		_, _, eqs := halvingSystem(t, c)

		p := tightParameters()
		p.AdjointEqsIndex0 = i0
		s, err := NewSolver(eqs, p)
		require.NoError(t, err)
		require.NoError(t, equation.Forward(s, s.X(), nil))

		seedX := fn.NewDenseFromSlice([]float64{1}, fn.WithSpaceType(fn.ConjugateDual))
		seedY := fn.NewDense(1, fn.WithSpaceType(fn.ConjugateDual))
		depBC := equation.NewAdjointRHS(c)
		_, err = equation.Adjoint(s, nil, s.NonlinearDependencies(),
			[]fn.Fn{seedX, seedY}, map[int]*equation.AdjointRHS{2: depBC})
		require.NoError(t, err)
		assert.InDelta(t, 2.0, depBC.Fn().(*fn.Dense).Values()[0], 1e-10,
			"rotating the within-pass order must not change the converged gradient")
	}
}

func TestTangentLinearThroughFixedPoint(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{1})
	x, _, eqs := halvingSystem(t, c)

	s, err := NewSolver(eqs, tightParameters())
	require.NoError(t, err)
	require.NoError(t, equation.Forward(s, s.X(), nil))

	dc := fn.NewDenseFromSlice([]float64{1})
	tlmMap, err := equation.NewTLMMap([]fn.Fn{c}, []fn.Fn{dc})
	require.NoError(t, err)
	tlmEq, err := s.TangentLinear([]fn.Fn{c}, []fn.Fn{dc}, tlmMap)
	require.NoError(t, err)

	ts, ok := tlmEq.(*Solver)
	require.True(t, ok, "the derived equation is again a fixed point system")
	require.NoError(t, equation.Forward(ts, ts.X(), nil))

	tau := tlmMap.Get(x).(*fn.Dense)
	assert.InDelta(t, 2.0, tau.Values()[0], 1e-11, "dx/dc = 2 at the fixed point")
}

func TestNewSolverValidation(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{1})
	x, _, eqs := halvingSystem(t, c)

	t.Run("duplicate solve", func(t *testing.T) {
		dup, err := linear.NewScaledTerm(1, c)
		require.NoError(t, err)
		eq3, err := linear.NewLinearEquation([]fn.Fn{x}, []linear.Term{dup})
		require.NoError(t, err)
		_, err = NewSolver(append(eqs, eq3), tightParameters())
		assert.ErrorIs(t, err, ErrDuplicateSolve)
	})

	t.Run("negative tolerance", func(t *testing.T) {
		p := tightParameters()
		p.AbsoluteTolerance = -1
		_, err := NewSolver(eqs, p)
		assert.ErrorIs(t, err, ErrInvalidParameters)
	})

	t.Run("no iterations", func(t *testing.T) {
		p := tightParameters()
		p.MaximumIterations = 0
		_, err := NewSolver(eqs, p)
		assert.ErrorIs(t, err, ErrInvalidParameters)
	})

	t.Run("norm shape", func(t *testing.T) {
		_, err := NewSolver(eqs, tightParameters(), WithNormSqs([][]NormSq{{L2NormSq}}))
		assert.ErrorIs(t, err, ErrInvalidParameters)
	})
}

func TestRelativeTolerance(t *testing.T) {
	c := fn.NewDenseFromSlice([]float64{1000})
	x, _, eqs := halvingSystem(t, c)

	p := DefaultParameters()
	p.AbsoluteTolerance = 1e-300
	p.RelativeTolerance = 1e-10
	s, err := NewSolver(eqs, p)
	require.NoError(t, err)

	require.NoError(t, equation.Forward(s, s.X(), nil))
	assert.InDelta(t, 2000.0, x.Values()[0], 1e-5)
}
