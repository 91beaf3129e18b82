package equation

import "github.com/adjoint-ml/adjoint/fn"

// AdjointRHS accumulates one component of an adjoint equation's
// right-hand-side. The accumulator lives in the conjugate dual space of the
// forward variable and is allocated lazily, on first use, so untouched
// right-hand-sides cost nothing until finalized.
type AdjointRHS struct {
	x fn.Fn
	b fn.Fn
}

// NewAdjointRHS creates an accumulator for the right-hand-side associated
// with forward variable x.
func NewAdjointRHS(x fn.Fn) *AdjointRHS {
	return &AdjointRHS{x: x}
}

// Fn returns the accumulator function, allocating it zero-valued on first
// use.
func (r *AdjointRHS) Fn() fn.Fn {
	if r.b == nil {
		r.b = r.x.NewLike(fn.ConjugateDual)
	}
	return r.b
}

// Initialized reports whether the accumulator has been allocated.
func (r *AdjointRHS) Initialized() bool { return r.b != nil }

// Sub subtracts v from the accumulated right-hand-side.
func (r *AdjointRHS) Sub(v fn.Fn) error {
	return r.Fn().Axpy(-1.0, v)
}

// SubScaled subtracts alpha*v from the accumulated right-hand-side.
func (r *AdjointRHS) SubScaled(alpha float64, v fn.Fn) error {
	return r.Fn().Axpy(-alpha, v)
}

// AdjointEquationRHS groups one AdjointRHS per solution component of an
// equation.
type AdjointEquationRHS struct {
	b []*AdjointRHS
}

// NewAdjointEquationRHS creates accumulators for every solution component of
// eq.
func NewAdjointEquationRHS(eq Equation) *AdjointEquationRHS {
	X := eq.X()
	b := make([]*AdjointRHS, len(X))
	for m, x := range X {
		b[m] = NewAdjointRHS(x)
	}
	return &AdjointEquationRHS{b: b}
}

// At returns the accumulator for component m.
func (r *AdjointEquationRHS) At(m int) *AdjointRHS { return r.b[m] }

// Len returns the number of components.
func (r *AdjointEquationRHS) Len() int { return len(r.b) }

// B returns the accumulator functions, allocating as needed.
func (r *AdjointEquationRHS) B() []fn.Fn {
	out := make([]fn.Fn, len(r.b))
	for m, rhs := range r.b {
		out[m] = rhs.Fn()
	}
	return out
}

// BCopy returns copies of the accumulator functions. Solvers that may return
// the right-hand-side itself as the solution receive the copies.
func (r *AdjointEquationRHS) BCopy() ([]fn.Fn, error) {
	out := make([]fn.Fn, len(r.b))
	for m, rhs := range r.b {
		c, err := rhs.Fn().Copy()
		if err != nil {
			return nil, err
		}
		out[m] = c
	}
	return out, nil
}

// AdjointModelRHS holds the right-hand-side accumulators of a group of
// equations replayed together, indexed by equation then component.
type AdjointModelRHS struct {
	eqs []*AdjointEquationRHS
}

// NewAdjointModelRHS creates accumulators for every equation in eqs.
func NewAdjointModelRHS(eqs []Equation) *AdjointModelRHS {
	out := make([]*AdjointEquationRHS, len(eqs))
	for i, eq := range eqs {
		out[i] = NewAdjointEquationRHS(eq)
	}
	return &AdjointModelRHS{eqs: out}
}

// Eq returns the accumulators for equation i.
func (r *AdjointModelRHS) Eq(i int) *AdjointEquationRHS { return r.eqs[i] }

// Len returns the number of equations.
func (r *AdjointModelRHS) Len() int { return len(r.eqs) }
