package fn

import (
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Dense is a reference Fn implementation backed by a gonum dense vector.
// It is what the concrete linear operators and the test suites work with;
// production frameworks substitute their own Fn implementations.
type Dense struct {
	id           uint64
	state        uint64
	spaceType    SpaceType
	checkpointed bool
	alias        bool
	vec          *mat.VecDense
	caches       *Registry
	repl         *Replacement
}

// DenseOption configures a Dense at construction.
type DenseOption func(*Dense)

// WithSpaceType sets the space type. Defaults to Primal.
func WithSpaceType(t SpaceType) DenseOption {
	return func(d *Dense) { d.spaceType = t }
}

// WithoutCheckpointing marks the function as not recorded on the tape.
// Non-checkpointed functions may not be solved for.
func WithoutCheckpointing() DenseOption {
	return func(d *Dense) { d.checkpointed = false }
}

// NewDense creates a zero-valued checkpointed function of length n.
func NewDense(n int, opts ...DenseOption) *Dense {
	d := &Dense{
		id:           NextID(),
		spaceType:    Primal,
		checkpointed: true,
		vec:          mat.NewVecDense(n, nil),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDenseFromSlice creates a checkpointed function holding a copy of data.
func NewDenseFromSlice(data []float64, opts ...DenseOption) *Dense {
	d := NewDense(len(data), opts...)
	copy(d.vec.RawVector().Data, data)
	return d
}

// NewAliasOf returns a view sharing x's identity and storage, flagged as an
// alias. Aliases are rejected as solutions and dependencies.
func NewAliasOf(x *Dense) *Dense {
	return &Dense{
		id:           x.id,
		state:        x.state,
		spaceType:    x.spaceType,
		checkpointed: x.checkpointed,
		alias:        true,
		vec:          x.vec,
	}
}

// ID implements Fn.
func (d *Dense) ID() uint64 { return d.id }

// State implements Fn.
func (d *Dense) State() uint64 { return d.state }

// BumpState implements Fn.
func (d *Dense) BumpState() { d.state++ }

// SpaceType implements Fn.
func (d *Dense) SpaceType() SpaceType { return d.spaceType }

// Checkpointed implements Fn.
func (d *Dense) Checkpointed() bool { return d.checkpointed }

// Alias implements Fn.
func (d *Dense) Alias() bool { return d.alias }

// Caches implements Fn, allocating the registry on first use.
func (d *Dense) Caches() *Registry {
	if d.caches == nil {
		d.caches = NewRegistry(d)
	}
	return d.caches
}

// Len returns the number of degrees of freedom.
func (d *Dense) Len() int { return d.vec.Len() }

// Values exposes the local degrees of freedom. Mutating the returned slice
// requires a following BumpState by the caller.
func (d *Dense) Values() []float64 { return d.vec.RawVector().Data }

// Vector returns the underlying gonum vector.
func (d *Dense) Vector() *mat.VecDense { return d.vec }

// Zero implements Fn.
func (d *Dense) Zero() error {
	d.vec.Zero()
	d.state++
	return nil
}

// Assign implements Fn.
func (d *Dense) Assign(y Fn) error {
	ys, err := denseValues(y)
	if err != nil {
		return err
	}
	if len(ys) != d.vec.Len() {
		return ErrShapeMismatch
	}
	copy(d.Values(), ys)
	d.state++
	return nil
}

// Copy implements Fn.
func (d *Dense) Copy() (Fn, error) {
	c := NewDense(d.vec.Len(), WithSpaceType(d.spaceType))
	c.checkpointed = d.checkpointed
	copy(c.Values(), d.Values())
	return c, nil
}

// Axpy implements Fn.
func (d *Dense) Axpy(alpha float64, y Fn) error {
	ys, err := denseValues(y)
	if err != nil {
		return err
	}
	if len(ys) != d.vec.Len() {
		return ErrShapeMismatch
	}
	floats.AddScaled(d.Values(), alpha, ys)
	d.state++
	return nil
}

// Inner implements Fn.
func (d *Dense) Inner(y Fn) (float64, error) {
	ys, err := denseValues(y)
	if err != nil {
		return 0, err
	}
	if len(ys) != d.vec.Len() {
		return 0, ErrShapeMismatch
	}
	return floats.Dot(d.Values(), ys), nil
}

// NewLike implements Fn.
func (d *Dense) NewLike(rel SpaceType) Fn {
	return NewDense(d.vec.Len(), WithSpaceType(d.spaceType.Relative(rel)))
}

// Replacement implements Fn, memoizing the placeholder so structural
// comparisons by identity keep working after references are dropped.
func (d *Dense) Replacement() Fn {
	if d.repl == nil {
		d.repl = newReplacement(d)
	}
	return d.repl
}

func denseValues(y Fn) ([]float64, error) {
	if _, ok := y.(*Replacement); ok {
		return nil, ErrReplacement
	}
	s, ok := y.(Slicer)
	if !ok {
		return nil, ErrShapeMismatch
	}
	return s.Values(), nil
}
