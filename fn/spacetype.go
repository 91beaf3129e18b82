package fn

import "fmt"

// SpaceType classifies the space a function belongs to. Adjoint calculations
// move values between a space, its dual, and their conjugates; tracking the
// space type catches primal/adjoint variable mix-ups at the boundary instead
// of deep inside a solve.
type SpaceType int

const (
	Primal SpaceType = iota
	Conjugate
	Dual
	ConjugateDual
)

// String returns the space type name.
func (t SpaceType) String() string {
	switch t {
	case Primal:
		return "primal"
	case Conjugate:
		return "conjugate"
	case Dual:
		return "dual"
	case ConjugateDual:
		return "conjugate_dual"
	default:
		return fmt.Sprintf("SpaceType(%d)", int(t))
	}
}

// ConjugateType returns the conjugate of this space type.
func (t SpaceType) ConjugateType() SpaceType {
	switch t {
	case Primal:
		return Conjugate
	case Conjugate:
		return Primal
	case Dual:
		return ConjugateDual
	default:
		return Dual
	}
}

// DualType returns the dual of this space type.
func (t SpaceType) DualType() SpaceType {
	switch t {
	case Primal:
		return Dual
	case Dual:
		return Primal
	case Conjugate:
		return ConjugateDual
	default:
		return Conjugate
	}
}

// ConjugateDualType returns the conjugate dual of this space type.
func (t SpaceType) ConjugateDualType() SpaceType {
	return t.ConjugateType().DualType()
}

// Relative resolves a relative space type against t. Primal means t itself;
// the other values select the corresponding derived space.
func (t SpaceType) Relative(rel SpaceType) SpaceType {
	switch rel {
	case Primal:
		return t
	case Conjugate:
		return t.ConjugateType()
	case Dual:
		return t.DualType()
	default:
		return t.ConjugateDualType()
	}
}

// CheckSpaceType verifies that y lives in the space of x at relative type rel.
func CheckSpaceType(x, y Fn, rel SpaceType) error {
	want := x.SpaceType().Relative(rel)
	if got := y.SpaceType(); got != want {
		return fmt.Errorf("%w: have %s, want %s", ErrSpaceType, got, want)
	}
	return nil
}
