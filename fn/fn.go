// Package fn defines the function contract consumed by the equation core: a
// mutable numeric variable with identity, a state counter incremented on
// every mutation, and a declared space type. The surrounding numerical
// framework supplies the real implementation; Dense is a small host-memory
// reference implementation used by the concrete linear operators and the
// tests.
package fn

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	// ErrSpaceType reports a primal/adjoint variable mix-up.
	ErrSpaceType = errors.New("fn: space type mismatch")
	// ErrShapeMismatch reports operands of different sizes.
	ErrShapeMismatch = errors.New("fn: shape mismatch")
	// ErrReplacement reports a numeric operation on a replacement
	// placeholder, which carries no values.
	ErrReplacement = errors.New("fn: replacement has no value")
)

// Fn is a mutable numeric variable. Identity is permanent; the state counter
// changes whenever the value may have changed, and the pair (ID, State) is
// what cache invalidation keys on.
//
// Implementations outside this module wrap framework-specific storage
// (distributed vectors, finite-element functions). The core never inspects
// values beyond these primitives.
type Fn interface {
	// ID returns the permanent identity of this variable.
	ID() uint64
	// State returns the mutation counter.
	State() uint64
	// BumpState records that the value may have changed.
	BumpState()
	// SpaceType returns the declared space type.
	SpaceType() SpaceType
	// Checkpointed reports whether the variable's values are recorded on
	// the tape. Only checkpointed variables may be solved for.
	Checkpointed() bool
	// Alias reports whether this function aliases another function's
	// storage. Aliases may not appear as solutions or dependencies.
	Alias() bool
	// Caches returns the registry of caches holding entries that depend
	// on this variable.
	Caches() *Registry

	// Zero sets the value to zero.
	Zero() error
	// Assign copies y's value into this function.
	Assign(y Fn) error
	// Copy returns a new function with the same value and space type.
	Copy() (Fn, error)
	// Axpy adds alpha*y to this function.
	Axpy(alpha float64, y Fn) error
	// Inner returns the inner product with y.
	Inner(y Fn) (float64, error)

	// NewLike returns a new zero-valued function in the space at relative
	// type rel with respect to this one.
	NewLike(rel SpaceType) Fn
	// Replacement returns the lightweight placeholder standing in for
	// this function once live values are no longer needed. Replacements
	// return themselves.
	Replacement() Fn
}

// Slicer is implemented by functions exposing their local degrees of freedom
// directly. The dense linear operators require it.
type Slicer interface {
	Values() []float64
}

var idCounter atomic.Uint64

// NextID allocates a process-unique, creation-ordered identity.
func NextID() uint64 {
	return idCounter.Add(1)
}

// UpdateState bumps the state counter of each function.
func UpdateState(fns ...Fn) {
	for _, f := range fns {
		f.BumpState()
	}
}

// UpdateCaches lets each function's cache registry observe the current value
// and clear entries that became stale. When values is nil each function
// defines its own value; otherwise values pairs with fns and supplies the
// functions holding the current values.
func UpdateCaches(fns []Fn, values []Fn) error {
	if values == nil {
		for _, f := range fns {
			f.Caches().Update(f)
		}
		return nil
	}
	if len(fns) != len(values) {
		return fmt.Errorf("%w: %d functions, %d values", ErrShapeMismatch, len(fns), len(values))
	}
	for i, f := range fns {
		f.Caches().Update(values[i])
	}
	return nil
}

// IDs returns the identities of fns in order.
func IDs(fns []Fn) []uint64 {
	ids := make([]uint64, len(fns))
	for i, f := range fns {
		ids[i] = f.ID()
	}
	return ids
}
