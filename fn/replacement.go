package fn

// Replacement is the lightweight placeholder installed once the tape no
// longer needs a function's live values. It answers structural queries
// (identity, space type, cache registry) but every numeric operation fails
// with ErrReplacement.
type Replacement struct {
	id           uint64
	spaceType    SpaceType
	checkpointed bool
	caches       *Registry
}

func newReplacement(x Fn) *Replacement {
	return &Replacement{
		id:           x.ID(),
		spaceType:    x.SpaceType(),
		checkpointed: x.Checkpointed(),
		caches:       x.Caches(),
	}
}

// Replace swaps a function for its replacement placeholder. Replacements
// pass through unchanged.
func Replace(x Fn) Fn {
	return x.Replacement()
}

// ReplaceAll swaps every function in fns for its replacement.
func ReplaceAll(fns []Fn) []Fn {
	out := make([]Fn, len(fns))
	for i, f := range fns {
		out[i] = Replace(f)
	}
	return out
}

// ID implements Fn.
func (r *Replacement) ID() uint64 { return r.id }

// State implements Fn. A replacement has no value, so its state never moves.
func (r *Replacement) State() uint64 { return 0 }

// BumpState implements Fn as a no-op.
func (r *Replacement) BumpState() {}

// SpaceType implements Fn.
func (r *Replacement) SpaceType() SpaceType { return r.spaceType }

// Checkpointed implements Fn.
func (r *Replacement) Checkpointed() bool { return r.checkpointed }

// Alias implements Fn.
func (r *Replacement) Alias() bool { return false }

// Caches implements Fn, returning the registry of the replaced function.
func (r *Replacement) Caches() *Registry { return r.caches }

// Zero implements Fn.
func (r *Replacement) Zero() error { return ErrReplacement }

// Assign implements Fn.
func (r *Replacement) Assign(Fn) error { return ErrReplacement }

// Copy implements Fn.
func (r *Replacement) Copy() (Fn, error) { return nil, ErrReplacement }

// Axpy implements Fn.
func (r *Replacement) Axpy(float64, Fn) error { return ErrReplacement }

// Inner implements Fn.
func (r *Replacement) Inner(Fn) (float64, error) { return 0, ErrReplacement }

// NewLike implements Fn. Allocation needs live storage, so this panics; it
// indicates a bookkeeping bug, not a user error.
func (r *Replacement) NewLike(SpaceType) Fn {
	panic("fn: NewLike on a replacement")
}

// Replacement implements Fn.
func (r *Replacement) Replacement() Fn { return r }
