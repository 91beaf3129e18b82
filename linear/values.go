package linear

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/fn"
)

func values(f fn.Fn) ([]float64, error) {
	if _, ok := f.(*fn.Replacement); ok {
		return nil, fn.ErrReplacement
	}
	s, ok := f.(fn.Slicer)
	if !ok {
		return nil, fmt.Errorf("%w: %T carries no values", fn.ErrShapeMismatch, f)
	}
	return s.Values(), nil
}

// accumulate combines v into b under the given mode and bumps b's state.
func accumulate(b fn.Fn, mode AccMode, v []float64) error {
	bv, err := values(b)
	if err != nil {
		return err
	}
	if len(bv) != len(v) {
		return fmt.Errorf("%w: %d != %d", fn.ErrShapeMismatch, len(bv), len(v))
	}
	switch mode {
	case Assign:
		copy(bv, v)
	case Add:
		for i := range bv {
			bv[i] += v[i]
		}
	case Sub:
		for i := range bv {
			bv[i] -= v[i]
		}
	default:
		return fmt.Errorf("linear: unknown accumulation mode %d", mode)
	}
	b.BumpState()
	return nil
}
