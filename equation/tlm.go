package equation

import (
	"fmt"

	"github.com/adjoint-ml/adjoint/fn"
)

// TLMMap resolves the tangent-linear variable associated with each forward
// variable. Controls map to their declared directions; every other variable
// gets a zero-initialized tangent-linear function allocated on first lookup,
// so the same forward variable always resolves to the same tangent-linear
// variable.
type TLMMap struct {
	vars map[uint64]fn.Fn
}

// NewTLMMap creates a map for the controls m with directions dm.
func NewTLMMap(m, dm []fn.Fn) (*TLMMap, error) {
	if len(m) != len(dm) {
		return nil, fmt.Errorf("%w: %d controls, %d directions", fn.ErrShapeMismatch, len(m), len(dm))
	}
	vars := make(map[uint64]fn.Fn, len(m))
	for i, mi := range m {
		vars[mi.ID()] = dm[i]
	}
	return &TLMMap{vars: vars}, nil
}

// Get returns the tangent-linear variable for x, allocating a zero-valued
// primal-relative function on first lookup.
func (t *TLMMap) Get(x fn.Fn) fn.Fn {
	if v, ok := t.vars[x.ID()]; ok {
		return v
	}
	v := x.NewLike(fn.Primal)
	t.vars[x.ID()] = v
	return v
}

// Has reports whether a tangent-linear variable already exists for x.
func (t *TLMMap) Has(x fn.Fn) bool {
	_, ok := t.vars[x.ID()]
	return ok
}
