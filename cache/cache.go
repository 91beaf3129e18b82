// Package cache stores computed artifacts (assembled operators,
// factorizations) keyed by symbolic structure, with dependency-based
// invalidation: an entry stays valid exactly as long as every dependency's
// (identity, state) pair is unchanged since the entry was added.
//
// Invalidation is lazy. Nothing watches mutations; after each forward solve
// the equation drivers call Registry.Update on the functions involved, which
// clears the entries that depended on the old values.
package cache

import (
	"errors"
	"fmt"

	"github.com/adjoint-ml/adjoint/fn"
	"github.com/adjoint-ml/adjoint/internal/metrics"
)

// ErrInvalidEntry reports a cache entry whose value was cleared while still
// registered. It indicates a bookkeeping bug, not a user error.
var ErrInvalidEntry = errors.New("cache: unexpected cleared entry")

// Ref is a clearable reference to a cached value. After Clear, Value returns
// nil.
type Ref struct {
	value any
}

// NewRef creates a reference holding value. A nil value denotes an empty
// entry.
func NewRef(value any) *Ref { return &Ref{value: value} }

// Value returns the referenced value, or nil if cleared.
func (r *Ref) Value() any { return r.value }

// Clear drops the referenced value.
func (r *Ref) Clear() { r.value = nil }

// Cache maps comparable structural keys to computed values. Each entry
// records the identities of the functions it depends on; clearing by
// dependency removes exactly the entries that depend on it, and trims the
// co-dependency bookkeeping of the removed entries rather than rescanning.
type Cache struct {
	id uint64

	entries map[any]*Ref
	// depsMap[depID][key] lists all dependency identities of the entry at
	// key, for every key whose entry depends on depID.
	depsMap map[uint64]map[any][]uint64
	// depRegs holds the registry of each dependency with live entries, so
	// this cache can deregister itself exactly when the last entry for
	// that dependency goes away.
	depRegs map[uint64]*fn.Registry
}

// New creates an empty cache registered for package-level clearing.
func New() *Cache {
	c := &Cache{
		id:      fn.NextID(),
		entries: make(map[any]*Ref),
		depsMap: make(map[uint64]map[any][]uint64),
		depRegs: make(map[uint64]*fn.Registry),
	}
	registerCache(c)
	return c
}

// ID returns the cache's unique identity.
func (c *Cache) ID() uint64 { return c.id }

// Len returns the number of live entries.
func (c *Cache) Len() int { return len(c.entries) }

// Get returns the entry reference for key, or nil if absent.
func (c *Cache) Get(key any) *Ref {
	return c.entries[key]
}

// Add returns the entry for key, computing it at most once. If key is
// already present the existing value is returned and compute is not called.
// Otherwise compute runs first and, only on success, the entry is installed
// and every dependency's registry is told that this cache holds an entry for
// it. A failing compute leaves no trace (all-or-nothing registration).
func (c *Cache) Add(key any, compute func() (any, error), deps []fn.Fn) (*Ref, any, error) {
	if ref, ok := c.entries[key]; ok {
		value := ref.Value()
		if value == nil {
			return nil, nil, fmt.Errorf("%w: key %v", ErrInvalidEntry, key)
		}
		metrics.CacheHits.Inc()
		return ref, value, nil
	}

	value, err := compute()
	if err != nil {
		return nil, nil, err
	}
	metrics.CacheMisses.Inc()
	metrics.CacheEntries.Inc()

	ref := NewRef(value)
	c.entries[key] = ref

	depIDs := fn.IDs(deps)
	for i, dep := range deps {
		reg := dep.Caches()
		reg.Add(c)

		depID := depIDs[i]
		if keys, ok := c.depsMap[depID]; ok {
			keys[key] = depIDs
		} else {
			c.depsMap[depID] = map[any][]uint64{key: depIDs}
			c.depRegs[depID] = reg
		}
	}

	return ref, value, nil
}

// ClearAll removes every entry and deregisters this cache from all
// dependency registries.
func (c *Cache) ClearAll() {
	for _, ref := range c.entries {
		ref.Clear()
		metrics.CacheInvalidations.Inc()
		metrics.CacheEntries.Dec()
	}
	c.entries = make(map[any]*Ref)
	c.depsMap = make(map[uint64]map[any][]uint64)
	for _, reg := range c.depRegs {
		reg.Remove(c)
	}
	c.depRegs = make(map[uint64]*fn.Registry)
}

// Clear removes the entries depending on any of the given functions. With no
// arguments it clears everything.
func (c *Cache) Clear(deps ...fn.Fn) {
	if len(deps) == 0 {
		c.ClearAll()
		return
	}
	for _, dep := range deps {
		c.ClearDep(dep.ID())
	}
}

// ClearDep removes exactly the entries depending on the function identity
// depID. For each removed entry, bookkeeping for its other co-dependencies
// is trimmed, and this cache deregisters itself from any dependency left
// with no entries.
func (c *Cache) ClearDep(depID uint64) {
	keys, ok := c.depsMap[depID]
	if !ok {
		return
	}
	for key, coDepIDs := range keys {
		c.entries[key].Clear()
		delete(c.entries, key)
		metrics.CacheInvalidations.Inc()
		metrics.CacheEntries.Dec()
		for _, coDepID := range coDepIDs {
			if coDepID == depID {
				continue
			}
			coKeys := c.depsMap[coDepID]
			delete(coKeys, key)
			if len(coKeys) == 0 {
				delete(c.depsMap, coDepID)
				c.depRegs[coDepID].Remove(c)
				delete(c.depRegs, coDepID)
			}
		}
	}
	delete(c.depsMap, depID)
	c.depRegs[depID].Remove(c)
	delete(c.depRegs, depID)
}
