package fn

// Clearer is the view of a cache seen from a function's registry: entries
// depending on a given function identity can be cleared without the registry
// knowing anything else about the cache.
type Clearer interface {
	// ID returns the cache's unique identity.
	ID() uint64
	// ClearDep removes every entry depending on the given function
	// identity, together with its dependency bookkeeping.
	ClearDep(depID uint64)
}

// Registry tracks the caches holding entries that depend on one function.
// It records the (identity, state) pair of the last observed value; Update
// compares against it and clears stale entries on mismatch.
//
// Registration is explicit: caches add themselves when an entry is installed
// and remove themselves once no entry for this dependency remains. There is
// no finalizer magic; invalidation is driven by Update calls after forward
// solves.
type Registry struct {
	ownerID   uint64
	lastID    uint64
	lastState uint64
	caches    map[uint64]Clearer
}

// NewRegistry creates a registry for the variable defined by x.
func NewRegistry(x Fn) *Registry {
	return &Registry{
		ownerID:   x.ID(),
		lastID:    x.ID(),
		lastState: x.State(),
		caches:    make(map[uint64]Clearer),
	}
}

// Len returns the number of caches registered.
func (r *Registry) Len() int {
	return len(r.caches)
}

// Add registers a cache holding an entry that depends on this variable.
func (r *Registry) Add(c Clearer) {
	if _, ok := r.caches[c.ID()]; !ok {
		r.caches[c.ID()] = c
	}
}

// Remove deregisters a cache. Called by the cache itself once it holds no
// entry depending on this variable.
func (r *Registry) Remove(c Clearer) {
	delete(r.caches, c.ID())
}

// Clear removes, from every registered cache, the entries that depend on
// this variable. Caches deregister themselves during the sweep.
func (r *Registry) Clear() {
	caches := make([]Clearer, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	for _, c := range caches {
		c.ClearDep(r.ownerID)
	}
}

// Update checks x against the last observed (identity, state) pair and, on
// mismatch, clears every entry that depended on the old value before
// recording the new pair.
func (r *Registry) Update(x Fn) {
	id, state := x.ID(), x.State()
	if id != r.lastID || state != r.lastState {
		r.Clear()
		r.lastID, r.lastState = id, state
	}
}
