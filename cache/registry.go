package cache

import "github.com/adjoint-ml/adjoint/fn"

// Process-wide cache enumeration. Caches register on construction and stay
// registered for the life of the process; clearing, not deregistration, is
// the reclamation mechanism.
var allCaches = make(map[uint64]*Cache)

func registerCache(c *Cache) {
	allCaches[c.id] = c
}

// ClearAll clears cache entries. With no arguments every cache in the
// process is cleared. With functions given, only the entries depending on
// those functions are cleared, across all caches registered for them.
func ClearAll(deps ...fn.Fn) {
	if len(deps) == 0 {
		for _, c := range allCaches {
			c.ClearAll()
		}
		return
	}
	for _, dep := range deps {
		dep.Caches().Clear()
	}
}

// WithLocalCaches clears all caches before and after running f, so cached
// artifacts cannot leak between independent computations.
func WithLocalCaches(f func() error) error {
	ClearAll()
	defer ClearAll()
	return f()
}

// Default caches. Created once at process start and explicitly replaceable;
// constructors of cached operators take a *Cache and default to these.
var (
	assemblyCache     = New()
	linearSolverCache = New()
)

// AssemblyCache returns the default cache for assembled operators.
func AssemblyCache() *Cache { return assemblyCache }

// SetAssemblyCache replaces the default assembly cache and returns the
// previous one.
func SetAssemblyCache(c *Cache) *Cache {
	old := assemblyCache
	assemblyCache = c
	return old
}

// LinearSolverCache returns the default cache for factorizations and linear
// solvers.
func LinearSolverCache() *Cache { return linearSolverCache }

// SetLinearSolverCache replaces the default linear solver cache and returns
// the previous one.
func SetLinearSolverCache(c *Cache) *Cache {
	old := linearSolverCache
	linearSolverCache = c
	return old
}
