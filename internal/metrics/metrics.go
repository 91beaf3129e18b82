// Package metrics declares the Prometheus collectors shared across the
// library. Collectors are registered once at process start via promauto and
// the default registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits counts Cache.Add calls answered from an existing entry.
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adjoint",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Cache lookups answered without recomputing the value.",
	})

	// CacheMisses counts Cache.Add calls that invoked the compute thunk.
	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adjoint",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Cache lookups that computed a new value.",
	})

	// CacheInvalidations counts entries removed by dependency invalidation.
	CacheInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "adjoint",
		Subsystem: "cache",
		Name:      "invalidations_total",
		Help:      "Cache entries removed because a dependency changed.",
	})

	// CacheEntries tracks the number of live entries across all caches.
	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "adjoint",
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Live cache entries across all caches.",
	})

	// FixedPointIterations observes the number of passes a fixed-point solve
	// took to converge, labelled by pass direction.
	FixedPointIterations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "adjoint",
		Subsystem: "fixedpoint",
		Name:      "iterations",
		Help:      "Iterations until fixed-point convergence.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"pass"})
)
