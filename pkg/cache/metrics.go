package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks fresh reads by backend
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"backend"}, // "memory", "session", "local"
	)

	// CacheMisses tracks absent, expired or undecodable reads by backend
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"backend"},
	)

	// CacheFallbackWrites tracks durable writes redirected to memory
	CacheFallbackWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_cache_fallback_writes_total",
			Help: "Total number of durable cache writes that fell back to memory",
		},
		[]string{"backend"},
	)

	// CacheEvictions tracks removed entries by reason
	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_cache_evictions_total",
			Help: "Total number of evicted cache entries",
		},
		[]string{"reason"}, // "expired", "invalid"
	)

	// CacheErrors tracks backend operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "taskflow_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "get", "set", "delete", "keys"
	)
)
