package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheCorruptEntries = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "forwarding",
		Name:      "state_cache_corrupt_entries_total",
		Help:      "Total number of unreadable cache entries discarded.",
	},
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "forwarding",
		Name:      "state_cache_lookups_total",
		Help:      "Total number of cache lookups by backend and result (hit, miss).",
	},
	[]string{"backend", "result"},
)

func recordLookup(backend string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(backend, result).Inc()
}
