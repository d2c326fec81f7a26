package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var cacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "auth_user_cache_lookups_total",
		Help: "User cache lookups by result (hit, miss, error).",
	},
	[]string{"result"},
)

var cacheEvictionFailures = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "auth_user_cache_eviction_failures_total",
		Help: "SetDisabled calls whose cache eviction failed after the store update.",
	},
)
