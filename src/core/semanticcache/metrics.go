package semanticcache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agentrag",
		Subsystem: "semantic_cache",
		Name:      "lookups_total",
		Help:      "Semantic cache lookups by result.",
	}, []string{"result"})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentrag",
		Subsystem: "semantic_cache",
		Name:      "evictions_total",
		Help:      "Entries removed by the capacity policy.",
	})

	cacheDegraded = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "agentrag",
		Subsystem: "semantic_cache",
		Name:      "memory_only",
		Help:      "1 when the cache runs without its persistence store.",
	})
)
