package cache

import "github.com/prometheus/client_golang/prometheus"

const (
	kindObject  = "object"
	kindVersion = "version"
	kindQuery   = "query"
)

var (
	lookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Cache lookups by object type, entry kind and result.",
		},
		[]string{"type", "kind", "result"},
	)

	invalidations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tether",
			Subsystem: "cache",
			Name:      "invalidations_total",
			Help:      "Cache entries dropped by writes, by object type.",
		},
		[]string{"type"},
	)
)

// Collectors returns the cache metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{lookups, invalidations}
}

func recordHit(typ, kind string) {
	lookups.WithLabelValues(typ, kind, "hit").Inc()
}

func recordMiss(typ, kind string) {
	lookups.WithLabelValues(typ, kind, "miss").Inc()
}

func recordPassThrough(typ string) {
	lookups.WithLabelValues(typ, "", "bypass").Inc()
}

func recordInvalidations(typ string, n int) {
	invalidations.WithLabelValues(typ).Add(float64(n))
}
