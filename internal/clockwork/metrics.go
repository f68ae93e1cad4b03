package clockwork

import "github.com/prometheus/client_golang/prometheus"

var (
	clicks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Subsystem: "clockwork",
		Name:      "clicks_total",
		Help:      "Clicks by phase the context was in.",
	}, []string{"phase"})

	outcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Subsystem: "clockwork",
		Name:      "outcomes_total",
		Help:      "Contexts reaching FINAL by outcome status.",
	}, []string{"status"})

	operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tether",
		Subsystem: "clockwork",
		Name:      "operations_total",
		Help:      "Executed projection deltas by resource and result status.",
	}, []string{"resource", "status"})
)

// Collectors returns the clockwork metrics for registration.
func Collectors() []prometheus.Collector {
	return []prometheus.Collector{clicks, outcomes, operations}
}
