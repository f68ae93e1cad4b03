// Package metrics collects the counters of every tether package into one
// registry and renders them in the Prometheus text format.
package metrics

import (
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"

	"github.com/roach88/tether/internal/cache"
	"github.com/roach88/tether/internal/clockwork"
	"github.com/roach88/tether/internal/discovery"
	"github.com/roach88/tether/internal/engine"
)

// Collectors returns every tether collector.
func Collectors() []prometheus.Collector {
	var out []prometheus.Collector
	out = append(out, engine.Collectors()...)
	out = append(out, clockwork.Collectors()...)
	out = append(out, cache.Collectors()...)
	out = append(out, discovery.Collectors()...)
	return out
}

// Register adds every tether collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range Collectors() {
		if err := reg.Register(c); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
	}
	return nil
}

// NewRegistry returns a registry holding only the tether collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		// Fresh registry; duplicate registration means a programming error.
		panic(err)
	}
	return reg
}

// WriteText gathers g and writes the families in the text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write metrics: %w", err)
		}
	}
	return nil
}
