// Package metrics exposes station transition and roll-up counters in
// Prometheus form.
//
// A [Recorder] owns its registry, so several recorders (one per test, say)
// never collide on registration. The CLI writes the registry to a textfile
// for node_exporter after each command.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "labflow"

// Recorder counts engine transitions and order roll-ups.
type Recorder struct {
	registry    *prometheus.Registry
	transitions *prometheus.CounterVec
	rollups     *prometheus.CounterVec
}

// New creates a Recorder with its collectors registered.
func New() *Recorder {
	r := &Recorder{
		registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "station_transitions_total",
				Help:      "Station engine operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		rollups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "order_rollups_total",
				Help:      "Order status roll-ups by outcome",
			},
			[]string{"outcome"},
		),
	}
	r.registry.MustRegister(r.transitions, r.rollups)
	return r
}

// ObserveTransition counts one engine operation.
func (r *Recorder) ObserveTransition(operation, outcome string) {
	r.transitions.WithLabelValues(operation, outcome).Inc()
}

// ObserveRollup counts one roll-up.
func (r *Recorder) ObserveRollup(outcome string) {
	r.rollups.WithLabelValues(outcome).Inc()
}

// Registry returns the registry holding the recorder's collectors.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// WriteTextfile writes the current values in the Prometheus text format.
func (r *Recorder) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
