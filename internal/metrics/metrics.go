// Package metrics exposes operational metrics for the deployer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"sigs.k8s.io/controller-runtime/pkg/metrics"
)

var (
	// CanaryWeight is the percentage of live traffic routed to the canary
	// slot per (application, environment).
	CanaryWeight = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "slipway_canary_weight",
		Help: "Current canary traffic weight for an environment",
	}, []string{
		"application",
		"environment",
	})

	// Promotions counts completed slot promotions.
	Promotions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slipway_promotions_total",
		Help: "Number of completed slot promotions",
	}, []string{
		"application",
		"environment",
	})

	// Rollbacks counts executed rollbacks by trigger.
	Rollbacks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slipway_rollbacks_total",
		Help: "Number of executed rollbacks",
	}, []string{
		"application",
		"environment",
		"trigger",
	})

	// GateVerdicts counts aggregate quality gate verdicts.
	GateVerdicts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "slipway_gate_verdicts_total",
		Help: "Aggregate quality gate verdicts by status",
	}, []string{
		"application",
		"status",
	})

	registered = false
)

// Register adds all collectors to the controller-runtime metrics registry.
// Safe to call more than once.
func Register() {
	if registered {
		return
	}
	metrics.Registry.MustRegister(CanaryWeight, Promotions, Rollbacks, GateVerdicts)
	registered = true
}
