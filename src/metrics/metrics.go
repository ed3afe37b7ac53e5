// Package metrics exposes the engine's prometheus counters.
//
// A nil *Metrics is valid and records nothing, so stores and services can be
// built without a registry in tests.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "govdecisions"

type Metrics struct {
	registry       *prometheus.Registry
	actionFailures *prometheus.CounterVec
	actionsRun     *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	ballots        *prometheus.CounterVec
	sweeps         prometheus.Counter
	sweepFailures  prometheus.Counter
	fanOutFailures prometheus.Counter
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		actionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_failures_total",
			Help:      "Governance actions that failed to execute after ratification.",
		}, []string{"action_type", "reason"}),
		actionsRun: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actions_executed_total",
			Help:      "Governance actions executed.",
		}, []string{"action_type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_transitions_total",
			Help:      "Decision item stage transitions won, by target stage and trigger.",
		}, []string{"stage", "trigger"}),
		ballots: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ballots_total",
			Help:      "Ballot mutations by operation.",
		}, []string{"op"}),
		sweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweeps_total",
			Help:      "Reconciliation sweeps run.",
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_item_failures_total",
			Help:      "Items the sweep failed to reconcile.",
		}),
		fanOutFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fanout_failures_total",
			Help:      "Notifications dropped after retries.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.actionFailures, m.actionsRun, m.transitions, m.ballots,
		m.sweeps, m.sweepFailures, m.fanOutFailures,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ActionFailed(actionType, reason string) {
	if m != nil {
		m.actionFailures.WithLabelValues(actionType, reason).Inc()
	}
}

func (m *Metrics) ActionExecuted(actionType string) {
	if m != nil {
		m.actionsRun.WithLabelValues(actionType).Inc()
	}
}

func (m *Metrics) Transition(stage, trigger string) {
	if m != nil {
		m.transitions.WithLabelValues(stage, trigger).Inc()
	}
}

func (m *Metrics) Ballot(op string) {
	if m != nil {
		m.ballots.WithLabelValues(op).Inc()
	}
}

func (m *Metrics) Sweep() {
	if m != nil {
		m.sweeps.Inc()
	}
}

func (m *Metrics) SweepFailure() {
	if m != nil {
		m.sweepFailures.Inc()
	}
}

func (m *Metrics) FanOutFailure() {
	if m != nil {
		m.fanOutFailures.Inc()
	}
}
