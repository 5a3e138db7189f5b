// Package metrics exposes Prometheus collectors for workflow runs, connector
// calls, routing decisions and synthesis. A nil *Metrics is valid and
// records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "hybridflow"

// Resolution tiers reported by the connector router.
const (
	TierRequested  = "requested"
	TierPriority   = "priority"
	TierRoundRobin = "round_robin"
	TierNone       = "none"
)

type Metrics struct {
	steps        *prometheus.CounterVec
	stepDuration prometheus.Histogram
	calls        *prometheus.CounterVec
	resolutions  *prometheus.CounterVec
	synthesis    *prometheus.CounterVec
	runErrors    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "steps_total",
			Help:      "Workflow steps finished, by final status.",
		}, []string{"status"}),
		stepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "step_duration_seconds",
			Help:      "Wall time spent running a single workflow step.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_calls_total",
			Help:      "Connector executions, by connector and outcome.",
		}, []string{"connector", "outcome"}),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "router_resolutions_total",
			Help:      "Connector resolutions, by the fallback tier that answered.",
		}, []string{"tier"}),
		synthesis: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synthesis_total",
			Help:      "Multi-model syntheses, by method and outcome.",
		}, []string{"method", "outcome"}),
		runErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_errors_total",
			Help:      "Workflow runs terminated by an error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.steps, m.stepDuration, m.calls, m.resolutions, m.synthesis, m.runErrors)
	}
	return m
}

func (m *Metrics) StepFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(status).Inc()
	m.stepDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ConnectorCall(connector string, success bool) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(connector, outcome(success)).Inc()
}

func (m *Metrics) Resolution(tier string) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(tier).Inc()
}

func (m *Metrics) Synthesis(method string, success bool) {
	if m == nil {
		return
	}
	m.synthesis.WithLabelValues(method, outcome(success)).Inc()
}

func (m *Metrics) RunError() {
	if m == nil {
		return
	}
	m.runErrors.Inc()
}

func outcome(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
