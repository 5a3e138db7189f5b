package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.StepFinished("completed", 10*time.Millisecond)
	m.StepFinished("completed", 20*time.Millisecond)
	m.StepFinished("failed", time.Millisecond)
	m.ConnectorCall("mock", true)
	m.ConnectorCall("mock", false)
	m.Resolution(TierPriority)
	m.Synthesis("manual", true)
	m.RunError()

	if got := testutil.ToFloat64(m.steps.WithLabelValues("completed")); got != 2 {
		t.Errorf("steps{completed} = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.steps.WithLabelValues("failed")); got != 1 {
		t.Errorf("steps{failed} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.calls.WithLabelValues("mock", "failure")); got != 1 {
		t.Errorf("calls{mock,failure} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.resolutions.WithLabelValues(TierPriority)); got != 1 {
		t.Errorf("resolutions{priority} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.synthesis.WithLabelValues("manual", "success")); got != 1 {
		t.Errorf("synthesis{manual,success} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.runErrors); got != 1 {
		t.Errorf("run errors = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.stepDuration); n != 1 {
		t.Errorf("step duration collectors = %d, want 1", n)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.StepFinished("completed", time.Second)
	m.ConnectorCall("x", true)
	m.Resolution(TierNone)
	m.Synthesis("ai", false)
	m.RunError()
}

func TestNewWithoutRegistry(t *testing.T) {
	m := New(nil)
	m.ConnectorCall("x", true)
	if got := testutil.ToFloat64(m.calls.WithLabelValues("x", "success")); got != 1 {
		t.Errorf("calls = %v, want 1", got)
	}
}
