package monitor

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestMetrics_Register(t *testing.T) {
	m := NewMetrics()
	reg := prometheus.NewRegistry()

	if err := m.Register(reg); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	m.observeRun(TriggerInterval, StatusValid, 0.01)
	m.incError("watcher")

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	found := map[string]bool{}
	for _, f := range families {
		found[f.GetName()] = true
	}
	for _, name := range []string{MetricRunsTotal, MetricRunDuration, MetricErrorsTotal} {
		if !found[name] {
			t.Errorf("metric %s not found in gathered metrics", name)
		}
	}

	if err := NewMetrics().Register(reg); err == nil {
		t.Error("second Register() on the same registry should fail")
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observeRun(TriggerManual, StatusValid, 1)
	m.incError("verify")
}
