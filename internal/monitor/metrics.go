package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names.
const (
	MetricRunsTotal   = "chainlog_monitor_runs_total"
	MetricRunDuration = "chainlog_monitor_run_duration_seconds"
	MetricErrorsTotal = "chainlog_monitor_errors_total"
)

// Trigger labels.
const (
	TriggerInterval   = "interval"
	TriggerFileChange = "file_change"
	TriggerManual     = "manual"
)

// Status labels for a finished run.
const (
	StatusValid     = "valid"
	StatusViolation = "violation"
	StatusError     = "error"
)

// Metrics contains Prometheus metrics for integrity monitor runs.
type Metrics struct {
	runsTotal   *prometheus.CounterVec
	runDuration *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec
}

// NewMetrics creates the monitor collectors without registering them.
func NewMetrics() *Metrics {
	return &Metrics{
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricRunsTotal,
				Help: "Total number of integrity monitor runs by trigger and outcome",
			},
			[]string{"trigger", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    MetricRunDuration,
				Help:    "Histogram of integrity monitor run duration in seconds by trigger",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 30.0},
			},
			[]string{"trigger"},
		),
		errorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: MetricErrorsTotal,
				Help: "Total number of integrity monitor errors by source",
			},
			[]string{"source"},
		),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all metric collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.runsTotal,
		m.runDuration,
		m.errorsTotal,
	}
}

func (m *Metrics) observeRun(trigger, status string, seconds float64) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(trigger, status).Inc()
	m.runDuration.WithLabelValues(trigger).Observe(seconds)
}

func (m *Metrics) incError(source string) {
	if m == nil {
		return
	}
	m.errorsTotal.WithLabelValues(source).Inc()
}
