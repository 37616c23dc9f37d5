package chainlog

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics names as constants for consistency.
const (
	MetricAppendsTotal        = "chainlog_appends_total"
	MetricAppendErrorsTotal   = "chainlog_append_errors_total"
	MetricAppendDuration      = "chainlog_append_duration_seconds"
	MetricLastAppendTimestamp = "chainlog_last_append_timestamp"
	MetricVerifyRunsTotal     = "chainlog_verify_runs_total"
	MetricVerifyFailuresTotal = "chainlog_verify_failures_total"
	MetricChainEntries        = "chainlog_chain_entries"
	MetricIntegrityOK         = "chainlog_integrity_ok"
)

// Append error reasons used as the "reason" label.
const (
	appendErrorValidation = "validation"
	appendErrorIO         = "io"
)

// Metrics contains Prometheus metrics for the log engine and verifier.
// All operations are thread-safe; a nil *Metrics records nothing.
type Metrics struct {
	appends             *prometheus.CounterVec
	appendErrors        *prometheus.CounterVec
	appendDuration      prometheus.Histogram
	lastAppendTimestamp prometheus.Gauge
	verifyRuns          prometheus.Counter
	verifyFailures      prometheus.Counter
	chainEntries        prometheus.Gauge
	integrityOK         prometheus.Gauge
}

// NewMetrics creates and returns a new Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to register them with a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		appends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAppendsTotal,
			Help: "Total number of entries appended to the chain, by level",
		}, []string{"level"}),
		appendErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: MetricAppendErrorsTotal,
			Help: "Total number of rejected or failed appends, by reason",
		}, []string{"reason"}),
		appendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    MetricAppendDuration,
			Help:    "Histogram of time spent inside the append critical section in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
		lastAppendTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricLastAppendTimestamp,
			Help: "Unix timestamp of the last successful append",
		}),
		verifyRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVerifyRunsTotal,
			Help: "Total number of chain verifications performed",
		}),
		verifyFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricVerifyFailuresTotal,
			Help: "Total number of verifications that found a broken chain",
		}),
		chainEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricChainEntries,
			Help: "Number of entries seen by the last verification",
		}),
		integrityOK: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricIntegrityOK,
			Help: "1 if the last verification succeeded, 0 otherwise",
		}),
	}
}

// Register registers all metrics with the given registry.
// Returns an error if registration fails.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.appends,
		m.appendErrors,
		m.appendDuration,
		m.lastAppendTimestamp,
		m.verifyRuns,
		m.verifyFailures,
		m.chainEntries,
		m.integrityOK,
	}
}

func (m *Metrics) observeAppend(level Level, seconds float64, unix float64) {
	if m == nil {
		return
	}
	m.appends.WithLabelValues(string(level)).Inc()
	m.appendDuration.Observe(seconds)
	m.lastAppendTimestamp.Set(unix)
}

func (m *Metrics) incAppendError(reason string) {
	if m == nil {
		return
	}
	m.appendErrors.WithLabelValues(reason).Inc()
}

// ObserveVerify records the outcome of a verification run.
func (m *Metrics) ObserveVerify(result *VerifyResult) {
	if m == nil || result == nil {
		return
	}
	m.verifyRuns.Inc()
	m.chainEntries.Set(float64(result.Entries))
	if result.Valid {
		m.integrityOK.Set(1)
		return
	}
	m.verifyFailures.Inc()
	m.integrityOK.Set(0)
}
