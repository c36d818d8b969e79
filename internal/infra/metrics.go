package infra

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records
// nothing, which keeps tests free of registry setup.
type Metrics struct {
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	GeneratorCalls   *prometheus.CounterVec
	LedgerOps        *prometheus.CounterVec
	UsageRecords     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PipelineRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sorapixel",
			Name:      "pipeline_runs_total",
			Help:      "Pipeline executions by outcome.",
		}, []string{"pipeline", "outcome"}),
		PipelineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sorapixel",
			Name:      "pipeline_duration_seconds",
			Help:      "Wall time of pipeline executions.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 90, 120, 180},
		}, []string{"pipeline"}),
		GeneratorCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sorapixel",
			Name:      "generator_calls_total",
			Help:      "Generator attempts by operation and outcome.",
		}, []string{"op", "outcome"}),
		LedgerOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sorapixel",
			Name:      "ledger_operations_total",
			Help:      "Ledger mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		UsageRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sorapixel",
			Name:      "usage_records_total",
			Help:      "Usage recorder writes by record type and outcome.",
		}, []string{"record", "outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.PipelineRuns, m.PipelineDuration, m.GeneratorCalls, m.LedgerOps, m.UsageRecords)
	}
	return m
}

func (m *Metrics) PipelineRun(pipeline, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(pipeline, outcome).Inc()
	m.PipelineDuration.WithLabelValues(pipeline).Observe(seconds)
}

func (m *Metrics) GeneratorCall(op, outcome string) {
	if m == nil {
		return
	}
	m.GeneratorCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) LedgerOp(op, outcome string) {
	if m == nil {
		return
	}
	m.LedgerOps.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) UsageRecord(record, outcome string) {
	if m == nil {
		return
	}
	m.UsageRecords.WithLabelValues(record, outcome).Inc()
}
