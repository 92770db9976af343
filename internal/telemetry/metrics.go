// Package telemetry provides the orchestrator's Prometheus metrics surface.
package telemetry

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the orchestrator's components publish to.
type Metrics struct {
	ServiceName     string
	TasksSubmitted  *prometheus.CounterVec
	TasksCompleted  *prometheus.CounterVec
	TasksFailed     *prometheus.CounterVec
	TaskDuration    *prometheus.HistogramVec
	QueueDepth      prometheus.Gauge
	WorkerCount     *prometheus.GaugeVec
	BreakerState    *prometheus.GaugeVec
	LedgerAllocated *prometheus.GaugeVec
	LedgerTotal     *prometheus.GaugeVec
	ErrorsTotal     *prometheus.CounterVec
	RecoveryAttempt *prometheus.CounterVec
}

// New creates a Metrics instance registered against the default registerer.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a Metrics instance registered against registerer,
// letting tests use an isolated prometheus.NewRegistry().
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		ServiceName: serviceName,
		TasksSubmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orchestrator_tasks_submitted_total", Help: "Total tasks submitted"},
			[]string{"service", "template_id"},
		),
		TasksCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orchestrator_tasks_completed_total", Help: "Total tasks completed"},
			[]string{"service", "template_id"},
		),
		TasksFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orchestrator_tasks_failed_total", Help: "Total tasks failed"},
			[]string{"service", "template_id", "category"},
		),
		TaskDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "orchestrator_task_duration_seconds",
				Help:    "Task end-to-end duration in seconds",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
			},
			[]string{"service", "template_id"},
		),
		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{Name: "orchestrator_queue_depth", Help: "Current queued task count"},
		),
		WorkerCount: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "orchestrator_workers", Help: "Worker count by type and status"},
			[]string{"service", "type", "status"},
		),
		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "orchestrator_circuit_breaker_state", Help: "0=closed 1=half-open 2=open"},
			[]string{"service", "breaker"},
		),
		LedgerAllocated: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "orchestrator_ledger_allocated", Help: "Allocated resources by dimension"},
			[]string{"service", "dimension"},
		),
		LedgerTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "orchestrator_ledger_total", Help: "Total resources by dimension"},
			[]string{"service", "dimension"},
		),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orchestrator_errors_total", Help: "Total classified errors"},
			[]string{"service", "category", "severity"},
		),
		RecoveryAttempt: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "orchestrator_recovery_attempts_total", Help: "Total recovery attempts by error category and outcome"},
			[]string{"service", "category", "outcome"},
		),
	}

	collectors := []prometheus.Collector{
		m.TasksSubmitted, m.TasksCompleted, m.TasksFailed, m.TaskDuration,
		m.QueueDepth, m.WorkerCount, m.BreakerState, m.LedgerAllocated,
		m.LedgerTotal, m.ErrorsTotal, m.RecoveryAttempt,
	}
	for _, c := range collectors {
		_ = registerer.Register(c)
	}

	return m
}

// RecordSubmitted increments the submitted counter for templateID.
func (m *Metrics) RecordSubmitted(templateID string) {
	m.TasksSubmitted.WithLabelValues(m.ServiceName, templateID).Inc()
}

// RecordCompleted increments the completed counter and observes duration.
func (m *Metrics) RecordCompleted(templateID string, durationSeconds float64) {
	m.TasksCompleted.WithLabelValues(m.ServiceName, templateID).Inc()
	m.TaskDuration.WithLabelValues(m.ServiceName, templateID).Observe(durationSeconds)
}

// RecordFailed increments the failed counter for templateID/category.
func (m *Metrics) RecordFailed(templateID, category string) {
	m.TasksFailed.WithLabelValues(m.ServiceName, templateID, category).Inc()
}

// SetQueueDepth updates the queue depth gauge.
func (m *Metrics) SetQueueDepth(depth int) {
	m.QueueDepth.Set(float64(depth))
}

// SetWorkerCount updates the worker gauge for a type/status pair.
func (m *Metrics) SetWorkerCount(workerType, status string, count int) {
	m.WorkerCount.WithLabelValues(m.ServiceName, workerType, status).Set(float64(count))
}

// breakerStateValue maps a breaker state name to the numeric gauge value.
func breakerStateValue(state string) float64 {
	switch state {
	case "half-open", "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}

// SetBreakerState updates the breaker state gauge.
func (m *Metrics) SetBreakerState(breaker, state string) {
	m.BreakerState.WithLabelValues(m.ServiceName, breaker).Set(breakerStateValue(state))
}

// SetLedgerUsage updates the allocated/total gauges for a resource dimension.
func (m *Metrics) SetLedgerUsage(dimension string, allocated, total float64) {
	m.LedgerAllocated.WithLabelValues(m.ServiceName, dimension).Set(allocated)
	m.LedgerTotal.WithLabelValues(m.ServiceName, dimension).Set(total)
}

// RecordError increments the classified-error counter.
func (m *Metrics) RecordError(category, severity string) {
	m.ErrorsTotal.WithLabelValues(m.ServiceName, category, severity).Inc()
}

// RecordRecoveryAttempt increments the recovery-attempt counter.
func (m *Metrics) RecordRecoveryAttempt(category, outcome string) {
	m.RecoveryAttempt.WithLabelValues(m.ServiceName, category, outcome).Inc()
}
