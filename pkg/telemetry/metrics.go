package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for Stagehand.
type Metrics struct {
	config MetricsConfig

	// Deployment metrics
	deploymentsStarted   *prometheus.CounterVec
	deploymentsCompleted *prometheus.CounterVec
	deploymentDuration   *prometheus.HistogramVec

	// Step metrics
	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	// Acquisition metrics
	acquisitions *prometheus.CounterVec

	// Remediation metrics
	remediations *prometheus.CounterVec

	// Checkpoint metrics
	checkpointsRecorded prometheus.Counter
	rollbacksExecuted   *prometheus.CounterVec

	// Preflight metrics
	lowDiskWarnings prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with the given configuration.
// When disabled, all recorders are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	if !cfg.Enabled {
		return &Metrics{config: cfg}
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "stagehand"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		deploymentsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_started_total",
				Help:      "Total number of deployments started.",
			},
			[]string{"environment", "deploy_type"},
		),
		deploymentsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "deployments_completed_total",
				Help:      "Total number of deployments completed, by outcome.",
			},
			[]string{"environment", "deploy_type", "outcome"},
		),
		deploymentDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "deployment_duration_seconds",
				Help:      "Deployment wall-clock duration.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"environment", "deploy_type"},
		),
		stepsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "steps_executed_total",
				Help:      "Total number of deployment steps executed, by outcome.",
			},
			[]string{"step", "outcome"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Per-step execution duration.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"step"},
		),
		acquisitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "acquisitions_total",
				Help:      "Total number of dataset acquisitions, by strategy and outcome.",
			},
			[]string{"strategy", "outcome"},
		),
		remediations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediations_total",
				Help:      "Total number of remediation attempts, by pattern and outcome.",
			},
			[]string{"pattern", "outcome"},
		),
		checkpointsRecorded: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checkpoints_recorded_total",
				Help:      "Total number of checkpoints recorded.",
			},
		),
		rollbacksExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollbacks_executed_total",
				Help:      "Total number of rollback executions, by outcome.",
			},
			[]string{"outcome"},
		),
		lowDiskWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preflight_low_disk_warnings_total",
				Help:      "Total number of preflight runs that observed under 5GB of free disk.",
			},
		),
	}

	registry.MustRegister(
		m.deploymentsStarted,
		m.deploymentsCompleted,
		m.deploymentDuration,
		m.stepsExecuted,
		m.stepDuration,
		m.acquisitions,
		m.remediations,
		m.checkpointsRecorded,
		m.rollbacksExecuted,
		m.lowDiskWarnings,
	)

	return m
}

// Registry returns the underlying Prometheus registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordDeploymentStarted increments the deployment start counter.
func (m *Metrics) RecordDeploymentStarted(environment, deployType string) {
	if m.registry == nil {
		return
	}
	m.deploymentsStarted.WithLabelValues(environment, deployType).Inc()
}

// RecordDeploymentCompleted increments the completion counter and observes duration.
func (m *Metrics) RecordDeploymentCompleted(environment, deployType, outcome string, seconds float64) {
	if m.registry == nil {
		return
	}
	m.deploymentsCompleted.WithLabelValues(environment, deployType, outcome).Inc()
	m.deploymentDuration.WithLabelValues(environment, deployType).Observe(seconds)
}

// RecordStep increments the step counter and observes its duration.
func (m *Metrics) RecordStep(step, outcome string, seconds float64) {
	if m.registry == nil {
		return
	}
	m.stepsExecuted.WithLabelValues(step, outcome).Inc()
	m.stepDuration.WithLabelValues(step).Observe(seconds)
}

// RecordAcquisition increments the acquisition counter.
func (m *Metrics) RecordAcquisition(strategy, outcome string) {
	if m.registry == nil {
		return
	}
	m.acquisitions.WithLabelValues(strategy, outcome).Inc()
}

// RecordRemediation increments the remediation counter.
func (m *Metrics) RecordRemediation(pattern, outcome string) {
	if m.registry == nil {
		return
	}
	m.remediations.WithLabelValues(pattern, outcome).Inc()
}

// RecordCheckpoint increments the checkpoint counter.
func (m *Metrics) RecordCheckpoint() {
	if m.registry == nil {
		return
	}
	m.checkpointsRecorded.Inc()
}

// RecordRollback increments the rollback counter.
func (m *Metrics) RecordRollback(outcome string) {
	if m.registry == nil {
		return
	}
	m.rollbacksExecuted.WithLabelValues(outcome).Inc()
}

// RecordLowDisk increments the low-disk warning counter.
func (m *Metrics) RecordLowDisk() {
	if m.registry == nil {
		return
	}
	m.lowDiskWarnings.Inc()
}
