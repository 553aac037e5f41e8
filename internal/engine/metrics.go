package engine

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus vocabulary for the instance execution loop.
type Metrics struct {
	instancesStarted   *prometheus.CounterVec
	instancesCompleted *prometheus.CounterVec
	instancesFailed    *prometheus.CounterVec
	stepsExecuted      *prometheus.CounterVec
	stepRetries        *prometheus.CounterVec
	joinOutcomes       *prometheus.CounterVec
	instanceDuration   *prometheus.HistogramVec
	stepDuration       *prometheus.HistogramVec
}

// metricsOnce/sharedMetrics make the collector vocabulary a process-wide
// singleton: the counters are keyed by workflow_id/step_type labels, not
// per-Engine state, so every Engine in a process is meant to add to the
// same series. Registering through promauto.NewCounterVec a second time
// would otherwise panic on "duplicate metrics collector registration" the
// moment a second Engine is constructed (e.g. one per table-driven test).
var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

func defaultMetrics() *Metrics {
	metricsOnce.Do(func() { sharedMetrics = NewMetrics() })
	return sharedMetrics
}

// NewMetrics registers the engine's prometheus collectors.
func NewMetrics() *Metrics {
	return &Metrics{
		instancesStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_instances_started_total",
				Help: "Total number of workflow instances started",
			},
			[]string{"workflow_id"},
		),
		instancesCompleted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_instances_completed_total",
				Help: "Total number of workflow instances completed",
			},
			[]string{"workflow_id", "status"},
		),
		instancesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_instances_failed_total",
				Help: "Total number of workflow instances failed",
			},
			[]string{"workflow_id", "reason"},
		),
		stepsExecuted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_steps_executed_total",
				Help: "Total number of step attempts executed",
			},
			[]string{"workflow_id", "step_type", "status"},
		),
		stepRetries: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_step_retries_total",
				Help: "Total number of step retry attempts scheduled",
			},
			[]string{"workflow_id", "step_type"},
		),
		joinOutcomes: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "workflow_join_outcomes_total",
				Help: "Total number of parallel gateway join evaluations",
			},
			[]string{"workflow_id", "strategy", "success"},
		),
		instanceDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_instance_duration_seconds",
				Help:    "Duration of a workflow instance from start to terminal status",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_id"},
		),
		stepDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "workflow_step_duration_seconds",
				Help:    "Duration of a single step attempt",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"workflow_id", "step_type"},
		),
	}
}

func (m *Metrics) InstanceStarted(workflowID string) {
	m.instancesStarted.WithLabelValues(workflowID).Inc()
}

func (m *Metrics) InstanceCompleted(workflowID, status string) {
	m.instancesCompleted.WithLabelValues(workflowID, status).Inc()
}

func (m *Metrics) InstanceFailed(workflowID, reason string) {
	m.instancesFailed.WithLabelValues(workflowID, reason).Inc()
}

func (m *Metrics) StepExecuted(workflowID, stepType, status string) {
	m.stepsExecuted.WithLabelValues(workflowID, stepType, status).Inc()
}

func (m *Metrics) StepRetried(workflowID, stepType string) {
	m.stepRetries.WithLabelValues(workflowID, stepType).Inc()
}

func (m *Metrics) JoinOutcome(workflowID, strategy string, success bool) {
	m.joinOutcomes.WithLabelValues(workflowID, strategy, boolLabel(success)).Inc()
}

func (m *Metrics) RecordInstanceDuration(workflowID string, d time.Duration) {
	m.instanceDuration.WithLabelValues(workflowID).Observe(d.Seconds())
}

func (m *Metrics) RecordStepDuration(workflowID, stepType string, d time.Duration) {
	m.stepDuration.WithLabelValues(workflowID, stepType).Observe(d.Seconds())
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
