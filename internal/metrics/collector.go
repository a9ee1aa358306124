// Package metrics provides the Prometheus collector for orchestration
// metrics. This package is internal to the conductor module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector records orchestration metrics.
type Collector struct {
	workflowsStarted   prometheus.Counter
	workflowsCompleted prometheus.Counter
	workflowsFailed    prometheus.Counter
	workflowsCancelled prometheus.Counter

	stepsExecuted *prometheus.CounterVec
	stepDuration  *prometheus.HistogramVec

	retriesTotal      prometheus.Counter
	elicitations      prometheus.Counter
	checkpointsTotal  prometheus.Counter
	rollbacksTotal    prometheus.Counter
	statusTransitions *prometheus.CounterVec
}

// NewCollector registers the orchestration metrics on the given registerer.
// Pass prometheus.DefaultRegisterer in production; a fresh registry in tests.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		workflowsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_workflows_started_total",
			Help: "Workflow instances started.",
		}),
		workflowsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_workflows_completed_total",
			Help: "Workflow instances that reached completed.",
		}),
		workflowsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_workflows_failed_total",
			Help: "Workflow instances that reached error.",
		}),
		workflowsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_workflows_cancelled_total",
			Help: "Workflow instances cancelled.",
		}),
		stepsExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_steps_executed_total",
			Help: "Steps executed by kind and outcome.",
		}, []string{"kind", "outcome"}),
		stepDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_step_duration_seconds",
			Help:    "Step execution duration by kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		retriesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_step_retries_total",
			Help: "Step retry attempts driven by the recovery manager.",
		}),
		elicitations: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_elicitations_total",
			Help: "Elicitation requests created.",
		}),
		checkpointsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_checkpoints_total",
			Help: "Checkpoints created.",
		}),
		rollbacksTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_rollbacks_total",
			Help: "Rollbacks performed.",
		}),
		statusTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_status_transitions_total",
			Help: "Lifecycle transitions by target status.",
		}, []string{"status"}),
	}
}

func (c *Collector) WorkflowStarted() {
	if c != nil {
		c.workflowsStarted.Inc()
	}
}

func (c *Collector) WorkflowCompleted() {
	if c != nil {
		c.workflowsCompleted.Inc()
	}
}

func (c *Collector) WorkflowFailed() {
	if c != nil {
		c.workflowsFailed.Inc()
	}
}

func (c *Collector) WorkflowCancelled() {
	if c != nil {
		c.workflowsCancelled.Inc()
	}
}

func (c *Collector) StepExecuted(kind, outcome string, d time.Duration) {
	if c != nil {
		c.stepsExecuted.WithLabelValues(kind, outcome).Inc()
		c.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
	}
}

func (c *Collector) RetryAttempted() {
	if c != nil {
		c.retriesTotal.Inc()
	}
}

func (c *Collector) ElicitationCreated() {
	if c != nil {
		c.elicitations.Inc()
	}
}

func (c *Collector) CheckpointCreated() {
	if c != nil {
		c.checkpointsTotal.Inc()
	}
}

func (c *Collector) RollbackPerformed() {
	if c != nil {
		c.rollbacksTotal.Inc()
	}
}

func (c *Collector) StatusTransition(status string) {
	if c != nil {
		c.statusTransitions.WithLabelValues(status).Inc()
	}
}
