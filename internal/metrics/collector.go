package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/beruhq/beru/types"
)

// Collector gathers engine metrics. It satisfies the recorder interfaces of
// the safety, registry, and workflow packages.
type Collector struct {
	taskExecutionsTotal   *prometheus.CounterVec
	taskExecutionDuration *prometheus.HistogramVec
	dispatchInflight      *prometheus.GaugeVec

	workflowsTotal   *prometheus.CounterVec
	workflowDuration *prometheus.HistogramVec

	policyDecisionsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector registers the engine collectors with reg. A nil registerer
// falls back to the default Prometheus registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.taskExecutionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_executions_total",
			Help:      "Total number of task executions by agent and terminal status",
		},
		[]string{"agent", "status"},
	)

	c.taskExecutionDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_execution_duration_seconds",
			Help:      "Task execution duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"agent"},
	)

	c.dispatchInflight = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_inflight",
			Help:      "Number of executions currently holding a concurrency slot",
		},
		[]string{"agent"},
	)

	c.workflowsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_total",
			Help:      "Total number of workflow executions by terminal status",
		},
		[]string{"status"},
	)

	c.workflowDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Workflow execution duration in seconds",
			Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 300, 600},
		},
		[]string{"status"},
	)

	c.policyDecisionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_decisions_total",
			Help:      "Total number of safety policy decisions by kind and verdict",
		},
		[]string{"kind", "verdict"},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// RecordTaskExecution records one finished dispatch.
func (c *Collector) RecordTaskExecution(agent string, status types.TaskStatus, duration time.Duration) {
	c.taskExecutionsTotal.WithLabelValues(agent, string(status)).Inc()
	c.taskExecutionDuration.WithLabelValues(agent).Observe(duration.Seconds())
}

// RecordInflight adjusts the in-flight gauge for an agent.
func (c *Collector) RecordInflight(agent string, delta float64) {
	c.dispatchInflight.WithLabelValues(agent).Add(delta)
}

// RecordWorkflowExecution records one finished workflow run.
func (c *Collector) RecordWorkflowExecution(status types.WorkflowStatus, duration time.Duration) {
	c.workflowsTotal.WithLabelValues(string(status)).Inc()
	c.workflowDuration.WithLabelValues(string(status)).Observe(duration.Seconds())
}

// RecordPolicyDecision records one safety policy decision.
func (c *Collector) RecordPolicyDecision(kind string, allowed bool) {
	verdict := "allowed"
	if !allowed {
		verdict = "denied"
	}
	c.policyDecisionsTotal.WithLabelValues(kind, verdict).Inc()
}
