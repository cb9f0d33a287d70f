package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ranguard
type Metrics struct {
	// Scheduler metrics
	CyclesTotal   *prometheus.CounterVec
	CycleDuration *prometheus.HistogramVec
	CycleErrors   *prometheus.CounterVec

	// Event metrics
	EventsEvaluated *prometheus.CounterVec
	EventsSkipped   *prometheus.CounterVec
	IssuesOpened    prometheus.Counter
	IssuesReopened  prometheus.Counter

	// Issue metrics
	IssuesByStatus  *prometheus.GaugeVec
	IssuesEvaluated *prometheus.CounterVec

	// Workflow metrics
	WorkflowsInFlight prometheus.Gauge
	WorkflowsTotal    *prometheus.CounterVec
	WorkflowDuration  prometheus.Histogram
	ToolExecutions    *prometheus.CounterVec

	// Collaborator metrics
	ReasonerRequests *prometheus.CounterVec
	ReasonerLatency  *prometheus.HistogramVec

	// Checkpoint metrics
	CheckpointSaves  prometheus.Counter
	CheckpointLoads  *prometheus.CounterVec
	CheckpointErrors prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			CyclesTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_cycles_total",
					Help: "Number of scheduler cycles executed",
				},
				[]string{"phase"}, // event, issue
			),
			CycleDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ranguard_cycle_duration_seconds",
					Help:    "Duration of scheduler cycles in seconds",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
				},
				[]string{"phase"},
			),
			CycleErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_cycle_errors_total",
					Help: "Number of cycles that aborted with an error",
				},
				[]string{"phase"},
			),

			EventsEvaluated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_events_evaluated_total",
					Help: "Number of events evaluated, by resulting risk level",
				},
				[]string{"risk_level"},
			),
			EventsSkipped: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_events_skipped_total",
					Help: "Number of events skipped during evaluation",
				},
				[]string{"reason"}, // missing, wip_issue
			),
			IssuesOpened: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "ranguard_issues_opened_total",
					Help: "Number of issues opened for at-risk events",
				},
			),
			IssuesReopened: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "ranguard_issues_reopened_total",
					Help: "Number of resolved issues reopened after event recurrence",
				},
			),

			IssuesByStatus: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "ranguard_issues_by_status",
					Help: "Number of issues per status",
				},
				[]string{"status"},
			),
			IssuesEvaluated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_issues_evaluated_total",
					Help: "Number of issue evaluations, by outcome",
				},
				[]string{"outcome"}, // staged, dispatched, error
			),

			WorkflowsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "ranguard_workflows_in_flight",
					Help: "Reasoning workflows currently running",
				},
			),
			WorkflowsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_workflows_total",
					Help: "Reasoning workflows completed, by result",
				},
				[]string{"result"}, // completed, suspended, staged, failed
			),
			WorkflowDuration: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Name:    "ranguard_workflow_duration_seconds",
					Help:    "Duration of one reasoning workflow run",
					Buckets: prometheus.ExponentialBuckets(1, 2, 10),
				},
			),
			ToolExecutions: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_tool_executions_total",
					Help: "Remediation tool executions, by tool and result",
				},
				[]string{"tool", "result"},
			),

			ReasonerRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_reasoner_requests_total",
					Help: "Requests to the reasoning collaborator, by operation and result",
				},
				[]string{"operation", "result"},
			),
			ReasonerLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "ranguard_reasoner_latency_seconds",
					Help:    "Latency of reasoning collaborator calls",
					Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
				},
				[]string{"operation"},
			),

			CheckpointSaves: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "ranguard_checkpoint_saves_total",
					Help: "Workflow checkpoints written",
				},
			),
			CheckpointLoads: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "ranguard_checkpoint_loads_total",
					Help: "Workflow checkpoint loads, by result",
				},
				[]string{"result"}, // hit, miss
			),
			CheckpointErrors: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "ranguard_checkpoint_errors_total",
					Help: "Checkpoint store errors",
				},
			),
		}
	})

	return sharedMetrics
}

// SetIssueStatusCounts replaces the issues-by-status gauge with fresh counts.
func (m *Metrics) SetIssueStatusCounts(counts map[string]int) {
	m.IssuesByStatus.Reset()
	for status, count := range counts {
		m.IssuesByStatus.WithLabelValues(status).Set(float64(count))
	}
}
