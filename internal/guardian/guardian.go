// Package guardian orchestrates the remediation lifecycle: it scans
// upcoming events for network risk, opens issues, and drives per-node
// reasoning workflows until each issue is resolved or escalated.
package guardian

import (
	"context"
	"log"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jordanhubbard/ranguard/internal/agent"
	"github.com/jordanhubbard/ranguard/internal/checkpoint"
	"github.com/jordanhubbard/ranguard/internal/config"
	"github.com/jordanhubbard/ranguard/internal/database"
	"github.com/jordanhubbard/ranguard/internal/dispatch"
	"github.com/jordanhubbard/ranguard/internal/logging"
	"github.com/jordanhubbard/ranguard/internal/metrics"
	"github.com/jordanhubbard/ranguard/internal/models"
	"github.com/jordanhubbard/ranguard/internal/reasoner"
	"github.com/jordanhubbard/ranguard/internal/telemetry"
	"github.com/jordanhubbard/ranguard/internal/tools"
)

// Gateway is the slice of the database the guardian needs. Satisfied
// by *database.Database.
type Gateway interface {
	GetEvents(from, to time.Time) ([]*models.Event, error)
	GetEvent(eventID string) (*models.Event, error)
	UpdateEvent(eventID string, update database.EventUpdate) error

	GetIssues() ([]*models.Issue, error)
	GetOpenIssues() ([]*models.Issue, error)
	GetIssue(issueID string) (*models.Issue, error)
	CreateIssue(issue *models.Issue) (*models.Issue, error)
	UpdateIssue(issueID string, update database.IssueUpdate) error
	UpdateIssueTask(issueID string, task models.Task) error
	GetIssueStatusCounts() (map[string]int, error)

	GetNearbyNodes(location models.Location, radiusMeters float64) ([]*models.Node, error)
	GetPerformanceData(nodeID string, since time.Time) ([]models.PerformanceSample, error)
	GetAlarms(nodeID string, since time.Time) ([]models.Alarm, error)
}

// Notifier publishes issue lifecycle notifications. Satisfied by
// *messagebus.NatsMessageBus; a nil notifier disables publishing.
type Notifier interface {
	PublishIssueOpened(issue *models.Issue) error
	PublishIssueStatus(issue *models.Issue) error
	PublishApprovalRequest(issue *models.Issue) error
}

// tunables are the knobs that can change at runtime via config reload.
type tunables struct {
	runInterval       time.Duration
	lookforwardPeriod time.Duration
	monitoringPeriod  time.Duration
	batchSize         int
	nodeRadiusMeters  float64
}

// Guardian wires the database, the reasoning collaborator, the tool
// executor, and the checkpoint store into the remediation loop.
type Guardian struct {
	db          Gateway
	reasoner    reasoner.Reasoner
	executor    *tools.Executor
	checkpoints checkpoint.Store
	dispatcher  *dispatch.Dispatcher
	notifier    Notifier
	metrics     *metrics.Metrics
	logs        *logging.Manager

	mu  sync.RWMutex
	cfg tunables
}

// New builds a Guardian. notifier and logs may be nil.
func New(cfg config.GuardianConfig, db Gateway, r reasoner.Reasoner, executor *tools.Executor,
	checkpoints checkpoint.Store, notifier Notifier, logs *logging.Manager) *Guardian {

	g := &Guardian{
		db:          db,
		reasoner:    r,
		executor:    executor,
		checkpoints: checkpoints,
		notifier:    notifier,
		metrics:     metrics.NewMetrics(),
		logs:        logs,
		cfg: tunables{
			runInterval:       cfg.RunInterval,
			lookforwardPeriod: cfg.LookforwardPeriod,
			monitoringPeriod:  cfg.MonitoringPeriod,
			batchSize:         cfg.BatchSize,
			nodeRadiusMeters:  float64(cfg.NodeRadiusMeters),
		},
	}
	g.dispatcher = dispatch.New(int64(cfg.ConcurrencyLimit), g)
	return g
}

// UpdateTunables applies a reloaded configuration. The concurrency
// limit is fixed for the life of the dispatcher and needs a restart.
func (g *Guardian) UpdateTunables(cfg config.GuardianConfig) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg = tunables{
		runInterval:       cfg.RunInterval,
		lookforwardPeriod: cfg.LookforwardPeriod,
		monitoringPeriod:  cfg.MonitoringPeriod,
		batchSize:         cfg.BatchSize,
		nodeRadiusMeters:  float64(cfg.NodeRadiusMeters),
	}
	g.logf("info", "configuration reloaded, run interval now %s", cfg.RunInterval)
}

func (g *Guardian) tunables() tunables {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.cfg
}

// RunInterval returns the current cycle interval, for the scheduler.
func (g *Guardian) RunInterval() time.Duration {
	return g.tunables().runInterval
}

// Tunables reports the currently active knobs, for the admin API.
func (g *Guardian) Tunables() config.GuardianConfig {
	cfg := g.tunables()
	return config.GuardianConfig{
		RunInterval:       cfg.runInterval,
		LookforwardPeriod: cfg.lookforwardPeriod,
		MonitoringPeriod:  cfg.monitoringPeriod,
		BatchSize:         cfg.batchSize,
		NodeRadiusMeters:  int(cfg.nodeRadiusMeters),
	}
}

// RunWorkflow implements dispatch.WorkflowRunner: it runs the
// reasoning workflow for one (issue, node) pair.
func (g *Guardian) RunWorkflow(ctx context.Context, issueID, nodeID string) error {
	ctx, span := telemetry.Tracer.Start(ctx, "guardian.workflow",
		trace.WithAttributes(
			attribute.String("issue_id", issueID),
			attribute.String("node_id", nodeID),
		))
	defer span.End()

	g.metrics.WorkflowsInFlight.Inc()
	defer g.metrics.WorkflowsInFlight.Dec()
	telemetry.WorkflowsStarted.Add(ctx, 1)

	started := time.Now()
	a := agent.New(issueID, nodeID, g.db, g.reasoner, g.executor, g.checkpoints)
	outcome, err := a.Run(ctx)
	g.metrics.WorkflowDuration.Observe(time.Since(started).Seconds())
	telemetry.WorkflowLatency.Record(ctx, float64(time.Since(started).Milliseconds()))

	if err != nil {
		g.metrics.WorkflowsTotal.WithLabelValues("failed").Inc()
		g.logf("error", "workflow %s/%s failed: %v", issueID, nodeID, err)
		return err
	}
	g.metrics.WorkflowsTotal.WithLabelValues(string(outcome)).Inc()
	telemetry.WorkflowsCompleted.Add(ctx, 1)
	if outcome == agent.OutcomeResolved {
		telemetry.IssuesResolved.Add(ctx, 1)
		telemetry.IssuesOpen.Add(ctx, -1)
	}
	g.logf("info", "workflow %s/%s finished: %s", issueID, nodeID, outcome)
	return nil
}

// logf writes to both the process log and the streaming log buffer.
func (g *Guardian) logf(level, format string, args ...interface{}) {
	log.Printf("[Guardian] "+format, args...)
	if g.logs == nil {
		return
	}
	switch level {
	case "error":
		g.logs.Errorf("guardian", format, args...)
	case "warn":
		g.logs.Warnf("guardian", format, args...)
	default:
		g.logs.Infof("guardian", format, args...)
	}
}

// publishStatus pushes the issue's current state to the message bus.
func (g *Guardian) publishStatus(issue *models.Issue) {
	if g.notifier == nil {
		return
	}
	if err := g.notifier.PublishIssueStatus(issue); err != nil {
		g.logf("warn", "failed to publish status for issue %s: %v", issue.IssueID, err)
	}
}

// refreshIssueMetrics updates the per-status issue gauge.
func (g *Guardian) refreshIssueMetrics() {
	counts, err := g.db.GetIssueStatusCounts()
	if err != nil {
		g.logf("warn", "failed to count issues: %v", err)
		return
	}
	g.metrics.SetIssueStatusCounts(counts)
}
