package guardian

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jordanhubbard/ranguard/internal/database"
	"github.com/jordanhubbard/ranguard/internal/models"
	"github.com/jordanhubbard/ranguard/internal/telemetry"
)

// eventFanOut bounds how many events are evaluated concurrently in
// one cycle. Workflow dispatch has its own, separate limit.
const eventFanOut = 8

// EventCycle scans upcoming events, assesses their network risk, and
// opens issues for the ones the network cannot absorb as-is.
func (g *Guardian) EventCycle(ctx context.Context) error {
	cfg := g.tunables()
	started := time.Now()
	defer func() {
		g.metrics.CyclesTotal.WithLabelValues("event").Inc()
		g.metrics.CycleDuration.WithLabelValues("event").Observe(time.Since(started).Seconds())
	}()

	now := time.Now().UTC()
	events, err := g.db.GetEvents(now, now.Add(cfg.lookforwardPeriod))
	if err != nil {
		g.metrics.CycleErrors.WithLabelValues("event").Inc()
		return fmt.Errorf("failed to fetch upcoming events: %w", err)
	}
	if cfg.batchSize > 0 && len(events) > cfg.batchSize {
		events = events[:cfg.batchSize]
	}
	if len(events) == 0 {
		return nil
	}
	g.logf("info", "event cycle: evaluating %d upcoming events", len(events))

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(eventFanOut)
	for _, event := range events {
		eventID := event.EventID
		eg.Go(func() error {
			// One bad event never aborts the cycle.
			if err := g.processEvent(egCtx, eventID, false); err != nil {
				g.logf("error", "failed to process event %s: %v", eventID, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// processEvent evaluates one event and opens an issue if needed. force
// skips the freshness check used by the periodic cycle.
func (g *Guardian) processEvent(ctx context.Context, eventID string, force bool) error {
	cfg := g.tunables()
	now := time.Now().UTC()

	// Re-read the event: it may have been removed or rebound since the
	// cycle listed it.
	event, err := g.db.GetEvent(eventID)
	if err != nil {
		return err
	}
	if event == nil {
		g.metrics.EventsSkipped.WithLabelValues("missing").Inc()
		return nil
	}

	// An open issue already owns this event.
	issue, err := g.db.GetIssue(event.EventID)
	if err != nil {
		return err
	}
	if issue != nil && !issue.Status.Terminal() {
		g.metrics.EventsSkipped.WithLabelValues("wip_issue").Inc()
		return nil
	}

	// Recently assessed with no open issue: nothing changed enough to
	// pay for another assessment.
	if !force && event.ProcessedAt != nil && now.Sub(*event.ProcessedAt) < cfg.monitoringPeriod {
		g.metrics.EventsSkipped.WithLabelValues("fresh").Inc()
		return nil
	}

	risk, err := g.assessEvent(ctx, event)
	if err != nil {
		return err
	}
	g.metrics.EventsEvaluated.WithLabelValues(string(risk.RiskLevel)).Inc()
	telemetry.EventsEvaluated.Add(ctx, 1)

	if risk.RiskLevel == models.RiskLevelLow {
		g.logf("info", "event %s (%s) assessed low risk", event.EventID, event.Name)
		return g.db.UpdateEvent(event.EventID, database.EventUpdate{ProcessedAt: &now})
	}

	status := models.IssueStatusNew
	if risk.RiskLevel == models.RiskLevelEscalate {
		status = models.IssueStatusEscalate
	}

	created, err := g.db.CreateIssue(&models.Issue{
		IssueID:   event.EventID,
		EventID:   event.EventID,
		Status:    status,
		NodeIDs:   risk.ProblematicNodeIDs(),
		EventRisk: risk,
		Summary:   risk.Description,
	})
	if err != nil {
		return fmt.Errorf("failed to open issue for event %s: %w", event.EventID, err)
	}

	reopened := issue != nil
	if reopened {
		g.metrics.IssuesReopened.Inc()
		g.logf("info", "reopened issue %s: event %s recurred at %s risk", created.IssueID, event.EventID, risk.RiskLevel)
	} else {
		g.metrics.IssuesOpened.Inc()
		g.logf("info", "opened issue %s for event %s at %s risk", created.IssueID, event.EventID, risk.RiskLevel)
	}
	telemetry.IssuesOpen.Add(ctx, 1)

	issueID := created.IssueID
	err = g.db.UpdateEvent(event.EventID, database.EventUpdate{IssueID: &issueID, ProcessedAt: &now})
	if err != nil {
		return fmt.Errorf("failed to bind issue %s to event: %w", issueID, err)
	}

	if g.notifier != nil {
		if err := g.notifier.PublishIssueOpened(created); err != nil {
			g.logf("warn", "failed to publish issue %s: %v", issueID, err)
		}
	}
	return nil
}

// assessEvent gathers the state of every node near the event and asks
// the collaborator for per-node verdicts and an overall risk level.
// Collaborator failures degrade to conservative verdicts rather than
// aborting the assessment.
func (g *Guardian) assessEvent(ctx context.Context, event *models.Event) (*models.EventRisk, error) {
	cfg := g.tunables()
	now := time.Now().UTC()

	nodes, err := g.db.GetNearbyNodes(event.Location, cfg.nodeRadiusMeters)
	if err != nil {
		return nil, fmt.Errorf("failed to find nodes near event %s: %w", event.EventID, err)
	}
	if len(nodes) == 0 {
		g.logf("warn", "event %s has no nodes within %.0fm", event.EventID, cfg.nodeRadiusMeters)
		return &models.EventRisk{
			RiskLevel:   models.RiskLevelLow,
			Description: "No network nodes near the event location",
			EvaluatedAt: now,
		}, nil
	}

	lookback := now.Add(-cfg.monitoringPeriod)
	summaries := make([]models.NodeSummary, 0, len(nodes))
	for _, node := range nodes {
		performance, err := g.db.GetPerformanceData(node.NodeID, lookback)
		if err != nil {
			g.logf("warn", "failed to fetch performance for node %s: %v", node.NodeID, err)
		}
		alarms, err := g.db.GetAlarms(node.NodeID, lookback)
		if err != nil {
			g.logf("warn", "failed to fetch alarms for node %s: %v", node.NodeID, err)
		}

		summary, err := g.reasoner.AssessNodeRisk(ctx, event, node, performance, alarms)
		if err != nil {
			g.logf("warn", "node %s assessment degraded: %v", node.NodeID, err)
		}
		summaries = append(summaries, summary)
	}

	level, description, err := g.reasoner.AssessEventRisk(ctx, event, summaries)
	if err != nil {
		g.logf("warn", "event %s assessment degraded: %v", event.EventID, err)
	}

	return &models.EventRisk{
		RiskLevel:     level,
		NodeSummaries: summaries,
		Description:   description,
		EvaluatedAt:   now,
	}, nil
}

// ForceProcessEvent evaluates one event immediately, bypassing the
// freshness check. Exposed through the admin API.
func (g *Guardian) ForceProcessEvent(ctx context.Context, eventID string) error {
	event, err := g.db.GetEvent(eventID)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("event %s not found", eventID)
	}
	return g.processEvent(ctx, eventID, true)
}
