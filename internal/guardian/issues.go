package guardian

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/ranguard/internal/agent"
	"github.com/jordanhubbard/ranguard/internal/database"
	"github.com/jordanhubbard/ranguard/internal/models"
)

// SummaryConfigFailed is written on the issue when the collaborator
// cannot produce a remediation plan.
const SummaryConfigFailed = "Failed to generate network configuration"

// RequiresHumanIntervention reports whether an issue must wait for an
// operator instead of being dispatched to workflows: either the issue
// is already parked for approval, or there are no problematic nodes a
// workflow could act on.
func RequiresHumanIntervention(issue *models.Issue) bool {
	if issue.Status == models.IssueStatusPendingApproval {
		return true
	}
	if issue.EventRisk == nil {
		return true
	}
	return len(issue.EventRisk.ProblematicNodeIDs()) == 0
}

// IssueCycle walks every open issue in risk order and advances each
// one: refreshing stale assessments, parking issues that need a human,
// and dispatching workflows for the rest.
func (g *Guardian) IssueCycle(ctx context.Context) error {
	cfg := g.tunables()
	started := time.Now()
	defer func() {
		g.metrics.CyclesTotal.WithLabelValues("issue").Inc()
		g.metrics.CycleDuration.WithLabelValues("issue").Observe(time.Since(started).Seconds())
	}()

	issues, err := g.db.GetOpenIssues()
	if err != nil {
		g.metrics.CycleErrors.WithLabelValues("issue").Inc()
		return fmt.Errorf("failed to fetch open issues: %w", err)
	}
	database.SortIssues(issues)
	if cfg.batchSize > 0 && len(issues) > cfg.batchSize {
		issues = issues[:cfg.batchSize]
	}
	if len(issues) > 0 {
		g.logf("info", "issue cycle: advancing %d open issues", len(issues))
	}

	for _, issue := range issues {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// One stuck issue never blocks the rest of the queue.
		if err := g.processIssue(ctx, issue.IssueID); err != nil {
			g.metrics.IssuesEvaluated.WithLabelValues("error").Inc()
			g.logf("error", "failed to advance issue %s: %v", issue.IssueID, err)
		}
	}

	g.refreshIssueMetrics()
	return nil
}

// processIssue advances one issue by a single cycle step.
func (g *Guardian) processIssue(ctx context.Context, issueID string) error {
	cfg := g.tunables()

	issue, err := g.db.GetIssue(issueID)
	if err != nil {
		return err
	}
	if issue == nil {
		return fmt.Errorf("issue %s not found", issueID)
	}
	if issue.Status.Terminal() {
		return nil
	}

	// Fresh issues move to analyzing before any workflow sees them.
	if issue.Status == models.IssueStatusNew {
		analyzing := models.IssueStatusAnalyzing
		if err := g.db.UpdateIssue(issue.IssueID, database.IssueUpdate{Status: &analyzing}); err != nil {
			return err
		}
		issue.Status = analyzing
		g.publishStatus(issue)
	}

	// A risk picture older than the monitoring period is refreshed
	// before acting on it.
	if issue.EventRisk == nil || time.Since(issue.EventRisk.EvaluatedAt) > cfg.monitoringPeriod {
		if err := g.refreshRisk(ctx, issue); err != nil {
			g.logf("warn", "failed to refresh risk for issue %s: %v", issue.IssueID, err)
		}
	}

	// Escalated issues belong to the operator.
	if issue.Status == models.IssueStatusEscalate {
		g.metrics.IssuesEvaluated.WithLabelValues("escalated").Inc()
		return nil
	}

	if RequiresHumanIntervention(issue) {
		return g.parkForHuman(issue)
	}

	// A remediation plan is produced once per issue; failing to get
	// one escalates immediately.
	if issue.Recommendation == "" {
		recommendation, err := g.reasoner.RecommendNetworkConfig(ctx, issue)
		if err != nil {
			g.logf("error", "no remediation plan for issue %s: %v", issue.IssueID, err)
			escalate := models.IssueStatusEscalate
			summary := SummaryConfigFailed
			if updateErr := g.db.UpdateIssue(issue.IssueID, database.IssueUpdate{
				Status:  &escalate,
				Summary: &summary,
			}); updateErr != nil {
				return updateErr
			}
			issue.Status = escalate
			issue.Summary = summary
			g.publishStatus(issue)
			g.metrics.IssuesEvaluated.WithLabelValues("escalated").Inc()
			return nil
		}
		if err := g.db.UpdateIssue(issue.IssueID, database.IssueUpdate{Recommendation: &recommendation}); err != nil {
			return err
		}
		issue.Recommendation = recommendation
	}

	nodeIDs := issue.EventRisk.ProblematicNodeIDs()
	g.metrics.IssuesEvaluated.WithLabelValues("dispatched").Inc()
	return g.dispatcher.Dispatch(ctx, issue.IssueID, nodeIDs)
}

// parkForHuman moves an issue with nothing for workflows to do into
// pending_approval. Every evaluation writes the parked state exactly
// once; the approval request is published only on the transition.
func (g *Guardian) parkForHuman(issue *models.Issue) error {
	g.metrics.IssuesEvaluated.WithLabelValues("parked").Inc()
	alreadyParked := issue.Status == models.IssueStatusPendingApproval

	pending := models.IssueStatusPendingApproval
	summary := agent.SummaryAwaitingApproval
	err := g.db.UpdateIssue(issue.IssueID, database.IssueUpdate{
		Status:  &pending,
		Summary: &summary,
	})
	if err != nil {
		return err
	}
	issue.Status = pending
	issue.Summary = summary
	if alreadyParked {
		return nil
	}
	g.logf("info", "issue %s parked for operator review", issue.IssueID)

	if g.notifier != nil {
		if err := g.notifier.PublishApprovalRequest(issue); err != nil {
			g.logf("warn", "failed to publish approval request for %s: %v", issue.IssueID, err)
		}
	}
	return nil
}

// refreshRisk re-assesses the issue's event and stores the fresh
// picture on the issue.
func (g *Guardian) refreshRisk(ctx context.Context, issue *models.Issue) error {
	event, err := g.db.GetEvent(issue.EventID)
	if err != nil {
		return err
	}
	if event == nil {
		return fmt.Errorf("event %s for issue %s not found", issue.EventID, issue.IssueID)
	}

	risk, err := g.assessEvent(ctx, event)
	if err != nil {
		return err
	}

	err = g.db.UpdateIssue(issue.IssueID, database.IssueUpdate{
		EventRisk: risk,
		NodeIDs:   risk.ProblematicNodeIDs(),
	})
	if err != nil {
		return err
	}
	issue.EventRisk = risk
	issue.NodeIDs = risk.ProblematicNodeIDs()
	return nil
}

// Approve releases a pending approval: the staged change runs on the
// next dispatch of the issue's workflows.
func (g *Guardian) Approve(issueID string) error {
	return g.decide(issueID, models.IssueStatusApproved)
}

// Reject declines a pending approval. Workflows will look for another
// way to remediate, or escalate.
func (g *Guardian) Reject(issueID string) error {
	return g.decide(issueID, models.IssueStatusRejected)
}

func (g *Guardian) decide(issueID string, verdict models.IssueStatus) error {
	issue, err := g.db.GetIssue(issueID)
	if err != nil {
		return err
	}
	if issue == nil {
		return fmt.Errorf("issue %s not found", issueID)
	}
	if issue.Status != models.IssueStatusPendingApproval {
		return fmt.Errorf("issue %s is %s, only pending_approval issues can be decided", issueID, issue.Status)
	}

	if err := g.db.UpdateIssue(issueID, database.IssueUpdate{Status: &verdict}); err != nil {
		return err
	}
	issue.Status = verdict
	g.logf("info", "issue %s decided: %s", issueID, verdict)
	g.publishStatus(issue)
	return nil
}

// ForceProcessIssue advances one issue immediately. Exposed through
// the admin API.
func (g *Guardian) ForceProcessIssue(ctx context.Context, issueID string) error {
	issue, err := g.db.GetIssue(issueID)
	if err != nil {
		return err
	}
	if issue == nil {
		return fmt.Errorf("issue %s not found", issueID)
	}
	if issue.Status.Terminal() {
		return fmt.Errorf("issue %s is already resolved", issueID)
	}
	return g.processIssue(ctx, issueID)
}
