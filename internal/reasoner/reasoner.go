// Package reasoner wraps the LLM collaborator that assesses network
// risk and proposes remediation steps. Every assessment degrades to a
// conservative answer when the collaborator is unreachable.
package reasoner

import (
	"context"

	"github.com/jordanhubbard/ranguard/internal/models"
)

// Proposal is one action the collaborator wants a workflow to take
// next. A nil proposal means the workflow has nothing more to do.
type Proposal struct {
	Tool      string                 `json:"tool"`
	Args      map[string]interface{} `json:"args,omitempty"`
	Rationale string                 `json:"rationale,omitempty"`
}

// Reasoner is the decision-making collaborator. Implementations must
// return conservative values alongside any error: escalate-level risk,
// problematic nodes. A caller that ignores the error still acts safely.
type Reasoner interface {
	// AssessNodeRisk judges whether one node can absorb the event's
	// expected load, given its recent performance and alarms.
	AssessNodeRisk(ctx context.Context, event *models.Event, node *models.Node,
		performance []models.PerformanceSample, alarms []models.Alarm) (models.NodeSummary, error)

	// AssessEventRisk rolls per-node verdicts up into an overall risk
	// level for the event.
	AssessEventRisk(ctx context.Context, event *models.Event, summaries []models.NodeSummary) (models.RiskLevel, string, error)

	// RecommendNetworkConfig produces a remediation plan for the issue
	// in operator-readable prose.
	RecommendNetworkConfig(ctx context.Context, issue *models.Issue) (string, error)

	// ProposeAction picks the next tool for one node's workflow, or
	// returns nil when the workflow should end naturally.
	ProposeAction(ctx context.Context, issue *models.Issue, nodeID string, history []models.TraceMessage) (*Proposal, error)
}
