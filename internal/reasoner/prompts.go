package reasoner

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jordanhubbard/ranguard/internal/models"
	"github.com/jordanhubbard/ranguard/internal/tools"
)

const nodeRiskSystemPrompt = `You are a radio access network capacity analyst.
Given an upcoming event and one nearby node's recent performance and alarms,
judge whether the node is likely to degrade under the event's load.
Respond with a JSON object: {"is_problematic": bool, "summary": "one paragraph"}.`

const eventRiskSystemPrompt = `You are a radio access network capacity analyst.
Given an upcoming event and per-node verdicts, classify the overall network risk.
Respond with a JSON object: {"risk_level": "low|medium|high|escalate", "description": "one paragraph"}.
Use "escalate" only when the situation needs a human operator immediately.`

const recommendationSystemPrompt = `You are a radio access network optimization engineer.
Write a short remediation plan for the issue, naming the configuration
changes to apply per problematic node. Plain text, no JSON.`

// proposalSystemPrompt lists the tool vocabulary so the collaborator
// can only pick actions the executor understands.
var proposalSystemPrompt = fmt.Sprintf(`You are a radio access network optimization engineer
working on one node of an open capacity issue. Pick the single next action.

Automatic tools (applied immediately): %s
Approval-required tools (held for a human operator): %s
Workflow tools: %s

Respond with a JSON object: {"tool": "name", "args": {}, "rationale": "why"}.
Use "monitor_node_metrics" to wait and re-check, "finish_and_resolve_issue"
when the node is healthy, "finish_and_escalate" when nothing helps.
Respond without JSON if there is nothing left to do.`,
	strings.Join(tools.Automatic, ", "),
	strings.Join(tools.ApprovalRequired, ", "),
	strings.Join(tools.Utility, ", "))

func nodeRiskPrompt(event *models.Event, node *models.Node,
	performance []models.PerformanceSample, alarms []models.Alarm) (string, error) {

	payload := map[string]interface{}{
		"event":       event,
		"node":        node,
		"performance": performance,
		"alarms":      alarms,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal node risk prompt: %w", err)
	}
	return string(b), nil
}

func eventRiskPrompt(event *models.Event, summaries []models.NodeSummary) (string, error) {
	payload := map[string]interface{}{
		"event":         event,
		"node_verdicts": summaries,
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal event risk prompt: %w", err)
	}
	return string(b), nil
}

func recommendationPrompt(issue *models.Issue) (string, error) {
	b, err := json.Marshal(issue)
	if err != nil {
		return "", fmt.Errorf("failed to marshal recommendation prompt: %w", err)
	}
	return string(b), nil
}

func proposalPrompt(issue *models.Issue, nodeID string, history []models.TraceMessage) (string, error) {
	payload := map[string]interface{}{
		"issue_id":       issue.IssueID,
		"status":         issue.Status,
		"recommendation": issue.Recommendation,
		"node_id":        nodeID,
		"history":        history,
	}
	if issue.EventRisk != nil {
		for _, summary := range issue.EventRisk.NodeSummaries {
			if summary.NodeID == nodeID {
				payload["node_verdict"] = summary
				break
			}
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal proposal prompt: %w", err)
	}
	return string(b), nil
}
