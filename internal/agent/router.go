package agent

import (
	"github.com/jordanhubbard/ranguard/internal/models"
	"github.com/jordanhubbard/ranguard/internal/tools"
)

// Action is what a workflow does with the collaborator's proposed tool.
type Action int

const (
	// ActionEnd ends the workflow with nothing left to do.
	ActionEnd Action = iota
	// ActionExecute runs the tool against the node now.
	ActionExecute
	// ActionSuspend parks the workflow until the next scheduler cycle.
	ActionSuspend
	// ActionStage records the tool and waits for operator approval.
	ActionStage
	// ActionSkip yields without running the tool; another workflow or
	// an operator owns the next move.
	ActionSkip
	// ActionResolve closes the issue as remediated.
	ActionResolve
	// ActionEscalate hands the issue to a human operator.
	ActionEscalate
)

func (a Action) String() string {
	switch a {
	case ActionExecute:
		return "execute"
	case ActionSuspend:
		return "suspend"
	case ActionStage:
		return "stage"
	case ActionSkip:
		return "skip"
	case ActionResolve:
		return "resolve"
	case ActionEscalate:
		return "escalate"
	default:
		return "end"
	}
}

// Decision is the router's verdict: what to do, and which issue status
// to set while doing it. A nil SetStatus leaves the status alone.
type Decision struct {
	Action    Action
	SetStatus *models.IssueStatus
}

func statusPtr(s models.IssueStatus) *models.IssueStatus { return &s }

// Route decides how a workflow handles the proposed tool given the
// issue's current status. It is a pure function: same inputs, same
// decision, no side effects.
//
// Approval-required tools are staged exactly once: the first workflow
// to propose one parks the issue in pending_approval, and every
// workflow that sees the issue in pending_approval afterwards yields.
func Route(status models.IssueStatus, tool string) Decision {
	if status.Terminal() {
		return Decision{Action: ActionEnd}
	}
	if tool == "" {
		return Decision{Action: ActionEnd}
	}

	// A parked issue waits for the operator. No tool runs, not even
	// the finishing ones: a sibling workflow must not close an issue
	// that has a staged change awaiting approval.
	if status == models.IssueStatusPendingApproval {
		return Decision{Action: ActionSkip}
	}

	switch tool {
	case tools.ToolResolve:
		return Decision{Action: ActionResolve, SetStatus: statusPtr(models.IssueStatusResolved)}
	case tools.ToolEscalate:
		return Decision{Action: ActionEscalate, SetStatus: statusPtr(models.IssueStatusEscalate)}
	case tools.ToolMonitor:
		if status != models.IssueStatusMonitoring {
			return Decision{Action: ActionSuspend, SetStatus: statusPtr(models.IssueStatusMonitoring)}
		}
		return Decision{Action: ActionSuspend}
	}

	if tools.IsApprovalRequired(tool) {
		switch status {
		case models.IssueStatusApproved:
			// Operator said yes; run it and go back to analyzing.
			return Decision{Action: ActionExecute, SetStatus: statusPtr(models.IssueStatusAnalyzing)}
		case models.IssueStatusRejected, models.IssueStatusEscalate:
			return Decision{Action: ActionSkip}
		default:
			// new, analyzing, monitoring: park the issue for a human.
			return Decision{Action: ActionStage, SetStatus: statusPtr(models.IssueStatusPendingApproval)}
		}
	}

	// Automatic tools, and unknown tools the collaborator invented.
	// Unknown names are executed as no-ops so the trace shows what was
	// asked for.
	if status == models.IssueStatusMonitoring {
		return Decision{Action: ActionExecute, SetStatus: statusPtr(models.IssueStatusAnalyzing)}
	}
	return Decision{Action: ActionExecute}
}
