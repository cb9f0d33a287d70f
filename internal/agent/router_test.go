package agent

import (
	"testing"

	"github.com/jordanhubbard/ranguard/internal/models"
)

func TestRouteTerminalStatusEnds(t *testing.T) {
	for _, tool := range []string{"", "activate_mlb", "increase_tilt_value", "monitor_node_metrics"} {
		d := Route(models.IssueStatusResolved, tool)
		if d.Action != ActionEnd {
			t.Errorf("Route(resolved, %q) = %s, want end", tool, d.Action)
		}
	}
}

func TestRouteNoToolEnds(t *testing.T) {
	for _, status := range models.AllIssueStatuses {
		if status.Terminal() {
			continue
		}
		if d := Route(status, ""); d.Action != ActionEnd {
			t.Errorf("Route(%s, none) = %s, want end", status, d.Action)
		}
	}
}

func TestRouteWorkflowTools(t *testing.T) {
	d := Route(models.IssueStatusAnalyzing, "finish_and_resolve_issue")
	if d.Action != ActionResolve || d.SetStatus == nil || *d.SetStatus != models.IssueStatusResolved {
		t.Errorf("resolve tool: %+v", d)
	}

	d = Route(models.IssueStatusAnalyzing, "finish_and_escalate")
	if d.Action != ActionEscalate || d.SetStatus == nil || *d.SetStatus != models.IssueStatusEscalate {
		t.Errorf("escalate tool: %+v", d)
	}

	d = Route(models.IssueStatusAnalyzing, "monitor_node_metrics")
	if d.Action != ActionSuspend || d.SetStatus == nil || *d.SetStatus != models.IssueStatusMonitoring {
		t.Errorf("monitor from analyzing: %+v", d)
	}

	// Already monitoring: suspend again without touching the status.
	d = Route(models.IssueStatusMonitoring, "monitor_node_metrics")
	if d.Action != ActionSuspend || d.SetStatus != nil {
		t.Errorf("monitor while monitoring: %+v", d)
	}
}

// A sibling workflow must never close or redirect an issue that has a
// staged change awaiting the operator.
func TestRoutePendingApprovalYieldsEveryTool(t *testing.T) {
	for _, tool := range []string{
		"finish_and_resolve_issue",
		"finish_and_escalate",
		"monitor_node_metrics",
		"activate_mlb",
		"increase_tilt_value",
		"defragment_spectrum",
	} {
		d := Route(models.IssueStatusPendingApproval, tool)
		if d.Action != ActionSkip {
			t.Errorf("Route(pending_approval, %s) = %s, want skip", tool, d.Action)
		}
		if d.SetStatus != nil {
			t.Errorf("Route(pending_approval, %s) SetStatus = %s, want nil", tool, *d.SetStatus)
		}
	}
}

func TestRouteAutomaticTools(t *testing.T) {
	tests := []struct {
		status     models.IssueStatus
		wantAction Action
		wantStatus *models.IssueStatus
	}{
		{models.IssueStatusNew, ActionExecute, nil},
		{models.IssueStatusAnalyzing, ActionExecute, nil},
		{models.IssueStatusMonitoring, ActionExecute, statusPtr(models.IssueStatusAnalyzing)},
		{models.IssueStatusPendingApproval, ActionSkip, nil},
		{models.IssueStatusApproved, ActionExecute, nil},
		{models.IssueStatusRejected, ActionExecute, nil},
		{models.IssueStatusEscalate, ActionExecute, nil},
	}

	for _, tt := range tests {
		d := Route(tt.status, "activate_mlb")
		if d.Action != tt.wantAction {
			t.Errorf("Route(%s, activate_mlb) = %s, want %s", tt.status, d.Action, tt.wantAction)
		}
		if (d.SetStatus == nil) != (tt.wantStatus == nil) {
			t.Errorf("Route(%s, activate_mlb) SetStatus = %v, want %v", tt.status, d.SetStatus, tt.wantStatus)
		} else if d.SetStatus != nil && *d.SetStatus != *tt.wantStatus {
			t.Errorf("Route(%s, activate_mlb) SetStatus = %s, want %s", tt.status, *d.SetStatus, *tt.wantStatus)
		}
	}
}

func TestRouteApprovalTools(t *testing.T) {
	tests := []struct {
		status     models.IssueStatus
		wantAction Action
	}{
		{models.IssueStatusNew, ActionStage},
		{models.IssueStatusAnalyzing, ActionStage},
		{models.IssueStatusMonitoring, ActionStage},
		{models.IssueStatusPendingApproval, ActionSkip},
		{models.IssueStatusApproved, ActionExecute},
		{models.IssueStatusRejected, ActionSkip},
		{models.IssueStatusEscalate, ActionSkip},
	}

	for _, tt := range tests {
		d := Route(tt.status, "increase_tilt_value")
		if d.Action != tt.wantAction {
			t.Errorf("Route(%s, increase_tilt_value) = %s, want %s", tt.status, d.Action, tt.wantAction)
		}
	}

	// Approved execution resumes analysis afterwards.
	d := Route(models.IssueStatusApproved, "decrease_power")
	if d.SetStatus == nil || *d.SetStatus != models.IssueStatusAnalyzing {
		t.Errorf("approved execution SetStatus = %v, want analyzing", d.SetStatus)
	}

	// Staging parks the issue for the operator.
	d = Route(models.IssueStatusAnalyzing, "increase_tilt_value")
	if d.SetStatus == nil || *d.SetStatus != models.IssueStatusPendingApproval {
		t.Errorf("staging SetStatus = %v, want pending_approval", d.SetStatus)
	}
}

func TestRouteUnknownToolBehavesLikeAutomatic(t *testing.T) {
	d := Route(models.IssueStatusAnalyzing, "defragment_spectrum")
	if d.Action != ActionExecute {
		t.Errorf("Route(analyzing, unknown) = %s, want execute", d.Action)
	}
	d = Route(models.IssueStatusPendingApproval, "defragment_spectrum")
	if d.Action != ActionSkip {
		t.Errorf("Route(pending_approval, unknown) = %s, want skip", d.Action)
	}
}

func TestRouteIsPure(t *testing.T) {
	for _, status := range models.AllIssueStatuses {
		for _, tool := range []string{"", "activate_mlb", "increase_tilt_value", "monitor_node_metrics", "finish_and_resolve_issue"} {
			first := Route(status, tool)
			second := Route(status, tool)
			if first.Action != second.Action {
				t.Errorf("Route(%s, %q) not deterministic", status, tool)
			}
		}
	}
}
