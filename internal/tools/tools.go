// Package tools defines the remediation actions a reasoning workflow
// may take against a network node, and executes them.
package tools

// Automatic tools apply reversible capacity tuning and run without
// human approval.
var Automatic = []string{
	"activate_mlb",
	"deactivate_mlb",
	"activate_ca",
	"deactivate_ca",
	"change_dss",
	"deactivate_pdcch_power_boost",
	"enhance_dsplit_threshold",
	"enhance_resource_allocation",
}

// ApprovalRequired tools change physical radio characteristics and
// must be approved by an operator before they execute.
var ApprovalRequired = []string{
	"increase_tilt_value",
	"decrease_power",
}

// Utility tools steer the workflow itself rather than the network.
var Utility = []string{
	"monitor_node_metrics",
	"finish_and_resolve_issue",
	"finish_and_escalate",
}

const (
	ToolMonitor  = "monitor_node_metrics"
	ToolResolve  = "finish_and_resolve_issue"
	ToolEscalate = "finish_and_escalate"
)

var (
	automaticSet = toSet(Automatic)
	approvalSet  = toSet(ApprovalRequired)
	utilitySet   = toSet(Utility)
)

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// IsAutomatic reports whether the tool executes without approval.
func IsAutomatic(name string) bool {
	_, ok := automaticSet[name]
	return ok
}

// IsApprovalRequired reports whether the tool needs operator approval.
func IsApprovalRequired(name string) bool {
	_, ok := approvalSet[name]
	return ok
}

// IsUtility reports whether the tool steers the workflow rather than
// the network.
func IsUtility(name string) bool {
	_, ok := utilitySet[name]
	return ok
}

// IsKnown reports whether the tool belongs to the vocabulary at all.
func IsKnown(name string) bool {
	return IsAutomatic(name) || IsApprovalRequired(name) || IsUtility(name)
}

// TaskTools returns the tools that produce trackable tasks on an
// issue: every network-changing tool, but none of the utility tools.
func TaskTools() []string {
	out := make([]string, 0, len(Automatic)+len(ApprovalRequired))
	out = append(out, Automatic...)
	out = append(out, ApprovalRequired...)
	return out
}

// ProducesTask reports whether executing the tool is recorded as a
// task on the issue.
func ProducesTask(name string) bool {
	return IsAutomatic(name) || IsApprovalRequired(name)
}
