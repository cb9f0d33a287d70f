package models

import (
	"fmt"
	"time"
)

// IssueStatus represents the lifecycle state of an issue
type IssueStatus string

const (
	IssueStatusNew             IssueStatus = "new"
	IssueStatusAnalyzing       IssueStatus = "analyzing"
	IssueStatusMonitoring      IssueStatus = "monitoring"
	IssueStatusPendingApproval IssueStatus = "pending_approval"
	IssueStatusApproved        IssueStatus = "approved"
	IssueStatusRejected        IssueStatus = "rejected"
	IssueStatusEscalate        IssueStatus = "escalate"
	IssueStatusResolved        IssueStatus = "resolved"
)

// AllIssueStatuses lists every recognized issue status.
var AllIssueStatuses = []IssueStatus{
	IssueStatusNew,
	IssueStatusAnalyzing,
	IssueStatusMonitoring,
	IssueStatusPendingApproval,
	IssueStatusApproved,
	IssueStatusRejected,
	IssueStatusEscalate,
	IssueStatusResolved,
}

// Valid reports whether s is a recognized issue status.
func (s IssueStatus) Valid() bool {
	for _, known := range AllIssueStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether the status ends the remediation lifecycle.
// Checkpoints for a terminal issue must not be resumed.
func (s IssueStatus) Terminal() bool {
	return s == IssueStatusResolved
}

// RiskLevel classifies the expected network impact of an event
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "low"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelEscalate RiskLevel = "escalate"
)

// Rank returns an ordinal for priority sorting (higher sorts first).
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLevelEscalate:
		return 3
	case RiskLevelHigh:
		return 2
	case RiskLevelMedium:
		return 1
	default:
		return 0
	}
}

// TaskStatus represents the execution state of a remediation task
type TaskStatus string

const (
	TaskStatusScheduled TaskStatus = "scheduled"
	TaskStatusExecuting TaskStatus = "executing"
	TaskStatusDone      TaskStatus = "done"
	TaskStatusFailed    TaskStatus = "failed"
)

// rank orders task statuses along the forward-only transition path.
func (s TaskStatus) rank() int {
	switch s {
	case TaskStatusScheduled:
		return 0
	case TaskStatusExecuting:
		return 1
	case TaskStatusDone, TaskStatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransition reports whether a task may move from s to next.
// Task statuses only move forward: scheduled -> executing -> done/failed.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	if s == next {
		return true
	}
	return next.rank() > s.rank()
}

// Location is a geographic point
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Event is an external occurrence (concert, match, gathering) expected
// to stress nearby network capacity. Events are created by the source
// feed and are immutable here except for the issue binding.
type Event struct {
	EventID     string     `json:"event_id"`
	Name        string     `json:"name,omitempty"`
	Location    Location   `json:"location"`
	StartDate   time.Time  `json:"start_date"`
	EndDate     time.Time  `json:"end_date"`
	Size        string     `json:"size"` // S, M, L, XL crowd category
	EventType   string     `json:"event_type,omitempty"`
	Venue       string     `json:"venue,omitempty"`
	IssueID     string     `json:"issue_id,omitempty"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
}

// Node is one radio network cell/base station
type Node struct {
	NodeID     string   `json:"node_id"`
	Name       string   `json:"name,omitempty"`
	Location   Location `json:"location"`
	Site       string   `json:"site,omitempty"`
	Technology string   `json:"technology,omitempty"` // lte, nr
	Capacity   int      `json:"capacity"`
}

// PerformanceSample is one measurement of a node's recent performance
type PerformanceSample struct {
	Timestamp          time.Time `json:"timestamp"`
	MaxRRCConnUsers    int       `json:"max_rrc_conn_users"`
	RRCSetupSuccess    float64   `json:"rrc_setup_success_percent"`
	DownlinkThroughput float64   `json:"downlink_throughput_mbps,omitempty"`
}

// Alarm is an active or recently cleared alarm on a node
type Alarm struct {
	AlarmID   string     `json:"alarm_id"`
	NodeID    string     `json:"node_id"`
	Severity  string     `json:"severity"`
	Message   string     `json:"message"`
	RaisedAt  time.Time  `json:"raised_at"`
	ClearedAt *time.Time `json:"cleared_at,omitempty"`
}

// NodeSummary is a point-in-time snapshot of one node's state plus the
// risk collaborator's verdict on it. Owned by an EventRisk.
type NodeSummary struct {
	NodeID        string              `json:"node_id"`
	SiteID        string              `json:"site_id,omitempty"`
	Capacity      int                 `json:"capacity"`
	Performance   []PerformanceSample `json:"performance,omitempty"`
	Alarms        []Alarm             `json:"alarms,omitempty"`
	IsProblematic bool                `json:"is_problematic"`
	Summary       string              `json:"summary,omitempty"`
}

// EventRisk is the output of risk evaluation for one event
type EventRisk struct {
	RiskLevel     RiskLevel     `json:"risk_level"`
	NodeSummaries []NodeSummary `json:"node_summaries"`
	Description   string        `json:"description,omitempty"`
	EvaluatedAt   time.Time     `json:"evaluated_at"`
}

// ProblematicNodeIDs returns the IDs of nodes flagged problematic.
func (r *EventRisk) ProblematicNodeIDs() []string {
	var ids []string
	for _, ns := range r.NodeSummaries {
		if ns.IsProblematic {
			ids = append(ids, ns.NodeID)
		}
	}
	return ids
}

// Task is one remediation action attempted against one node
type Task struct {
	Name       string     `json:"name"`
	Status     TaskStatus `json:"status"`
	NodeID     string     `json:"node_id"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	Commands   []string   `json:"commands,omitempty"` // parameter changes applied, kept for audit/rollback
}

// Issue is the tracked unit of work for an at-risk event. The issue ID
// is identical to the originating event ID, which enforces at most one
// open issue per event by construction.
type Issue struct {
	IssueID        string      `json:"issue_id"`
	EventID        string      `json:"event_id"`
	NodeIDs        []string    `json:"node_ids"`
	EventRisk      *EventRisk  `json:"event_risk,omitempty"`
	Status         IssueStatus `json:"status"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	Recommendation string      `json:"recommendation,omitempty"`
	Summary        string      `json:"summary,omitempty"`
	Tasks          []Task      `json:"tasks,omitempty"`
}

// UpsertTask appends the task or updates the existing entry with the
// same name for the same node. Backward task transitions are rejected.
func (i *Issue) UpsertTask(task Task) error {
	for idx, existing := range i.Tasks {
		if existing.Name == task.Name && existing.NodeID == task.NodeID {
			if !existing.Status.CanTransition(task.Status) {
				return fmt.Errorf("task %s on node %s cannot move from %s to %s",
					task.Name, task.NodeID, existing.Status, task.Status)
			}
			i.Tasks[idx] = task
			return nil
		}
	}
	i.Tasks = append(i.Tasks, task)
	return nil
}

// FindTask returns the task with the given name for a node, if present.
func (i *Issue) FindTask(name, nodeID string) (Task, bool) {
	for _, t := range i.Tasks {
		if t.Name == name && t.NodeID == nodeID {
			return t, true
		}
	}
	return Task{}, false
}

// TraceMessage is one entry in a workflow's conversation/trace log
type TraceMessage struct {
	Role      string    `json:"role"` // system, user, assistant, tool
	Tool      string    `json:"tool,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// AgentSnapshot captures the suspended position of one per-node
// reasoning workflow. It is opaque to everything but the agent that
// wrote it.
type AgentSnapshot struct {
	IssueID     string    `json:"issue_id"`
	NodeID      string    `json:"node_id"`
	Step        int       `json:"step"`
	PendingTool string    `json:"pending_tool,omitempty"`
	Model       string    `json:"model,omitempty"`
	SavedAt     time.Time `json:"saved_at"`
}

// AgentHistory is the durable trace + task list of one per-node
// reasoning workflow. Snapshot and history together are the only
// workflow state that survives a process restart.
type AgentHistory struct {
	IssueID  string         `json:"issue_id"`
	NodeID   string         `json:"node_id"`
	Messages []TraceMessage `json:"messages"`
	Tasks    []Task         `json:"tasks"`
}
