// Package agent runs the per-node reasoning workflow for an open
// issue. Each workflow is checkpointed after every completed step so
// it can resume across restarts and approval waits.
package agent

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/ranguard/internal/checkpoint"
	"github.com/jordanhubbard/ranguard/internal/database"
	"github.com/jordanhubbard/ranguard/internal/models"
	"github.com/jordanhubbard/ranguard/internal/reasoner"
	"github.com/jordanhubbard/ranguard/internal/tools"
)

// maxSteps bounds one workflow run so a looping collaborator cannot
// hold a dispatch slot forever.
const maxSteps = 10

// SummaryAwaitingApproval is written on the issue when a workflow
// stages an approval-required change.
const SummaryAwaitingApproval = "Awaiting human approval for proposed configuration"

// Outcome is how one workflow run ended.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeResolved  Outcome = "resolved"
	OutcomeEscalated Outcome = "escalated"
	OutcomeSuspended Outcome = "suspended"
	OutcomeStaged    Outcome = "staged"
	OutcomeSkipped   Outcome = "skipped"
)

// IssueStore is the slice of the database the agent needs. Satisfied
// by *database.Database.
type IssueStore interface {
	GetIssue(issueID string) (*models.Issue, error)
	UpdateIssue(issueID string, update database.IssueUpdate) error
	UpdateIssueTask(issueID string, task models.Task) error
}

// Agent runs the reasoning workflow for one (issue, node) pair.
type Agent struct {
	issueID     string
	nodeID      string
	store       IssueStore
	reasoner    reasoner.Reasoner
	executor    *tools.Executor
	checkpoints checkpoint.Store
}

func New(issueID, nodeID string, store IssueStore, r reasoner.Reasoner,
	executor *tools.Executor, checkpoints checkpoint.Store) *Agent {
	return &Agent{
		issueID:     issueID,
		nodeID:      nodeID,
		store:       store,
		reasoner:    r,
		executor:    executor,
		checkpoints: checkpoints,
	}
}

// Run executes the workflow until it ends, suspends, or stages an
// approval. A previously checkpointed workflow resumes where it left
// off; a fresh one starts at step zero.
func (a *Agent) Run(ctx context.Context) (Outcome, error) {
	snapshot, history, err := a.rehydrate(ctx)
	if err != nil {
		return "", err
	}

	// A checkpoint for a concluded issue must not be resumed.
	issue, err := a.store.GetIssue(a.issueID)
	if err != nil {
		return "", fmt.Errorf("failed to load issue %s: %w", a.issueID, err)
	}
	if issue == nil {
		_ = a.checkpoints.Delete(ctx, a.issueID, a.nodeID)
		return "", fmt.Errorf("issue %s no longer exists", a.issueID)
	}
	if issue.Status.Terminal() {
		if err := a.checkpoints.Delete(ctx, a.issueID, a.nodeID); err != nil {
			log.Printf("[Agent] Failed to drop stale checkpoint for %s/%s: %v", a.issueID, a.nodeID, err)
		}
		return OutcomeCompleted, nil
	}

	// A staged approval decision is replayed before asking the
	// collaborator anything new.
	if snapshot.PendingTool != "" {
		outcome, done, err := a.step(ctx, issue, &reasoner.Proposal{Tool: snapshot.PendingTool}, snapshot, history)
		if err != nil {
			return outcome, err
		}
		snapshot.PendingTool = ""
		if done {
			return outcome, nil
		}
	}

	stepsThisRun := 0
	for {
		if stepsThisRun >= maxSteps {
			a.trace(history, "system", "", "step budget exhausted, suspending")
			if err := a.save(ctx, snapshot, history); err != nil {
				return "", err
			}
			return OutcomeSuspended, nil
		}

		issue, err = a.store.GetIssue(a.issueID)
		if err != nil {
			return "", fmt.Errorf("failed to load issue %s: %w", a.issueID, err)
		}
		if issue == nil || issue.Status.Terminal() {
			_ = a.checkpoints.Delete(ctx, a.issueID, a.nodeID)
			return OutcomeCompleted, nil
		}

		proposal, err := a.reasoner.ProposeAction(ctx, issue, a.nodeID, history.Messages)
		if err != nil {
			a.trace(history, "system", "", fmt.Sprintf("collaborator error: %v", err))
			if saveErr := a.save(ctx, snapshot, history); saveErr != nil {
				return "", saveErr
			}
			return OutcomeSuspended, fmt.Errorf("proposal failed for %s/%s: %w", a.issueID, a.nodeID, err)
		}

		outcome, done, err := a.step(ctx, issue, proposal, snapshot, history)
		if err != nil {
			return outcome, err
		}
		if done {
			return outcome, nil
		}
		stepsThisRun++
	}
}

// step applies one proposal. done reports whether the workflow run is
// over, either finished or parked.
func (a *Agent) step(ctx context.Context, issue *models.Issue, proposal *reasoner.Proposal,
	snapshot *models.AgentSnapshot, history *models.AgentHistory) (Outcome, bool, error) {

	tool := ""
	if proposal != nil {
		tool = proposal.Tool
		if proposal.Rationale != "" {
			a.trace(history, "assistant", tool, proposal.Rationale)
		}
	}

	decision := Route(issue.Status, tool)
	log.Printf("[Agent] %s/%s status=%s tool=%s -> %s", a.issueID, a.nodeID, issue.Status, tool, decision.Action)

	switch decision.Action {
	case ActionEnd:
		if err := a.checkpoints.Delete(ctx, a.issueID, a.nodeID); err != nil {
			log.Printf("[Agent] Failed to drop checkpoint for %s/%s: %v", a.issueID, a.nodeID, err)
		}
		return OutcomeCompleted, true, nil

	case ActionResolve:
		a.trace(history, "tool", tool, "issue resolved by workflow")
		summary := fmt.Sprintf("Resolved after remediation of node %s", a.nodeID)
		err := a.store.UpdateIssue(a.issueID, database.IssueUpdate{
			Status:  decision.SetStatus,
			Summary: &summary,
		})
		if err != nil {
			return "", false, err
		}
		if err := a.checkpoints.DeleteIssue(ctx, a.issueID); err != nil {
			log.Printf("[Agent] Failed to drop checkpoints for %s: %v", a.issueID, err)
		}
		return OutcomeResolved, true, nil

	case ActionEscalate:
		a.trace(history, "tool", tool, "issue escalated to operator")
		err := a.store.UpdateIssue(a.issueID, database.IssueUpdate{Status: decision.SetStatus})
		if err != nil {
			return "", false, err
		}
		snapshot.Step++
		if err := a.save(ctx, snapshot, history); err != nil {
			return "", false, err
		}
		return OutcomeEscalated, true, nil

	case ActionSuspend:
		if decision.SetStatus != nil {
			err := a.store.UpdateIssue(a.issueID, database.IssueUpdate{Status: decision.SetStatus})
			if err != nil {
				return "", false, err
			}
		}
		a.trace(history, "tool", tool, "monitoring node, workflow suspended")
		snapshot.Step++
		if err := a.save(ctx, snapshot, history); err != nil {
			return "", false, err
		}
		return OutcomeSuspended, true, nil

	case ActionStage:
		summary := SummaryAwaitingApproval
		err := a.store.UpdateIssue(a.issueID, database.IssueUpdate{
			Status:  decision.SetStatus,
			Summary: &summary,
		})
		if err != nil {
			return "", false, err
		}
		a.trace(history, "tool", tool, "staged for operator approval")
		snapshot.Step++
		snapshot.PendingTool = tool
		if err := a.save(ctx, snapshot, history); err != nil {
			return "", false, err
		}
		return OutcomeStaged, true, nil

	case ActionSkip:
		a.trace(history, "system", tool, fmt.Sprintf("skipped %s while issue is %s", tool, issue.Status))
		snapshot.Step++
		// A skipped staged tool is abandoned, so the collaborator is
		// consulted for an alternative on the next run instead of
		// replaying a rejected change forever.
		snapshot.PendingTool = ""
		if err := a.save(ctx, snapshot, history); err != nil {
			return "", false, err
		}
		return OutcomeSkipped, true, nil

	case ActionExecute:
		if err := a.execute(ctx, proposal, history); err != nil {
			return "", false, err
		}
		if decision.SetStatus != nil {
			err := a.store.UpdateIssue(a.issueID, database.IssueUpdate{Status: decision.SetStatus})
			if err != nil {
				return "", false, err
			}
		}
		snapshot.Step++
		snapshot.PendingTool = ""
		if err := a.save(ctx, snapshot, history); err != nil {
			return "", false, err
		}
		return "", false, nil
	}

	return OutcomeCompleted, true, nil
}

// execute runs one network-changing tool and records it as a task on
// the issue and in the workflow history.
func (a *Agent) execute(ctx context.Context, proposal *reasoner.Proposal, history *models.AgentHistory) error {
	now := time.Now().UTC()
	task := models.Task{
		Name:   proposal.Tool,
		NodeID: a.nodeID,
		Status: models.TaskStatusExecuting,
	}
	if err := a.store.UpdateIssueTask(a.issueID, task); err != nil {
		return fmt.Errorf("failed to record task start: %w", err)
	}

	result, execErr := a.executor.Execute(ctx, proposal.Tool, a.nodeID, proposal.Args)

	task.ExecutedAt = &now
	if execErr != nil {
		task.Status = models.TaskStatusFailed
	} else {
		task.Status = models.TaskStatusDone
		task.Commands = result.Commands
	}
	if err := a.store.UpdateIssueTask(a.issueID, task); err != nil {
		return fmt.Errorf("failed to record task result: %w", err)
	}

	if execErr != nil {
		a.trace(history, "tool", proposal.Tool, fmt.Sprintf("execution failed: %v", execErr))
	} else {
		a.trace(history, "tool", proposal.Tool, result.Summary)
	}
	upsertHistoryTask(history, task)
	return nil
}

// rehydrate loads the checkpoint for this (issue, node) pair, or
// starts fresh when none exists.
func (a *Agent) rehydrate(ctx context.Context) (*models.AgentSnapshot, *models.AgentHistory, error) {
	snapshot, err := a.checkpoints.LoadSnapshot(ctx, a.issueID, a.nodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	history, err := a.checkpoints.LoadHistory(ctx, a.issueID, a.nodeID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load history: %w", err)
	}

	if snapshot == nil {
		snapshot = &models.AgentSnapshot{IssueID: a.issueID, NodeID: a.nodeID}
	} else {
		log.Printf("[Agent] Resuming %s/%s at step %d", a.issueID, a.nodeID, snapshot.Step)
	}
	if history == nil {
		history = &models.AgentHistory{IssueID: a.issueID, NodeID: a.nodeID}
	}
	return snapshot, history, nil
}

func (a *Agent) save(ctx context.Context, snapshot *models.AgentSnapshot, history *models.AgentHistory) error {
	snapshot.SavedAt = time.Now().UTC()
	if err := a.checkpoints.Save(ctx, snapshot, history); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (a *Agent) trace(history *models.AgentHistory, role, tool, content string) {
	history.Messages = append(history.Messages, models.TraceMessage{
		Role:      role,
		Tool:      tool,
		Content:   content,
		Timestamp: time.Now().UTC(),
	})
}

func upsertHistoryTask(history *models.AgentHistory, task models.Task) {
	for i, existing := range history.Tasks {
		if existing.Name == task.Name && existing.NodeID == task.NodeID {
			history.Tasks[i] = task
			return
		}
	}
	history.Tasks = append(history.Tasks, task)
}
