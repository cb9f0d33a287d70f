package agent

import (
	"context"
	"sync"
	"testing"

	"github.com/jordanhubbard/ranguard/internal/checkpoint"
	"github.com/jordanhubbard/ranguard/internal/database"
	"github.com/jordanhubbard/ranguard/internal/models"
	"github.com/jordanhubbard/ranguard/internal/reasoner"
	"github.com/jordanhubbard/ranguard/internal/tools"
)

// memStore is an in-memory IssueStore mirroring the database's merge
// and task semantics.
type memStore struct {
	mu     sync.Mutex
	issues map[string]*models.Issue
}

func newMemStore(issues ...*models.Issue) *memStore {
	s := &memStore{issues: make(map[string]*models.Issue)}
	for _, issue := range issues {
		s.issues[issue.IssueID] = issue
	}
	return s
}

func (s *memStore) GetIssue(issueID string) (*models.Issue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue, ok := s.issues[issueID]
	if !ok {
		return nil, nil
	}
	copy := *issue
	copy.Tasks = append([]models.Task(nil), issue.Tasks...)
	return &copy, nil
}

func (s *memStore) UpdateIssue(issueID string, update database.IssueUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	issue := s.issues[issueID]
	if update.Status != nil {
		issue.Status = *update.Status
	}
	if update.Summary != nil {
		issue.Summary = *update.Summary
	}
	if update.Recommendation != nil {
		issue.Recommendation = *update.Recommendation
	}
	return nil
}

func (s *memStore) UpdateIssueTask(issueID string, task models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issues[issueID].UpsertTask(task)
}

func newTestAgent(issue *models.Issue, stub *reasoner.StubReasoner, store *memStore, checkpoints checkpoint.Store) *Agent {
	return New(issue.IssueID, "node-a", store, stub, tools.NewExecutor(tools.NoopCommander{}), checkpoints)
}

func TestAgentExecutesAutomaticToolsAndResolves(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusAnalyzing}
	store := newMemStore(issue)
	stub := reasoner.NewStubReasoner()
	stub.Proposals["node-a"] = []*reasoner.Proposal{
		{Tool: "activate_mlb"},
		{Tool: "finish_and_resolve_issue"},
	}
	checkpoints := checkpoint.NewMemoryStore()

	outcome, err := newTestAgent(issue, stub, store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeResolved {
		t.Errorf("outcome = %s, want resolved", outcome)
	}

	got, _ := store.GetIssue("ev-1")
	if got.Status != models.IssueStatusResolved {
		t.Errorf("status = %s, want resolved", got.Status)
	}
	task, ok := got.FindTask("activate_mlb", "node-a")
	if !ok || task.Status != models.TaskStatusDone {
		t.Errorf("task = %+v, want done activate_mlb task", task)
	}

	// Resolution clears the issue's checkpoints.
	if snap, _ := checkpoints.LoadSnapshot(context.Background(), "ev-1", "node-a"); snap != nil {
		t.Error("checkpoint should be deleted after resolution")
	}
}

func TestAgentStagesApprovalTool(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusAnalyzing}
	store := newMemStore(issue)
	stub := reasoner.NewStubReasoner()
	stub.Proposals["node-a"] = []*reasoner.Proposal{
		{Tool: "increase_tilt_value", Rationale: "coverage shrink needed"},
	}
	checkpoints := checkpoint.NewMemoryStore()

	outcome, err := newTestAgent(issue, stub, store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeStaged {
		t.Errorf("outcome = %s, want staged", outcome)
	}

	got, _ := store.GetIssue("ev-1")
	if got.Status != models.IssueStatusPendingApproval {
		t.Errorf("status = %s, want pending_approval", got.Status)
	}
	if got.Summary != SummaryAwaitingApproval {
		t.Errorf("summary = %q, want %q", got.Summary, SummaryAwaitingApproval)
	}

	snapshot, _ := checkpoints.LoadSnapshot(context.Background(), "ev-1", "node-a")
	if snapshot == nil || snapshot.PendingTool != "increase_tilt_value" {
		t.Errorf("snapshot = %+v, want pending increase_tilt_value", snapshot)
	}
}

func TestAgentResumesApprovedAction(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusAnalyzing}
	store := newMemStore(issue)
	checkpoints := checkpoint.NewMemoryStore()

	// Stage first.
	stage := reasoner.NewStubReasoner()
	stage.Proposals["node-a"] = []*reasoner.Proposal{{Tool: "increase_tilt_value"}}
	if _, err := newTestAgent(issue, stage, store, checkpoints).Run(context.Background()); err != nil {
		t.Fatalf("staging run: %v", err)
	}

	// Operator approves.
	approved := models.IssueStatusApproved
	_ = store.UpdateIssue("ev-1", database.IssueUpdate{Status: &approved})

	// Next run replays the pending tool without asking the
	// collaborator again, then finishes up.
	resume := reasoner.NewStubReasoner()
	resume.Proposals["node-a"] = []*reasoner.Proposal{{Tool: "finish_and_resolve_issue"}}

	outcome, err := newTestAgent(issue, resume, store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("resume run: %v", err)
	}
	if outcome != OutcomeResolved {
		t.Errorf("outcome = %s, want resolved", outcome)
	}

	got, _ := store.GetIssue("ev-1")
	task, ok := got.FindTask("increase_tilt_value", "node-a")
	if !ok || task.Status != models.TaskStatusDone {
		t.Errorf("approved task = %+v, want done", task)
	}
}

func TestAgentSkipsWhileRejected(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusAnalyzing}
	store := newMemStore(issue)
	checkpoints := checkpoint.NewMemoryStore()

	stage := reasoner.NewStubReasoner()
	stage.Proposals["node-a"] = []*reasoner.Proposal{{Tool: "decrease_power"}}
	if _, err := newTestAgent(issue, stage, store, checkpoints).Run(context.Background()); err != nil {
		t.Fatalf("staging run: %v", err)
	}

	rejected := models.IssueStatusRejected
	_ = store.UpdateIssue("ev-1", database.IssueUpdate{Status: &rejected})

	outcome, err := newTestAgent(issue, reasoner.NewStubReasoner(), store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("rejected run: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}

	got, _ := store.GetIssue("ev-1")
	if _, ok := got.FindTask("decrease_power", "node-a"); ok {
		t.Error("rejected tool must not produce a task")
	}
}

func TestAgentRejectedReplayIsAbandoned(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusAnalyzing}
	store := newMemStore(issue)
	checkpoints := checkpoint.NewMemoryStore()

	stage := reasoner.NewStubReasoner()
	stage.Proposals["node-a"] = []*reasoner.Proposal{{Tool: "increase_tilt_value"}}
	if _, err := newTestAgent(issue, stage, store, checkpoints).Run(context.Background()); err != nil {
		t.Fatalf("staging run: %v", err)
	}

	rejected := models.IssueStatusRejected
	_ = store.UpdateIssue("ev-1", database.IssueUpdate{Status: &rejected})

	outcome, err := newTestAgent(issue, reasoner.NewStubReasoner(), store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("rejected run: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}

	// The staged tool is gone from the checkpoint, so the next run
	// asks the collaborator for an alternative instead of replaying.
	snapshot, _ := checkpoints.LoadSnapshot(context.Background(), "ev-1", "node-a")
	if snapshot == nil || snapshot.PendingTool != "" {
		t.Fatalf("snapshot = %+v, want cleared pending tool", snapshot)
	}

	alt := reasoner.NewStubReasoner()
	alt.Proposals["node-a"] = []*reasoner.Proposal{{Tool: "finish_and_escalate"}}
	outcome, err = newTestAgent(issue, alt, store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("alternative run: %v", err)
	}
	if outcome != OutcomeEscalated {
		t.Errorf("outcome = %s, want escalated", outcome)
	}
}

func TestAgentYieldsOnParkedIssue(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusPendingApproval}
	store := newMemStore(issue)
	stub := reasoner.NewStubReasoner()
	stub.Proposals["node-a"] = []*reasoner.Proposal{
		{Tool: "finish_and_resolve_issue"},
	}
	checkpoints := checkpoint.NewMemoryStore()

	outcome, err := newTestAgent(issue, stub, store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeSkipped {
		t.Errorf("outcome = %s, want skipped", outcome)
	}

	got, _ := store.GetIssue("ev-1")
	if got.Status != models.IssueStatusPendingApproval {
		t.Errorf("status = %s, a parked issue must stay parked", got.Status)
	}
}

func TestAgentMonitoringSuspends(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusAnalyzing}
	store := newMemStore(issue)
	stub := reasoner.NewStubReasoner()
	stub.Proposals["node-a"] = []*reasoner.Proposal{{Tool: "monitor_node_metrics"}}
	checkpoints := checkpoint.NewMemoryStore()

	outcome, err := newTestAgent(issue, stub, store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeSuspended {
		t.Errorf("outcome = %s, want suspended", outcome)
	}

	got, _ := store.GetIssue("ev-1")
	if got.Status != models.IssueStatusMonitoring {
		t.Errorf("status = %s, want monitoring", got.Status)
	}

	snapshot, _ := checkpoints.LoadSnapshot(context.Background(), "ev-1", "node-a")
	if snapshot == nil || snapshot.Step != 1 {
		t.Errorf("snapshot = %+v, want step 1", snapshot)
	}
}

func TestAgentTerminalIssueDropsCheckpoint(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusResolved}
	store := newMemStore(issue)
	checkpoints := checkpoint.NewMemoryStore()
	_ = checkpoints.Save(context.Background(), &models.AgentSnapshot{IssueID: "ev-1", NodeID: "node-a", Step: 4}, nil)

	outcome, err := newTestAgent(issue, reasoner.NewStubReasoner(), store, checkpoints).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Errorf("outcome = %s, want completed", outcome)
	}
	if snapshot, _ := checkpoints.LoadSnapshot(context.Background(), "ev-1", "node-a"); snapshot != nil {
		t.Error("stale checkpoint should be deleted for a resolved issue")
	}
}

func TestAgentCollaboratorFailureSuspends(t *testing.T) {
	issue := &models.Issue{IssueID: "ev-1", EventID: "ev-1", Status: models.IssueStatusAnalyzing}
	store := newMemStore(issue)
	stub := reasoner.NewStubReasoner()
	stub.Err = context.DeadlineExceeded
	checkpoints := checkpoint.NewMemoryStore()

	outcome, err := newTestAgent(issue, stub, store, checkpoints).Run(context.Background())
	if err == nil {
		t.Fatal("expected error from failing collaborator")
	}
	if outcome != OutcomeSuspended {
		t.Errorf("outcome = %s, want suspended", outcome)
	}
	if snapshot, _ := checkpoints.LoadSnapshot(context.Background(), "ev-1", "node-a"); snapshot == nil {
		t.Error("state should be checkpointed when the collaborator fails")
	}
}
