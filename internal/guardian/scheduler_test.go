package guardian

import (
	"context"
	"testing"
	"time"

	"github.com/jordanhubbard/ranguard/internal/models"
	"github.com/jordanhubbard/ranguard/internal/reasoner"
)

func TestSchedulerStartStopIdempotent(t *testing.T) {
	g := newTestGuardian(newFakeGateway(), reasoner.NewStubReasoner(), nil)
	s := NewScheduler(g)

	if s.Running() {
		t.Fatal("fresh scheduler must not be running")
	}

	s.Start()
	s.Start()
	if !s.Running() {
		t.Fatal("scheduler should be running after Start")
	}

	s.Stop()
	s.Stop()
	if s.Running() {
		t.Fatal("scheduler should be stopped after Stop")
	}

	// Restart works after a stop.
	s.Start()
	if !s.Running() {
		t.Fatal("scheduler should restart after a stop")
	}
	s.Stop()
}

func TestSchedulerRunOnce(t *testing.T) {
	db := newFakeGateway()
	db.nodes = []*models.Node{{NodeID: "node-a"}}
	addEvent(db, "ev-1")

	stub := reasoner.NewStubReasoner()
	stub.RiskLevel = models.RiskLevelHigh
	stub.ProblematicNodes["node-a"] = true
	stub.Recommendation = "reallocate capacity"
	stub.Proposals["node-a"] = []*reasoner.Proposal{{Tool: "finish_and_resolve_issue"}}

	g := newTestGuardian(db, stub, nil)
	s := NewScheduler(g)

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	// The event cycle opened the issue; the issue cycle in the same
	// run drove it through the workflow.
	issue, _ := db.GetIssue("ev-1")
	if issue == nil {
		t.Fatal("RunOnce should have opened an issue")
	}
	if issue.Status != models.IssueStatusResolved {
		t.Errorf("status = %s, want resolved after one full run", issue.Status)
	}
}

func TestSchedulerLoopRunsFirstCycleImmediately(t *testing.T) {
	db := newFakeGateway()
	db.nodes = []*models.Node{{NodeID: "node-a"}}
	addEvent(db, "ev-1")

	stub := reasoner.NewStubReasoner()
	stub.RiskLevel = models.RiskLevelHigh
	stub.ProblematicNodes["node-a"] = true

	g := newTestGuardian(db, stub, nil)
	s := NewScheduler(g)
	s.Start()
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		issue, _ := db.GetIssue("ev-1")
		if issue != nil {
			return
		}
		select {
		case <-deadline:
			t.Fatal("first cycle did not run after Start")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
