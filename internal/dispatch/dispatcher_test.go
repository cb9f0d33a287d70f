package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingRunner struct {
	mu         sync.Mutex
	running    int64
	maxRunning int64
	ran        map[string]bool
	delay      time.Duration
	fail       map[string]error
	panicNodes map[string]bool
}

func newCountingRunner() *countingRunner {
	return &countingRunner{
		ran:        make(map[string]bool),
		fail:       make(map[string]error),
		panicNodes: make(map[string]bool),
	}
}

func (r *countingRunner) RunWorkflow(_ context.Context, issueID, nodeID string) error {
	now := atomic.AddInt64(&r.running, 1)
	defer atomic.AddInt64(&r.running, -1)

	r.mu.Lock()
	if now > r.maxRunning {
		r.maxRunning = now
	}
	r.ran[issueID+"/"+nodeID] = true
	r.mu.Unlock()

	if r.delay > 0 {
		time.Sleep(r.delay)
	}
	if r.panicNodes[nodeID] {
		panic("workflow exploded")
	}
	return r.fail[nodeID]
}

func TestDispatchRunsEveryNode(t *testing.T) {
	runner := newCountingRunner()
	d := New(4, runner)

	err := d.Dispatch(context.Background(), "ev-1", []string{"node-a", "node-b", "node-c"})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	for _, nodeID := range []string{"node-a", "node-b", "node-c"} {
		if !runner.ran["ev-1/"+nodeID] {
			t.Errorf("workflow for %s did not run", nodeID)
		}
	}
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	runner := newCountingRunner()
	runner.delay = 20 * time.Millisecond
	d := New(2, runner)

	nodes := []string{"n1", "n2", "n3", "n4", "n5", "n6"}
	if err := d.Dispatch(context.Background(), "ev-1", nodes); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	if runner.maxRunning > 2 {
		t.Errorf("max concurrent workflows = %d, want <= 2", runner.maxRunning)
	}
}

func TestDispatchSharedAcrossIssues(t *testing.T) {
	runner := newCountingRunner()
	runner.delay = 20 * time.Millisecond
	d := New(2, runner)

	var wg sync.WaitGroup
	for _, issueID := range []string{"ev-1", "ev-2", "ev-3"} {
		wg.Add(1)
		go func(issueID string) {
			defer wg.Done()
			_ = d.Dispatch(context.Background(), issueID, []string{"n1", "n2"})
		}(issueID)
	}
	wg.Wait()

	// The limit is process-wide, not per issue.
	if runner.maxRunning > 2 {
		t.Errorf("max concurrent workflows across issues = %d, want <= 2", runner.maxRunning)
	}
}

func TestDispatchEmptyNodesIsNoop(t *testing.T) {
	runner := newCountingRunner()
	d := New(2, runner)

	if err := d.Dispatch(context.Background(), "ev-1", nil); err != nil {
		t.Fatalf("Dispatch with no nodes: %v", err)
	}
	if len(runner.ran) != 0 {
		t.Errorf("ran %d workflows, want 0", len(runner.ran))
	}
}

func TestDispatchIsolatesFailures(t *testing.T) {
	runner := newCountingRunner()
	runner.fail["node-b"] = errors.New("node-b workflow failed")
	d := New(4, runner)

	err := d.Dispatch(context.Background(), "ev-1", []string{"node-a", "node-b", "node-c"})
	if err == nil {
		t.Fatal("expected error from failing workflow")
	}

	// The siblings still ran to completion.
	for _, nodeID := range []string{"node-a", "node-c"} {
		if !runner.ran["ev-1/"+nodeID] {
			t.Errorf("workflow for %s should have run despite node-b failing", nodeID)
		}
	}
}

func TestDispatchRecoversPanics(t *testing.T) {
	runner := newCountingRunner()
	runner.panicNodes["node-b"] = true
	d := New(4, runner)

	err := d.Dispatch(context.Background(), "ev-1", []string{"node-a", "node-b", "node-c"})
	if err == nil {
		t.Fatal("expected error from panicking workflow")
	}
	if !runner.ran["ev-1/node-c"] {
		t.Error("sibling workflow should survive a panic")
	}

	// The slot is released despite the panic.
	if err := d.Dispatch(context.Background(), "ev-2", []string{"node-a"}); err != nil {
		t.Fatalf("dispatcher unusable after panic: %v", err)
	}
}
