// Package dispatch fans reasoning workflows out over an issue's
// problematic nodes, bounded by one process-wide concurrency limit.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/semaphore"
)

// WorkflowRunner runs the reasoning workflow for one (issue, node)
// pair. The guardian supplies an implementation backed by the agent.
type WorkflowRunner interface {
	RunWorkflow(ctx context.Context, issueID, nodeID string) error
}

// Dispatcher owns the single semaphore that bounds how many reasoning
// workflows run at once across every issue. The semaphore lives as
// long as the dispatcher; acquiring and releasing it is the only
// concurrency control workflows need.
type Dispatcher struct {
	sem    *semaphore.Weighted
	runner WorkflowRunner
}

func New(concurrencyLimit int64, runner WorkflowRunner) *Dispatcher {
	if concurrencyLimit < 1 {
		concurrencyLimit = 1
	}
	return &Dispatcher{
		sem:    semaphore.NewWeighted(concurrencyLimit),
		runner: runner,
	}
}

// Dispatch runs one workflow per node and waits for all of them. A
// panicking or failing workflow never takes down its siblings; the
// first error is returned after every workflow has finished.
func (d *Dispatcher) Dispatch(ctx context.Context, issueID string, nodeIDs []string) error {
	if len(nodeIDs) == 0 {
		log.Printf("[Dispatch] Issue %s has no problematic nodes, nothing to dispatch", issueID)
		return nil
	}

	var wg sync.WaitGroup
	errs := make([]error, len(nodeIDs))

	for i, nodeID := range nodeIDs {
		wg.Add(1)
		go func(i int, nodeID string) {
			defer wg.Done()
			errs[i] = d.runOne(ctx, issueID, nodeID)
		}(i, nodeID)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (d *Dispatcher) runOne(ctx context.Context, issueID, nodeID string) (err error) {
	if acquireErr := d.sem.Acquire(ctx, 1); acquireErr != nil {
		return fmt.Errorf("failed to acquire dispatch slot for %s/%s: %w", issueID, nodeID, acquireErr)
	}
	defer d.sem.Release(1)

	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Dispatch] Workflow %s/%s panicked: %v", issueID, nodeID, r)
			err = fmt.Errorf("workflow %s/%s panicked: %v", issueID, nodeID, r)
		}
	}()

	return d.runner.RunWorkflow(ctx, issueID, nodeID)
}
