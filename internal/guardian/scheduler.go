package guardian

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/ranguard/internal/telemetry"
)

// Scheduler runs the guardian's event and issue cycles periodically.
// Start and Stop are idempotent; a crashed cycle never kills the loop.
type Scheduler struct {
	guardian *Guardian

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

func NewScheduler(g *Guardian) *Scheduler {
	return &Scheduler{guardian: g}
}

// Start launches the periodic loop. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx)
	log.Printf("[Scheduler] Started with interval %s", s.guardian.RunInterval())
}

// Stop halts the loop and waits for an in-flight cycle to finish.
// Calling Stop on a stopped scheduler is a no-op.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
	log.Printf("[Scheduler] Stopped")
}

// Running reports whether the periodic loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunOnce executes one full cycle immediately, independent of the
// periodic loop.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runCycle(ctx)
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	// First cycle runs immediately; afterwards the timer re-reads the
	// interval so config reloads take effect without a restart.
	if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
		log.Printf("[Scheduler] Cycle failed: %v", err)
	}

	for {
		timer := time.NewTimer(s.guardian.RunInterval())
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		if err := s.runCycle(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[Scheduler] Cycle failed: %v", err)
		}
	}
}

// runCycle runs the event cycle then the issue cycle, recovering any
// panic so one poisoned cycle cannot stop the scheduler.
func (s *Scheduler) runCycle(ctx context.Context) (err error) {
	ctx, span := telemetry.Tracer.Start(ctx, "scheduler.cycle")
	defer span.End()

	started := time.Now()
	defer func() {
		telemetry.CycleLatency.Record(ctx, float64(time.Since(started).Milliseconds()))
		if r := recover(); r != nil {
			log.Printf("[Scheduler] Cycle panicked: %v", r)
			err = fmt.Errorf("cycle panicked: %v", r)
		}
	}()

	if err := s.guardian.EventCycle(ctx); err != nil {
		log.Printf("[Scheduler] Event cycle: %v", err)
	}
	if err := s.guardian.IssueCycle(ctx); err != nil {
		log.Printf("[Scheduler] Issue cycle: %v", err)
	}
	return nil
}
