package collector

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chainpulse/chainpulse/internal/nodepool"
)

// Scheduler launches every enabled task loop as its own goroutine and
// supervises them for the process lifetime. Tasks share no mutable state
// with each other; the pool and tracker they touch are internally
// synchronized. The scheduler never retries a failed tick itself - retry
// within a tick belongs to the endpoint pool, retry across ticks is
// simply the next interval.
type Scheduler struct {
	tasks []*Task
	log   *slog.Logger

	cancel   context.CancelFunc
	wg       sync.WaitGroup
	done     chan struct{}
	finished atomic.Int32
}

// NewScheduler creates a scheduler over the given tasks.
func NewScheduler(tasks []*Task) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		log:   slog.Default(),
		done:  make(chan struct{}),
	}
}

// Start launches all task loops. The shared pool handle is passed to
// each task; Start returns immediately.
func (s *Scheduler) Start(ctx context.Context, pool *nodepool.Pool) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	for _, t := range s.tasks {
		s.wg.Add(1)
		s.log.Info("starting collector task", "module", t.Name(), "interval", t.interval)
		go func(t *Task) {
			defer s.wg.Done()
			t.Loop(runCtx, pool)
			s.finished.Add(1)
		}(t)
	}

	go func() {
		s.wg.Wait()
		close(s.done)
	}()
}

// Stop requests cooperative cancellation and waits up to grace for
// in-flight ticks to finish. It returns the number of tasks abandoned
// past the grace period; those keep running detached but the process is
// about to exit anyway.
func (s *Scheduler) Stop(grace time.Duration) int {
	if s.cancel != nil {
		s.cancel()
	}

	select {
	case <-s.done:
		return 0
	case <-time.After(grace):
		abandoned := len(s.tasks) - int(s.finished.Load())
		s.log.Warn("shutdown grace period expired", "grace", grace, "abandoned", abandoned)
		return abandoned
	}
}

// Stats snapshots every task.
func (s *Scheduler) Stats() []TaskStats {
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Stats())
	}
	return out
}
