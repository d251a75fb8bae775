// Package collector runs the periodic collection tasks. Each task wraps
// one chain module; failures are recorded and counted at the task
// boundary and never propagate past it.
package collector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/nodepool"
)

// ErrModule wraps any failure coming out of a module run, including a
// recovered panic.
var ErrModule = errors.New("module failure")

// Module is the collaborator interface: chain-specific logic that
// fetches node data through the pool and emits whatever it derives.
// Modules are the only code that understands chain payload shapes.
type Module interface {
	Name() string
	Run(ctx context.Context, pool *nodepool.Pool) error
}

// TaskStats is a snapshot of a task's counters for health reporting.
type TaskStats struct {
	Module    string    `json:"module"`
	Interval  string    `json:"interval"`
	RunCount  uint64    `json:"run_count"`
	ErrCount  uint64    `json:"error_count"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
}

// Task binds a module to an interval and owns its failure isolation.
// Tasks are created at startup from enabled configuration entries and
// live for the process lifetime.
type Task struct {
	module   Module
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	runCount uint64
	errCount uint64
	lastRun  time.Time
	lastErr  error
}

// NewTask wraps a module for periodic execution.
func NewTask(module Module, interval time.Duration) *Task {
	return &Task{
		module:   module,
		interval: interval,
		log:      slog.Default().With("module", module.Name()),
	}
}

// Name returns the wrapped module's name.
func (t *Task) Name() string { return t.module.Name() }

// RunOnce executes one tick. Any failure, including a panic inside the
// module, is converted into a recorded error; nothing escapes.
func (t *Task) RunOnce(ctx context.Context, pool *nodepool.Pool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", ErrModule, r)
		}
		t.record(err)
	}()

	if err = t.module.Run(ctx, pool); err != nil {
		err = fmt.Errorf("%w: %v", ErrModule, err)
	}
	return err
}

func (t *Task) record(err error) {
	t.mu.Lock()
	t.runCount++
	t.lastRun = time.Now()
	if err != nil {
		t.errCount++
		t.lastErr = err
	}
	t.mu.Unlock()

	metrics.TaskRuns.WithLabelValues(t.module.Name()).Inc()
	if err != nil {
		metrics.TaskErrors.WithLabelValues(t.module.Name()).Inc()
	}
}

// Loop runs ticks on the task's interval until ctx is cancelled. The
// first tick fires immediately so metrics appear without waiting a full
// interval.
func (t *Task) Loop(ctx context.Context, pool *nodepool.Pool) {
	if err := t.RunOnce(ctx, pool); err != nil && ctx.Err() == nil {
		t.log.Warn("tick failed", "error", err)
	}

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := t.RunOnce(ctx, pool); err != nil && ctx.Err() == nil {
				t.log.Warn("tick failed", "error", err)
			}
		}
	}
}

// Stats snapshots the counters.
func (t *Task) Stats() TaskStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := TaskStats{
		Module:   t.module.Name(),
		Interval: t.interval.String(),
		RunCount: t.runCount,
		ErrCount: t.errCount,
		LastRun:  t.lastRun,
	}
	if t.lastErr != nil {
		st.LastError = t.lastErr.Error()
	}
	return st
}
