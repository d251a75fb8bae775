package collector

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainpulse/chainpulse/internal/nodepool"
)

type mockModule struct {
	name string
	run  func(ctx context.Context) error

	runs atomic.Int32
}

func (m *mockModule) Name() string { return m.name }

func (m *mockModule) Run(ctx context.Context, _ *nodepool.Pool) error {
	m.runs.Add(1)
	if m.run != nil {
		return m.run(ctx)
	}
	return nil
}

func TestTask_RunOnceRecordsSuccess(t *testing.T) {
	mod := &mockModule{name: "ok"}
	task := NewTask(mod, time.Second)

	if err := task.RunOnce(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	st := task.Stats()
	if st.RunCount != 1 || st.ErrCount != 0 {
		t.Fatalf("expected 1 run 0 errors, got %+v", st)
	}
}

func TestTask_RunOnceWrapsModuleError(t *testing.T) {
	mod := &mockModule{name: "broken", run: func(context.Context) error {
		return errors.New("node unreachable")
	}}
	task := NewTask(mod, time.Second)

	err := task.RunOnce(context.Background(), nil)
	if !errors.Is(err, ErrModule) {
		t.Fatalf("expected ErrModule, got %v", err)
	}
	st := task.Stats()
	if st.ErrCount != 1 || st.LastError == "" {
		t.Fatalf("expected recorded error, got %+v", st)
	}
}

func TestTask_RunOnceRecoversPanic(t *testing.T) {
	mod := &mockModule{name: "panicky", run: func(context.Context) error {
		panic("nil dereference somewhere deep")
	}}
	task := NewTask(mod, time.Second)

	err := task.RunOnce(context.Background(), nil)
	if !errors.Is(err, ErrModule) {
		t.Fatalf("expected panic converted to ErrModule, got %v", err)
	}
	st := task.Stats()
	if st.RunCount != 1 || st.ErrCount != 1 {
		t.Fatalf("expected panic counted as a failed run, got %+v", st)
	}
}

func TestScheduler_FailureIsolation(t *testing.T) {
	healthy := &mockModule{name: "healthy"}
	failing := &mockModule{name: "failing", run: func(context.Context) error {
		return errors.New("always fails")
	}}
	panicky := &mockModule{name: "panicky", run: func(context.Context) error {
		panic("boom")
	}}

	interval := 10 * time.Millisecond
	s := NewScheduler([]*Task{
		NewTask(healthy, interval),
		NewTask(failing, interval),
		NewTask(panicky, interval),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, nil)

	// Let several ticks elapse, then stop.
	time.Sleep(60 * time.Millisecond)
	cancel()
	if abandoned := s.Stop(time.Second); abandoned != 0 {
		t.Fatalf("expected clean stop, %d abandoned", abandoned)
	}

	// The healthy module kept running on schedule despite its neighbors
	// failing and panicking every tick.
	if got := healthy.runs.Load(); got < 3 {
		t.Fatalf("expected healthy module to keep ticking, got %d runs", got)
	}
	for _, st := range s.Stats() {
		switch st.Module {
		case "healthy":
			if st.ErrCount != 0 {
				t.Errorf("healthy module recorded errors: %+v", st)
			}
		case "failing", "panicky":
			if st.ErrCount == 0 {
				t.Errorf("%s module recorded no errors: %+v", st.Module, st)
			}
			if st.RunCount != st.ErrCount {
				t.Errorf("%s: every run should have failed: %+v", st.Module, st)
			}
		}
	}
}

func TestScheduler_StopReportsAbandonedTasks(t *testing.T) {
	stuck := &mockModule{name: "stuck", run: func(context.Context) error {
		// Ignores cancellation entirely.
		time.Sleep(10 * time.Second)
		return nil
	}}
	prompt := &mockModule{name: "prompt"}

	s := NewScheduler([]*Task{
		NewTask(stuck, time.Hour),
		NewTask(prompt, time.Hour),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, nil)

	// Give both first ticks time to start, then shut down with a grace
	// period the stuck module will blow through.
	time.Sleep(20 * time.Millisecond)
	cancel()
	abandoned := s.Stop(100 * time.Millisecond)
	if abandoned != 1 {
		t.Fatalf("expected 1 abandoned task, got %d", abandoned)
	}
}

func TestScheduler_FirstTickIsImmediate(t *testing.T) {
	mod := &mockModule{name: "immediate"}
	s := NewScheduler([]*Task{NewTask(mod, time.Hour)})

	ctx, cancel := context.WithCancel(context.Background())
	s.Start(ctx, nil)

	deadline := time.After(time.Second)
	for mod.runs.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first tick did not fire promptly")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	s.Stop(time.Second)
}
