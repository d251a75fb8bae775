package control

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/chainpulse/chainpulse/internal/collector"
	"github.com/chainpulse/chainpulse/internal/core/config"
	"github.com/chainpulse/chainpulse/internal/health"
	"github.com/chainpulse/chainpulse/internal/nodepool"
)

type idleModule struct{}

func (idleModule) Name() string { return "idle" }

func (idleModule) Run(context.Context, *nodepool.Pool) error { return nil }

func TestAgent_StopSharesOneGracePeriod(t *testing.T) {
	const grace = 200 * time.Millisecond

	cfg := &config.AppConfig{}
	cfg.Server.ShutdownGrace = grace

	pool := nodepool.New(nodepool.Config{}, "testnet")
	sched := collector.NewScheduler([]*collector.Task{
		collector.NewTask(idleModule{}, time.Hour),
	})

	// Worst case: the scheduler never finishes (it was never started, so
	// its done channel stays open) and the sink never drains. Stop must
	// still return after one grace period total, not one per component.
	a := &Agent{
		cfg:       cfg,
		chainID:   "testchain-1",
		pool:      pool,
		scheduler: sched,
		healthSrv: health.NewServer(health.NewMonitor("testchain-1", pool, sched, nil), 0),
		log:       slog.Default(),
		sinkDone:  make(chan struct{}),
	}

	start := time.Now()
	abandoned := a.Stop(context.Background())
	elapsed := time.Since(start)

	if abandoned != 2 {
		t.Fatalf("expected the stuck task and the undrained sink counted, got %d", abandoned)
	}
	if elapsed < grace {
		t.Fatalf("Stop returned before the grace period elapsed: %v", elapsed)
	}
	if elapsed >= 2*grace {
		t.Fatalf("Stop took %v, the grace period was spent once per component instead of shared", elapsed)
	}
}
