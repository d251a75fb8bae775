// Package control wires the agent together and owns its lifecycle.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/chainpulse/chainpulse/internal/collector"
	"github.com/chainpulse/chainpulse/internal/core/config"
	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/health"
	"github.com/chainpulse/chainpulse/internal/modules/cometbft"
	"github.com/chainpulse/chainpulse/internal/nodepool"
	"github.com/chainpulse/chainpulse/internal/sink"
	"github.com/chainpulse/chainpulse/internal/storage/clickhouse"
	"github.com/chainpulse/chainpulse/internal/tracker"
)

// Agent is the assembled metrics-collection agent: one endpoint pool,
// one signature window tracker, one optional persistence sink, and the
// scheduler over the enabled collector modules.
type Agent struct {
	cfg       *config.AppConfig
	chainID   string
	pool      *nodepool.Pool
	tracker   *tracker.Tracker
	sink      *sink.Sink
	db        *clickhouse.DB
	scheduler *collector.Scheduler
	healthSrv *health.Server
	log       *slog.Logger

	cancelBackground context.CancelFunc
	sinkDone         chan struct{}
}

// NewAgent builds all components from resolved configuration. The chain
// id is discovered from /status when the config leaves it empty.
func NewAgent(ctx context.Context, cfg *config.AppConfig) (*Agent, error) {
	pool := nodepool.New(cfg.Pool, cfg.Chain.Network)
	for _, n := range cfg.Chain.Nodes.RPC {
		pool.Add(domain.RoleRPC, n.Name, n.URL, n.HealthEndpoint)
	}
	for _, n := range cfg.Chain.Nodes.REST {
		pool.Add(domain.RoleREST, n.Name, n.URL, n.HealthEndpoint)
	}

	chainID := cfg.Chain.ID
	if chainID == "" {
		discovered, err := cometbft.FetchChainID(ctx, pool)
		if err != nil {
			return nil, fmt.Errorf("discover chain id: %w", err)
		}
		chainID = discovered
		slog.Info("discovered chain id", "chain", chainID)
	}

	a := &Agent{
		cfg:      cfg,
		chainID:  chainID,
		pool:     pool,
		tracker:  tracker.New(cfg.Modules.Block.Window),
		log:      slog.Default(),
		sinkDone: make(chan struct{}),
	}

	if cfg.Sink.Enabled {
		db, err := clickhouse.Open(ctx, cfg.ClickHouse)
		if err != nil {
			return nil, fmt.Errorf("init durable store: %w", err)
		}
		a.db = db
		a.sink = sink.New(cfg.Sink, db)
		slog.Info("durable signature storage enabled", "addr", cfg.ClickHouse.Addr)
	} else {
		close(a.sinkDone)
		slog.Info("durable signature storage disabled, window is in-memory only")
	}

	var tasks []*collector.Task
	if cfg.Modules.Block.Enabled {
		m := cometbft.NewBlockModule(chainID, cfg.Modules.Block, a.tracker, a.sink)
		tasks = append(tasks, collector.NewTask(m, cfg.Modules.Block.Interval))
	}
	if cfg.Modules.Status.Enabled {
		m := cometbft.NewStatusModule(chainID)
		tasks = append(tasks, collector.NewTask(m, cfg.Modules.Status.Interval))
	}
	if cfg.Modules.Validators.Enabled {
		m := cometbft.NewValidatorsModule(chainID)
		tasks = append(tasks, collector.NewTask(m, cfg.Modules.Validators.Interval))
	}
	if len(tasks) == 0 {
		return nil, fmt.Errorf("no collector modules enabled")
	}
	a.scheduler = collector.NewScheduler(tasks)

	monitor := health.NewMonitor(chainID, pool, a.scheduler, a.sink)
	a.healthSrv = health.NewServer(monitor, cfg.Server.Port)

	return a, nil
}

// ChainID returns the chain this agent observes.
func (a *Agent) ChainID() string { return a.chainID }

// Start launches the health server, the pool's health-check loop, the
// sink flush loop, and all collector tasks.
func (a *Agent) Start(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	a.cancelBackground = cancel

	go func() {
		if err := a.healthSrv.Start(); err != nil {
			a.log.Error("health server failed", "error", err)
		}
	}()

	go a.pool.RunHealthChecks(bgCtx)

	if a.sink != nil {
		go func() {
			a.sink.Run(bgCtx)
			close(a.sinkDone)
		}()
	}

	a.scheduler.Start(ctx, a.pool)
	a.log.Info("agent started",
		"chain", a.chainID,
		"port", a.cfg.Server.Port,
	)
}

// Stop shuts everything down cooperatively. It returns the number of
// collector tasks abandoned past the grace period; a non-zero value
// should surface as a non-zero exit code.
func (a *Agent) Stop(ctx context.Context) int {
	a.log.Info("stopping agent")

	// One grace budget covers the scheduler and the sink drain together.
	deadline := time.Now().Add(a.cfg.Server.ShutdownGrace)

	abandoned := a.scheduler.Stop(time.Until(deadline))

	// Cancelling the background context triggers the sink's final
	// flush; give it whatever is left of the grace period.
	if a.cancelBackground != nil {
		a.cancelBackground()
	}
	select {
	case <-a.sinkDone:
	case <-time.After(time.Until(deadline)):
		a.log.Warn("sink did not drain within grace period")
		abandoned++
	}

	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("failed to close durable store", "error", err)
		}
	}
	if err := a.healthSrv.Stop(ctx); err != nil {
		a.log.Warn("failed to stop health server", "error", err)
	}
	return abandoned
}
