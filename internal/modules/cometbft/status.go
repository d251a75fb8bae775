package cometbft

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/nodepool"
)

// StatusModule polls /status for node sync state and heartbeat.
type StatusModule struct {
	chainID string
	log     *slog.Logger
}

// NewStatusModule creates the status collector.
func NewStatusModule(chainID string) *StatusModule {
	return &StatusModule{
		chainID: chainID,
		log:     slog.Default().With("module", "cometbft_status", "chain", chainID),
	}
}

// Name implements collector.Module.
func (m *StatusModule) Name() string { return "cometbft_status" }

// Run implements collector.Module.
func (m *StatusModule) Run(ctx context.Context, pool *nodepool.Pool) error {
	status, err := fetchStatus(ctx, pool)
	if err != nil {
		return err
	}

	catchingUp := 0.0
	if status.Result.SyncInfo.CatchingUp {
		catchingUp = 1.0
	}
	metrics.ChainCatchingUp.WithLabelValues(m.chainID).Set(catchingUp)
	metrics.Heartbeat.Inc()

	if height, err := parseHeight(status.Result.SyncInfo.LatestBlockHeight); err == nil {
		metrics.ChainHeight.WithLabelValues(m.chainID).Set(float64(height))
	}

	if addr := status.Result.ValidatorInfo.Address; addr != "" {
		if power, err := strconv.ParseInt(status.Result.ValidatorInfo.VotingPower, 10, 64); err == nil {
			metrics.ValidatorVotingPower.WithLabelValues(m.chainID, addr).Set(float64(power))
		}
	}
	return nil
}
