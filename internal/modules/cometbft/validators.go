package cometbft

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/nodepool"
)

// ValidatorsModule polls the active validator set and exposes voting
// power per validator. Pages after the first are fetched concurrently.
type ValidatorsModule struct {
	chainID string
	log     *slog.Logger
}

// NewValidatorsModule creates the validator-set collector.
func NewValidatorsModule(chainID string) *ValidatorsModule {
	return &ValidatorsModule{
		chainID: chainID,
		log:     slog.Default().With("module", "cometbft_validators", "chain", chainID),
	}
}

// Name implements collector.Module.
func (m *ValidatorsModule) Name() string { return "cometbft_validators" }

// Run implements collector.Module.
func (m *ValidatorsModule) Run(ctx context.Context, pool *nodepool.Pool) error {
	const perPage = 100

	first, total, err := m.fetchPage(ctx, pool, 1, perPage)
	if err != nil {
		return err
	}

	vals := first
	if total > len(first) {
		pages := (total + perPage - 1) / perPage

		var mu sync.Mutex
		g, gctx := errgroup.WithContext(ctx)
		for page := 2; page <= pages; page++ {
			page := page
			g.Go(func() error {
				pageVals, _, err := m.fetchPage(gctx, pool, page, perPage)
				if err != nil {
					return err
				}
				mu.Lock()
				vals = append(vals, pageVals...)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}

	metrics.ValidatorCount.WithLabelValues(m.chainID).Set(float64(len(vals)))
	for _, v := range vals {
		metrics.ValidatorVotingPower.WithLabelValues(m.chainID, v.Address).Set(float64(v.VotingPower))
	}
	return nil
}

func (m *ValidatorsModule) fetchPage(ctx context.Context, pool *nodepool.Pool, page, perPage int) ([]validator, int, error) {
	path := fmt.Sprintf("/validators?page=%d&per_page=%d", page, perPage)
	body, err := pool.Get(ctx, domain.RoleRPC, path)
	if err != nil {
		return nil, 0, fmt.Errorf("fetch %s: %w", path, err)
	}

	var resp validatorsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, 0, fmt.Errorf("decode validators page %d: %w", page, err)
	}

	vals := make([]validator, 0, len(resp.Result.Validators))
	for _, v := range resp.Result.Validators {
		power, _ := strconv.ParseInt(v.VotingPower, 10, 64)
		vals = append(vals, validator{Address: v.Address, VotingPower: power})
	}

	total, err := strconv.Atoi(resp.Result.Total)
	if err != nil {
		total = len(vals)
	}
	return vals, total, nil
}
