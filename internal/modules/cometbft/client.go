// Package cometbft implements the generic collector modules for
// CometBFT/Tendermint-family chains: block signatures, node status, and
// the active validator set. These are the only pieces that understand
// chain payload shapes; the engine underneath never does.
package cometbft

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/nodepool"
)

func fetchStatus(ctx context.Context, pool *nodepool.Pool) (*statusResponse, error) {
	body, err := pool.Get(ctx, domain.RoleRPC, "/status")
	if err != nil {
		return nil, fmt.Errorf("fetch status: %w", err)
	}
	var status statusResponse
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	return &status, nil
}

// FetchChainID discovers the chain id from /status.
func FetchChainID(ctx context.Context, pool *nodepool.Pool) (string, error) {
	status, err := fetchStatus(ctx, pool)
	if err != nil {
		return "", err
	}
	if status.Result.NodeInfo.Network == "" {
		return "", fmt.Errorf("status response carries no network id")
	}
	return status.Result.NodeInfo.Network, nil
}

func fetchBlock(ctx context.Context, pool *nodepool.Pool, height uint64) (*blockResponse, error) {
	path := "/block"
	if height > 0 {
		path = fmt.Sprintf("/block?height=%d", height)
	}
	body, err := pool.Get(ctx, domain.RoleRPC, path)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", path, err)
	}
	var block blockResponse
	if err := json.Unmarshal(body, &block); err != nil {
		return nil, fmt.Errorf("decode block response for %s: %w", path, err)
	}
	return &block, nil
}

// validator is one member of the active set.
type validator struct {
	Address     string
	VotingPower int64
}

// fetchValidators pages through /validators until the reported total is
// reached.
func fetchValidators(ctx context.Context, pool *nodepool.Pool) ([]validator, error) {
	const perPage = 100

	var out []validator
	for page := 1; ; page++ {
		path := fmt.Sprintf("/validators?page=%d&per_page=%d", page, perPage)
		body, err := pool.Get(ctx, domain.RoleRPC, path)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", path, err)
		}
		var resp validatorsResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("decode validators page %d: %w", page, err)
		}

		for _, v := range resp.Result.Validators {
			power, _ := strconv.ParseInt(v.VotingPower, 10, 64)
			out = append(out, validator{Address: v.Address, VotingPower: power})
		}

		total, err := strconv.Atoi(resp.Result.Total)
		if err != nil || len(out) >= total || len(resp.Result.Validators) == 0 {
			return out, nil
		}
	}
}

func parseHeight(s string) (uint64, error) {
	h, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse height %q: %w", s, err)
	}
	return h, nil
}
