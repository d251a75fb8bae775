package cometbft

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/chainpulse/chainpulse/internal/core/config"
	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/metrics"
	"github.com/chainpulse/chainpulse/internal/nodepool"
	"github.com/chainpulse/chainpulse/internal/sink"
	"github.com/chainpulse/chainpulse/internal/tracker"
)

// BlockModule follows the chain tip, derives per-validator signing facts
// from each block's last commit, feeds them to the window tracker and
// the persistence sink, and exposes block-level gauges. On startup it
// resumes from the durable watermark, bounded by the backfill limit.
type BlockModule struct {
	chainID string
	cfg     config.BlockModuleConfig
	tracker *tracker.Tracker
	sink    *sink.Sink // nil when persistence is disabled
	log     *slog.Logger

	// validators is the last fetched active set; signatures are judged
	// against it so absent signatures become signed=false facts.
	validators []validator

	next         uint64
	bootstrapped bool
	txIndexWarn  bool
}

// NewBlockModule creates the block collector.
func NewBlockModule(chainID string, cfg config.BlockModuleConfig, tr *tracker.Tracker, snk *sink.Sink) *BlockModule {
	return &BlockModule{
		chainID: chainID,
		cfg:     cfg,
		tracker: tr,
		sink:    snk,
		log:     slog.Default().With("module", "cometbft_block", "chain", chainID),
	}
}

// Name implements collector.Module.
func (m *BlockModule) Name() string { return "cometbft_block" }

// Run implements collector.Module. One tick: refresh the validator set,
// walk from the next unprocessed height to the tip (bounded per tick),
// then refresh the uptime gauges.
func (m *BlockModule) Run(ctx context.Context, pool *nodepool.Pool) error {
	tip, err := fetchBlock(ctx, pool, 0)
	if err != nil {
		return err
	}
	tipHeight, err := parseHeight(tip.Result.Block.Header.Height)
	if err != nil {
		return err
	}

	metrics.ChainHeight.WithLabelValues(m.chainID).Set(float64(tipHeight))
	metrics.ChainBlockTime.WithLabelValues(m.chainID).Set(float64(tip.Result.Block.Header.Time.Unix()))
	metrics.ChainBlockTxs.WithLabelValues(m.chainID).Set(float64(len(tip.Result.Block.Data.Txs)))

	if vals, err := fetchValidators(ctx, pool); err != nil {
		// A stale set still lets signature facts flow; refresh next tick.
		m.log.Warn("validator set refresh failed", "error", err)
	} else {
		m.validators = vals
	}
	if len(m.validators) == 0 {
		return fmt.Errorf("no validator set available yet")
	}

	if !m.bootstrapped {
		m.bootstrap(ctx, tipHeight)
	}

	// The connected node can trail the watermark (failover to a lagging
	// node, or a rolled-back chain); there is nothing to walk until it
	// catches up.
	var gap uint64
	if tipHeight >= m.next {
		gap = tipHeight - (m.next - 1)
	}
	metrics.CollectorGap.WithLabelValues(m.chainID).Set(float64(gap))
	if gap > m.cfg.StaleThreshold {
		m.log.Warn("collector is behind the chain tip", "gap", gap, "threshold", m.cfg.StaleThreshold)
	}
	if m.next > tipHeight {
		return nil
	}

	end := tipHeight
	if end-m.next+1 > m.cfg.MaxBlocksPerTick {
		end = m.next + m.cfg.MaxBlocksPerTick - 1
	}

	for h := m.next; h <= end; h++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := m.processHeight(ctx, pool, h); err != nil {
			return fmt.Errorf("process height %d: %w", h, err)
		}
		m.next = h + 1
	}

	m.exportUptimes()
	m.collectTxMetrics(ctx, pool, end)
	return nil
}

// bootstrap decides the first height to process: resume right after the
// durable watermark when one exists, but never further back than the
// backfill limit or the window size.
func (m *BlockModule) bootstrap(ctx context.Context, tipHeight uint64) {
	m.bootstrapped = true

	start := uint64(1)
	if tipHeight > uint64(m.cfg.Window) {
		start = tipHeight - uint64(m.cfg.Window) + 1
	}

	if m.sink != nil {
		watermark, ok, err := m.sink.LastProcessedHeight(ctx, m.chainID)
		if err != nil {
			m.log.Warn("could not read durable watermark, starting from window edge", "error", err)
		} else if ok && watermark+1 > start {
			start = watermark + 1
		}
	}

	if tipHeight > m.cfg.BackfillLimit && start < tipHeight-m.cfg.BackfillLimit {
		start = tipHeight - m.cfg.BackfillLimit
	}

	// A watermark from a node that was further ahead must not push the
	// start past this node's tip.
	if start > tipHeight+1 {
		start = tipHeight + 1
	}

	m.next = start
	m.log.Info("resuming block collection", "start", start, "tip", tipHeight)
}

// processHeight turns one block's last commit into facts for every known
// validator and hands them to the tracker and the sink.
func (m *BlockModule) processHeight(ctx context.Context, pool *nodepool.Pool, height uint64) error {
	block, err := fetchBlock(ctx, pool, height)
	if err != nil {
		return err
	}
	header := block.Result.Block.Header

	signedHeight, err := parseHeight(block.Result.Block.LastCommit.Height)
	if err != nil || signedHeight == 0 {
		// Height 1 has an empty last commit; nothing to record.
		return nil
	}

	signers := make(map[string]bool, len(block.Result.Block.LastCommit.Signatures))
	for _, sig := range block.Result.Block.LastCommit.Signatures {
		if sig.BlockIDFlag == blockIDFlagCommit && sig.ValidatorAddress != "" {
			signers[sig.ValidatorAddress] = true
		}
	}

	for _, v := range m.validators {
		fact := domain.SignatureFact{
			ChainID:   m.chainID,
			Height:    signedHeight,
			Validator: v.Address,
			Timestamp: header.Time,
			Signed:    signers[v.Address],
		}
		m.tracker.Ingest(fact)
		if m.sink != nil {
			m.sink.Submit(fact)
		}
	}

	if header.ProposerAddress != "" {
		metrics.ValidatorProposedBlocks.WithLabelValues(m.chainID, header.ProposerAddress).Inc()
	}
	return nil
}

// exportUptimes publishes window uptime gauges. Validators without data
// in the window get no gauge at all rather than a fake zero.
func (m *BlockModule) exportUptimes() {
	for addr, snap := range m.tracker.Snapshots(m.chainID) {
		if !snap.Valid {
			continue
		}
		metrics.ValidatorUptime.WithLabelValues(m.chainID, addr).Set(snap.Ratio)
		metrics.ValidatorSignedBlocks.WithLabelValues(m.chainID, addr).Set(float64(snap.SignedBlocks))
		metrics.ValidatorMissedBlocks.WithLabelValues(m.chainID, addr).Set(float64(snap.MissedBlocks))
	}
}

// collectTxMetrics sums per-tx gas for the given height via tx_search.
// This needs an endpoint with transaction indexing; without one the
// block metrics simply stay partial.
func (m *BlockModule) collectTxMetrics(ctx context.Context, pool *nodepool.Pool, height uint64) {
	if height == 0 {
		return
	}
	if !pool.HasTxIndexing(domain.RoleRPC) {
		if !m.txIndexWarn {
			m.log.Info("no endpoint with tx indexing available, gas metrics disabled")
			m.txIndexWarn = true
		}
		return
	}

	path := fmt.Sprintf(`/tx_search?query="tx.height=%d"&per_page=100`, height)
	body, err := pool.GetWith(ctx, domain.RoleRPC, path, true)
	if err != nil {
		m.log.Debug("tx_search failed", "height", height, "error", err)
		return
	}

	var resp txSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		m.log.Debug("tx_search decode failed", "height", height, "error", err)
		return
	}
	if resp.Error != nil {
		if strings.Contains(resp.Error.Data, "indexing is disabled") {
			m.log.Debug("tx indexing disabled on selected endpoint", "height", height)
			return
		}
		m.log.Debug("tx_search returned error", "height", height, "data", resp.Error.Data)
		return
	}

	var gasUsed, gasWanted int64
	for _, tx := range resp.Result.Txs {
		used, _ := strconv.ParseInt(tx.TxResult.GasUsed, 10, 64)
		wanted, _ := strconv.ParseInt(tx.TxResult.GasWanted, 10, 64)
		gasUsed += used
		gasWanted += wanted
	}
	metrics.BlockGasUsed.WithLabelValues(m.chainID).Set(float64(gasUsed))
	metrics.BlockGasWanted.WithLabelValues(m.chainID).Set(float64(gasWanted))
}
