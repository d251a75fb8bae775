// Package tracker maintains a bounded in-memory window of recent
// per-height validator signing facts and derives live uptime from it,
// independent of the durable store.
package tracker

import (
	"sort"
	"sync"

	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/metrics"
)

// Tracker holds one signature window per chain. Ingestion for different
// chains never contends; ingestion for the same chain is serialized by
// the window's own lock.
type Tracker struct {
	capacity int

	mu     sync.RWMutex
	chains map[string]*window
}

type window struct {
	mu       sync.Mutex
	capacity int

	// heights currently held, each carrying the facts known for it.
	heights map[uint64]map[string]domain.SignatureFact
	// order mirrors the keys of heights, sorted ascending.
	order []uint64
	// evictedUpTo is the highest height ever evicted; facts at or below
	// it are rejected because eviction is final.
	evictedUpTo uint64
}

// New creates a tracker whose windows hold at most capacity distinct
// heights each.
func New(capacity int) *Tracker {
	if capacity <= 0 {
		capacity = 500
	}
	return &Tracker{
		capacity: capacity,
		chains:   make(map[string]*window),
	}
}

func (t *Tracker) windowFor(chainID string) *window {
	t.mu.RLock()
	w, ok := t.chains[chainID]
	t.mu.RUnlock()
	if ok {
		return w
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if w, ok = t.chains[chainID]; ok {
		return w
	}
	w = &window{
		capacity: t.capacity,
		heights:  make(map[uint64]map[string]domain.SignatureFact),
	}
	t.chains[chainID] = w
	return w
}

// Ingest upserts a fact into its chain's window. Re-ingesting the same
// (chain, height, validator) key is idempotent: the last write wins and
// the window shape does not change. Facts for heights already evicted
// are rejected and reported via the late-fact counter; the return value
// is false only for those.
func (t *Tracker) Ingest(fact domain.SignatureFact) bool {
	w := t.windowFor(fact.ChainID)

	w.mu.Lock()
	defer w.mu.Unlock()

	if facts, ok := w.heights[fact.Height]; ok {
		facts[fact.Validator] = fact
		return true
	}

	if w.evictedUpTo > 0 && fact.Height <= w.evictedUpTo {
		metrics.TrackerLateFacts.WithLabelValues(fact.ChainID).Inc()
		return false
	}

	w.heights[fact.Height] = map[string]domain.SignatureFact{fact.Validator: fact}
	w.insertHeight(fact.Height)

	if len(w.order) > w.capacity {
		oldest := w.order[0]
		w.order = w.order[1:]
		delete(w.heights, oldest)
		if oldest > w.evictedUpTo {
			w.evictedUpTo = oldest
		}
	}
	return true
}

// insertHeight keeps order sorted; heights usually arrive ascending so
// the common case is an append.
func (w *window) insertHeight(h uint64) {
	n := len(w.order)
	if n == 0 || w.order[n-1] < h {
		w.order = append(w.order, h)
		return
	}
	i := sort.Search(n, func(i int) bool { return w.order[i] >= h })
	w.order = append(w.order, 0)
	copy(w.order[i+1:], w.order[i:])
	w.order[i] = h
}

// Snapshot computes the live uptime of one validator over the heights
// currently held. A held height with no fact for the validator is
// excluded from the denominator; an empty result is flagged invalid
// rather than reported as zero uptime.
func (t *Tracker) Snapshot(chainID, validator string) domain.UptimeSnapshot {
	w := t.windowFor(chainID)

	w.mu.Lock()
	defer w.mu.Unlock()

	snap := domain.UptimeSnapshot{ChainID: chainID, Validator: validator}
	for _, facts := range w.heights {
		fact, ok := facts[validator]
		if !ok {
			continue
		}
		snap.TotalBlocks++
		if fact.Signed {
			snap.SignedBlocks++
		} else {
			snap.MissedBlocks++
		}
	}
	if snap.TotalBlocks == 0 {
		return snap
	}
	snap.Ratio = float64(snap.TotalBlocks-snap.MissedBlocks) / float64(snap.TotalBlocks)
	snap.Valid = true
	return snap
}

// Snapshots computes uptime for every validator seen in the chain's
// window, keyed by validator address.
func (t *Tracker) Snapshots(chainID string) map[string]domain.UptimeSnapshot {
	w := t.windowFor(chainID)

	w.mu.Lock()
	validators := make(map[string]struct{})
	for _, facts := range w.heights {
		for v := range facts {
			validators[v] = struct{}{}
		}
	}
	w.mu.Unlock()

	out := make(map[string]domain.UptimeSnapshot, len(validators))
	for v := range validators {
		out[v] = t.Snapshot(chainID, v)
	}
	return out
}

// HeightsHeld returns the number of distinct heights currently in the
// chain's window.
func (t *Tracker) HeightsHeld(chainID string) int {
	w := t.windowFor(chainID)
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.order)
}

// LatestHeight returns the newest height held for the chain, or zero
// when the window is empty.
func (t *Tracker) LatestHeight(chainID string) uint64 {
	w := t.windowFor(chainID)
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return 0
	}
	return w.order[len(w.order)-1]
}

// Chains lists the chains with a window, for exposition loops.
func (t *Tracker) Chains() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.chains))
	for id := range t.chains {
		out = append(out, id)
	}
	return out
}
