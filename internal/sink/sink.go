// Package sink is the asynchronous write path between live collection
// and the durable store. Producers never block on store latency; when
// the store is down the queue absorbs facts up to its depth, then sheds
// the oldest with an explicit drop counter.
package sink

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/metrics"
)

// Store is the durable-store boundary. Writes must be idempotent: the
// store's uniqueness key on (chain_id, height, address) absorbs
// duplicate submissions from retries and restarts.
type Store interface {
	InsertSignatures(ctx context.Context, facts []domain.SignatureFact) error
	LastProcessedHeight(ctx context.Context, chainID string) (uint64, bool, error)
}

// Config tunes queueing and flushing.
type Config struct {
	Enabled       bool          `yaml:"enabled"`
	QueueDepth    int           `yaml:"queue_depth"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	RetryInitial  time.Duration `yaml:"retry_initial"`
	RetryMax      time.Duration `yaml:"retry_max"`
	RetryMultiple float64       `yaml:"retry_multiple"`
}

// ApplyDefaults fills zero values with sane defaults.
func (c *Config) ApplyDefaults() {
	if c.QueueDepth == 0 {
		c.QueueDepth = 10000
	}
	if c.BatchSize == 0 {
		c.BatchSize = 500
	}
	if c.FlushInterval == 0 {
		c.FlushInterval = 5 * time.Second
	}
	if c.RetryInitial == 0 {
		c.RetryInitial = time.Second
	}
	if c.RetryMax == 0 {
		c.RetryMax = time.Minute
	}
	if c.RetryMultiple == 0 {
		c.RetryMultiple = 2.0
	}
}

// Sink batches signature facts and flushes them to the durable store on
// a timer, with backoff while the store is unavailable.
type Sink struct {
	cfg   Config
	store Store
	log   *slog.Logger

	mu      sync.Mutex
	queue   []domain.SignatureFact
	dropped uint64

	retries int
}

// New creates a sink in front of store.
func New(cfg Config, store Store) *Sink {
	cfg.ApplyDefaults()
	return &Sink{
		cfg:   cfg,
		store: store,
		log:   slog.Default(),
	}
}

// Submit enqueues a fact without blocking. When the queue is at depth,
// the oldest queued fact is dropped to make room and the drop counter is
// incremented; freshness is favored over completeness.
func (s *Sink) Submit(fact domain.SignatureFact) {
	s.mu.Lock()
	if len(s.queue) >= s.cfg.QueueDepth {
		s.queue = s.queue[1:]
		s.dropped++
		metrics.SinkDroppedFacts.Inc()
	}
	s.queue = append(s.queue, fact)
	depth := len(s.queue)
	s.mu.Unlock()

	metrics.SinkQueueDepth.Set(float64(depth))
}

// Dropped returns the total number of facts shed due to overflow.
func (s *Sink) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// QueueLen returns the current queue depth.
func (s *Sink) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// LastProcessedHeight reads the per-chain watermark from the durable
// store, for bounded backfill decisions on startup.
func (s *Sink) LastProcessedHeight(ctx context.Context, chainID string) (uint64, bool, error) {
	return s.store.LastProcessedHeight(ctx, chainID)
}

// Run drains the queue until ctx is cancelled, then attempts one final
// flush so a graceful shutdown loses as little as possible. Abandoned
// partial batches are safe: the store key makes re-insertion after
// restart a no-op.
func (s *Sink) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), s.cfg.FlushInterval)
			s.flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			if !s.flush(ctx) {
				// Store unavailable; hold off before the next attempt.
				select {
				case <-ctx.Done():
				case <-time.After(s.retryDelay()):
				}
			}
		}
	}
}

// flush writes queued facts in batches until the queue is empty or a
// write fails. Returns false when the store rejected a batch.
func (s *Sink) flush(ctx context.Context) bool {
	for {
		batch := s.take()
		if len(batch) == 0 {
			return true
		}

		if err := s.store.InsertSignatures(ctx, batch); err != nil {
			metrics.SinkFlushFailures.Inc()
			s.retries++
			s.requeue(batch)
			s.log.Warn("durable store write failed",
				"batch", len(batch),
				"queued", s.QueueLen(),
				"retries", s.retries,
				"error", err,
			)
			return false
		}

		s.retries = 0
		metrics.SinkPersistedFacts.Add(float64(len(batch)))
		metrics.SinkQueueDepth.Set(float64(s.QueueLen()))
	}
}

// take removes up to BatchSize facts from the front of the queue.
func (s *Sink) take() []domain.SignatureFact {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.queue)
	if n == 0 {
		return nil
	}
	if n > s.cfg.BatchSize {
		n = s.cfg.BatchSize
	}
	batch := make([]domain.SignatureFact, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	return batch
}

// requeue puts a failed batch back at the front, shedding the oldest
// facts if the queue grew past depth in the meantime.
func (s *Sink) requeue(batch []domain.SignatureFact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(batch, s.queue...)
	if excess := len(s.queue) - s.cfg.QueueDepth; excess > 0 {
		s.queue = s.queue[excess:]
		s.dropped += uint64(excess)
		metrics.SinkDroppedFacts.Add(float64(excess))
	}
	metrics.SinkQueueDepth.Set(float64(len(s.queue)))
}

func (s *Sink) retryDelay() time.Duration {
	d := float64(s.cfg.RetryInitial) * math.Pow(s.cfg.RetryMultiple, float64(s.retries-1))
	if d > float64(s.cfg.RetryMax) {
		d = float64(s.cfg.RetryMax)
	}
	return time.Duration(d)
}
