package nodepool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/metrics"
)

var (
	// ErrNoHealthyEndpoint is returned by Select when no endpoint is
	// configured for the requested role.
	ErrNoHealthyEndpoint = errors.New("no endpoints configured for role")

	// ErrEndpointExhausted is returned by Get after all cross-endpoint
	// attempts failed.
	ErrEndpointExhausted = errors.New("all endpoint attempts failed")
)

// Config holds the tuning knobs of the pool. The backoff curve and the
// unhealthy threshold are operational parameters and deliberately not
// hardcoded.
type Config struct {
	RequestTimeout     time.Duration `yaml:"request_timeout"`
	HealthInterval     time.Duration `yaml:"health_interval"`
	CapabilityInterval time.Duration `yaml:"capability_interval"`
	MaxAttempts        int           `yaml:"max_attempts"`
	UnhealthyThreshold int           `yaml:"unhealthy_threshold"`
	BackoffInitial     time.Duration `yaml:"backoff_initial"`
	BackoffMax         time.Duration `yaml:"backoff_max"`
	BackoffMultiple    float64       `yaml:"backoff_multiple"`
}

// ApplyDefaults fills zero values with sane defaults.
func (c *Config) ApplyDefaults() {
	if c.RequestTimeout == 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.HealthInterval == 0 {
		c.HealthInterval = 10 * time.Second
	}
	if c.CapabilityInterval == 0 {
		c.CapabilityInterval = 5 * time.Minute
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	if c.UnhealthyThreshold == 0 {
		c.UnhealthyThreshold = 3
	}
	if c.BackoffInitial == 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax == 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.BackoffMultiple == 0 {
		c.BackoffMultiple = 2.0
	}
}

// Pool owns the configured endpoints for one chain and selects among them
// under live traffic. Health state is continuously updated by both the
// request path and the background health-check loop, so "which endpoint
// to use" is state, not configuration.
type Pool struct {
	cfg     Config
	network string
	client  *http.Client
	log     *slog.Logger

	mu                  sync.RWMutex
	endpoints           map[domain.Role][]*Endpoint
	lastCapabilityProbe time.Time
}

// New creates an empty pool; endpoints are added with Add.
func New(cfg Config, network string) *Pool {
	cfg.ApplyDefaults()
	return &Pool{
		cfg:     cfg,
		network: network,
		client: &http.Client{
			Timeout: cfg.RequestTimeout,
		},
		log:       slog.Default(),
		endpoints: make(map[domain.Role][]*Endpoint),
	}
}

// Add registers a configured endpoint under a role.
func (p *Pool) Add(role domain.Role, name, url, healthPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.endpoints[role] = append(p.endpoints[role], newEndpoint(name, url, healthPath, role))
}

// Endpoints returns the endpoints registered for a role.
func (p *Pool) Endpoints(role domain.Role) []*Endpoint {
	p.mu.RLock()
	defer p.mu.RUnlock()
	eps := p.endpoints[role]
	out := make([]*Endpoint, len(eps))
	copy(out, eps)
	return out
}

// Status snapshots every endpoint in the pool.
func (p *Pool) Status() []EndpointStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []EndpointStatus
	for _, eps := range p.endpoints {
		for _, e := range eps {
			out = append(out, e.Status())
		}
	}
	return out
}

// HasTxIndexing reports whether any healthy endpoint for the role has
// transaction indexing enabled.
func (p *Pool) HasTxIndexing(role domain.Role) bool {
	for _, e := range p.Endpoints(role) {
		if e.Healthy() && e.TxIndexing() {
			return true
		}
	}
	return false
}

// Select returns the best endpoint for a role. Order of preference:
// healthy with the required capability, then any healthy endpoint, then
// the least-recently-failed unhealthy one as a last resort. It fails
// only when no endpoint is configured for the role at all.
func (p *Pool) Select(role domain.Role, requiresTxIndex bool) (*Endpoint, error) {
	eps := p.Endpoints(role)
	if len(eps) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoHealthyEndpoint, role)
	}

	var healthy []*Endpoint
	for _, e := range eps {
		if !e.Healthy() {
			continue
		}
		if requiresTxIndex && e.TxIndexing() {
			return e, nil
		}
		healthy = append(healthy, e)
	}
	if len(healthy) > 0 {
		return healthy[0], nil
	}

	// Degraded mode: retry the endpoint that failed longest ago.
	best := eps[0]
	for _, e := range eps[1:] {
		if e.lastFailedAt().Before(best.lastFailedAt()) {
			best = e
		}
	}
	return best, nil
}

// Get issues a GET request for path against the best endpoint of the
// role, retrying across different endpoints with exponential backoff.
func (p *Pool) Get(ctx context.Context, role domain.Role, path string) ([]byte, error) {
	return p.GetWith(ctx, role, path, false)
}

// GetWith is Get with an explicit transaction-indexing requirement.
// The requirement is a preference, not a hard filter: when no capable
// endpoint is healthy the request still goes out, and the caller decides
// how to degrade.
func (p *Pool) GetWith(ctx context.Context, role domain.Role, path string, requiresTxIndex bool) ([]byte, error) {
	path = ensureLeadingSlash(path)

	tried := make(map[*Endpoint]bool)
	var lastErr error

	for attempt := 0; attempt < p.cfg.MaxAttempts; attempt++ {
		ep := p.pick(role, requiresTxIndex, tried)
		if ep == nil {
			// Every endpoint tried once; start over.
			tried = make(map[*Endpoint]bool)
			ep = p.pick(role, requiresTxIndex, tried)
		}
		if ep == nil {
			return nil, fmt.Errorf("%w: %s", ErrNoHealthyEndpoint, role)
		}
		tried[ep] = true

		body, err := p.doGet(ctx, ep, path)
		if err == nil {
			ep.recordSuccess()
			return body, nil
		}
		lastErr = err
		ep.recordFailure(p.cfg.UnhealthyThreshold)
		p.log.Warn("endpoint request failed",
			"network", p.network,
			"endpoint", ep.URL(),
			"path", path,
			"attempt", attempt+1,
			"error", err,
		)

		if attempt == p.cfg.MaxAttempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.backoff(attempt)):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrEndpointExhausted, p.cfg.MaxAttempts, lastErr)
}

// pick is Select restricted to endpoints not yet tried in this request.
func (p *Pool) pick(role domain.Role, requiresTxIndex bool, tried map[*Endpoint]bool) *Endpoint {
	var candidates []*Endpoint
	for _, e := range p.Endpoints(role) {
		if !tried[e] {
			candidates = append(candidates, e)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	var healthy []*Endpoint
	for _, e := range candidates {
		if !e.Healthy() {
			continue
		}
		if requiresTxIndex && e.TxIndexing() {
			return e
		}
		healthy = append(healthy, e)
	}
	if len(healthy) > 0 {
		return healthy[0]
	}

	best := candidates[0]
	for _, e := range candidates[1:] {
		if e.lastFailedAt().Before(best.lastFailedAt()) {
			best = e
		}
	}
	return best
}

func (p *Pool) doGet(ctx context.Context, ep *Endpoint, path string) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	url := ep.URL() + path
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		metrics.HTTPRequests.WithLabelValues(ep.URL(), "error", p.network).Inc()
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	metrics.HTTPRequests.WithLabelValues(ep.URL(), strconv.Itoa(resp.StatusCode), p.network).Inc()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("request %s: unexpected status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response from %s: %w", url, err)
	}
	return body, nil
}

func (p *Pool) backoff(attempt int) time.Duration {
	d := float64(p.cfg.BackoffInitial) * math.Pow(p.cfg.BackoffMultiple, float64(attempt))
	if d > float64(p.cfg.BackoffMax) {
		d = float64(p.cfg.BackoffMax)
	}
	return time.Duration(d)
}
