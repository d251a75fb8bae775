package nodepool

import (
	"strings"
	"sync"
	"time"

	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/metrics"
)

// Endpoint is one configured node URL plus its live health bookkeeping.
// It is created from configuration at startup and never destroyed; the
// health-check loop and the request path are the only writers.
type Endpoint struct {
	name       string
	url        string
	role       domain.Role
	healthPath string

	mu                  sync.RWMutex
	healthy             bool
	txIndexing          bool
	consecutiveFailures int
	lastChecked         time.Time
	lastFailure         time.Time
}

// EndpointStatus is a read-only snapshot of an endpoint, used by the
// health server and for selection decisions.
type EndpointStatus struct {
	Name                string      `json:"name"`
	URL                 string      `json:"url"`
	Role                domain.Role `json:"role"`
	Healthy             bool        `json:"healthy"`
	TxIndexing          bool        `json:"tx_indexing"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	LastChecked         time.Time   `json:"last_checked"`
	LastFailure         time.Time   `json:"last_failure"`
}

func newEndpoint(name, rawURL, healthPath string, role domain.Role) *Endpoint {
	return &Endpoint{
		name:       name,
		url:        strings.TrimRight(rawURL, "/"),
		role:       role,
		healthPath: ensureLeadingSlash(healthPath),
		healthy:    true,
	}
}

func ensureLeadingSlash(p string) string {
	if p == "" || strings.HasPrefix(p, "/") {
		return p
	}
	return "/" + p
}

// Name returns the configured endpoint name.
func (e *Endpoint) Name() string { return e.name }

// URL returns the normalized base URL (no trailing slash).
func (e *Endpoint) URL() string { return e.url }

// Role returns the API surface this endpoint serves.
func (e *Endpoint) Role() domain.Role { return e.role }

// Healthy reports the last known health state.
func (e *Endpoint) Healthy() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.healthy
}

// TxIndexing reports whether the node has transaction indexing enabled,
// as of the last capability probe.
func (e *Endpoint) TxIndexing() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.txIndexing
}

// Status returns a point-in-time snapshot.
func (e *Endpoint) Status() EndpointStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return EndpointStatus{
		Name:                e.name,
		URL:                 e.url,
		Role:                e.role,
		Healthy:             e.healthy,
		TxIndexing:          e.txIndexing,
		ConsecutiveFailures: e.consecutiveFailures,
		LastChecked:         e.lastChecked,
		LastFailure:         e.lastFailure,
	}
}

// recordSuccess resets failure bookkeeping after a successful request.
func (e *Endpoint) recordSuccess() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.healthy = true
	e.consecutiveFailures = 0
	e.exportHealth()
}

// recordFailure increments the failure streak and flips the endpoint to
// unhealthy once the streak reaches threshold.
func (e *Endpoint) recordFailure(threshold int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.consecutiveFailures++
	e.lastFailure = time.Now()
	if e.consecutiveFailures >= threshold {
		e.healthy = false
	}
	e.exportHealth()
}

// setHealth applies the outcome of a health-check probe.
func (e *Endpoint) setHealth(healthy bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.lastChecked = time.Now()
	if healthy {
		e.healthy = true
		e.consecutiveFailures = 0
	} else {
		e.healthy = false
		e.consecutiveFailures++
		e.lastFailure = e.lastChecked
	}
	e.exportHealth()
}

// setTxIndexing caches the result of a capability probe.
func (e *Endpoint) setTxIndexing(enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.txIndexing = enabled
}

// lastFailedAt returns when the endpoint last failed; zero if never.
func (e *Endpoint) lastFailedAt() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastFailure
}

// exportHealth publishes the current state; callers hold e.mu.
func (e *Endpoint) exportHealth() {
	v := 0.0
	if e.healthy {
		v = 1.0
	}
	metrics.EndpointHealthy.WithLabelValues(e.url, string(e.role)).Set(v)
}
