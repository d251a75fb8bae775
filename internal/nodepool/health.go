package nodepool

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/chainpulse/chainpulse/internal/core/domain"
	"github.com/chainpulse/chainpulse/internal/metrics"
)

// RunHealthChecks probes every endpoint's health path on its own interval,
// independent of request traffic, until ctx is cancelled. The capability
// probe is piggybacked on a longer interval so /status is not hit on every
// cycle.
func (p *Pool) RunHealthChecks(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.HealthInterval)
	defer ticker.Stop()

	// Probe once at startup so the first selections see real state.
	p.checkAll(ctx, true)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			probeCapabilities := time.Since(p.capabilityProbedAt()) >= p.cfg.CapabilityInterval
			p.checkAll(ctx, probeCapabilities)
		}
	}
}

// CheckNow runs one health and capability sweep synchronously, for
// callers that need endpoint state before the periodic loop has ticked.
func (p *Pool) CheckNow(ctx context.Context) {
	p.checkAll(ctx, true)
}

func (p *Pool) checkAll(ctx context.Context, probeCapabilities bool) {
	var wg sync.WaitGroup
	for _, role := range []domain.Role{domain.RoleRPC, domain.RoleREST} {
		for _, ep := range p.Endpoints(role) {
			wg.Add(1)
			go func(ep *Endpoint) {
				defer wg.Done()
				p.checkOne(ctx, ep, probeCapabilities)
			}(ep)
		}
	}
	wg.Wait()
	if probeCapabilities {
		p.mu.Lock()
		p.lastCapabilityProbe = time.Now()
		p.mu.Unlock()
	}
}

func (p *Pool) capabilityProbedAt() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastCapabilityProbe
}

func (p *Pool) checkOne(ctx context.Context, ep *Endpoint, probeCapability bool) {
	healthy := p.probeHealth(ctx, ep)
	ep.setHealth(healthy)
	if !healthy {
		p.log.Warn("health check failed",
			"network", p.network,
			"endpoint", ep.URL(),
			"path", ep.healthPath,
		)
		return
	}

	// tx_index only exists on the RPC surface.
	if probeCapability && ep.Role() == domain.RoleRPC {
		ep.setTxIndexing(p.probeTxIndexing(ctx, ep))
	}
}

func (p *Pool) probeHealth(ctx context.Context, ep *Endpoint) bool {
	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, ep.URL()+ep.healthPath, nil)
	if err != nil {
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	metrics.HTTPRequests.WithLabelValues(ep.URL(), strconv.Itoa(resp.StatusCode), p.network).Inc()
	return resp.StatusCode == http.StatusOK
}

// probeTxIndexing asks /status whether the node indexes transactions.
// Some chains wrap the payload in a JSON-RPC result envelope and some
// return it bare, so both shapes are handled.
func (p *Pool) probeTxIndexing(ctx context.Context, ep *Endpoint) bool {
	body, err := p.doGet(ctx, ep, "/status")
	if err != nil {
		return false
	}
	return TxIndexEnabled(body)
}

// TxIndexEnabled extracts the node_info.other.tx_index flag from a
// /status response body.
func TxIndexEnabled(body []byte) bool {
	var envelope struct {
		Result   *statusNodeInfo `json:"result"`
		NodeInfo *nodeInfo       `json:"node_info"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false
	}
	var ni *nodeInfo
	switch {
	case envelope.Result != nil && envelope.Result.NodeInfo != nil:
		ni = envelope.Result.NodeInfo
	case envelope.NodeInfo != nil:
		ni = envelope.NodeInfo
	default:
		return false
	}
	return ni.Other.TxIndex == "on"
}

type statusNodeInfo struct {
	NodeInfo *nodeInfo `json:"node_info"`
}

type nodeInfo struct {
	Other struct {
		TxIndex string `json:"tx_index"`
	} `json:"other"`
}
