package nodepool

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chainpulse/chainpulse/internal/core/domain"
)

func testConfig() Config {
	return Config{
		RequestTimeout:     2 * time.Second,
		HealthInterval:     time.Hour,
		CapabilityInterval: time.Hour,
		MaxAttempts:        3,
		UnhealthyThreshold: 3,
		BackoffInitial:     time.Millisecond,
		BackoffMax:         5 * time.Millisecond,
		BackoffMultiple:    2.0,
	}
}

func TestPool_SelectPrefersTxIndexing(t *testing.T) {
	p := New(testConfig(), "testnet")
	p.Add(domain.RoleRPC, "plain", "http://plain.example", "/health")
	p.Add(domain.RoleRPC, "indexed", "http://indexed.example", "/health")

	eps := p.Endpoints(domain.RoleRPC)
	eps[1].setTxIndexing(true)

	// With the capability required, the capable endpoint wins even though
	// it is not first in configuration order.
	ep, err := p.Select(domain.RoleRPC, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Name() != "indexed" {
		t.Fatalf("expected indexed endpoint, got %s", ep.Name())
	}

	// Without the requirement, plain configuration order applies.
	ep, err = p.Select(domain.RoleRPC, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Name() != "plain" {
		t.Fatalf("expected first healthy endpoint, got %s", ep.Name())
	}
}

func TestPool_SelectFallsBackToHealthyWithoutCapability(t *testing.T) {
	p := New(testConfig(), "testnet")
	p.Add(domain.RoleRPC, "indexed", "http://indexed.example", "/health")
	p.Add(domain.RoleRPC, "plain", "http://plain.example", "/health")

	eps := p.Endpoints(domain.RoleRPC)
	eps[0].setTxIndexing(true)
	eps[0].setHealth(false)

	ep, err := p.Select(domain.RoleRPC, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ep.Name() != "plain" {
		t.Fatalf("expected healthy plain endpoint over unhealthy indexed one, got %s", ep.Name())
	}
}

func TestPool_SelectLeastRecentlyFailed(t *testing.T) {
	p := New(testConfig(), "testnet")
	p.Add(domain.RoleRPC, "a", "http://a.example", "/health")
	p.Add(domain.RoleRPC, "b", "http://b.example", "/health")

	eps := p.Endpoints(domain.RoleRPC)
	eps[0].setHealth(false)
	time.Sleep(5 * time.Millisecond)
	eps[1].setHealth(false)

	// All endpoints down: the one that failed longest ago is retried.
	ep, err := p.Select(domain.RoleRPC, false)
	if err != nil {
		t.Fatalf("expected degraded selection, got error: %v", err)
	}
	if ep.Name() != "a" {
		t.Fatalf("expected least-recently-failed endpoint a, got %s", ep.Name())
	}
}

func TestPool_SelectNoEndpointsForRole(t *testing.T) {
	p := New(testConfig(), "testnet")
	p.Add(domain.RoleRPC, "a", "http://a.example", "/health")

	if _, err := p.Select(domain.RoleREST, false); !errors.Is(err, ErrNoHealthyEndpoint) {
		t.Fatalf("expected ErrNoHealthyEndpoint, got %v", err)
	}
}

func TestPool_GetRetriesAcrossEndpoints(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	var goodHits atomic.Int32
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		goodHits.Add(1)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer good.Close()

	p := New(testConfig(), "testnet")
	p.Add(domain.RoleRPC, "bad", bad.URL, "/health")
	p.Add(domain.RoleRPC, "good", good.URL, "/health")

	body, err := p.Get(context.Background(), domain.RoleRPC, "/status")
	if err != nil {
		t.Fatalf("expected failover to succeed, got %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("unexpected body %q", body)
	}
	if goodHits.Load() != 1 {
		t.Fatalf("expected exactly one request to the good endpoint, got %d", goodHits.Load())
	}
}

func TestPool_GetExhaustsAttempts(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer bad.Close()

	p := New(testConfig(), "testnet")
	p.Add(domain.RoleRPC, "bad", bad.URL, "/health")

	_, err := p.Get(context.Background(), domain.RoleRPC, "/status")
	if !errors.Is(err, ErrEndpointExhausted) {
		t.Fatalf("expected ErrEndpointExhausted, got %v", err)
	}
}

func TestPool_SharedURLEndpointsEachTried(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 2
	p := New(cfg, "testnet")
	// Same host registered under two names; both must count as separate
	// attempt targets.
	p.Add(domain.RoleRPC, "a", bad.URL, "/health")
	p.Add(domain.RoleRPC, "b", bad.URL, "/health")

	_, err := p.Get(context.Background(), domain.RoleRPC, "/status")
	if !errors.Is(err, ErrEndpointExhausted) {
		t.Fatalf("expected ErrEndpointExhausted, got %v", err)
	}
	for _, ep := range p.Endpoints(domain.RoleRPC) {
		if got := ep.Status().ConsecutiveFailures; got != 1 {
			t.Fatalf("endpoint %s: expected exactly one attempt, recorded %d failures", ep.Name(), got)
		}
	}
}

func TestPool_ConcurrentHealthSweeps(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"result":{"node_info":{"other":{"tx_index":"on"}}}}`))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.HealthInterval = 2 * time.Millisecond
	cfg.CapabilityInterval = time.Millisecond
	p := New(cfg, "testnet")
	p.Add(domain.RoleRPC, "node", srv.URL, "/health")

	ctx, cancel := context.WithCancel(context.Background())
	go p.RunHealthChecks(ctx)

	// On-demand sweeps racing the periodic loop must not corrupt the
	// capability-probe bookkeeping.
	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				p.CheckNow(ctx)
			}
		}()
	}
	wg.Wait()
	cancel()

	ep := p.Endpoints(domain.RoleRPC)[0]
	if !ep.Healthy() || !ep.TxIndexing() {
		t.Fatalf("expected healthy, capable endpoint after sweeps, got %+v", ep.Status())
	}
}

func TestPool_UnhealthyAfterConsecutiveFailures(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()

	cfg := testConfig()
	cfg.MaxAttempts = 1
	p := New(cfg, "testnet")
	p.Add(domain.RoleRPC, "bad", bad.URL, "/health")
	ep := p.Endpoints(domain.RoleRPC)[0]

	// Below the threshold the endpoint stays nominally healthy.
	for i := 0; i < cfg.UnhealthyThreshold-1; i++ {
		p.Get(context.Background(), domain.RoleRPC, "/status")
		if !ep.Healthy() {
			t.Fatalf("endpoint flipped unhealthy after %d failures, threshold is %d", i+1, cfg.UnhealthyThreshold)
		}
	}
	p.Get(context.Background(), domain.RoleRPC, "/status")
	if ep.Healthy() {
		t.Fatal("endpoint should be unhealthy after reaching the failure threshold")
	}

	// One success restores it.
	ep.recordSuccess()
	if !ep.Healthy() || ep.Status().ConsecutiveFailures != 0 {
		t.Fatalf("expected recovery after success, got %+v", ep.Status())
	}
}

func TestPool_HealthProbeFlipsState(t *testing.T) {
	var up atomic.Bool
	up.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		if !up.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(testConfig(), "testnet")
	p.Add(domain.RoleRPC, "node", srv.URL, "/health")
	ep := p.Endpoints(domain.RoleRPC)[0]

	p.checkAll(context.Background(), false)
	if !ep.Healthy() {
		t.Fatal("expected endpoint healthy after passing probe")
	}

	up.Store(false)
	p.checkAll(context.Background(), false)
	if ep.Healthy() {
		t.Fatal("expected endpoint unhealthy after failing probe")
	}

	up.Store(true)
	p.checkAll(context.Background(), false)
	if !ep.Healthy() {
		t.Fatal("expected endpoint to recover after passing probe")
	}
}

func TestPool_CapabilityProbe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/status":
			w.Write([]byte(`{"result":{"node_info":{"other":{"tx_index":"on"}}}}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	p := New(testConfig(), "testnet")
	p.Add(domain.RoleRPC, "node", srv.URL, "/health")
	ep := p.Endpoints(domain.RoleRPC)[0]

	p.checkAll(context.Background(), true)
	if !ep.TxIndexing() {
		t.Fatal("expected tx indexing detected from capability probe")
	}
	if !p.HasTxIndexing(domain.RoleRPC) {
		t.Fatal("expected pool to report tx indexing available")
	}
}

func TestTxIndexEnabled(t *testing.T) {
	cases := []struct {
		name string
		body string
		want bool
	}{
		{"wrapped on", `{"result":{"node_info":{"other":{"tx_index":"on"}}}}`, true},
		{"wrapped off", `{"result":{"node_info":{"other":{"tx_index":"off"}}}}`, false},
		{"bare on", `{"node_info":{"other":{"tx_index":"on"}}}`, true},
		{"bare off", `{"node_info":{"other":{"tx_index":"off"}}}`, false},
		{"missing", `{"result":{}}`, false},
		{"garbage", `not json`, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := TxIndexEnabled([]byte(c.body)); got != c.want {
				t.Fatalf("expected %v, got %v", c.want, got)
			}
		})
	}
}

func TestPool_Backoff(t *testing.T) {
	cfg := Config{BackoffInitial: 500 * time.Millisecond, BackoffMax: 30 * time.Second, BackoffMultiple: 2.0}
	p := New(cfg, "testnet")

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 500 * time.Millisecond},
		{1, time.Second},
		{2, 2 * time.Second},
		{6, 30 * time.Second},
		{10, 30 * time.Second},
	}
	for _, c := range cases {
		if got := p.backoff(c.attempt); got != c.want {
			t.Errorf("attempt %d: expected %v, got %v", c.attempt, c.want, got)
		}
	}
}

func TestEndpoint_URLNormalization(t *testing.T) {
	ep := newEndpoint("n", "http://node.example/", "health", domain.RoleRPC)
	if ep.URL() != "http://node.example" {
		t.Fatalf("expected trailing slash trimmed, got %q", ep.URL())
	}
	if ep.healthPath != "/health" {
		t.Fatalf("expected leading slash added, got %q", ep.healthPath)
	}
}
