package config

import (
	"time"

	"github.com/chainpulse/chainpulse/internal/nodepool"
	"github.com/chainpulse/chainpulse/internal/sink"
	"github.com/chainpulse/chainpulse/internal/storage/clickhouse"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig      `yaml:"server"`
	Logging    LoggingConfig     `yaml:"logging"`
	Chain      ChainConfig       `yaml:"chain"`
	Pool       nodepool.Config   `yaml:"pool"`
	Modules    ModulesConfig     `yaml:"modules"`
	Sink       sink.Config       `yaml:"sink"`
	ClickHouse clickhouse.Config `yaml:"clickhouse"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port          int           `yaml:"port"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// ChainConfig identifies the observed chain and its node endpoints.
type ChainConfig struct {
	// ID is the chain id; when empty it is discovered from /status.
	ID      string      `yaml:"id"`
	Network string      `yaml:"network"`
	Nodes   NodesConfig `yaml:"nodes"`
}

// NodesConfig lists endpoints per role.
type NodesConfig struct {
	RPC  []NodeConfig `yaml:"rpc"`
	REST []NodeConfig `yaml:"rest"`
}

// NodeConfig is one configured endpoint.
type NodeConfig struct {
	Name           string `yaml:"name"`
	URL            string `yaml:"url"`
	HealthEndpoint string `yaml:"health_endpoint"`
}

// ModulesConfig holds per-module enable flags and intervals. Enablement
// is static for the process lifetime.
type ModulesConfig struct {
	Block      BlockModuleConfig `yaml:"block"`
	Status     ModuleConfig      `yaml:"status"`
	Validators ModuleConfig      `yaml:"validators"`
}

// ModuleConfig is the common per-module knob set.
type ModuleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// BlockModuleConfig extends ModuleConfig with the signature-window and
// backfill tuning of the block collector.
type BlockModuleConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	// Window is the number of most recent distinct heights used for
	// live uptime computation.
	Window int `yaml:"window"`
	// BackfillLimit bounds how far behind the watermark the collector
	// walks on startup; never unbounded historical replay.
	BackfillLimit uint64 `yaml:"backfill_limit"`
	// MaxBlocksPerTick bounds how many heights one tick processes.
	MaxBlocksPerTick uint64 `yaml:"max_blocks_per_tick"`
	// StaleThreshold is the tip-to-processed gap that flags the
	// collector as stalled.
	StaleThreshold uint64 `yaml:"stale_threshold"`
}
