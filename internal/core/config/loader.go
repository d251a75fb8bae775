package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file. Environment variables in
// the file body are expanded before parsing, so secrets can stay out of
// the file itself.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ShutdownGrace == 0 {
		cfg.Server.ShutdownGrace = 10 * time.Second
	}

	cfg.Pool.ApplyDefaults()
	cfg.Sink.ApplyDefaults()

	if cfg.Modules.Block.Interval == 0 {
		cfg.Modules.Block.Interval = 10 * time.Second
	}
	if cfg.Modules.Block.Window == 0 {
		cfg.Modules.Block.Window = 500
	}
	if cfg.Modules.Block.BackfillLimit == 0 {
		cfg.Modules.Block.BackfillLimit = 1000
	}
	if cfg.Modules.Block.MaxBlocksPerTick == 0 {
		cfg.Modules.Block.MaxBlocksPerTick = 100
	}
	if cfg.Modules.Block.StaleThreshold == 0 {
		cfg.Modules.Block.StaleThreshold = 50
	}
	if cfg.Modules.Status.Interval == 0 {
		cfg.Modules.Status.Interval = 15 * time.Second
	}
	if cfg.Modules.Validators.Interval == 0 {
		cfg.Modules.Validators.Interval = 30 * time.Second
	}
}

func (cfg *AppConfig) validate() error {
	if len(cfg.Chain.Nodes.RPC) == 0 {
		return fmt.Errorf("config: at least one rpc node is required")
	}
	for _, n := range append(cfg.Chain.Nodes.RPC, cfg.Chain.Nodes.REST...) {
		if n.URL == "" {
			return fmt.Errorf("config: node %q has no url", n.Name)
		}
	}
	if cfg.Sink.Enabled && cfg.ClickHouse.Addr == "" {
		return fmt.Errorf("config: sink enabled but clickhouse.addr is empty")
	}
	return nil
}
