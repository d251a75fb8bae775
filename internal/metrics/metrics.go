package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TaskRuns counts completed collector ticks per module.
	TaskRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_task_runs_total",
			Help: "Total number of collector task runs",
		},
		[]string{"module"},
	)

	// TaskErrors counts failed collector ticks per module.
	TaskErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_task_errors_total",
			Help: "Total number of collector task failures",
		},
		[]string{"module"},
	)

	// HTTPRequests counts upstream node requests by endpoint and status.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_http_requests_total",
			Help: "Total number of HTTP requests issued to node endpoints",
		},
		[]string{"endpoint", "status", "network"},
	)

	// EndpointHealthy reports the current health of each configured endpoint.
	EndpointHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_endpoint_healthy",
			Help: "Whether a node endpoint is currently considered healthy (1/0)",
		},
		[]string{"endpoint", "role"},
	)

	// ChainHeight tracks the latest observed block height per chain.
	ChainHeight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_chain_height",
			Help: "Latest block height observed on the chain",
		},
		[]string{"chain"},
	)

	// ChainBlockTime tracks the timestamp of the latest observed block.
	ChainBlockTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_chain_block_time_seconds",
			Help: "Unix timestamp of the latest observed block",
		},
		[]string{"chain"},
	)

	// ChainBlockTxs is the transaction count of the latest observed block.
	ChainBlockTxs = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_chain_block_txs",
			Help: "Number of transactions in the latest observed block",
		},
		[]string{"chain"},
	)

	// BlockGasUsed is the total gas used by the latest observed block.
	// Only populated when an endpoint with tx indexing is available.
	BlockGasUsed = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_block_gas_used",
			Help: "Gas used by all transactions in the latest observed block",
		},
		[]string{"chain"},
	)

	// BlockGasWanted is the total gas wanted by the latest observed block.
	BlockGasWanted = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_block_gas_wanted",
			Help: "Gas wanted by all transactions in the latest observed block",
		},
		[]string{"chain"},
	)

	// ChainCatchingUp reports whether the queried node is still syncing.
	ChainCatchingUp = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_chain_catching_up",
			Help: "Whether the node reports catching_up in /status (1/0)",
		},
		[]string{"chain"},
	)

	// CollectorGap is the distance between the chain tip and the last
	// processed height; a persistently large value means the block
	// collector is stalled.
	CollectorGap = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_collector_height_gap",
			Help: "Blocks between chain tip and last processed height",
		},
		[]string{"chain"},
	)

	// ValidatorUptime is the block-window uptime ratio per validator.
	ValidatorUptime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_validator_uptime_ratio",
			Help: "Fraction of blocks in the tracked window signed by the validator",
		},
		[]string{"chain", "validator"},
	)

	// ValidatorSignedBlocks is the signed-block count inside the window.
	ValidatorSignedBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_validator_signed_blocks",
			Help: "Blocks signed by the validator inside the tracked window",
		},
		[]string{"chain", "validator"},
	)

	// ValidatorMissedBlocks is the missed-block count inside the window.
	ValidatorMissedBlocks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_validator_missed_blocks",
			Help: "Blocks missed by the validator inside the tracked window",
		},
		[]string{"chain", "validator"},
	)

	// ValidatorProposedBlocks counts blocks proposed per validator.
	ValidatorProposedBlocks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_validator_proposed_blocks_total",
			Help: "Total blocks proposed by the validator since process start",
		},
		[]string{"chain", "validator"},
	)

	// ValidatorVotingPower is the current voting power per validator.
	ValidatorVotingPower = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_validator_voting_power",
			Help: "Current voting power of the validator",
		},
		[]string{"chain", "validator"},
	)

	// ValidatorCount is the size of the active validator set.
	ValidatorCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_validator_count",
			Help: "Number of validators in the active set",
		},
		[]string{"chain"},
	)

	// SinkQueueDepth is the number of facts waiting to be flushed.
	SinkQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "chainpulse_sink_queue_depth",
			Help: "Signature facts currently queued for durable storage",
		},
	)

	// SinkDroppedFacts counts facts dropped because the queue was full.
	SinkDroppedFacts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpulse_sink_dropped_facts_total",
			Help: "Signature facts dropped due to sink queue overflow",
		},
	)

	// SinkPersistedFacts counts facts acknowledged by the durable store.
	SinkPersistedFacts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpulse_sink_persisted_facts_total",
			Help: "Signature facts written to the durable store",
		},
	)

	// SinkFlushFailures counts failed flush attempts against the store.
	SinkFlushFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpulse_sink_flush_failures_total",
			Help: "Failed batch writes to the durable store",
		},
	)

	// TrackerLateFacts counts facts rejected because their height was
	// already evicted from the window.
	TrackerLateFacts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainpulse_tracker_late_facts_total",
			Help: "Signature facts rejected for already-evicted heights",
		},
		[]string{"chain"},
	)

	// Heartbeat increments once per heartbeat interval while the process
	// is alive.
	Heartbeat = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "chainpulse_heartbeat_total",
			Help: "Liveness heartbeat of the agent",
		},
	)

	// AppInfo carries the build version as a label.
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainpulse_app_info",
			Help: "Static info about the running agent",
		},
		[]string{"version"},
	)
)
