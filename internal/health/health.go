package health

// Status is the coarse health of the agent or one of its parts.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// Report is the aggregated view served on /health/detailed.
type Report struct {
	Status    Status          `json:"status"`
	Chain     string          `json:"chain"`
	Endpoints []EndpointState `json:"endpoints"`
	Tasks     []TaskState     `json:"tasks"`
	Sink      *SinkState      `json:"sink,omitempty"`
}

// EndpointState mirrors one pool endpoint.
type EndpointState struct {
	Name                string `json:"name"`
	URL                 string `json:"url"`
	Role                string `json:"role"`
	Healthy             bool   `json:"healthy"`
	TxIndexing          bool   `json:"tx_indexing"`
	ConsecutiveFailures int    `json:"consecutive_failures"`
}

// TaskState mirrors one collector task.
type TaskState struct {
	Module    string `json:"module"`
	RunCount  uint64 `json:"run_count"`
	ErrCount  uint64 `json:"error_count"`
	LastError string `json:"last_error,omitempty"`
}

// SinkState mirrors the persistence sink queue.
type SinkState struct {
	QueueLen int    `json:"queue_len"`
	Dropped  uint64 `json:"dropped"`
}
