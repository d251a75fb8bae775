package health

import (
	"sync"
	"time"

	"github.com/chainpulse/chainpulse/internal/collector"
	"github.com/chainpulse/chainpulse/internal/nodepool"
	"github.com/chainpulse/chainpulse/internal/sink"
)

// Monitor aggregates health from the endpoint pool, the collector tasks,
// and the persistence sink.
type Monitor struct {
	chainID   string
	pool      *nodepool.Pool
	scheduler *collector.Scheduler
	sink      *sink.Sink // nil when persistence is disabled

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport Report
}

// NewMonitor creates a monitor over the running components.
func NewMonitor(chainID string, pool *nodepool.Pool, sched *collector.Scheduler, snk *sink.Sink) *Monitor {
	return &Monitor{
		chainID:   chainID,
		pool:      pool,
		scheduler: sched,
		sink:      snk,
	}
}

// Check builds the current report. Reports are cached briefly so probe
// storms do not amplify into internal lock traffic.
func (m *Monitor) Check() Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	if time.Since(m.lastCheck) < 10*time.Second && m.lastReport.Status != "" {
		return m.lastReport
	}

	report := Report{Status: StatusHealthy, Chain: m.chainID}

	healthyEndpoints := 0
	for _, st := range m.pool.Status() {
		report.Endpoints = append(report.Endpoints, EndpointState{
			Name:                st.Name,
			URL:                 st.URL,
			Role:                string(st.Role),
			Healthy:             st.Healthy,
			TxIndexing:          st.TxIndexing,
			ConsecutiveFailures: st.ConsecutiveFailures,
		})
		if st.Healthy {
			healthyEndpoints++
		}
	}

	failingTasks := 0
	for _, st := range m.scheduler.Stats() {
		report.Tasks = append(report.Tasks, TaskState{
			Module:    st.Module,
			RunCount:  st.RunCount,
			ErrCount:  st.ErrCount,
			LastError: st.LastError,
		})
		if st.RunCount > 0 && st.ErrCount == st.RunCount {
			failingTasks++
		}
	}

	if m.sink != nil {
		report.Sink = &SinkState{
			QueueLen: m.sink.QueueLen(),
			Dropped:  m.sink.Dropped(),
		}
	}

	switch {
	case healthyEndpoints == 0 || failingTasks == len(report.Tasks) && len(report.Tasks) > 0:
		report.Status = StatusCritical
	case failingTasks > 0 || healthyEndpoints < len(report.Endpoints):
		report.Status = StatusDegraded
	}

	m.lastCheck = time.Now()
	m.lastReport = report
	return report
}
