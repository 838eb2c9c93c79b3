package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/c360/flowmesh/metric"
)

// Monitor tracks the health of named components. Safe for concurrent
// use; reads see consistent snapshots.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	core     *metric.Metrics
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithMonitorMetrics mirrors every status update into the core health
// gauge.
func WithMonitorMetrics(core *metric.Metrics) MonitorOption {
	return func(m *Monitor) { m.core = core }
}

// NewMonitor creates an empty monitor.
func NewMonitor(opts ...MonitorOption) *Monitor {
	m := &Monitor{statuses: make(map[string]Status)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Set records the status for a component, stamping the component name
// and a timestamp if missing.
func (m *Monitor) Set(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.statuses[name] = status
	m.mu.Unlock()

	if m.core != nil {
		m.core.RecordHealthStatus(name, status.IsHealthy())
	}
}

// SetHealthy marks a component healthy.
func (m *Monitor) SetHealthy(name, message string) {
	m.Set(name, Healthy(name, message))
}

// SetDegraded marks a component degraded.
func (m *Monitor) SetDegraded(name, message string) {
	m.Set(name, Degraded(name, message))
}

// SetUnhealthy marks a component unhealthy.
func (m *Monitor) SetUnhealthy(name, message string) {
	m.Set(name, Unhealthy(name, message))
}

// SetFromError records a status derived from an error outcome.
func (m *Monitor) SetFromError(name string, err error) {
	m.Set(name, FromError(name, err))
}

// Get returns the status of one component.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.statuses[name]
	return status, ok
}

// All returns a copy of every tracked status.
func (m *Monitor) All() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		out[name] = status
	}
	return out
}

// Remove drops a component from tracking, e.g. when its graph stops.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.statuses, name)
	m.mu.Unlock()
}

// Count returns the number of tracked components.
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// System aggregates every tracked status under one name.
func (m *Monitor) System(name string) Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subs = append(subs, status)
	}
	m.mu.RUnlock()
	return Aggregate(name, subs)
}

// Handler serves the aggregated system status as JSON: 200 while
// healthy or degraded, 503 when unhealthy.
func (m *Monitor) Handler(system string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		status := m.System(system)
		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	}
}
