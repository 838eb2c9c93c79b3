package engine

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/flowmesh/metric"
)

// engineMetrics holds Prometheus metrics for graph engine operations.
type engineMetrics struct {
	// Graph lifecycle operations
	starts *prometheus.CounterVec // By graph_id and status (success/failure)
	stops  *prometheus.CounterVec // By graph_id and status

	// Operation latency
	startDuration *prometheus.HistogramVec // By graph_id
	stopDuration  *prometheus.HistogramVec // By graph_id

	// Routing metrics
	messagesRouted  *prometheus.CounterVec // By graph_id and type
	messagesDropped *prometheus.CounterVec // By graph_id and reason
	commandsSent    *prometheus.CounterVec // By graph_id
	noDestination   *prometheus.CounterVec // By graph_id
	timeouts        *prometheus.CounterVec // By graph_id
	inFlight        *prometheus.GaugeVec   // By graph_id

	// State metrics
	activeGraphs prometheus.Gauge // Current number of running graphs
}

// newEngineMetrics creates and registers engine metrics with the provided registry.
func newEngineMetrics(registry *metric.MetricsRegistry) (*engineMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &engineMetrics{
		starts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "graph",
			Name:      "starts_total",
			Help:      "Total number of graph start operations",
		}, []string{"graph_id", "status"}), // status: success, failure

		stops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "graph",
			Name:      "stops_total",
			Help:      "Total number of graph stop operations",
		}, []string{"graph_id", "status"}),

		startDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "graph",
			Name:      "start_duration_seconds",
			Help:      "Graph start operation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0, 10.0},
		}, []string{"graph_id"}),

		stopDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "flowmesh",
			Subsystem: "graph",
			Name:      "stop_duration_seconds",
			Help:      "Graph stop operation duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1.0, 2.0, 5.0},
		}, []string{"graph_id"}),

		messagesRouted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "routing",
			Name:      "messages_total",
			Help:      "Total number of messages routed to local destinations",
		}, []string{"graph_id", "type"}),

		messagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "routing",
			Name:      "dropped_total",
			Help:      "Total number of messages refused at the delivery boundary",
		}, []string{"graph_id", "reason"}), // reason: inbox, schema_mismatch

		commandsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "routing",
			Name:      "commands_total",
			Help:      "Total number of commands sent with correlation state",
		}, []string{"graph_id"}),

		noDestination: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "routing",
			Name:      "no_destination_total",
			Help:      "Total number of sends that resolved to zero destinations",
		}, []string{"graph_id"}),

		timeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "flowmesh",
			Subsystem: "routing",
			Name:      "command_timeouts_total",
			Help:      "Total number of commands whose result deadline passed",
		}, []string{"graph_id"}),

		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Subsystem: "routing",
			Name:      "commands_in_flight",
			Help:      "Commands holding correlation state awaiting a final result",
		}, []string{"graph_id"}),

		activeGraphs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "flowmesh",
			Subsystem: "graph",
			Name:      "active",
			Help:      "Current number of active (running) graphs",
		}),
	}

	// Register all metrics
	if err := registry.RegisterCounterVec("engine", "starts", m.starts); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "stops", m.stops); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "start_duration", m.startDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogramVec("engine", "stop_duration", m.stopDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "messages_routed", m.messagesRouted); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "messages_dropped", m.messagesDropped); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "commands_sent", m.commandsSent); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "no_destination", m.noDestination); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounterVec("engine", "command_timeouts", m.timeouts); err != nil {
		return nil, err
	}
	if err := registry.RegisterGaugeVec("engine", "commands_in_flight", m.inFlight); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("engine", "active_graphs", m.activeGraphs); err != nil {
		return nil, err
	}

	return m, nil
}

// recordStart records a graph start operation.
func (m *engineMetrics) recordStart(graphID string, success bool, duration float64) {
	if m == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	m.starts.WithLabelValues(graphID, status).Inc()
	m.startDuration.WithLabelValues(graphID).Observe(duration)

	if success {
		m.activeGraphs.Inc()
	}
}

// recordStop records a graph stop operation.
func (m *engineMetrics) recordStop(graphID string, success bool, duration float64) {
	if m == nil {
		return
	}

	status := "success"
	if !success {
		status = "failure"
	}

	m.stops.WithLabelValues(graphID, status).Inc()
	m.stopDuration.WithLabelValues(graphID).Observe(duration)
	m.activeGraphs.Dec()
}

// recordRouted records a successful local delivery.
func (m *engineMetrics) recordRouted(graphID, msgType string) {
	if m != nil {
		m.messagesRouted.WithLabelValues(graphID, msgType).Inc()
	}
}

// recordDropped records a message refused at the delivery boundary.
func (m *engineMetrics) recordDropped(graphID, reason string) {
	if m != nil {
		m.messagesDropped.WithLabelValues(graphID, reason).Inc()
	}
}

// recordCommandSent records a command given correlation state.
func (m *engineMetrics) recordCommandSent(graphID string) {
	if m != nil {
		m.commandsSent.WithLabelValues(graphID).Inc()
	}
}

// recordPendingAdd tracks a command entering the pending map.
func (m *engineMetrics) recordPendingAdd(graphID string) {
	if m != nil {
		m.inFlight.WithLabelValues(graphID).Inc()
	}
}

// recordPendingDone tracks a command leaving the pending map.
func (m *engineMetrics) recordPendingDone(graphID string) {
	if m != nil {
		m.inFlight.WithLabelValues(graphID).Dec()
	}
}

// recordNoDestination records a send that resolved to zero destinations.
func (m *engineMetrics) recordNoDestination(graphID string) {
	if m != nil {
		m.noDestination.WithLabelValues(graphID).Inc()
	}
}

// recordTimeout records an expired command deadline.
func (m *engineMetrics) recordTimeout(graphID string) {
	if m != nil {
		m.timeouts.WithLabelValues(graphID).Inc()
	}
}
