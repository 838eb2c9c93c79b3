package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all platform-level metrics (not graph-specific)
type Metrics struct {
	// App and engine metrics
	EngineStatus      *prometheus.GaugeVec
	MessagesDelivered *prometheus.CounterVec
	MessagesDropped   *prometheus.CounterVec
	DispatchDuration  *prometheus.HistogramVec
	ErrorsTotal       *prometheus.CounterVec
	HealthCheckStatus *prometheus.GaugeVec

	// Runloop metrics
	RunloopQueueDepth *prometheus.GaugeVec
	RunloopPanics     *prometheus.CounterVec

	// Remote connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionErrors  prometheus.Counter
	FramesSent        prometheus.Counter
	FramesReceived    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all platform metrics
func NewMetrics() *Metrics {
	return &Metrics{
		EngineStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowmesh",
				Subsystem: "engine",
				Name:      "status",
				Help:      "Engine status (0=stopped, 1=starting, 2=running, 3=stopping, 4=failed)",
			},
			[]string{"graph_id"},
		),

		MessagesDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowmesh",
				Subsystem: "messages",
				Name:      "delivered_total",
				Help:      "Total number of messages delivered to extensions",
			},
			[]string{"graph_id", "type"},
		),

		MessagesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowmesh",
				Subsystem: "messages",
				Name:      "dropped_total",
				Help:      "Total number of messages dropped (flush, overflow, stop)",
			},
			[]string{"graph_id", "reason"},
		),

		DispatchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flowmesh",
				Subsystem: "dispatch",
				Name:      "duration_seconds",
				Help:      "Message handler dispatch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"graph_id", "extension"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowmesh",
				Subsystem: "errors",
				Name:      "total",
				Help:      "Total number of errors",
			},
			[]string{"graph_id", "type"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowmesh",
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		RunloopQueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "flowmesh",
				Subsystem: "runloop",
				Name:      "queue_depth",
				Help:      "Current task queue depth per runloop",
			},
			[]string{"runloop"},
		),

		RunloopPanics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flowmesh",
				Subsystem: "runloop",
				Name:      "panics_total",
				Help:      "Total number of recovered task panics per runloop",
			},
			[]string{"runloop"},
		),

		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "flowmesh",
				Subsystem: "remote",
				Name:      "connections_active",
				Help:      "Current number of live remote connections",
			},
		),

		ConnectionErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flowmesh",
				Subsystem: "remote",
				Name:      "connection_errors_total",
				Help:      "Total number of remote connection failures",
			},
		),

		FramesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flowmesh",
				Subsystem: "remote",
				Name:      "frames_sent_total",
				Help:      "Total number of frames written to remote peers",
			},
		),

		FramesReceived: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "flowmesh",
				Subsystem: "remote",
				Name:      "frames_received_total",
				Help:      "Total number of frames read from remote peers",
			},
		),
	}
}

// RecordEngineStatus updates engine status metric
func (c *Metrics) RecordEngineStatus(graphID string, status int) {
	c.EngineStatus.WithLabelValues(graphID).Set(float64(status))
}

// RecordMessageDelivered increments the delivered message counter
func (c *Metrics) RecordMessageDelivered(graphID, messageType string) {
	c.MessagesDelivered.WithLabelValues(graphID, messageType).Inc()
}

// RecordMessageDropped increments the dropped message counter
func (c *Metrics) RecordMessageDropped(graphID, reason string) {
	c.MessagesDropped.WithLabelValues(graphID, reason).Inc()
}

// RecordDispatchDuration records handler execution time
func (c *Metrics) RecordDispatchDuration(graphID, extensionName string, duration time.Duration) {
	c.DispatchDuration.WithLabelValues(graphID, extensionName).Observe(duration.Seconds())
}

// RecordError increments error counter
func (c *Metrics) RecordError(graphID, errorType string) {
	c.ErrorsTotal.WithLabelValues(graphID, errorType).Inc()
}

// RecordHealthStatus updates health check status
func (c *Metrics) RecordHealthStatus(component string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	c.HealthCheckStatus.WithLabelValues(component).Set(value)
}

// RecordRunloopDepth updates the queue depth gauge for a runloop
func (c *Metrics) RecordRunloopDepth(runloop string, depth int) {
	c.RunloopQueueDepth.WithLabelValues(runloop).Set(float64(depth))
}

// RecordRunloopPanic increments the recovered panic counter for a runloop
func (c *Metrics) RecordRunloopPanic(runloop string) {
	c.RunloopPanics.WithLabelValues(runloop).Inc()
}

// RecordConnectionOpened increments the live connection gauge
func (c *Metrics) RecordConnectionOpened() {
	c.ConnectionsActive.Inc()
}

// RecordConnectionClosed decrements the live connection gauge
func (c *Metrics) RecordConnectionClosed() {
	c.ConnectionsActive.Dec()
}

// RecordConnectionError increments the connection failure counter
func (c *Metrics) RecordConnectionError() {
	c.ConnectionErrors.Inc()
}

// RecordFrameSent increments the sent frame counter
func (c *Metrics) RecordFrameSent() {
	c.FramesSent.Inc()
}

// RecordFrameReceived increments the received frame counter
func (c *Metrics) RecordFrameReceived() {
	c.FramesReceived.Inc()
}
