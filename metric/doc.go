// Package metric provides Prometheus-based metrics collection and an
// HTTP exposition server for runtime observability.
//
// The MetricsRegistry wraps a dedicated prometheus.Registry with a
// name-keyed index so components can register their own collectors
// without colliding, and exposes the core platform metrics every
// process carries: engine status, message delivery and drop counters,
// dispatch latency, runloop queue depth, and remote connection health.
//
// Usage:
//
//	registry := metric.NewMetricsRegistry()
//	registry.CoreMetrics().RecordMessageDelivered(graphID, "cmd")
//
//	srv := metric.NewServer(9090, "/metrics", registry)
//	go srv.Start()
//	defer srv.Stop()
//
// Components with their own metrics register them under a component
// name; duplicate registration fails rather than silently overwriting.
package metric
