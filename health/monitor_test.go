package health

import (
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/flowmesh/errors"
	"github.com/c360/flowmesh/metric"
)

func TestMonitorSetGetRemove(t *testing.T) {
	m := NewMonitor()
	m.SetHealthy("store", "12 addons registered")
	m.SetDegraded("peer:b", "reconnecting")

	status, ok := m.Get("store")
	require.True(t, ok)
	assert.Equal(t, "store", status.Component)
	assert.True(t, status.IsHealthy())
	assert.False(t, status.Timestamp.IsZero())

	assert.Equal(t, 2, m.Count())
	m.Remove("peer:b")
	assert.Equal(t, 1, m.Count())
	_, ok = m.Get("peer:b")
	assert.False(t, ok)
}

func TestMonitorSystemAggregation(t *testing.T) {
	m := NewMonitor()
	m.SetHealthy("store", "")
	m.SetHealthy("graph:g-1", "")
	assert.True(t, m.System("app").IsHealthy())

	m.SetFromError("peer:b",
		errors.WrapTransient(errors.ErrConnectionClosed, "App", "SendMessage", "send"))
	assert.True(t, m.System("app").IsDegraded())

	m.SetUnhealthy("graph:g-1", "engine start failed")
	system := m.System("app")
	assert.True(t, system.IsUnhealthy())
	assert.Len(t, system.Sub, 3)
}

func TestMonitorAllReturnsCopy(t *testing.T) {
	m := NewMonitor()
	m.SetHealthy("store", "")

	all := m.All()
	delete(all, "store")
	_, ok := m.Get("store")
	assert.True(t, ok)
}

func TestMonitorConcurrentUpdates(t *testing.T) {
	m := NewMonitor()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.SetHealthy("store", "")
				m.System("app")
				_ = m.All()
				_ = n
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, m.Count())
}

func TestMonitorRecordsMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	m := NewMonitor(WithMonitorMetrics(registry.CoreMetrics()))
	m.SetHealthy("store", "")
	m.SetUnhealthy("graph:g-1", "down")

	families, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
	found := false
	for _, family := range families {
		if family.GetName() == "flowmesh_health_status" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestHandlerStatusCodes(t *testing.T) {
	m := NewMonitor()
	m.SetHealthy("store", "")
	handler := m.Handler("app")

	rec := httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 200, rec.Code)

	var status Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "app", status.Component)
	assert.Equal(t, StateHealthy, status.State)

	m.SetUnhealthy("graph:g-1", "down")
	rec = httptest.NewRecorder()
	handler(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 503, rec.Code)
}
