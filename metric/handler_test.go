package metric

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/health"
)

func TestNewServerDefaults(t *testing.T) {
	registry := NewMetricsRegistry()

	server := NewServer("", registry, nil)
	assert.Equal(t, "http://localhost:9090/metrics", server.Address())

	server = NewServer(":8181", registry, nil)
	assert.Equal(t, "http://localhost:8181/metrics", server.Address())
}

func TestServerStartWithoutRegistry(t *testing.T) {
	server := NewServer(":0", nil, nil)

	err := server.Start()
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestServerStopWithoutStart(t *testing.T) {
	server := NewServer(":0", NewMetricsRegistry(), nil)
	assert.NoError(t, server.Stop())
}

func TestServerMetricsEndpoint(t *testing.T) {
	registry := NewMetricsRegistry()
	registry.CoreMetrics().RecordComponentUp("watcher", true)

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ediproc",
		Subsystem: "ingest",
		Name:      "scrape_test_total",
		Help:      "Counter visible to the scrape test",
	})
	require.NoError(t, registry.RegisterCounter("ingest", "scrape_test", counter))
	counter.Inc()

	server := NewServer(":0", registry, nil)
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ediproc_component_up")
	assert.Contains(t, string(body), "ediproc_ingest_scrape_test_total")
}

func TestServerHealthEndpointWithoutMonitor(t *testing.T) {
	server := NewServer(":0", NewMetricsRegistry(), nil)
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerHealthEndpoint(t *testing.T) {
	monitor := health.NewMonitor()
	monitor.SetHealthy("watcher", "Watching bucket")
	monitor.SetHealthy("dispatch", "Consuming")

	server := NewServer(":0", NewMetricsRegistry(), monitor)
	ts := httptest.NewServer(server.routes())
	defer ts.Close()

	t.Run("all healthy", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

		var status health.Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.Equal(t, "edi-processor", status.Component)
		assert.True(t, status.IsHealthy())
		assert.Len(t, status.Components, 2)
	})

	t.Run("degraded answers 200", func(t *testing.T) {
		monitor.SetDegraded("dispatch", "Broker reconnecting")

		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var status health.Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.True(t, status.IsDegraded())
	})

	t.Run("unhealthy answers 503", func(t *testing.T) {
		monitor.SetUnhealthy("dispatch", "Consumer lost")

		resp, err := http.Get(ts.URL + "/health")
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var status health.Status
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
		assert.True(t, status.IsUnhealthy())
	})
}

// componentWithMetrics registers metrics the way watcher, ingest and dispatch
// do, through the MetricsRegistrar interface.
type componentWithMetrics struct {
	name      string
	processed prometheus.Counter
	backlog   prometheus.Gauge
}

func (c *componentWithMetrics) register(registrar MetricsRegistrar) error {
	c.processed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ediproc",
		Subsystem: c.name,
		Name:      "items_processed_total",
		Help:      "Items processed by the component",
	})
	if err := registrar.RegisterCounter(c.name, "items_processed_total", c.processed); err != nil {
		return err
	}

	c.backlog = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ediproc",
		Subsystem: c.name,
		Name:      "backlog",
		Help:      "Items awaiting processing",
	})
	return registrar.RegisterGauge(c.name, "backlog", c.backlog)
}

func TestComponentRegistrationFlow(t *testing.T) {
	registry := NewMetricsRegistry()

	comp := &componentWithMetrics{name: "seeder"}
	require.NoError(t, comp.register(registry))

	comp.processed.Add(10)
	comp.backlog.Set(3)

	found := gatheredNames(t, registry)
	assert.True(t, found["ediproc_seeder_items_processed_total"])
	assert.True(t, found["ediproc_seeder_backlog"])

	// A second component with the same name collides at the registry key.
	dup := &componentWithMetrics{name: "seeder"}
	err := dup.register(registry)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "already registered")
}
