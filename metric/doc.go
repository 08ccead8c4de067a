// Package metric provides Prometheus metrics registration and the HTTP
// endpoints that expose them, together with the aggregated health report.
//
// # Registry
//
// A single MetricsRegistry owns the Prometheus registry for the whole
// process. It registers the core platform metrics at construction and hands
// components a MetricsRegistrar for their own collectors:
//
//	registry := metric.NewMetricsRegistry()
//
//	counter := prometheus.NewCounter(prometheus.CounterOpts{
//	    Namespace: "ediproc",
//	    Subsystem: "watcher",
//	    Name:      "events_published",
//	    Help:      "Events published for new objects",
//	})
//	err := registry.RegisterCounter("watcher", "events_published", counter)
//
// Registration is tracked under a "service.metric" key, so the same
// component registering the same metric twice fails early with an invalid
// error instead of a Prometheus panic. Name collisions between different
// components surface as invalid errors too ("prometheus conflict").
//
// # Core metrics
//
// Platform metrics live under the ediproc namespace and are shared by the
// runtime rather than any single component:
//
//   - ediproc_component_up / ediproc_component_healthy per component
//   - ediproc_service_uptime_seconds
//   - ediproc_errors_total by component and class
//   - ediproc_nats_connected, connection_state, rtt_milliseconds, reconnects
//
// Domain metrics (watcher events, ingestion outcomes, dispatch deliveries)
// are owned and registered by their packages.
//
// # HTTP server
//
// Server exposes /metrics for Prometheus scrapes and /health for liveness
// probes. The health endpoint renders the aggregated health.Monitor state as
// JSON; degraded components still answer 200, only an unhealthy aggregate
// returns 503:
//
//	monitor := health.NewMonitor()
//	server := metric.NewServer(":9090", registry, monitor)
//
//	go func() {
//	    if err := server.Start(); err != nil {
//	        slog.Error("Metrics server failed", "error", err)
//	    }
//	}()
//	defer server.Stop()
//
// Start blocks until Stop is called and returns nil on a clean shutdown, so
// it can run directly under an errgroup.
package metric
