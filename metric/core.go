package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains platform-level metrics shared by every component. Domain
// metrics (watcher, ingest, dispatch) are registered by their own packages
// through the MetricsRegistrar interface.
type Metrics struct {
	ComponentUp     *prometheus.GaugeVec
	ComponentHealth *prometheus.GaugeVec
	UptimeSeconds   prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec

	NATSConnected  prometheus.Gauge
	NATSState      prometheus.Gauge
	NATSRTT        prometheus.Gauge
	NATSReconnects prometheus.Gauge
}

func platformGauge(subsystem, name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ediproc",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	})
}

func platformGaugeVec(subsystem, name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ediproc",
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

// NewMetrics builds the platform metric set. Nothing is registered until the
// set is handed to a MetricsRegistry.
func NewMetrics() *Metrics {
	return &Metrics{
		ComponentUp: platformGaugeVec("component", "up",
			"Component running state (0=stopped, 1=running)", "component"),
		ComponentHealth: platformGaugeVec("component", "healthy",
			"Component health check result (0=unhealthy, 1=healthy)", "component"),
		UptimeSeconds: platformGauge("service", "uptime_seconds",
			"Seconds since the service started"),
		ErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "errors",
			Name:      "total",
			Help:      "Errors by component and class",
		}, []string{"component", "class"}),

		NATSConnected: platformGauge("nats", "connected",
			"Broker connection up (0 or 1)"),
		NATSState: platformGauge("nats", "connection_state",
			"Client state (0=disconnected, 1=connected, 2=reconnecting, 3=circuit_open)"),
		NATSRTT: platformGauge("nats", "rtt_milliseconds",
			"Broker round-trip time in milliseconds"),
		NATSReconnects: platformGauge("nats", "reconnects",
			"Reconnections reported by the client"),
	}
}

// gaugeValue converts a boolean to the 0/1 convention the gauges use.
func gaugeValue(on bool) float64 {
	if on {
		return 1
	}
	return 0
}

// RecordComponentUp updates a component's running-state gauge.
func (m *Metrics) RecordComponentUp(component string, up bool) {
	m.ComponentUp.WithLabelValues(component).Set(gaugeValue(up))
}

// RecordComponentHealth updates a component's health check gauge.
func (m *Metrics) RecordComponentHealth(component string, healthy bool) {
	m.ComponentHealth.WithLabelValues(component).Set(gaugeValue(healthy))
}

// SetUptime updates the service uptime gauge.
func (m *Metrics) SetUptime(uptime time.Duration) {
	m.UptimeSeconds.Set(uptime.Seconds())
}

// RecordError counts one error against a component and class.
func (m *Metrics) RecordError(component, class string) {
	m.ErrorsTotal.WithLabelValues(component, class).Inc()
}

// RecordNATSStatus updates the broker connection gauges.
func (m *Metrics) RecordNATSStatus(connected bool, state int) {
	m.NATSConnected.Set(gaugeValue(connected))
	m.NATSState.Set(float64(state))
}

// RecordNATSRTT updates the broker round-trip time gauge.
func (m *Metrics) RecordNATSRTT(rtt time.Duration) {
	m.NATSRTT.Set(float64(rtt.Milliseconds()))
}

// SetNATSReconnects mirrors the client's reconnect count.
func (m *Metrics) SetNATSReconnects(count int32) {
	m.NATSReconnects.Set(float64(count))
}
