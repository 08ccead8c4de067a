package feed

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/itsBaivab/edi-file-processor/metric"
)

// feedMetrics holds Prometheus metrics for the live audit feed.
type feedMetrics struct {
	clientsConnected prometheus.Gauge
	connectionsTotal prometheus.Counter
	recordsSent      prometheus.Counter
	snapshotRows     prometheus.Counter
	sendErrors       prometheus.Counter
	disconnects      *prometheus.CounterVec
}

// newFeedMetrics creates and registers feed metrics
func newFeedMetrics(registry *metric.MetricsRegistry) *feedMetrics {
	// A nil registry disables instrumentation.
	if registry == nil {
		return nil
	}

	m := &feedMetrics{
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ediproc",
			Subsystem: "feed",
			Name:      "clients_connected",
			Help:      "Feed clients currently connected",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "feed",
			Name:      "connections_total",
			Help:      "Feed client connections accepted since start",
		}),
		recordsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "feed",
			Name:      "records_sent_total",
			Help:      "Live audit records delivered to clients",
		}),
		snapshotRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "feed",
			Name:      "snapshot_rows_total",
			Help:      "Audit rows sent in connect snapshots",
		}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "feed",
			Name:      "send_errors_total",
			Help:      "Failed writes to feed clients",
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "feed",
			Name:      "disconnects_total",
			Help:      "Client disconnections by reason",
		}, []string{"reason"}),
	}

	registry.RegisterGauge("feed", "clients_connected", m.clientsConnected)
	registry.RegisterCounter("feed", "connections", m.connectionsTotal)
	registry.RegisterCounter("feed", "records_sent", m.recordsSent)
	registry.RegisterCounter("feed", "snapshot_rows", m.snapshotRows)
	registry.RegisterCounter("feed", "send_errors", m.sendErrors)
	registry.RegisterCounterVec("feed", "disconnects", m.disconnects)

	return m
}

func (m *feedMetrics) setClients(count int) {
	if m == nil {
		return
	}
	m.clientsConnected.Set(float64(count))
}

func (m *feedMetrics) recordConnection() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
}

func (m *feedMetrics) recordSent(records int) {
	if m == nil {
		return
	}
	m.recordsSent.Add(float64(records))
}

func (m *feedMetrics) recordSnapshot(rows int) {
	if m == nil {
		return
	}
	m.snapshotRows.Add(float64(rows))
}

func (m *feedMetrics) recordSendError() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}

func (m *feedMetrics) recordDisconnect(reason string) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(reason).Inc()
}
