package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/itsBaivab/edi-file-processor/metric"
)

// dispatcherMetrics holds Prometheus metrics for the delivery loop.
type dispatcherMetrics struct {
	deliveriesTotal prometheus.Counter
	redeliveries    prometheus.Counter
	acksTotal       prometheus.Counter
	naksTotal       prometheus.Counter
	decodeFailures  prometheus.Counter
	inFlight        prometheus.Gauge
}

// newDispatcherMetrics creates and registers dispatcher metrics
func newDispatcherMetrics(registry *metric.MetricsRegistry) *dispatcherMetrics {
	// A nil registry disables instrumentation.
	if registry == nil {
		return nil
	}

	m := &dispatcherMetrics{
		deliveriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "dispatch",
			Name:      "deliveries_total",
			Help:      "Messages delivered by the durable consumer",
		}),
		redeliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "dispatch",
			Name:      "redeliveries_total",
			Help:      "Deliveries with a delivery count above one",
		}),
		acksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "dispatch",
			Name:      "acks_total",
			Help:      "Deliveries acknowledged after a terminal outcome",
		}),
		naksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "dispatch",
			Name:      "naks_total",
			Help:      "Deliveries handed back for redelivery with backoff",
		}),
		decodeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "dispatch",
			Name:      "decode_failures_total",
			Help:      "Payloads that never decoded into a blob event",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ediproc",
			Subsystem: "dispatch",
			Name:      "in_flight",
			Help:      "Deliveries currently inside the ingestion handler",
		}),
	}

	registry.RegisterCounter("dispatch", "deliveries", m.deliveriesTotal)
	registry.RegisterCounter("dispatch", "redeliveries", m.redeliveries)
	registry.RegisterCounter("dispatch", "acks", m.acksTotal)
	registry.RegisterCounter("dispatch", "naks", m.naksTotal)
	registry.RegisterCounter("dispatch", "decode_failures", m.decodeFailures)
	registry.RegisterGauge("dispatch", "in_flight", m.inFlight)

	return m
}

func (m *dispatcherMetrics) recordDelivery(redelivered bool) {
	if m == nil {
		return
	}
	m.deliveriesTotal.Inc()
	if redelivered {
		m.redeliveries.Inc()
	}
}

func (m *dispatcherMetrics) recordAck() {
	if m == nil {
		return
	}
	m.acksTotal.Inc()
}

func (m *dispatcherMetrics) recordNak() {
	if m == nil {
		return
	}
	m.naksTotal.Inc()
}

func (m *dispatcherMetrics) recordDecodeFailure() {
	if m == nil {
		return
	}
	m.decodeFailures.Inc()
}

func (m *dispatcherMetrics) inFlightAdd(delta float64) {
	if m == nil {
		return
	}
	m.inFlight.Add(delta)
}
