package metric

import (
	stderrors "errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/itsBaivab/edi-file-processor/errors"
)

// MetricsRegistrar is the registration surface handed to pipeline
// components. Collectors are keyed by service and metric name, so one
// component cannot silently shadow another's metric.
type MetricsRegistrar interface {
	RegisterCounter(service, name string, counter prometheus.Counter) error
	RegisterGauge(service, name string, gauge prometheus.Gauge) error
	RegisterHistogram(service, name string, histogram prometheus.Histogram) error
	RegisterCounterVec(service, name string, vec *prometheus.CounterVec) error
	RegisterGaugeVec(service, name string, vec *prometheus.GaugeVec) error
}

// MetricsRegistry owns the process's Prometheus registry. It starts out
// with the core pipeline metrics plus the Go runtime and process
// collectors; components add their own collectors through the
// MetricsRegistrar methods.
type MetricsRegistry struct {
	prom *prometheus.Registry
	core *Metrics

	mu    sync.Mutex
	byKey map[string]prometheus.Collector
}

// NewMetricsRegistry builds a registry with the core metric set installed.
func NewMetricsRegistry() *MetricsRegistry {
	r := &MetricsRegistry{
		prom:  prometheus.NewRegistry(),
		core:  NewMetrics(),
		byKey: make(map[string]prometheus.Collector),
	}

	r.prom.MustRegister(
		r.core.ComponentUp,
		r.core.ComponentHealth,
		r.core.UptimeSeconds,
		r.core.ErrorsTotal,
		r.core.NATSConnected,
		r.core.NATSState,
		r.core.NATSRTT,
		r.core.NATSReconnects,
	)
	r.prom.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

// PrometheusRegistry exposes the underlying registry for the HTTP handler.
func (r *MetricsRegistry) PrometheusRegistry() *prometheus.Registry {
	return r.prom
}

// CoreMetrics returns the shared pipeline metrics.
func (r *MetricsRegistry) CoreMetrics() *Metrics {
	return r.core
}

// RegisterCounter registers a counter under service/name.
func (r *MetricsRegistry) RegisterCounter(service, name string, counter prometheus.Counter) error {
	return r.add(service, name, "RegisterCounter", counter)
}

// RegisterGauge registers a gauge under service/name.
func (r *MetricsRegistry) RegisterGauge(service, name string, gauge prometheus.Gauge) error {
	return r.add(service, name, "RegisterGauge", gauge)
}

// RegisterHistogram registers a histogram under service/name.
func (r *MetricsRegistry) RegisterHistogram(service, name string, histogram prometheus.Histogram) error {
	return r.add(service, name, "RegisterHistogram", histogram)
}

// RegisterCounterVec registers a labeled counter under service/name.
func (r *MetricsRegistry) RegisterCounterVec(service, name string, vec *prometheus.CounterVec) error {
	return r.add(service, name, "RegisterCounterVec", vec)
}

// RegisterGaugeVec registers a labeled gauge under service/name.
func (r *MetricsRegistry) RegisterGaugeVec(service, name string, vec *prometheus.GaugeVec) error {
	return r.add(service, name, "RegisterGaugeVec", vec)
}

// add registers a collector under service/name. A reused key or a
// Prometheus-level name conflict classifies invalid so the caller can tell
// a wiring mistake from a registry failure.
func (r *MetricsRegistry) add(service, name, op string, collector prometheus.Collector) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := fmt.Sprintf("%s.%s", service, name)
	if _, taken := r.byKey[key]; taken {
		return errors.WrapInvalid(
			fmt.Errorf("metric %s already registered for service %s", name, service),
			"MetricsRegistry", op, "duplicate metric registration")
	}

	if err := r.prom.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if stderrors.As(err, &already) {
			return errors.WrapInvalid(err, "MetricsRegistry", op,
				fmt.Sprintf("prometheus conflict for metric %s", name))
		}
		return errors.WrapFatal(err, "MetricsRegistry", op, "register collector")
	}

	r.byKey[key] = collector
	return nil
}
