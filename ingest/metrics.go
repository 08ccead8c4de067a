package ingest

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/itsBaivab/edi-file-processor/metric"
)

// handlerMetrics holds Prometheus metrics for ingestion handler operations.
type handlerMetrics struct {
	outcomesTotal   *prometheus.CounterVec // By terminal status (Processed/Failed/Skipped)
	dedupedTotal    prometheus.Counter
	transientErrors prometheus.Counter
	processDuration prometheus.Histogram
	processedFiles  prometheus.Gauge // Running Processed total from the audit store
}

// newHandlerMetrics creates and registers ingestion metrics with the provided registry.
func newHandlerMetrics(registry *metric.MetricsRegistry) (*handlerMetrics, error) {
	if registry == nil {
		return nil, nil // Metrics disabled
	}

	m := &handlerMetrics{
		outcomesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "ingest",
			Name:      "outcomes_total",
			Help:      "Terminal processing outcomes by audit status",
		}, []string{"status"}),

		dedupedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "ingest",
			Name:      "deduped_total",
			Help:      "Duplicate deliveries resolved without a new audit row",
		}),

		transientErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "ingest",
			Name:      "transient_errors_total",
			Help:      "Invocations that failed transiently and await redelivery",
		}),

		processDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ediproc",
			Subsystem: "ingest",
			Name:      "process_duration_seconds",
			Help:      "End-to-end handler invocation duration",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),

		processedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ediproc",
			Subsystem: "ingest",
			Name:      "processed_files",
			Help:      "Total files processed so far per the audit store",
		}),
	}

	if err := registry.RegisterCounterVec("ingest", "outcomes_total", m.outcomesTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ingest", "deduped_total", m.dedupedTotal); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("ingest", "transient_errors", m.transientErrors); err != nil {
		return nil, err
	}
	if err := registry.RegisterHistogram("ingest", "process_duration", m.processDuration); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("ingest", "processed_files", m.processedFiles); err != nil {
		return nil, err
	}

	return m, nil
}

// recordOutcome records one terminal invocation.
func (m *handlerMetrics) recordOutcome(status string, deduped bool, duration time.Duration) {
	if m == nil {
		return
	}

	m.outcomesTotal.WithLabelValues(status).Inc()
	if deduped {
		m.dedupedTotal.Inc()
	}
	m.processDuration.Observe(duration.Seconds())
}

// recordTransient records an invocation handed back for redelivery.
func (m *handlerMetrics) recordTransient() {
	if m == nil {
		return
	}
	m.transientErrors.Inc()
}

// setProcessedTotal updates the running total gauge.
func (m *handlerMetrics) setProcessedTotal(total int64) {
	if m == nil {
		return
	}
	m.processedFiles.Set(float64(total))
}
