package natsclient

import (
	"context"
	"sync"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/itsBaivab/edi-file-processor/metric"
)

// jetstreamMetrics polls broker-side stream and consumer state into
// Prometheus gauges. Delivered and ack floor are stream sequence
// positions, not event counts, so they are exported as gauges; the gap
// between them is the in-flight window of the consumer.
//
// All methods are safe on a nil receiver, which is how a client without
// a metrics registry runs.
type jetstreamMetrics struct {
	streamMessages *prometheus.GaugeVec
	streamBytes    *prometheus.GaugeVec
	streamState    *prometheus.GaugeVec

	consumerPending     *prometheus.GaugeVec
	consumerDelivered   *prometheus.GaugeVec
	consumerAckFloor    *prometheus.GaugeVec
	consumerRedelivered *prometheus.GaugeVec

	pollErrors *prometheus.CounterVec

	mu        sync.RWMutex
	streams   map[string]jetstream.Stream
	consumers map[string]trackedConsumer
}

type trackedConsumer struct {
	stream   string
	name     string
	consumer jetstream.Consumer
}

func jsGauge(name, help string, labels ...string) *prometheus.GaugeVec {
	return prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "ediproc",
		Subsystem: "jetstream",
		Name:      name,
		Help:      help,
	}, labels)
}

func newJetStreamMetrics(registry *metric.MetricsRegistry) (*jetstreamMetrics, error) {
	if registry == nil {
		return nil, nil
	}

	m := &jetstreamMetrics{
		streamMessages: jsGauge("stream_messages",
			"Messages currently held by the stream.", "stream"),
		streamBytes: jsGauge("stream_bytes",
			"Bytes currently held by the stream.", "stream"),
		streamState: jsGauge("stream_state",
			"1 when the stream answered the last poll, 0 otherwise.", "stream"),
		consumerPending: jsGauge("consumer_pending_messages",
			"Messages waiting to be delivered to the consumer.", "stream", "consumer"),
		consumerDelivered: jsGauge("consumer_delivered_sequence",
			"Highest stream sequence delivered to the consumer.", "stream", "consumer"),
		consumerAckFloor: jsGauge("consumer_ack_floor_sequence",
			"Highest stream sequence acknowledged by the consumer.", "stream", "consumer"),
		consumerRedelivered: jsGauge("consumer_redelivered_messages",
			"Messages currently outstanding after redelivery.", "stream", "consumer"),
		pollErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ediproc",
			Subsystem: "jetstream",
			Name:      "poll_errors_total",
			Help:      "Failed stream or consumer info polls.",
		}, []string{"scope"}),
		streams:   make(map[string]jetstream.Stream),
		consumers: make(map[string]trackedConsumer),
	}

	gauges := map[string]*prometheus.GaugeVec{
		"stream_messages":               m.streamMessages,
		"stream_bytes":                  m.streamBytes,
		"stream_state":                  m.streamState,
		"consumer_pending_messages":     m.consumerPending,
		"consumer_delivered_sequence":   m.consumerDelivered,
		"consumer_ack_floor_sequence":   m.consumerAckFloor,
		"consumer_redelivered_messages": m.consumerRedelivered,
	}
	for name, vec := range gauges {
		if err := registry.RegisterGaugeVec("jetstream", name, vec); err != nil {
			return nil, err
		}
	}
	if err := registry.RegisterCounterVec("jetstream", "poll_errors", m.pollErrors); err != nil {
		return nil, err
	}
	return m, nil
}

// trackStream adds a stream to the polling set. Re-tracking a name
// replaces the handle.
func (m *jetstreamMetrics) trackStream(name string, stream jetstream.Stream) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.streams[name] = stream
	m.mu.Unlock()
}

// trackConsumer adds a consumer to the polling set.
func (m *jetstreamMetrics) trackConsumer(stream, name string, consumer jetstream.Consumer) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.consumers[stream+"/"+name] = trackedConsumer{stream: stream, name: name, consumer: consumer}
	m.mu.Unlock()
}

// updateStats asks the broker for fresh stream and consumer info and
// moves the gauges. Poll failures mark the stream inactive rather than
// carrying stale numbers forward as truth.
func (m *jetstreamMetrics) updateStats(ctx context.Context) {
	if m == nil {
		return
	}

	m.mu.RLock()
	streams := make(map[string]jetstream.Stream, len(m.streams))
	for name, stream := range m.streams {
		streams[name] = stream
	}
	consumers := make([]trackedConsumer, 0, len(m.consumers))
	for _, tc := range m.consumers {
		consumers = append(consumers, tc)
	}
	m.mu.RUnlock()

	for name, stream := range streams {
		info, err := stream.Info(ctx)
		if err != nil {
			m.streamState.WithLabelValues(name).Set(0)
			m.pollErrors.WithLabelValues("stream").Inc()
			continue
		}
		m.streamState.WithLabelValues(name).Set(1)
		m.streamMessages.WithLabelValues(name).Set(float64(info.State.Msgs))
		m.streamBytes.WithLabelValues(name).Set(float64(info.State.Bytes))
	}

	for _, tc := range consumers {
		info, err := tc.consumer.Info(ctx)
		if err != nil {
			m.pollErrors.WithLabelValues("consumer").Inc()
			continue
		}
		m.consumerPending.WithLabelValues(tc.stream, tc.name).Set(float64(info.NumPending))
		m.consumerDelivered.WithLabelValues(tc.stream, tc.name).Set(float64(info.Delivered.Stream))
		m.consumerAckFloor.WithLabelValues(tc.stream, tc.name).Set(float64(info.AckFloor.Stream))
		m.consumerRedelivered.WithLabelValues(tc.stream, tc.name).Set(float64(info.NumRedelivered))
	}
}

// startPoller refreshes the gauges on a fixed interval until the
// returned cancel func runs.
func (m *jetstreamMetrics) startPoller(ctx context.Context, interval time.Duration) context.CancelFunc {
	if m == nil {
		return func() {}
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	pollCtx, cancel := context.WithCancel(ctx)
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return
			case <-ticker.C:
				m.updateStats(pollCtx)
			}
		}
	}()
	return cancel
}
