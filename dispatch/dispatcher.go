// Package dispatch owns the at-least-once delivery loop: a durable JetStream
// consumer on the event stream feeding the ingestion handler, acking terminal
// outcomes and handing transient failures back with backoff.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/event"
	"github.com/itsBaivab/edi-file-processor/health"
	"github.com/itsBaivab/edi-file-processor/ingest"
	"github.com/itsBaivab/edi-file-processor/metric"
	"github.com/itsBaivab/edi-file-processor/natsclient"
	"github.com/itsBaivab/edi-file-processor/pkg/retry"
)

const (
	// StreamName is the JetStream stream carrying blob events.
	StreamName = "EDI_EVENTS"

	// DefaultConsumer is the durable consumer name. Restarting the service
	// resumes from the consumer's last acked position.
	DefaultConsumer = "edi-ingest"
)

// Config holds the delivery loop settings.
type Config struct {
	StreamName      string
	ConsumerName    string
	StreamMaxAge    time.Duration // Event stream retention
	DuplicateWindow time.Duration // Broker-side window for Nats-Msg-Id dedupe
	AckWait         time.Duration // Must exceed the handler's combined budgets
	MaxDeliver      int           // Redelivery budget before the broker parks a message
	MaxConcurrent   int           // MaxAckPending, bounds concurrent handler invocations
	RatePerSecond   float64       // Handler invocation rate limit, <= 0 disables
	RateBurst       int
}

// DefaultConfig returns sensible defaults for the event dispatcher
func DefaultConfig() Config {
	return Config{
		StreamName:      StreamName,
		ConsumerName:    DefaultConsumer,
		StreamMaxAge:    7 * 24 * time.Hour,
		DuplicateWindow: 10 * time.Minute,
		AckWait:         30 * time.Second,
		MaxDeliver:      5,
		MaxConcurrent:   8,
		RatePerSecond:   100,
		RateBurst:       10,
	}
}

// Processor is the slice of the ingestion handler the dispatcher drives.
type Processor interface {
	Process(ctx context.Context, evt *event.BlobEvent) (ingest.Result, error)
	RecordMalformed(ctx context.Context, cause error) (ingest.Result, error)
}

// DispatcherDeps holds runtime dependencies for the event dispatcher
type DispatcherDeps struct {
	Name            string                  // Instance name
	Config          Config                  // Zero fields take defaults; rate <= 0 disables the limiter
	Client          *natsclient.Client      // Runtime dependency
	Handler         Processor               // Runtime dependency
	MetricsRegistry *metric.MetricsRegistry // Runtime dependency
	Logger          *slog.Logger            // Runtime dependency
	Retry           retry.Config            // Backoff schedule for redelivery delays
}

// Dispatcher consumes the event stream and drives the ingestion handler.
//
// The ack boundary is the handler's error contract: a nil Process error is a
// terminal outcome and acks the delivery, every non-nil error naks it with a
// backoff delay derived from the delivery count. Undecodable payloads are
// recorded as Failed through the handler and acked, since redelivering a
// broken payload cannot fix it. Concurrent deliveries of the same identity
// are expected and resolved by the audit store, not serialized here.
type Dispatcher struct {
	name        string
	config      Config
	client      *natsclient.Client
	handler     Processor
	logger      *slog.Logger
	retryConfig retry.Config
	limiter     *rate.Limiter

	// Lifecycle management
	shutdown  chan struct{}
	running   atomic.Bool
	startTime time.Time
	mu        sync.Mutex
	wg        sync.WaitGroup
	consume   jetstream.ConsumeContext
	baseCtx   context.Context
	cancel    context.CancelFunc

	// Counters (atomic for thread safety)
	delivered      atomic.Int64
	acked          atomic.Int64
	naked          atomic.Int64
	decodeFailures atomic.Int64
	errorCount     atomic.Int64
	lastActivity   atomic.Value // stores time.Time

	// Prometheus metrics
	metrics *dispatcherMetrics
}

// NewDispatcher creates an event dispatcher from its dependencies.
func NewDispatcher(deps DispatcherDeps) *Dispatcher {
	cfg := deps.Config
	def := DefaultConfig()
	if cfg.StreamName == "" {
		cfg.StreamName = def.StreamName
	}
	if cfg.ConsumerName == "" {
		cfg.ConsumerName = def.ConsumerName
	}
	if cfg.StreamMaxAge <= 0 {
		cfg.StreamMaxAge = def.StreamMaxAge
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = def.DuplicateWindow
	}
	if cfg.AckWait <= 0 {
		cfg.AckWait = def.AckWait
	}
	if cfg.MaxDeliver <= 0 {
		cfg.MaxDeliver = def.MaxDeliver
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "dispatcher")
	}

	retryConfig := deps.Retry
	if retryConfig == (retry.Config{}) {
		retryConfig = retry.DefaultConfig()
	}

	var limiter *rate.Limiter
	if cfg.RatePerSecond > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}

	d := &Dispatcher{
		name:        deps.Name,
		config:      cfg,
		client:      deps.Client,
		handler:     deps.Handler,
		logger:      logger,
		retryConfig: retryConfig,
		limiter:     limiter,
		startTime:   time.Now(),
		metrics:     newDispatcherMetrics(deps.MetricsRegistry),
	}
	d.lastActivity.Store(time.Time{})
	return d
}

// Initialize validates the dispatcher wiring before Start.
func (d *Dispatcher) Initialize() error {
	if d.client == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"dispatcher", "Initialize", "NATS client validation")
	}
	if d.handler == nil {
		return errors.WrapInvalid(fmt.Errorf("nil handler"),
			"dispatcher", "Initialize", "handler validation")
	}
	return nil
}

// Start ensures the event stream exists and begins consuming deliveries.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running.Load() {
		return nil // Already running, idempotent
	}

	// Deliveries run as consumer callbacks bounded by this context, which
	// outlives Start and is canceled from Stop.
	baseCtx, cancel := context.WithCancel(ctx)

	if err := d.ensureStream(baseCtx); err != nil {
		cancel()
		return err
	}

	// Callback state must be in place before the consumer can deliver.
	d.shutdown = make(chan struct{})
	d.baseCtx = baseCtx
	d.cancel = cancel

	consume, err := d.client.ConsumeStream(baseCtx, d.config.StreamName, jetstream.ConsumerConfig{
		Durable:       d.config.ConsumerName,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       d.config.AckWait,
		MaxDeliver:    d.config.MaxDeliver,
		MaxAckPending: d.config.MaxConcurrent,
		FilterSubject: event.SubjectRoot + ".created.>",
	}, d.dispatch)
	if err != nil {
		cancel()
		return errors.WrapTransient(err, "dispatcher", "Start", "create durable consumer")
	}

	d.consume = consume
	d.running.Store(true)
	d.startTime = time.Now()

	d.logger.Info("Dispatcher started",
		"stream", d.config.StreamName,
		"consumer", d.config.ConsumerName,
		"max_concurrent", d.config.MaxConcurrent)
	return nil
}

// ensureStream creates the event stream if it does not exist. Creation is
// idempotent for an unchanged configuration.
func (d *Dispatcher) ensureStream(ctx context.Context) error {
	_, err := d.client.CreateStream(ctx, jetstream.StreamConfig{
		Name:       d.config.StreamName,
		Subjects:   []string{event.SubjectRoot + ".>"},
		Storage:    jetstream.FileStorage,
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     d.config.StreamMaxAge,
		Duplicates: d.config.DuplicateWindow,
	})
	if err != nil {
		return errors.WrapTransient(err, "dispatcher", "Start", "ensure event stream")
	}
	return nil
}

// Stop drains in-flight deliveries and stops the consumer.
func (d *Dispatcher) Stop(timeout time.Duration) error {
	if !d.running.Load() {
		return nil
	}

	d.running.Store(false)

	d.mu.Lock()
	if d.shutdown != nil {
		select {
		case <-d.shutdown:
		default:
			close(d.shutdown)
		}
	}
	if d.consume != nil {
		d.consume.Stop()
	}
	cancel := d.cancel
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// In-flight deliveries settled
	case <-time.After(timeout):
		if cancel != nil {
			cancel()
		}
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"dispatcher", "Stop", "graceful shutdown")
	}

	if cancel != nil {
		cancel()
	}

	d.logger.Info("Dispatcher stopped",
		"delivered", d.delivered.Load(),
		"acked", d.acked.Load(),
		"naked", d.naked.Load())
	return nil
}

// Health reports the dispatcher's current health.
func (d *Dispatcher) Health() health.Status {
	name := d.name
	if name == "" {
		name = "dispatcher"
	}

	if !d.running.Load() {
		return health.NewUnhealthy(name, "Dispatcher not running")
	}

	status := health.NewHealthy(name, "Consuming event stream")
	if d.client != nil && !d.client.IsHealthy() {
		status = health.NewDegraded(name, "NATS connection degraded")
	}

	lastActivity, _ := d.lastActivity.Load().(time.Time)
	return status.WithMetrics(&health.Metrics{
		Uptime:       time.Since(d.startTime),
		Errors:       d.errorCount.Load(),
		Processed:    d.acked.Load(),
		LastActivity: lastActivity,
	})
}

// Delivered returns the number of deliveries received since start.
func (d *Dispatcher) Delivered() int64 {
	return d.delivered.Load()
}

// Acked returns the number of deliveries acknowledged since start.
func (d *Dispatcher) Acked() int64 {
	return d.acked.Load()
}

// Naked returns the number of deliveries handed back for redelivery.
func (d *Dispatcher) Naked() int64 {
	return d.naked.Load()
}

// DecodeFailures returns the number of undecodable payloads seen.
func (d *Dispatcher) DecodeFailures() int64 {
	return d.decodeFailures.Load()
}

// dispatch hands one delivery to a worker goroutine. The consumer callback
// itself is serial; the broker's MaxAckPending bounds how many deliveries are
// outstanding, and with them the worker count.
func (d *Dispatcher) dispatch(msg jetstream.Msg) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handle(msg)
	}()
}

// handle processes one delivery end to end.
func (d *Dispatcher) handle(msg jetstream.Msg) {
	select {
	case <-d.shutdown:
		// Shutting down: hand the delivery straight back.
		_ = msg.Nak()
		return
	default:
	}

	d.delivered.Add(1)
	d.lastActivity.Store(time.Now())

	attempt := 1
	if meta, err := msg.Metadata(); err == nil {
		attempt = int(meta.NumDelivered)
	}
	d.metrics.recordDelivery(attempt > 1)

	if d.limiter != nil {
		if err := d.limiter.Wait(d.baseCtx); err != nil {
			// Canceled while queued for a rate token.
			d.nak(msg, attempt)
			return
		}
	}

	d.metrics.inFlightAdd(1)
	defer d.metrics.inFlightAdd(-1)

	procCtx, cancel := context.WithTimeout(d.baseCtx, d.config.AckWait)
	defer cancel()

	evt, err := event.Decode(msg.Data())
	if err != nil {
		d.recordDecodeFailure(procCtx, msg, err, attempt)
		return
	}

	result, err := d.handler.Process(procCtx, evt)
	if err != nil {
		d.logger.Warn("Processing failed, requeued",
			"object", evt.ObjectKey,
			"attempt", attempt,
			"error", err)
		d.nak(msg, attempt)
		return
	}

	d.ack(msg)
	d.logger.Debug("Delivery acknowledged",
		"object", evt.ObjectKey,
		"status", result.Status,
		"deduped", result.Deduped)
}

// recordDecodeFailure routes an undecodable payload through the handler's
// Failed path. Redelivery cannot fix a broken payload, so a recorded row
// acks the delivery; only a store failure leaves it queued.
func (d *Dispatcher) recordDecodeFailure(ctx context.Context, msg jetstream.Msg, cause error, attempt int) {
	d.decodeFailures.Add(1)
	d.metrics.recordDecodeFailure()

	if _, err := d.handler.RecordMalformed(ctx, cause); err != nil {
		d.logger.Warn("Malformed delivery not yet recorded, requeued",
			"attempt", attempt,
			"error", err)
		d.nak(msg, attempt)
		return
	}

	d.logger.Warn("Undecodable delivery recorded as Failed", "error", cause)
	d.ack(msg)
}

func (d *Dispatcher) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		d.errorCount.Add(1)
		d.logger.Warn("Ack failed, delivery will repeat", "error", err)
		return
	}
	d.acked.Add(1)
	d.metrics.recordAck()
}

// nak hands the delivery back with a backoff delay derived from the attempt
// count. After MaxDeliver attempts the broker parks the message and raises
// its max-deliveries advisory; the audit row is simply missing until then.
func (d *Dispatcher) nak(msg jetstream.Msg, attempt int) {
	delay := d.retryConfig.DelayFor(attempt)
	if err := msg.NakWithDelay(delay); err != nil {
		d.errorCount.Add(1)
		d.logger.Warn("Nak failed, AckWait expiry will requeue", "error", err)
		return
	}
	d.naked.Add(1)
	d.metrics.recordNak()

	if attempt >= d.config.MaxDeliver {
		d.logger.Error("Delivery budget exhausted",
			"attempts", attempt,
			"max_deliver", d.config.MaxDeliver)
	}
}
