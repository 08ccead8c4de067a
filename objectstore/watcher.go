package objectstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/event"
	"github.com/itsBaivab/edi-file-processor/health"
	"github.com/itsBaivab/edi-file-processor/metric"
	"github.com/itsBaivab/edi-file-processor/natsclient"
	"github.com/itsBaivab/edi-file-processor/pkg/retry"
)

// WatcherMetrics holds Prometheus metrics for the bucket watcher
type WatcherMetrics struct {
	eventsPublished prometheus.Counter
	publishErrors   prometheus.Counter
	deletesSkipped  prometheus.Counter
	snapshotObjects prometheus.Gauge
	lastActivity    prometheus.Gauge
}

func watcherCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "ediproc",
		Subsystem: "watcher",
		Name:      name,
		Help:      help,
	})
}

func watcherGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "ediproc",
		Subsystem: "watcher",
		Name:      name,
		Help:      help,
	})
}

// newWatcherMetrics creates and registers watcher metrics. A nil registry
// disables instrumentation.
func newWatcherMetrics(registry *metric.MetricsRegistry, bucket string) *WatcherMetrics {
	if registry == nil {
		return nil
	}

	m := &WatcherMetrics{
		eventsPublished: watcherCounter("events_published_total", "Blob creation events published to the event stream"),
		publishErrors:   watcherCounter("publish_errors_total", "Events dropped after exhausting publish retries"),
		deletesSkipped:  watcherCounter("deletes_skipped_total", "Bucket deletions observed and intentionally ignored"),
		snapshotObjects: watcherGauge("snapshot_objects", "Objects replayed from the initial bucket snapshot"),
		lastActivity:    watcherGauge("last_activity_timestamp", "Unix timestamp of the last published event"),
	}

	svc := fmt.Sprintf("watcher_%s", bucket)
	registry.RegisterCounter(svc, "events_published", m.eventsPublished)
	registry.RegisterCounter(svc, "publish_errors", m.publishErrors)
	registry.RegisterCounter(svc, "deletes_skipped", m.deletesSkipped)
	registry.RegisterGauge(svc, "snapshot_objects", m.snapshotObjects)
	registry.RegisterGauge(svc, "last_activity", m.lastActivity)

	return m
}

// Watcher turns bucket writes into blob creation events on the event stream.
//
// On start it replays the current bucket contents (one event per live
// object), then follows live updates. Deletions are skipped. Every event
// carries a Nats-Msg-Id derived from the identity triple, so the stream's
// duplicate window absorbs tight replays and the audit store constraint
// absorbs the rest; a restart therefore republishes the snapshot without
// producing duplicate audit rows.
type Watcher struct {
	name   string
	store  *Store
	client *natsclient.Client
	logger *slog.Logger

	// Retry configuration for stream publishes
	retryConfig retry.Config

	// Lifecycle state, guarded by mu where not atomic
	mu      sync.Mutex
	quit    chan struct{}
	stopped chan struct{}
	watcher jetstream.ObjectWatcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	running   atomic.Bool
	startTime time.Time

	// Live counters
	eventsPublished atomic.Int64
	publishErrors   atomic.Int64
	deletesSkipped  atomic.Int64
	errorCount      atomic.Int64
	snapshotDone    atomic.Bool
	lastActivity    atomic.Value // stores time.Time

	// Instrumentation, nil without a registry
	metrics *WatcherMetrics
}

// WatcherDeps holds runtime dependencies for the bucket watcher
type WatcherDeps struct {
	Name            string                  // Instance name for health reports
	Store           *Store                  // Bucket to watch
	Client          *natsclient.Client      // Publishes onto the event stream
	MetricsRegistry *metric.MetricsRegistry // Optional, nil disables metrics
	Logger          *slog.Logger            // Optional, defaults to slog.Default
}

// NewWatcher creates a bucket watcher from its dependencies.
func NewWatcher(deps WatcherDeps) *Watcher {
	w := &Watcher{
		name:        deps.Name,
		store:       deps.Store,
		client:      deps.Client,
		logger:      deps.Logger,
		retryConfig: retry.DefaultConfig(),
		startTime:   time.Now(),
	}
	if w.logger == nil {
		w.logger = slog.Default().With("component", "watcher")
	}
	if deps.MetricsRegistry != nil && deps.Store != nil {
		w.metrics = newWatcherMetrics(deps.MetricsRegistry, deps.Store.Bucket())
	}
	w.lastActivity.Store(time.Time{})
	return w
}

// Initialize validates the watcher wiring before Start.
func (w *Watcher) Initialize() error {
	if w.store == nil {
		return errors.WrapInvalid(fmt.Errorf("nil object store"),
			"watcher", "Initialize", "store validation")
	}
	if w.client == nil {
		return errors.WrapInvalid(fmt.Errorf("nil NATS client"),
			"watcher", "Initialize", "NATS client validation")
	}
	return nil
}

// Start opens the bucket watcher and begins publishing events.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running.Load() {
		return nil // Already running, idempotent
	}

	// The watch context outlives Start and is canceled from Stop.
	watchCtx, cancel := context.WithCancel(ctx)

	watcher, err := w.store.Watch(watchCtx)
	if err != nil {
		cancel()
		return errors.WrapTransient(err, "watcher", "Start", "open bucket watch")
	}

	stopped := make(chan struct{})
	w.quit = make(chan struct{})
	w.stopped = stopped
	w.watcher = watcher
	w.cancel = cancel
	w.snapshotDone.Store(false)
	w.running.Store(true)
	w.startTime = time.Now()

	// Only this goroutine closes stopped, so no guard is needed.
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(stopped)
		w.watchLoop(watchCtx)
	}()

	w.logger.Info("Bucket watcher started", "bucket", w.store.Bucket())
	return nil
}

// Stop gracefully stops the watcher with the specified timeout.
func (w *Watcher) Stop(timeout time.Duration) error {
	if !w.running.Load() {
		return nil
	}

	w.running.Store(false)

	w.mu.Lock()
	if w.quit != nil {
		select {
		case <-w.quit:
		default:
			close(w.quit)
		}
	}
	// Stop the object watcher to unblock the updates channel
	if w.watcher != nil {
		_ = w.watcher.Stop()
	}
	if w.cancel != nil {
		w.cancel()
	}
	stopped := w.stopped
	w.mu.Unlock()

	if stopped != nil {
		select {
		case <-stopped:
			// Loop finished cleanly
		case <-time.After(timeout):
			return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
				"watcher", "Stop", "graceful shutdown")
		}
	}

	w.logger.Info("Bucket watcher stopped",
		"bucket", w.store.Bucket(),
		"events_published", w.eventsPublished.Load())
	return nil
}

// Health reports the watcher's current health.
func (w *Watcher) Health() health.Status {
	name := w.name
	if name == "" {
		name = "watcher"
	}

	if !w.running.Load() {
		return health.NewUnhealthy(name, "Watcher not running")
	}

	status := health.NewHealthy(name, "Watching bucket")
	if !w.snapshotDone.Load() {
		status = health.NewDegraded(name, "Snapshot replay in progress")
	}

	lastActivity, _ := w.lastActivity.Load().(time.Time)
	return status.WithMetrics(&health.Metrics{
		Uptime:       time.Since(w.startTime),
		Errors:       w.errorCount.Load(),
		Processed:    w.eventsPublished.Load(),
		LastActivity: lastActivity,
	})
}

// EventsPublished returns the number of events published since start.
func (w *Watcher) EventsPublished() int64 {
	return w.eventsPublished.Load()
}

// SnapshotDone reports whether the initial bucket replay has finished.
func (w *Watcher) SnapshotDone() bool {
	return w.snapshotDone.Load()
}

// watchLoop consumes bucket updates until shutdown.
func (w *Watcher) watchLoop(ctx context.Context) {
	updates := w.watcher.Updates()
	var snapshotCount int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.quit:
			return
		case info, ok := <-updates:
			if !ok {
				return
			}
			if info == nil {
				// Nil marks the end of the initial snapshot.
				w.snapshotDone.Store(true)
				if w.metrics != nil {
					w.metrics.snapshotObjects.Set(float64(snapshotCount))
				}
				w.logger.Info("Initial bucket snapshot replayed",
					"bucket", w.store.Bucket(),
					"objects", snapshotCount)
				continue
			}
			if info.Deleted {
				w.deletesSkipped.Add(1)
				if w.metrics != nil {
					w.metrics.deletesSkipped.Inc()
				}
				continue
			}
			if !w.snapshotDone.Load() {
				snapshotCount++
			}
			w.handleObject(ctx, info)
		}
	}
}

// handleObject builds and publishes the creation event for one observed object.
func (w *Watcher) handleObject(ctx context.Context, info *jetstream.ObjectInfo) {
	// ModTime is the event time: a snapshot replay of the same revision
	// reproduces the identity triple, a re-upload does not.
	evt := event.New(w.store.Bucket(), info.Name, int64(info.Size),
		event.WithEventTime(info.ModTime),
		event.WithContentType(ContentType(info)),
		event.WithDigest(info.Digest),
	)

	if err := retry.Do(ctx, w.retryConfig, func() error { return w.publish(ctx, evt) }); err != nil {
		w.publishErrors.Add(1)
		w.errorCount.Add(1)
		if w.metrics != nil {
			w.metrics.publishErrors.Inc()
		}
		w.logger.Error("Failed to publish blob event",
			"bucket", w.store.Bucket(),
			"object", info.Name,
			"error", err)
		return
	}

	w.eventsPublished.Add(1)
	now := time.Now()
	w.lastActivity.Store(now)
	if w.metrics != nil {
		w.metrics.eventsPublished.Inc()
		w.metrics.lastActivity.Set(float64(now.Unix()))
	}

	w.logger.Debug("Published blob event",
		"object", info.Name,
		"size", info.Size,
		"subject", event.CreatedSubject(evt.Container))
}

// publish sends one event to the stream with its dedupe message ID.
func (w *Watcher) publish(ctx context.Context, evt *event.BlobEvent) error {
	data, err := evt.Marshal()
	if err != nil {
		// Marshal failures never fix themselves under retry.
		return retry.NonRetryable(err)
	}

	msg := &nats.Msg{
		Subject: event.CreatedSubject(evt.Container),
		Data:    data,
		Header:  nats.Header{jetstream.MsgIDHeader: []string{evt.DedupeID()}},
	}
	return w.client.PublishMsgToStream(ctx, msg)
}
