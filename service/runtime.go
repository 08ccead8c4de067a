package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/itsBaivab/edi-file-processor/auditstore"
	"github.com/itsBaivab/edi-file-processor/config"
	"github.com/itsBaivab/edi-file-processor/dispatch"
	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/feed"
	"github.com/itsBaivab/edi-file-processor/health"
	"github.com/itsBaivab/edi-file-processor/metric"
	"github.com/itsBaivab/edi-file-processor/natsclient"
	"github.com/itsBaivab/edi-file-processor/objectstore"
)

// SystemName identifies the process in aggregated health reports.
const SystemName = "edi-processor"

const (
	connectTimeout = 10 * time.Second
	healthInterval = 15 * time.Second
)

// Component is the lifecycle every managed pipeline part shares.
type Component interface {
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
	Health() health.Status
}

// managed pairs a component with the name it reports under.
type managed struct {
	name string
	comp Component
}

// Runtime assembles the pipeline from one Config and supervises its
// lifecycle. Components start in dependency order (dispatcher before
// watcher, so the consumer exists before the snapshot replay publishes)
// and stop in reverse.
type Runtime struct {
	cfg    *config.Config
	logger *slog.Logger

	client   *natsclient.Client
	registry *metric.MetricsRegistry
	monitor  *health.Monitor

	audit   *auditstore.Store
	objects *objectstore.Store

	watcher    *objectstore.Watcher
	dispatcher *dispatch.Dispatcher
	feed       *feed.Server
	metricSrv  *metric.Server

	components []managed

	mu        sync.Mutex
	running   atomic.Bool
	startTime time.Time
}

// NewRuntime creates the runtime scaffolding: the NATS client, the metrics
// registry and the health monitor. Nothing connects until Start.
func NewRuntime(cfg *config.Config, logger *slog.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("nil config"),
			"Runtime", "NewRuntime", "config check")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.WrapInvalid(err, "Runtime", "NewRuntime", "config validation")
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := metric.NewMetricsRegistry()

	client, err := natsclient.NewClient(natsURL(cfg), natsOptions(cfg, registry, logger)...)
	if err != nil {
		return nil, errors.WrapFatal(err, "Runtime", "NewRuntime", "create NATS client")
	}

	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		client:   client,
		registry: registry,
		monitor:  health.NewMonitor(),
	}, nil
}

// Start connects the broker, assembles the stores and components, and
// brings the pipeline up. A component failing to start rolls back the ones
// already running.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return nil // Already running, idempotent
	}

	r.logger.Info("Connecting to NATS", "urls", r.cfg.NATS.URLs)
	if err := r.client.Connect(ctx); err != nil {
		return errors.WrapTransient(err, "Runtime", "Start", "connect to NATS")
	}

	connCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := r.client.WaitForConnection(connCtx); err != nil {
		return errors.WrapTransient(err, "Runtime", "Start", "wait for NATS connection")
	}

	if err := r.assemble(ctx); err != nil {
		return err
	}

	for _, m := range r.components {
		if err := m.comp.Initialize(); err != nil {
			return errors.Wrap(err, "Runtime", "Start",
				fmt.Sprintf("initialize %s", m.name))
		}
	}

	core := r.registry.CoreMetrics()
	started := make([]managed, 0, len(r.components))
	for _, m := range r.components {
		r.logger.Info("Starting component", "component", m.name)
		if err := m.comp.Start(ctx); err != nil {
			core.RecordError(m.name, errors.Classify(err).String())
			for i := len(started) - 1; i >= 0; i-- {
				_ = started[i].comp.Stop(5 * time.Second)
			}
			return errors.Wrap(err, "Runtime", "Start",
				fmt.Sprintf("start %s", m.name))
		}
		started = append(started, m)
		core.RecordComponentUp(m.name, true)
		r.monitor.Set(m.name, m.comp.Health())
	}

	r.running.Store(true)
	r.startTime = time.Now()
	r.logger.Info("Pipeline started",
		"bucket", r.cfg.Bucket.Name,
		"components", len(r.components))
	return nil
}

// Stop takes the pipeline down in reverse start order and closes the
// stores and the broker connection. Component failures are collected so a
// stuck component cannot leave the rest running.
func (r *Runtime) Stop(timeout time.Duration) error {
	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)

	core := r.registry.CoreMetrics()
	var failures []error
	for i := len(r.components) - 1; i >= 0; i-- {
		m := r.components[i]
		r.logger.Info("Stopping component", "component", m.name)
		if err := m.comp.Stop(timeout); err != nil {
			r.logger.Error("Component stop failed", "component", m.name, "error", err)
			failures = append(failures, fmt.Errorf("stop %s: %w", m.name, err))
		}
		core.RecordComponentUp(m.name, false)
		r.monitor.Set(m.name, m.comp.Health())
	}

	if r.metricSrv != nil {
		if err := r.metricSrv.Stop(); err != nil {
			failures = append(failures, fmt.Errorf("stop metrics server: %w", err))
		}
	}

	if r.audit != nil {
		if err := r.audit.Close(); err != nil {
			failures = append(failures, fmt.Errorf("close audit store: %w", err))
		}
	}

	closeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.client.Close(closeCtx); err != nil {
		failures = append(failures, fmt.Errorf("close NATS client: %w", err))
	}

	if len(failures) > 0 {
		return errors.WrapTransient(fmt.Errorf("shutdown failures: %v", failures),
			"Runtime", "Stop", "stop pipeline")
	}

	r.logger.Info("Pipeline stopped")
	return nil
}

// Run starts the pipeline and supervises it until ctx is cancelled or the
// metrics server fails. Stop always runs before Run returns.
func (r *Runtime) Run(ctx context.Context, stopTimeout time.Duration) error {
	if err := r.Start(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if r.metricSrv != nil {
		g.Go(func() error {
			r.logger.Info("Metrics server listening", "addr", r.cfg.Metrics.Addr)
			return r.metricSrv.Start()
		})
		g.Go(func() error {
			<-gctx.Done()
			return r.metricSrv.Stop()
		})
	}

	g.Go(func() error {
		r.healthLoop(gctx)
		return nil
	})

	err := g.Wait()
	if stopErr := r.Stop(stopTimeout); stopErr != nil && err == nil {
		err = stopErr
	}
	return err
}

// Health returns the aggregated pipeline health.
func (r *Runtime) Health() health.Status {
	return r.monitor.Report(SystemName)
}

// Client returns the shared NATS client.
func (r *Runtime) Client() *natsclient.Client {
	return r.client
}

// Registry returns the process metrics registry.
func (r *Runtime) Registry() *metric.MetricsRegistry {
	return r.registry
}

// Monitor returns the component health monitor.
func (r *Runtime) Monitor() *health.Monitor {
	return r.monitor
}

// Audit returns the audit store, nil before Start.
func (r *Runtime) Audit() *auditstore.Store {
	return r.audit
}

// Objects returns the upload bucket store, nil before Start.
func (r *Runtime) Objects() *objectstore.Store {
	return r.objects
}
