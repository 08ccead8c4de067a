package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/itsBaivab/edi-file-processor/auditstore"
	"github.com/itsBaivab/edi-file-processor/config"
	"github.com/itsBaivab/edi-file-processor/dispatch"
	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/feed"
	"github.com/itsBaivab/edi-file-processor/ingest"
	"github.com/itsBaivab/edi-file-processor/metric"
	"github.com/itsBaivab/edi-file-processor/natsclient"
	"github.com/itsBaivab/edi-file-processor/objectstore"
)

// assemble opens the stores and builds the managed components. Called from
// Start once the broker connection is up.
func (r *Runtime) assemble(ctx context.Context) error {
	audit, err := auditstore.Open(r.cfg.Audit.Path)
	if err != nil {
		return errors.Wrap(err, "Runtime", "assemble", "open audit store")
	}
	r.audit = audit

	objects, err := objectstore.NewStore(r.client, r.cfg.Bucket.Name,
		objectstore.WithTimeout(r.cfg.Ingest.FetchTimeout),
		objectstore.WithMaxReadBytes(r.cfg.Ingest.MaxReadBytes),
		objectstore.WithReplicas(r.cfg.Bucket.Replicas),
		objectstore.WithDescription(r.cfg.Bucket.Description),
	)
	if err != nil {
		return errors.Wrap(err, "Runtime", "assemble", "create object store")
	}
	if err := objects.EnsureBucket(ctx); err != nil {
		return errors.Wrap(err, "Runtime", "assemble",
			fmt.Sprintf("ensure bucket %s", r.cfg.Bucket.Name))
	}
	r.objects = objects

	handler, err := ingest.NewHandler(ingest.HandlerDeps{
		Config:          ingestConfig(r.cfg.Ingest),
		Audit:           audit,
		Objects:         objects,
		Notifier:        coreNotifier{client: r.client},
		MetricsRegistry: r.registry,
		Logger:          r.logger.With("component", "ingest"),
	})
	if err != nil {
		return errors.Wrap(err, "Runtime", "assemble", "create ingest handler")
	}

	r.dispatcher = dispatch.NewDispatcher(dispatch.DispatcherDeps{
		Name:            "edi-dispatch",
		Config:          dispatchConfig(r.cfg.Dispatch),
		Client:          r.client,
		Handler:         handler,
		MetricsRegistry: r.registry,
		Logger:          r.logger.With("component", "dispatch"),
	})

	r.watcher = objectstore.NewWatcher(objectstore.WatcherDeps{
		Name:            "edi-watcher",
		Store:           objects,
		Client:          r.client,
		MetricsRegistry: r.registry,
		Logger:          r.logger.With("component", "watcher"),
	})

	r.components = []managed{
		{name: "edi-dispatch", comp: r.dispatcher},
		{name: "edi-watcher", comp: r.watcher},
	}

	if r.cfg.Feed.Enabled {
		r.feed = feed.NewServer(feed.ServerDeps{
			Name:            "edi-feed",
			Config:          feed.Config{Addr: r.cfg.Feed.Addr},
			Client:          r.client,
			Audit:           audit,
			MetricsRegistry: r.registry,
			Logger:          r.logger.With("component", "feed"),
		})
		r.components = append(r.components, managed{name: "edi-feed", comp: r.feed})
	}

	if r.cfg.Metrics.Enabled {
		r.metricSrv = metric.NewServer(r.cfg.Metrics.Addr, r.registry, r.monitor)
	}

	return nil
}

// natsURL joins the configured server URLs into one connection string.
func natsURL(cfg *config.Config) string {
	return strings.Join(cfg.NATS.URLs, ",")
}

// natsOptions maps the NATS config section onto client options.
func natsOptions(cfg *config.Config, registry *metric.MetricsRegistry, logger *slog.Logger) []natsclient.ClientOption {
	opts := []natsclient.ClientOption{
		natsclient.WithName(SystemName),
		natsclient.WithLogger(logger),
		natsclient.WithMaxReconnects(cfg.NATS.MaxReconnects),
		natsclient.WithMetrics(registry),
	}
	if cfg.NATS.ReconnectWait > 0 {
		opts = append(opts, natsclient.WithReconnectWait(cfg.NATS.ReconnectWait))
	}
	if cfg.NATS.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.NATS.Username, cfg.NATS.Password))
	}
	if cfg.NATS.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.NATS.Token))
	}
	return opts
}

func ingestConfig(c config.IngestConfig) ingest.Config {
	return ingest.Config{
		DedupeWindow: c.DedupeWindow,
		FetchTimeout: c.FetchTimeout,
		WriteTimeout: c.WriteTimeout,
		ReadContent:  c.ReadContent,
		MaxReadBytes: c.MaxReadBytes,
	}
}

func dispatchConfig(c config.DispatchConfig) dispatch.Config {
	return dispatch.Config{
		StreamName:      c.Stream,
		ConsumerName:    c.Consumer,
		StreamMaxAge:    c.StreamMaxAge,
		DuplicateWindow: c.DuplicateWindow,
		AckWait:         c.AckWait,
		MaxDeliver:      c.MaxDeliver,
		MaxConcurrent:   c.MaxConcurrent,
		RatePerSecond:   c.RatePerSecond,
		RateBurst:       c.RateBurst,
	}
}

// coreNotifier adapts the NATS client to the ingest notifier. Notifications
// fire after the audit row is committed and are best effort.
type coreNotifier struct {
	client *natsclient.Client
}

func (n coreNotifier) Publish(subject string, data []byte) error {
	return n.client.Publish(context.Background(), subject, data)
}
