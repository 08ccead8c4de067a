// Package objectstore provides the upload bucket handle and the creation
// watcher that turns bucket writes into blob events.
//
// # Overview
//
// Files enter the pipeline by being written into a JetStream ObjectStore
// bucket. Store wraps that bucket with bounded, classified operations
// (stat, bounded read, put), and Watcher observes it, publishing one
// BlobEvent per created object onto the event stream. Everything downstream
// of this package consumes events, never the bucket directly, except for the
// ingestion handler's existence check.
//
// # Store
//
// Create a store for the upload bucket and make sure it exists:
//
//	store, err := objectstore.NewStore(client, "edi-files",
//	    objectstore.WithDescription("EDI upload bucket"),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := store.EnsureBucket(ctx); err != nil {
//	    return err
//	}
//
//	info, err := store.Stat(ctx, "invoices/invoice-001.txt")
//	if errors.IsObjectMissing(err) {
//	    // The object was removed between event and processing: record
//	    // Skipped, never retry.
//	}
//
// Error classification at this boundary drives the dispatcher's ack
// decision: broker trouble is transient (redelivered), a missing object is
// terminal (acked after a Skipped audit row).
//
// Reads are always bounded. Read(ctx, key, limit) returns at most limit
// bytes, falling back to the configured MaxReadBytes; the service never
// buffers a whole upload into memory.
//
// # Watcher
//
// The watcher is the pipeline's notification source:
//
//	watcher := objectstore.NewWatcher(objectstore.WatcherDeps{
//	    Name:            "edi-watcher",
//	    Store:           store,
//	    Client:          client,
//	    MetricsRegistry: registry,
//	    Logger:          logger,
//	})
//	if err := watcher.Initialize(); err != nil {
//	    return err
//	}
//	if err := watcher.Start(ctx); err != nil {
//	    return err
//	}
//	defer watcher.Stop(5 * time.Second)
//
// On start the watcher replays the current bucket contents (one event per
// live object) and then follows live updates. Deletions are observed and
// skipped: files leaving the bucket is not an ingestion concern.
//
// # Duplicate Delivery
//
// A watcher restart replays the snapshot, so the same object is announced
// more than once over the life of the service. Three layers make this safe:
//
//  1. Every event carries a Nats-Msg-Id derived from the
//     (container, object key, event time) identity, so the stream's
//     duplicate window drops tight republishes server-side.
//  2. The event time is the object's ModTime, so a replayed snapshot
//     reproduces the identity exactly while a genuine re-upload produces a
//     new one.
//  3. The audit store's unique constraint rejects whatever survives the
//     window, and the handler acks that rejection.
//
// The watcher therefore never tracks what it has already announced and
// keeps no restart state.
package objectstore
