// Package service assembles and supervises the EDI processing pipeline.
//
// A Runtime owns the shared NATS client, the audit and object stores, and
// the managed components built on them: the bucket watcher, the event
// dispatcher and the live feed. Start connects the broker, ensures the
// upload bucket, opens the audit database and brings the components up in
// dependency order; Stop takes them down in reverse. Run wraps both and
// supervises the metrics server and the health poll until the context is
// cancelled.
//
// Component health flows into a health.Monitor, which backs the /health
// endpoint on the metrics server, and is mirrored into the core platform
// metrics together with the polled NATS connection state.
package service
