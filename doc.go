// Package ediprocessor provides a blob-triggered ingestion and audit
// pipeline for EDI file exchange, built on NATS JetStream and SQLite.
//
// # What it does
//
// Trading partners drop EDI files into an object store bucket. The
// processor notices each upload, fans the fact out as a small JSON event,
// and records one durable audit row per handled file. Operators watch the
// audit trail live over WebSocket and scrape Prometheus metrics for the
// pipeline's health.
//
//	┌──────────────┐   object   ┌──────────────┐   JetStream   ┌──────────────┐
//	│  edi-files   │  watcher   │ edi.event.>  │   consumer    │   ingest     │
//	│   bucket     ├───────────►│   stream     ├──────────────►│   handler    │
//	└──────────────┘            └──────────────┘               └──────┬───────┘
//	                                                                  │ insert
//	                            ┌──────────────┐   broadcast   ┌──────▼───────┐
//	                            │  WebSocket   │◄──────────────┤   SQLite     │
//	                            │    feed      │ edi.audit.    │  audit rows  │
//	                            └──────────────┘   recorded    └──────────────┘
//
// # Packages
//
// The pipeline proper:
//
//   - objectstore: typed access to the upload bucket plus the watcher
//     component that turns bucket changes into creation events
//   - event: the blob-created event schema and subject layout
//   - dispatch: the JetStream stream/consumer pair that delivers events
//     to the handler with redelivery, rate limiting and retry
//   - ingest: the handler that fetches blob bytes, derives a content
//     type and writes the audit row
//   - auditstore: the SQLite store with the uniqueness rule that makes
//     duplicate deliveries record exactly one Processed row
//   - feed: the WebSocket server that snapshots recent rows on connect
//     and broadcasts each new row
//
// Shared infrastructure:
//
//   - natsclient: managed NATS connection with reconnect handling,
//     JetStream access and a container-backed test fixture
//   - config: layered defaults/file/environment configuration
//   - metric: Prometheus registry and the /metrics and /health endpoints
//   - health: component status reporting and aggregation
//   - errors: transient/invalid/fatal error classification
//   - service: assembles everything above into one supervised runtime
//
// # Reliability model
//
// Delivery is at-least-once end to end. The watcher replays the bucket
// snapshot on start, JetStream redelivers unacked events, and crashes can
// resend anything already handled. The audit store absorbs all of it: a
// partial unique index over (container, blob name, event time) admits one
// Processed row per event identity, so retries and concurrent duplicates
// land as no-ops. Failures are classified; transient ones nack for
// redelivery while invalid events are recorded as Failed and acked so
// they never poison the consumer.
//
// Ordering is per blob name only. Events for different blobs interleave
// freely, which is why every event carries its own identity instead of
// relying on arrival order.
//
// # Running it
//
// The cmd/edi-processor binary runs the whole pipeline against a broker:
//
//	edi-processor --config=/etc/edi-processor/config.yaml
//	edi-processor seed --count=3 --wait=10s
//
// The seed subcommand uploads sample invoices so a fresh deployment has
// traffic to process. Configuration layers defaults, an optional JSON or
// YAML file and EDIPROC_* environment variables; see the config package.
package ediprocessor
