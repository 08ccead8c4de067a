// Package config provides configuration loading for the EDI processor.
//
// Configuration is resolved in three layers: built-in defaults, then optional
// JSON or YAML files, then EDIPROC_* environment variables. The resolved
// Config is an immutable value handed to constructors at startup; there is no
// runtime reload.
//
// # Loading
//
// Load takes the file layers in override order and applies the environment
// on top:
//
//	cfg, err := config.Load("config/base.json", "config/production.yaml")
//	if err != nil {
//		return err
//	}
//	if err := cfg.Validate(); err != nil {
//		return err
//	}
//
// Each file only has to name the fields it changes. A production layer of
//
//	{"bucket": {"name": "edi-prod"}}
//
// over a base layer of
//
//	{"bucket": {"name": "edi-dev", "replicas": 3}}
//
// yields bucket edi-prod with 3 replicas.
//
// # Durations
//
// Duration fields accept Go duration strings plus a "d" suffix for days:
//
//	{
//	  "nats": {"reconnect_wait": "5s"},
//	  "ingest": {"dedupe_window": "48h"},
//	  "dispatch": {"stream_max_age": "14d"}
//	}
//
// # Environment Overrides
//
// Environment variables win over file layers. Supported overrides:
//
//	EDIPROC_NATS_URLS       comma-separated broker URLs
//	EDIPROC_NATS_USERNAME   connection username
//	EDIPROC_NATS_PASSWORD   connection password
//	EDIPROC_NATS_TOKEN      connection token
//	EDIPROC_BUCKET          upload bucket name
//	EDIPROC_AUDIT_PATH      SQLite audit database file
//	EDIPROC_LOG_LEVEL       debug, info, warn, error
//	EDIPROC_METRICS_ADDR    metrics listen address
//	EDIPROC_FEED_ADDR       live feed listen address
//
// # Validation
//
// Validate checks presence only: broker URLs, bucket name and audit path
// must be set, and enabled listeners need an address. URLs, credentials and
// paths are opaque strings, never parsed here.
//
// # Input limits
//
// Files and environment values pass hard limits before any parser runs: a
// 10MB cap on file size, a nesting cap on JSON documents, extension and
// traversal checks on paths, and a regular-file requirement that rules out
// symlinks and devices.
//
// Config.String redacts credentials, so a resolved configuration can be
// logged at startup without leaking secrets.
package config
