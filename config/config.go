package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete EDI processor configuration. Loaded once at
// startup and handed to constructors as an immutable value; there is no live
// reload.
type Config struct {
	Version  string         `json:"version" yaml:"version"`
	Log      LogConfig      `json:"log,omitempty" yaml:"log,omitempty"`
	NATS     NATSConfig     `json:"nats" yaml:"nats"`
	Bucket   BucketConfig   `json:"bucket" yaml:"bucket"`
	Audit    AuditConfig    `json:"audit" yaml:"audit"`
	Ingest   IngestConfig   `json:"ingest,omitempty" yaml:"ingest,omitempty"`
	Dispatch DispatchConfig `json:"dispatch,omitempty" yaml:"dispatch,omitempty"`
	Metrics  MetricsConfig  `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Feed     FeedConfig     `json:"feed,omitempty" yaml:"feed,omitempty"`
}

// LogConfig selects the handler and verbosity for service-wide logging.
type LogConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty"`   // debug, info, warn, error
	Format string `json:"format,omitempty" yaml:"format,omitempty"` // text or json
}

// NATSConfig carries the broker endpoints and credentials.
type NATSConfig struct {
	URLs          []string      `json:"urls,omitempty" yaml:"urls,omitempty"`
	MaxReconnects int           `json:"max_reconnects,omitempty" yaml:"max_reconnects,omitempty"`
	ReconnectWait time.Duration `json:"reconnect_wait,omitempty" yaml:"reconnect_wait,omitempty"`
	Username      string        `json:"username,omitempty" yaml:"username,omitempty"`
	Password      string        `json:"password,omitempty" yaml:"password,omitempty"`
	Token         string        `json:"token,omitempty" yaml:"token,omitempty"`
}

// BucketConfig names the upload bucket the watcher observes.
type BucketConfig struct {
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Replicas    int    `json:"replicas,omitempty" yaml:"replicas,omitempty"`
}

// AuditConfig locates the audit database.
type AuditConfig struct {
	Path string `json:"path,omitempty" yaml:"path,omitempty"` // SQLite database file
}

// IngestConfig carries the handler budgets and toggles.
type IngestConfig struct {
	DedupeWindow time.Duration `json:"dedupe_window,omitempty" yaml:"dedupe_window,omitempty"`
	FetchTimeout time.Duration `json:"fetch_timeout,omitempty" yaml:"fetch_timeout,omitempty"`
	WriteTimeout time.Duration `json:"write_timeout,omitempty" yaml:"write_timeout,omitempty"`
	ReadContent  bool          `json:"read_content,omitempty" yaml:"read_content,omitempty"`
	MaxReadBytes int64         `json:"max_read_bytes,omitempty" yaml:"max_read_bytes,omitempty"`
}

// DispatchConfig carries the delivery loop settings.
type DispatchConfig struct {
	Stream          string        `json:"stream,omitempty" yaml:"stream,omitempty"`
	Consumer        string        `json:"consumer,omitempty" yaml:"consumer,omitempty"`
	StreamMaxAge    time.Duration `json:"stream_max_age,omitempty" yaml:"stream_max_age,omitempty"`
	DuplicateWindow time.Duration `json:"duplicate_window,omitempty" yaml:"duplicate_window,omitempty"`
	AckWait         time.Duration `json:"ack_wait,omitempty" yaml:"ack_wait,omitempty"`
	MaxDeliver      int           `json:"max_deliver,omitempty" yaml:"max_deliver,omitempty"`
	MaxConcurrent   int           `json:"max_concurrent,omitempty" yaml:"max_concurrent,omitempty"`
	RatePerSecond   float64       `json:"rate_per_second,omitempty" yaml:"rate_per_second,omitempty"`
	RateBurst       int           `json:"rate_burst,omitempty" yaml:"rate_burst,omitempty"`
}

// MetricsConfig configures the Prometheus/health endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// FeedConfig configures the live audit feed endpoint.
type FeedConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// Defaults returns the configuration compiled into the binary: an
// unauthenticated pipeline against a broker on the standard local port.
func Defaults() *Config {
	return &Config{
		Version: "1.0.0",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: 2 * time.Second,
		},
		Bucket: BucketConfig{
			Name:        "edi-files",
			Description: "EDI file uploads",
			Replicas:    1,
		},
		Audit: AuditConfig{
			Path: "edi-audit.db",
		},
		Ingest: IngestConfig{
			DedupeWindow: 24 * time.Hour,
			FetchTimeout: 5 * time.Second,
			WriteTimeout: 5 * time.Second,
			MaxReadBytes: 1024 * 1024,
		},
		Dispatch: DispatchConfig{
			Stream:          "EDI_EVENTS",
			Consumer:        "edi-ingest",
			StreamMaxAge:    7 * 24 * time.Hour,
			DuplicateWindow: 10 * time.Minute,
			AckWait:         30 * time.Second,
			MaxDeliver:      5,
			MaxConcurrent:   8,
			RatePerSecond:   100,
			RateBurst:       10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9090",
		},
		Feed: FeedConfig{
			Enabled: true,
			Addr:    ":8081",
		},
	}
}

// Load resolves the effective configuration: Defaults, then each named file
// in order, then EDIPROC_* environment overrides. Later layers win field by
// field, so a file only has to name what it changes. Load does not validate;
// callers decide when to run Validate.
func Load(files ...string) (*Config, error) {
	cfg := Defaults()
	for _, path := range files {
		if err := applyFile(cfg, path); err != nil {
			return nil, fmt.Errorf("config layer %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

// applyFile merges one JSON or YAML file into cfg. The file is decoded to a
// tree first so duration strings can be rewritten, then the tree is decoded
// onto cfg, which touches only the fields the file names.
func applyFile(cfg *Config, path string) error {
	data, err := readConfigFile(path)
	if err != nil {
		return err
	}

	tree := map[string]any{}
	if isYAMLPath(path) {
		if err := yaml.Unmarshal(data, &tree); err != nil {
			return err
		}
	} else {
		if err := checkJSONDepth(data); err != nil {
			return err
		}
		if err := json.Unmarshal(data, &tree); err != nil {
			return err
		}
	}
	rewriteDurations(tree)

	canonical, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(canonical, cfg)
}

func isYAMLPath(path string) bool {
	return strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml")
}

// durationKeys lists the tree paths that accept duration strings in files,
// Go syntax ("90s", "1.5h") or a whole number of days ("7d").
var durationKeys = map[string]bool{
	"nats.reconnect_wait":       true,
	"ingest.dedupe_window":      true,
	"ingest.fetch_timeout":      true,
	"ingest.write_timeout":      true,
	"dispatch.stream_max_age":   true,
	"dispatch.duplicate_window": true,
	"dispatch.ack_wait":         true,
}

// rewriteDurations replaces duration strings in the tree with nanosecond
// counts so they decode onto time.Duration fields. Strings that fail to
// parse are left alone and fail the struct decode instead.
func rewriteDurations(tree map[string]any) {
	for section, node := range tree {
		child, ok := node.(map[string]any)
		if !ok {
			continue
		}
		for key, val := range child {
			s, ok := val.(string)
			if !ok || !durationKeys[section+"."+key] {
				continue
			}
			if d, err := parseSpan(s); err == nil {
				child[key] = int64(d)
			}
		}
	}
}

// parseSpan reads a Go duration, accepting "d" as a day suffix.
func parseSpan(s string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, err
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}

const envPrefix = "EDIPROC_"

// envOverrides maps variable suffixes to the field each one replaces. Every
// entry beats both defaults and file layers.
var envOverrides = []struct {
	suffix string
	set    func(*Config, string)
}{
	{"NATS_URLS", func(c *Config, v string) { c.NATS.URLs = splitURLs(v) }},
	{"NATS_USERNAME", func(c *Config, v string) { c.NATS.Username = v }},
	{"NATS_PASSWORD", func(c *Config, v string) { c.NATS.Password = v }},
	{"NATS_TOKEN", func(c *Config, v string) { c.NATS.Token = v }},
	{"BUCKET", func(c *Config, v string) { c.Bucket.Name = v }},
	{"AUDIT_PATH", func(c *Config, v string) { c.Audit.Path = v }},
	{"LOG_LEVEL", func(c *Config, v string) { c.Log.Level = v }},
	{"METRICS_ADDR", func(c *Config, v string) { c.Metrics.Addr = v }},
	{"FEED_ADDR", func(c *Config, v string) { c.Feed.Addr = v }},
}

// applyEnv lays environment overrides onto cfg. Values that fail the sanity
// checks are ignored rather than failing the load.
func applyEnv(cfg *Config) {
	for _, o := range envOverrides {
		key := envPrefix + o.suffix
		val := os.Getenv(key)
		if val == "" || checkEnvValue(key, val) != nil {
			continue
		}
		o.set(cfg, val)
	}
}

// splitURLs splits a comma separated URL list, dropping blanks.
func splitURLs(v string) []string {
	parts := strings.Split(v, ",")
	urls := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			urls = append(urls, p)
		}
	}
	return urls
}

// Validate checks that required settings are present. Opaque strings such as
// URLs, credentials and paths are presence-checked only, never parsed.
func (c *Config) Validate() error {
	if len(c.NATS.URLs) == 0 {
		return errors.New("nats.urls is required")
	}
	for i, url := range c.NATS.URLs {
		if strings.TrimSpace(url) == "" {
			return fmt.Errorf("nats.urls[%d] is empty", i)
		}
	}

	if strings.TrimSpace(c.Bucket.Name) == "" {
		return errors.New("bucket.name is required")
	}
	if strings.TrimSpace(c.Audit.Path) == "" {
		return errors.New("audit.path is required")
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr is required when metrics are enabled")
	}
	if c.Feed.Enabled && c.Feed.Addr == "" {
		return errors.New("feed.addr is required when the feed is enabled")
	}

	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("log.format %q is not text or json", c.Log.Format)
	}

	return nil
}

// WriteFile writes the configuration to path, JSON or YAML by extension.
// Credentials are not redacted; the file is created owner-only.
func (c *Config) WriteFile(path string) error {
	var data []byte
	var err error
	if isYAMLPath(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return writeConfigFile(path, data)
}

// String renders the configuration as indented JSON with credentials
// redacted, safe for logs and the print-config flag.
func (c *Config) String() string {
	redacted := *c
	if redacted.NATS.Password != "" {
		redacted.NATS.Password = "[REDACTED]"
	}
	if redacted.NATS.Token != "" {
		redacted.NATS.Token = "[REDACTED]"
	}
	data, _ := json.MarshalIndent(&redacted, "", "  ")
	return string(data)
}
