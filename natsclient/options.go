package natsclient

import (
	"log/slog"
	"time"

	"github.com/itsBaivab/edi-file-processor/metric"
)

// ClientOption configures a Client at construction time.
type ClientOption func(*Client)

// WithName sets the connection name reported to the server, which shows
// up in broker-side monitoring.
func WithName(name string) ClientOption {
	return func(c *Client) {
		c.name = name
	}
}

// WithLogger routes client logging through the given logger. A nil
// logger keeps slog.Default.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMaxReconnects bounds how often nats.go retries a lost connection.
// Negative means retry forever, zero disables reconnects.
func WithMaxReconnects(n int) ClientOption {
	return func(c *Client) {
		c.maxReconnects = n
	}
}

// WithReconnectWait sets the pause between reconnect attempts.
func WithReconnectWait(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.reconnectWait = d
		}
	}
}

// WithPingInterval sets how often the connection is pinged to detect
// silent failures.
func WithPingInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.pingInterval = d
		}
	}
}

// WithTimeout bounds the initial dial.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCredentials sets username and password authentication.
func WithCredentials(username, password string) ClientOption {
	return func(c *Client) {
		c.username = username
		c.password = password
	}
}

// WithToken sets token authentication.
func WithToken(token string) ClientOption {
	return func(c *Client) {
		c.token = token
	}
}

// WithMetrics registers JetStream stream and consumer gauges on the
// registry and polls them in the background once connected. A nil
// registry disables instrumentation.
func WithMetrics(registry *metric.MetricsRegistry) ClientOption {
	return func(c *Client) {
		c.metricsRegistry = registry
	}
}

// WithHealthInterval sets how often the background probe checks the
// connection. Zero disables the probe.
func WithHealthInterval(d time.Duration) ClientOption {
	return func(c *Client) {
		c.healthInterval = d
	}
}

// WithHealthChangeCallback registers a callback invoked whenever the
// connection flips between healthy and unhealthy. The callback runs on
// its own goroutine.
func WithHealthChangeCallback(fn func(healthy bool)) ClientOption {
	return func(c *Client) {
		c.onHealthChange = fn
	}
}

// WithCircuitBreakerThreshold sets how many failures trip the breaker.
// Values below one keep the default.
func WithCircuitBreakerThreshold(n int) ClientOption {
	return func(c *Client) {
		if n >= 1 {
			c.breaker.threshold = int32(n)
		}
	}
}

// WithMaxBackoff caps how long the circuit stays open between probes.
// Values below one second keep the default.
func WithMaxBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= time.Second {
			c.breaker.maxBackoff = d
		}
	}
}
