package natsclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/itsBaivab/edi-file-processor/metric"
)

// Sentinel errors returned by client operations. Callers match them with
// errors.Is; the client never wraps them in anything deeper.
var (
	// ErrNotConnected is returned by operations invoked before Connect
	// succeeds or after the connection is lost.
	ErrNotConnected = errors.New("natsclient: no active connection")

	// ErrCircuitOpen is returned while the breaker is holding operations
	// off after repeated broker failures.
	ErrCircuitOpen = errors.New("natsclient: circuit breaker open")

	// ErrConnectionTimeout is returned when WaitForConnection gives up.
	ErrConnectionTimeout = errors.New("natsclient: connection timeout")
)

// ConnectionStatus is the connection lifecycle state of a Client.
type ConnectionStatus int32

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

var statusNames = [...]string{"disconnected", "connecting", "connected", "reconnecting", "circuit_open"}

func (s ConnectionStatus) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}
	return statusNames[s]
}

// Snapshot is a point-in-time view of the connection for monitoring.
type Snapshot struct {
	State       ConnectionStatus
	Failures    int32
	LastFailure time.Time
	Reconnects  int32
	RTT         time.Duration
}

// Each subscription handler runs under its own deadline so one slow
// message cannot wedge the delivery goroutine forever.
const handlerTimeout = 30 * time.Second

// Client wraps a NATS connection with a circuit breaker, background
// health checks and JetStream helpers. The zero value is not usable;
// construct with NewClient. All methods are safe for concurrent use.
type Client struct {
	url    string
	name   string
	logger *slog.Logger

	connMu sync.RWMutex
	conn   *nats.Conn
	js     jetstream.JetStream

	status     atomic.Int32 // holds a ConnectionStatus
	reconnects atomic.Int32
	closed     atomic.Bool
	closeMu    sync.Mutex

	breaker *circuitBreaker

	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Credentials are wiped when the client closes.
	username string
	password string
	token    string

	healthMu       sync.Mutex
	healthStop     chan struct{}
	healthInterval time.Duration
	onHealthChange func(healthy bool)

	metricsRegistry *metric.MetricsRegistry
	metricsInterval time.Duration
	jsMetrics       *jetstreamMetrics
	stopMetrics     context.CancelFunc

	subsMu sync.Mutex
	subs   []*nats.Subscription

	consumersMu sync.Mutex
	consumers   map[string]jetstream.ConsumeContext
}

// NewClient builds a client for the given server URL. The URL may list
// several servers separated by commas. Nothing connects until Connect.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	if url == "" {
		return nil, errors.New("natsclient: empty server URL")
	}

	c := &Client{
		url:             url,
		logger:          slog.Default(),
		breaker:         newCircuitBreaker(),
		maxReconnects:   -1,
		reconnectWait:   2 * time.Second,
		pingInterval:    30 * time.Second,
		timeout:         5 * time.Second,
		drainTimeout:    30 * time.Second,
		healthInterval:  10 * time.Second,
		metricsInterval: 30 * time.Second,
		consumers:       make(map[string]jetstream.ConsumeContext),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.metricsRegistry != nil {
		m, err := newJetStreamMetrics(c.metricsRegistry)
		if err != nil {
			return nil, fmt.Errorf("register JetStream metrics: %w", err)
		}
		c.jsMetrics = m
	}

	return c, nil
}

// Connect dials the broker and prepares the JetStream context. It returns
// ErrCircuitOpen without dialing while the breaker is open. A failed dial
// counts against the breaker.
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	c.setStatus(StatusConnecting)

	type dialResult struct {
		conn *nats.Conn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := nats.Connect(c.url, c.connectOptions()...)
		done <- dialResult{conn, err}
	}()

	var conn *nats.Conn
	select {
	case <-ctx.Done():
		c.setStatus(StatusDisconnected)
		c.recordFailure()
		return fmt.Errorf("connect to %s: %w", c.url, ctx.Err())
	case r := <-done:
		if r.err != nil {
			c.setStatus(StatusDisconnected)
			c.recordFailure()
			return fmt.Errorf("connect to %s: %w", c.url, r.err)
		}
		conn = r.conn
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		c.setStatus(StatusDisconnected)
		c.recordFailure()
		return fmt.Errorf("init JetStream context: %w", err)
	}

	c.connMu.Lock()
	c.conn = conn
	c.js = js
	c.connMu.Unlock()

	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.startHealthMonitor()
	if c.jsMetrics != nil {
		c.stopMetrics = c.jsMetrics.startPoller(context.Background(), c.metricsInterval)
	}
	c.notifyHealth(true)

	c.logger.Info("connected to NATS", "url", conn.ConnectedUrl(), "server", conn.ConnectedServerName())
	return nil
}

// WaitForConnection blocks until the client reports connected or the
// context expires.
func (c *Client) WaitForConnection(ctx context.Context) error {
	if c.Status() == StatusConnected {
		return nil
	}

	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", c.url, ErrConnectionTimeout)
		case <-ticker.C:
			if c.Status() == StatusConnected {
				return nil
			}
		}
	}
}

// Close drains the connection and releases every subscription, consumer
// and background goroutine. Draining is bounded by the configured drain
// timeout or the context deadline, whichever is shorter. Calling Close
// again is a no-op.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.stopHealthMonitor()
	if c.stopMetrics != nil {
		c.stopMetrics()
		c.stopMetrics = nil
	}

	c.consumersMu.Lock()
	for _, cc := range c.consumers {
		cc.Stop()
	}
	c.consumers = nil
	c.consumersMu.Unlock()

	c.subsMu.Lock()
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.subs = nil
	c.subsMu.Unlock()

	var closeErr error
	if conn := c.connection(); conn != nil && !conn.IsClosed() {
		closeErr = c.drain(ctx, conn)
	}

	c.connMu.Lock()
	c.conn = nil
	c.js = nil
	c.connMu.Unlock()

	c.setStatus(StatusDisconnected)
	c.username, c.password, c.token = "", "", ""

	if closeErr != nil {
		return fmt.Errorf("close: %w", closeErr)
	}
	return nil
}

// drain flushes buffered messages and waits for the server to confirm
// the connection is gone, force-closing on timeout.
func (c *Client) drain(ctx context.Context, conn *nats.Conn) error {
	wait := c.drainTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
	}

	done := make(chan error, 1)
	go func() {
		if err := conn.Drain(); err != nil {
			done <- err
			return
		}
		for !conn.IsClosed() {
			time.Sleep(20 * time.Millisecond)
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(wait):
		conn.Close()
		return fmt.Errorf("drain timed out after %s", wait)
	}
}

// Publish sends a message on a plain subject and flushes it to the
// server before returning.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if err := c.ready(); err != nil {
		return err
	}
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	if err := conn.FlushWithContext(ctx); err != nil {
		return fmt.Errorf("flush %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for a plain subject. The subscription
// lives until Close; each delivery runs the handler with its own
// deadline.
func (c *Client) Subscribe(ctx context.Context, subject string, handler func(context.Context, []byte)) error {
	if err := c.ready(); err != nil {
		return err
	}
	conn := c.connection()
	if conn == nil {
		return ErrNotConnected
	}

	sub, err := conn.Subscribe(subject, func(msg *nats.Msg) {
		msgCtx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
		defer cancel()
		handler(msgCtx, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}

	c.subsMu.Lock()
	c.subs = append(c.subs, sub)
	c.subsMu.Unlock()
	return nil
}

// RTT measures the round-trip time to the connected server.
func (c *Client) RTT() (time.Duration, error) {
	conn := c.connection()
	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// Status returns the current lifecycle state.
func (c *Client) Status() ConnectionStatus {
	return ConnectionStatus(c.status.Load())
}

// IsHealthy reports whether the client holds a live connection.
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Snapshot captures the connection state for the runtime monitor.
func (c *Client) Snapshot() *Snapshot {
	snap := &Snapshot{
		State:       c.Status(),
		Failures:    c.breaker.failureCount(),
		LastFailure: c.breaker.lastFailureTime(),
		Reconnects:  c.reconnects.Load(),
	}
	if rtt, err := c.RTT(); err == nil {
		snap.RTT = rtt
	}
	return snap
}

func (c *Client) setStatus(s ConnectionStatus) {
	c.status.Store(int32(s))
}

// ready gates an operation on the breaker and the connection state.
// It returns the bare sentinel so callers can match with errors.Is.
func (c *Client) ready() error {
	switch c.Status() {
	case StatusCircuitOpen:
		return ErrCircuitOpen
	case StatusConnected:
		return nil
	default:
		return ErrNotConnected
	}
}

func (c *Client) connection() *nats.Conn {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.conn
}

func (c *Client) notifyHealth(healthy bool) {
	if c.onHealthChange != nil {
		go c.onHealthChange(healthy)
	}
}

// connectOptions maps the client configuration to nats.go options,
// wiring in the lifecycle handlers.
func (c *Client) connectOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleAsyncError),
	}
	if c.name != "" {
		opts = append(opts, nats.Name(c.name))
	}
	if c.username != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	return opts
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	if err != nil {
		c.logger.Warn("NATS connection lost", "error", err)
	} else {
		c.logger.Warn("NATS connection lost")
	}
	c.notifyHealth(false)
}

func (c *Client) handleReconnect(conn *nats.Conn) {
	c.reconnects.Add(1)
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.logger.Info("NATS connection restored", "url", conn.ConnectedUrl())
	c.notifyHealth(true)
}

func (c *Client) handleClosed(_ *nats.Conn) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusDisconnected)
	c.logger.Warn("NATS connection closed, reconnect attempts exhausted")
	c.notifyHealth(false)
}

func (c *Client) handleAsyncError(_ *nats.Conn, sub *nats.Subscription, err error) {
	if sub != nil {
		c.logger.Error("NATS async error", "subject", sub.Subject, "error", err)
		return
	}
	c.logger.Error("NATS async error", "error", err)
}

// startHealthMonitor probes the connection at the configured interval
// and keeps the status and health callback in line with what the probe
// sees. An interval of zero disables the monitor.
func (c *Client) startHealthMonitor() {
	if c.healthInterval <= 0 {
		return
	}
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if c.healthStop != nil {
		return
	}

	stop := make(chan struct{})
	c.healthStop = stop
	go func() {
		ticker := time.NewTicker(c.healthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				c.checkHealth()
			}
		}
	}()
}

func (c *Client) stopHealthMonitor() {
	c.healthMu.Lock()
	defer c.healthMu.Unlock()
	if c.healthStop != nil {
		close(c.healthStop)
		c.healthStop = nil
	}
}

func (c *Client) checkHealth() {
	conn := c.connection()
	healthy := conn != nil && conn.IsConnected()
	if healthy {
		if _, err := conn.RTT(); err != nil {
			healthy = false
		}
	}

	switch current := c.Status(); {
	case healthy && current != StatusConnected && current != StatusCircuitOpen:
		c.setStatus(StatusConnected)
		c.logger.Info("health probe: connection recovered")
		c.notifyHealth(true)
	case !healthy && current == StatusConnected:
		c.setStatus(StatusReconnecting)
		c.logger.Warn("health probe: connection unhealthy")
		c.notifyHealth(false)
	}
}
