package natsclient

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	defaultCircuitThreshold = 5
	initialCircuitBackoff   = time.Second
	defaultMaxBackoff       = time.Minute
)

// circuitBreaker counts broker failures and decides when the client
// should stop hammering a broken server. Status transitions stay on the
// Client; the breaker only tracks counts and backoff.
type circuitBreaker struct {
	threshold  int32
	maxBackoff time.Duration

	// consecutive resets on every trip so the next trip needs a fresh
	// run of failures; count accumulates until resetCircuit.
	consecutive atomic.Int32
	count       atomic.Int32
	lastFailure atomic.Int64 // unix nanoseconds

	mu      sync.Mutex
	backoff time.Duration
}

func newCircuitBreaker() *circuitBreaker {
	return &circuitBreaker{
		threshold:  defaultCircuitThreshold,
		maxBackoff: defaultMaxBackoff,
		backoff:    initialCircuitBackoff,
	}
}

// record counts one failure. It reports whether this failure tripped the
// breaker and, if so, how long the circuit should stay open before the
// next probe.
func (b *circuitBreaker) record() (tripped bool, wait time.Duration) {
	b.count.Add(1)
	b.lastFailure.Store(time.Now().UnixNano())

	if b.consecutive.Add(1) < b.threshold {
		return false, 0
	}
	b.consecutive.Store(0)

	b.mu.Lock()
	b.backoff *= 2
	if b.backoff > b.maxBackoff {
		b.backoff = b.maxBackoff
	}
	wait = b.backoff
	b.mu.Unlock()
	return true, wait
}

func (b *circuitBreaker) reset() {
	b.count.Store(0)
	b.consecutive.Store(0)
	b.mu.Lock()
	b.backoff = initialCircuitBackoff
	b.mu.Unlock()
}

func (b *circuitBreaker) failureCount() int32 {
	return b.count.Load()
}

func (b *circuitBreaker) currentBackoff() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.backoff
}

func (b *circuitBreaker) lastFailureTime() time.Time {
	nanos := b.lastFailure.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// recordFailure feeds the breaker and opens the circuit when the
// threshold is crossed. An open circuit schedules its own half-open
// probe after the current backoff.
func (c *Client) recordFailure() {
	tripped, wait := c.breaker.record()
	if !tripped {
		return
	}
	c.setStatus(StatusCircuitOpen)
	c.logger.Warn("circuit breaker open",
		"failures", c.breaker.failureCount(),
		"retry_in", wait)
	time.AfterFunc(wait, c.probeCircuit)
}

// resetCircuit clears the breaker after a successful operation and lets
// an open circuit close again.
func (c *Client) resetCircuit() {
	c.breaker.reset()
	c.status.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusConnected))
}

// probeCircuit moves an open circuit to half-open: the next operation or
// Connect is allowed through and decides whether the circuit closes.
func (c *Client) probeCircuit() {
	if !c.status.CompareAndSwap(int32(StatusCircuitOpen), int32(StatusDisconnected)) {
		return
	}
	c.logger.Info("circuit breaker half-open, allowing attempts",
		"next_backoff", c.breaker.currentBackoff())
}

// Failures returns the failure count since the breaker was last reset.
func (c *Client) Failures() int32 {
	return c.breaker.failureCount()
}

// Backoff returns the current circuit backoff. It doubles on every trip
// up to the configured maximum and re-arms when the breaker resets.
func (c *Client) Backoff() time.Duration {
	return c.breaker.currentBackoff()
}
