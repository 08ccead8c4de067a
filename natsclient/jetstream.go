package natsclient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// JetStream exposes the raw JetStream context for callers that need
// operations the client does not wrap.
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	if c.js == nil {
		return nil, ErrNotConnected
	}
	return c.js, nil
}

// CreateStream creates the stream or updates it to match the given
// configuration, so it is safe to call on every start.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.CreateOrUpdateStream(ctx, cfg)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("create stream %s: %w", cfg.Name, err)
	}
	c.resetCircuit()
	c.jsMetrics.trackStream(cfg.Name, stream)
	return stream, nil
}

// GetStream looks up an existing stream. A missing stream does not count
// against the circuit breaker.
func (c *Client) GetStream(ctx context.Context, name string) (jetstream.Stream, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	stream, err := js.Stream(ctx, name)
	if err != nil {
		if !errors.Is(err, jetstream.ErrStreamNotFound) {
			c.recordFailure()
		}
		return nil, fmt.Errorf("get stream %s: %w", name, err)
	}
	c.resetCircuit()
	c.jsMetrics.trackStream(name, stream)
	return stream, nil
}

// PublishToStream publishes data to a stream subject with at-least-once
// semantics.
func (c *Client) PublishToStream(ctx context.Context, subject string, data []byte) error {
	return c.PublishMsgToStream(ctx, &nats.Msg{Subject: subject, Data: data})
}

// PublishMsgToStream publishes a full message to a stream subject.
// Callers set a Nats-Msg-Id header when they want the stream's duplicate
// window to drop replays.
func (c *Client) PublishMsgToStream(ctx context.Context, msg *nats.Msg) error {
	if err := c.ready(); err != nil {
		return err
	}
	js, err := c.JetStream()
	if err != nil {
		return err
	}

	if _, err := js.PublishMsg(ctx, msg); err != nil {
		c.recordFailure()
		return fmt.Errorf("publish to stream subject %s: %w", msg.Subject, err)
	}
	c.resetCircuit()
	return nil
}

// ConsumeStream creates or updates a consumer on the stream and starts
// delivering messages to the handler. The handler owns acknowledgment:
// the client never acks or naks on its behalf. A consumer created twice
// under the same durable name replaces the earlier delivery loop.
func (c *Client) ConsumeStream(ctx context.Context, streamName string, cfg jetstream.ConsumerConfig, handler func(jetstream.Msg)) (jetstream.ConsumeContext, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	consumer, err := js.CreateOrUpdateConsumer(ctx, streamName, cfg)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("create consumer on %s: %w", streamName, err)
	}

	consumeCtx, err := consumer.Consume(handler)
	if err != nil {
		c.recordFailure()
		return nil, fmt.Errorf("consume %s: %w", streamName, err)
	}
	c.resetCircuit()

	name := cfg.Durable
	if name == "" {
		name = cfg.FilterSubject
	}
	key := streamName + ":" + name

	c.consumersMu.Lock()
	if c.closed.Load() {
		c.consumersMu.Unlock()
		consumeCtx.Stop()
		return nil, ErrNotConnected
	}
	if old, ok := c.consumers[key]; ok {
		old.Stop()
	}
	c.consumers[key] = consumeCtx
	c.consumersMu.Unlock()

	c.jsMetrics.trackConsumer(streamName, name, consumer)
	return consumeCtx, nil
}

// CreateObjectStoreBucket returns the named bucket, creating it when it
// does not exist yet. Two processes racing to create the same bucket
// both get it back.
func (c *Client) CreateObjectStoreBucket(ctx context.Context, cfg jetstream.ObjectStoreConfig) (jetstream.ObjectStore, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	if bucket, err := js.ObjectStore(ctx, cfg.Bucket); err == nil {
		c.resetCircuit()
		return bucket, nil
	}

	bucket, createErr := js.CreateObjectStore(ctx, cfg)
	if createErr == nil {
		c.resetCircuit()
		return bucket, nil
	}
	if isAlreadyExistsError(createErr) {
		// Lost the create race; the bucket exists now.
		if bucket, err := js.ObjectStore(ctx, cfg.Bucket); err == nil {
			c.resetCircuit()
			return bucket, nil
		}
	}
	c.recordFailure()
	return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, createErr)
}

// GetObjectStoreBucket looks up an existing bucket. A missing bucket
// does not count against the circuit breaker.
func (c *Client) GetObjectStoreBucket(ctx context.Context, name string) (jetstream.ObjectStore, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	js, err := c.JetStream()
	if err != nil {
		return nil, err
	}

	bucket, err := js.ObjectStore(ctx, name)
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketNotFound) {
			c.recordFailure()
		}
		return nil, fmt.Errorf("get bucket %s: %w", name, err)
	}
	c.resetCircuit()
	return bucket, nil
}

// isAlreadyExistsError recognizes the message shapes the server returns
// when a bucket or its backing stream already exists.
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "stream name already in use")
}
