package natsclient

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientDefaults(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	assert.Equal(t, StatusDisconnected, client.Status())
	assert.False(t, client.IsHealthy())
	assert.Equal(t, -1, client.maxReconnects)
	assert.Equal(t, 2*time.Second, client.reconnectWait)
	assert.Equal(t, 5*time.Second, client.timeout)
	assert.Equal(t, int32(defaultCircuitThreshold), client.breaker.threshold)
	assert.Equal(t, time.Second, client.Backoff())
}

func TestNewClientRejectsEmptyURL(t *testing.T) {
	_, err := NewClient("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty server URL")
}

func TestConnectionStatusString(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected:   "disconnected",
		StatusConnecting:     "connecting",
		StatusConnected:      "connected",
		StatusReconnecting:   "reconnecting",
		StatusCircuitOpen:    "circuit_open",
		ConnectionStatus(42): "unknown",
	}
	for status, want := range cases {
		assert.Equal(t, want, status.String())
	}
}

type gatedOp struct {
	name string
	call func(context.Context, *Client) error
}

func gatedOps() []gatedOp {
	return []gatedOp{
		{"Publish", func(ctx context.Context, c *Client) error {
			return c.Publish(ctx, "edi.test", []byte("x"))
		}},
		{"Subscribe", func(ctx context.Context, c *Client) error {
			return c.Subscribe(ctx, "edi.test", func(context.Context, []byte) {})
		}},
		{"CreateStream", func(ctx context.Context, c *Client) error {
			_, err := c.CreateStream(ctx, jetstream.StreamConfig{Name: "EDI_TEST"})
			return err
		}},
		{"GetStream", func(ctx context.Context, c *Client) error {
			_, err := c.GetStream(ctx, "EDI_TEST")
			return err
		}},
		{"PublishToStream", func(ctx context.Context, c *Client) error {
			return c.PublishToStream(ctx, "edi.test", []byte("x"))
		}},
		{"PublishMsgToStream", func(ctx context.Context, c *Client) error {
			return c.PublishMsgToStream(ctx, &nats.Msg{Subject: "edi.test"})
		}},
		{"ConsumeStream", func(ctx context.Context, c *Client) error {
			_, err := c.ConsumeStream(ctx, "EDI_TEST",
				jetstream.ConsumerConfig{Durable: "edi-test"}, func(jetstream.Msg) {})
			return err
		}},
		{"CreateObjectStoreBucket", func(ctx context.Context, c *Client) error {
			_, err := c.CreateObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{Bucket: "edi-test"})
			return err
		}},
		{"GetObjectStoreBucket", func(ctx context.Context, c *Client) error {
			_, err := c.GetObjectStoreBucket(ctx, "edi-test")
			return err
		}},
	}
}

func TestOpsRequireConnection(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	ctx := context.Background()

	for _, op := range gatedOps() {
		t.Run(op.name, func(t *testing.T) {
			assert.Equal(t, ErrNotConnected, op.call(ctx, client))
		})
	}

	_, err = client.JetStream()
	assert.Equal(t, ErrNotConnected, err)
	_, err = client.RTT()
	assert.Equal(t, ErrNotConnected, err)
}

func TestOpsFailFastWhenCircuitOpen(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)
	client.setStatus(StatusCircuitOpen)
	ctx := context.Background()

	for _, op := range gatedOps() {
		t.Run(op.name, func(t *testing.T) {
			assert.Equal(t, ErrCircuitOpen, op.call(ctx, client))
		})
	}
}

func TestWaitForConnection(t *testing.T) {
	t.Run("times out while disconnected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err = client.WaitForConnection(ctx)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrConnectionTimeout))
	})

	t.Run("returns immediately when connected", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)
		client.setStatus(StatusConnected)

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()

		start := time.Now()
		require.NoError(t, client.WaitForConnection(ctx))
		assert.Less(t, time.Since(start), 100*time.Millisecond)
	})

	t.Run("returns once the status flips", func(t *testing.T) {
		client, err := NewClient("nats://localhost:4222")
		require.NoError(t, err)

		go func() {
			time.Sleep(50 * time.Millisecond)
			client.setStatus(StatusConnected)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()

		require.NoError(t, client.WaitForConnection(ctx))
		assert.Equal(t, StatusConnected, client.Status())
	})
}

func TestIsHealthy(t *testing.T) {
	cases := []struct {
		status  ConnectionStatus
		healthy bool
	}{
		{StatusConnected, true},
		{StatusDisconnected, false},
		{StatusConnecting, false},
		{StatusReconnecting, false},
		{StatusCircuitOpen, false},
	}
	for _, tc := range cases {
		t.Run(tc.status.String(), func(t *testing.T) {
			client, err := NewClient("nats://localhost:4222")
			require.NoError(t, err)
			client.setStatus(tc.status)
			assert.Equal(t, tc.healthy, client.IsHealthy())
		})
	}
}

func TestSnapshot(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	snap := client.Snapshot()
	require.NotNil(t, snap)
	assert.Equal(t, StatusDisconnected, snap.State)
	assert.Zero(t, snap.Failures)
	assert.True(t, snap.LastFailure.IsZero())

	for i := 0; i < 3; i++ {
		client.recordFailure()
	}
	snap = client.Snapshot()
	assert.Equal(t, int32(3), snap.Failures)
	assert.False(t, snap.LastFailure.IsZero())
	assert.Zero(t, snap.Reconnects)

	client.resetCircuit()
	assert.Zero(t, client.Snapshot().Failures)
}

func TestClientOptions(t *testing.T) {
	logger := slog.Default().With("component", "test")
	client, err := NewClient("nats://localhost:4222",
		WithName("edi-test"),
		WithLogger(logger),
		WithMaxReconnects(10),
		WithReconnectWait(5*time.Second),
		WithPingInterval(time.Minute),
		WithTimeout(time.Second),
		WithCredentials("user", "pass"),
		WithToken("tok"),
		WithHealthInterval(0),
		WithCircuitBreakerThreshold(3),
		WithMaxBackoff(10*time.Second),
	)
	require.NoError(t, err)

	assert.Equal(t, "edi-test", client.name)
	assert.Same(t, logger, client.logger)
	assert.Equal(t, 10, client.maxReconnects)
	assert.Equal(t, 5*time.Second, client.reconnectWait)
	assert.Equal(t, time.Minute, client.pingInterval)
	assert.Equal(t, time.Second, client.timeout)
	assert.Equal(t, "user", client.username)
	assert.Equal(t, "pass", client.password)
	assert.Equal(t, "tok", client.token)
	assert.Zero(t, client.healthInterval)
	assert.Equal(t, int32(3), client.breaker.threshold)
	assert.Equal(t, 10*time.Second, client.breaker.maxBackoff)
}

func TestClientOptionsKeepDefaultsOnBadValues(t *testing.T) {
	client, err := NewClient("nats://localhost:4222",
		WithLogger(nil),
		WithReconnectWait(0),
		WithTimeout(-time.Second),
		WithCircuitBreakerThreshold(0),
		WithMaxBackoff(time.Millisecond),
	)
	require.NoError(t, err)

	assert.NotNil(t, client.logger)
	assert.Equal(t, 2*time.Second, client.reconnectWait)
	assert.Equal(t, 5*time.Second, client.timeout)
	assert.Equal(t, int32(defaultCircuitThreshold), client.breaker.threshold)
	assert.Equal(t, defaultMaxBackoff, client.breaker.maxBackoff)
}

func TestCloseWithoutConnect(t *testing.T) {
	client, err := NewClient("nats://localhost:4222")
	require.NoError(t, err)

	ctx := context.Background()
	assert.NoError(t, client.Close(ctx))
	assert.NoError(t, client.Close(ctx))
}

func TestConnectRefusedCountsFailure(t *testing.T) {
	client, err := NewClient("nats://127.0.0.1:1",
		WithTimeout(500*time.Millisecond),
		WithMaxReconnects(0),
	)
	require.NoError(t, err)

	err = client.Connect(context.Background())
	require.Error(t, err)
	assert.Equal(t, StatusDisconnected, client.Status())
	assert.Equal(t, int32(1), client.Failures())
}

func TestAlreadyExistsDetection(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"bucket name in use", errors.New("nats: bucket name already in use"), true},
		{"already exists", errors.New("bucket already exists"), true},
		{"stream name in use", errors.New("nats: stream name already in use"), true},
		{"unrelated error", errors.New("connection refused"), false},
		{"nil", nil, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isAlreadyExistsError(tc.err))
		})
	}
}

func TestPubSubRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	tc := NewTestClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	received := make(chan []byte, 1)
	require.NoError(t, tc.Client.Subscribe(ctx, "edi.notify", func(_ context.Context, data []byte) {
		received <- data
	}))

	require.NoError(t, tc.Client.Publish(ctx, "edi.notify", []byte("audit recorded")))

	select {
	case data := <-received:
		assert.Equal(t, []byte("audit recorded"), data)
	case <-time.After(2 * time.Second):
		t.Fatal("message not received")
	}
}

func TestJetStreamRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	tc := NewTestClient(t, WithJetStream())
	client := tc.Client
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := jetstream.StreamConfig{
		Name:       "EDI_ROUNDTRIP",
		Subjects:   []string{"roundtrip.>"},
		Duplicates: time.Minute,
	}
	stream, err := client.CreateStream(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, stream)

	// Ensuring the stream a second time is an update, not an error.
	_, err = client.CreateStream(ctx, cfg)
	require.NoError(t, err)

	fetched, err := client.GetStream(ctx, "EDI_ROUNDTRIP")
	require.NoError(t, err)
	assert.Equal(t, "EDI_ROUNDTRIP", fetched.CachedInfo().Config.Name)

	require.NoError(t, client.PublishToStream(ctx, "roundtrip.created", []byte("first")))

	received := make(chan []byte, 4)
	consumeCtx, err := client.ConsumeStream(ctx, "EDI_ROUNDTRIP", jetstream.ConsumerConfig{
		Durable:       "roundtrip-consumer",
		FilterSubject: "roundtrip.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
	}, func(msg jetstream.Msg) {
		received <- msg.Data()
		_ = msg.Ack()
	})
	require.NoError(t, err)
	defer consumeCtx.Stop()

	select {
	case data := <-received:
		assert.Equal(t, []byte("first"), data)
	case <-time.After(3 * time.Second):
		t.Fatal("stream message not received")
	}

	// Replays carrying the same Nats-Msg-Id land in the stream once.
	dup := &nats.Msg{
		Subject: "roundtrip.created",
		Data:    []byte("only once"),
		Header:  nats.Header{"Nats-Msg-Id": []string{"evt-dup-1"}},
	}
	require.NoError(t, client.PublishMsgToStream(ctx, dup))
	require.NoError(t, client.PublishMsgToStream(ctx, dup))

	select {
	case data := <-received:
		assert.Equal(t, []byte("only once"), data)
	case <-time.After(3 * time.Second):
		t.Fatal("deduplicated message not received")
	}
	select {
	case <-received:
		t.Fatal("duplicate should have been dropped by the stream")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestObjectStoreRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	tc := NewTestClient(t, WithObjectStore())
	client := tc.Client
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	cfg := jetstream.ObjectStoreConfig{Bucket: "edi-roundtrip"}
	bucket, err := client.CreateObjectStoreBucket(ctx, cfg)
	require.NoError(t, err)

	_, err = bucket.PutBytes(ctx, "invoices/invoice-001.txt", []byte("ISA*00*"))
	require.NoError(t, err)

	data, err := bucket.GetBytes(ctx, "invoices/invoice-001.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("ISA*00*"), data)

	// Creating again returns the same bucket instead of failing.
	again, err := client.CreateObjectStoreBucket(ctx, cfg)
	require.NoError(t, err)
	info, err := again.GetInfo(ctx, "invoices/invoice-001.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(len("ISA*00*")), info.Size)

	fetched, err := client.GetObjectStoreBucket(ctx, "edi-roundtrip")
	require.NoError(t, err)
	require.NotNil(t, fetched)

	// A missing bucket is a lookup miss, not a broker failure.
	_, err = client.GetObjectStoreBucket(ctx, "no-such-bucket")
	require.Error(t, err)
	assert.Zero(t, client.Failures())
}
