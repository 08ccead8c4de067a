package natsclient

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestClientConnects(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	tc := NewTestClient(t)
	require.NotNil(t, tc.Client)
	assert.NotEmpty(t, tc.URL)
	assert.True(t, tc.Client.IsHealthy())

	rtt, err := tc.Client.RTT()
	require.NoError(t, err)
	assert.Greater(t, rtt, time.Duration(0))
}

func TestTestClientJetStream(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	tc := NewTestClient(t, WithJetStream())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := tc.Client.CreateStream(ctx, jetstream.StreamConfig{
		Name:     "TC_STREAM",
		Subjects: []string{"tc.>"},
	})
	require.NoError(t, err)
	require.NotNil(t, stream)

	require.NoError(t, tc.Client.PublishToStream(ctx, "tc.created", []byte("payload")))
}

func TestTestClientObjectStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	tc := NewTestClient(t, WithObjectStore())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	bucket, err := tc.Client.CreateObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{
		Bucket: "tc-bucket",
	})
	require.NoError(t, err)

	_, err = bucket.PutBytes(ctx, "orders/order-001.txt", []byte("GS*PO*"))
	require.NoError(t, err)

	fetched, err := tc.GetObjectBucket(ctx, "tc-bucket")
	require.NoError(t, err)

	data, err := fetched.GetBytes(ctx, "orders/order-001.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("GS*PO*"), data)
}

func TestTestClientTerminateIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping broker test in short mode")
	}

	tc := NewTestClient(t)

	assert.NotPanics(t, func() { _ = tc.Terminate() })
	assert.NotPanics(t, func() { _ = tc.Terminate() })
}
