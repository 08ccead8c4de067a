package objectstore

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itsBaivab/edi-file-processor/errors"
	"github.com/itsBaivab/edi-file-processor/event"
	"github.com/itsBaivab/edi-file-processor/natsclient"
)

func testWatcherDeps(t *testing.T) WatcherDeps {
	t.Helper()

	client, err := natsclient.NewClient("nats://localhost:4222")
	require.NoError(t, err)

	store, err := NewStore(client, "edi-files")
	require.NoError(t, err)

	return WatcherDeps{
		Name:   "watcher-test",
		Store:  store,
		Client: client,
	}
}

func TestNewWatcher(t *testing.T) {
	watcher := NewWatcher(testWatcherDeps(t))

	assert.Equal(t, "watcher-test", watcher.name)
	assert.NotNil(t, watcher.logger, "should fall back to default logger")
	assert.Nil(t, watcher.metrics, "no registry means no metrics")
	assert.False(t, watcher.running.Load())
}

func TestWatcherInitialize(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		watcher := NewWatcher(testWatcherDeps(t))
		require.NoError(t, watcher.Initialize())
	})

	t.Run("missing store", func(t *testing.T) {
		deps := testWatcherDeps(t)
		deps.Store = nil
		watcher := NewWatcher(deps)

		err := watcher.Initialize()
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})

	t.Run("missing client", func(t *testing.T) {
		deps := testWatcherDeps(t)
		deps.Client = nil
		watcher := NewWatcher(deps)

		err := watcher.Initialize()
		require.Error(t, err)
		assert.True(t, errors.IsInvalid(err))
	})
}

func TestWatcherStopWithoutStart(t *testing.T) {
	watcher := NewWatcher(testWatcherDeps(t))
	assert.NoError(t, watcher.Stop(time.Second))
}

func TestWatcherHealthNotRunning(t *testing.T) {
	watcher := NewWatcher(testWatcherDeps(t))

	status := watcher.Health()
	assert.True(t, status.IsUnhealthy())
	assert.Equal(t, "watcher-test", status.Component)
}

func TestWatcherHealthDefaultName(t *testing.T) {
	deps := testWatcherDeps(t)
	deps.Name = ""
	watcher := NewWatcher(deps)

	status := watcher.Health()
	assert.Equal(t, "watcher", status.Component)
}

func TestWatcherPublishesEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	tc := natsclient.NewTestClient(t, natsclient.WithObjectStore())
	defer func() { _ = tc.Terminate() }()

	ctx := context.Background()

	_, err := tc.Client.CreateStream(ctx, jetstream.StreamConfig{
		Name:       "EDI_EVENTS",
		Subjects:   []string{"edi.event.created.>"},
		Storage:    jetstream.MemoryStorage,
		Duplicates: 2 * time.Minute,
	})
	require.NoError(t, err)

	store, err := NewStore(tc.Client, "edi-files")
	require.NoError(t, err)
	require.NoError(t, store.EnsureBucket(ctx))

	// Two uploads before the watcher starts become the initial snapshot.
	_, err = store.Put(ctx, "invoices/invoice-001.txt", "text/plain", []byte("ISA*00*first"))
	require.NoError(t, err)
	_, err = store.Put(ctx, "invoices/invoice-002.edi", "", []byte("ISA*00*second"))
	require.NoError(t, err)

	events := make(chan *event.BlobEvent, 16)
	consumeCtx, err := tc.Client.ConsumeStream(ctx, "EDI_EVENTS", jetstream.ConsumerConfig{
		Durable:       "watcher-test-sink",
		FilterSubject: "edi.event.created.>",
		AckPolicy:     jetstream.AckExplicitPolicy,
	}, func(msg jetstream.Msg) {
		evt, decodeErr := event.Decode(msg.Data())
		if decodeErr == nil {
			events <- evt
		}
		_ = msg.Ack()
	})
	require.NoError(t, err)
	defer consumeCtx.Stop()

	watcher := NewWatcher(WatcherDeps{
		Name:   "edi-watcher",
		Store:  store,
		Client: tc.Client,
	})
	require.NoError(t, watcher.Initialize())
	require.NoError(t, watcher.Start(ctx))
	defer func() { _ = watcher.Stop(5 * time.Second) }()

	// Snapshot replays both pre-existing objects.
	snapshot := map[string]*event.BlobEvent{}
	for i := 0; i < 2; i++ {
		evt := waitEvent(t, events, 10*time.Second)
		snapshot[evt.ObjectKey] = evt
	}

	first, ok := snapshot["invoices/invoice-001.txt"]
	require.True(t, ok, "snapshot should include the first upload")
	assert.Equal(t, "edi-files", first.Container)
	assert.Equal(t, int64(len("ISA*00*first")), first.SizeBytes)
	assert.Equal(t, "text/plain", first.ContentType)
	assert.False(t, first.EventTime.IsZero())
	assert.NotEmpty(t, first.EventID)

	second, ok := snapshot["invoices/invoice-002.edi"]
	require.True(t, ok, "snapshot should include the second upload")
	assert.Empty(t, second.ContentType)

	require.Eventually(t, watcher.SnapshotDone, 5*time.Second, 50*time.Millisecond)

	// Live update after the snapshot.
	_, err = store.Put(ctx, "orders/order-100.xml", "application/xml", []byte("<order/>"))
	require.NoError(t, err)

	live := waitEvent(t, events, 10*time.Second)
	assert.Equal(t, "orders/order-100.xml", live.ObjectKey)
	assert.Equal(t, "application/xml", live.ContentType)

	// Deletions are observed but never published.
	bucket, err := tc.GetObjectBucket(ctx, "edi-files")
	require.NoError(t, err)
	require.NoError(t, bucket.Delete(ctx, "invoices/invoice-002.edi"))

	assertNoEvent(t, events, 700*time.Millisecond)
	require.Eventually(t, func() bool {
		return watcher.deletesSkipped.Load() >= 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.Equal(t, int64(3), watcher.EventsPublished())

	// A restarted watcher republishes the snapshot, but identical message IDs
	// fall inside the stream's duplicate window so the consumer sees nothing.
	require.NoError(t, watcher.Stop(5*time.Second))

	replay := NewWatcher(WatcherDeps{
		Name:   "edi-watcher-replay",
		Store:  store,
		Client: tc.Client,
	})
	require.NoError(t, replay.Start(ctx))
	defer func() { _ = replay.Stop(5 * time.Second) }()

	require.Eventually(t, replay.SnapshotDone, 10*time.Second, 50*time.Millisecond)
	assertNoEvent(t, events, 700*time.Millisecond)
	assert.Equal(t, int64(2), replay.EventsPublished(),
		"replay publishes the two live objects even though the broker drops them as duplicates")
}

func waitEvent(t *testing.T, events <-chan *event.BlobEvent, timeout time.Duration) *event.BlobEvent {
	t.Helper()
	select {
	case evt := <-events:
		return evt
	case <-time.After(timeout):
		t.Fatal("timed out waiting for blob event")
		return nil
	}
}

func assertNoEvent(t *testing.T, events <-chan *event.BlobEvent, window time.Duration) {
	t.Helper()
	select {
	case evt := <-events:
		t.Fatalf("unexpected blob event for %s", evt.ObjectKey)
	case <-time.After(window):
	}
}
