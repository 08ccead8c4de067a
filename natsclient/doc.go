// Package natsclient wraps the NATS Go client with the reliability
// pieces every broker-facing component of the pipeline shares: a
// circuit breaker, background health probes, and JetStream stream,
// consumer and object store helpers.
//
// The client carries every NATS interaction in the processor: the
// object store bucket holding uploaded files, the event stream feeding
// the dispatcher, and the plain subjects used for audit notifications.
//
// # Connecting
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("edi-processor"),
//	    natsclient.WithMaxReconnects(-1),
//	    natsclient.WithLogger(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(ctx)
//
// Connect fails fast with ErrCircuitOpen while the breaker is open.
// After five consecutive failures the circuit opens and stays open for
// an exponentially growing backoff, capped at one minute; a half-open
// probe then lets the next attempt through.
//
// # Streams and consumers
//
// CreateStream is idempotent, so components ensure their stream on
// every start. Consumption hands the raw jetstream.Msg to the handler;
// the handler owns acknowledgment, which is the contract an
// at-least-once pipeline needs:
//
//	_, err := client.CreateStream(ctx, jetstream.StreamConfig{
//	    Name:       "EDI_EVENTS",
//	    Subjects:   []string{"edi.event.>"},
//	    Duplicates: 2 * time.Minute,
//	})
//
//	consumeCtx, err := client.ConsumeStream(ctx, "EDI_EVENTS", jetstream.ConsumerConfig{
//	    Durable:   "edi-ingest",
//	    AckPolicy: jetstream.AckExplicitPolicy,
//	}, func(msg jetstream.Msg) {
//	    if err := process(msg.Data()); err != nil {
//	        _ = msg.NakWithDelay(5 * time.Second)
//	        return
//	    }
//	    _ = msg.Ack()
//	})
//	defer consumeCtx.Stop()
//
// Publishing with a Nats-Msg-Id header lets the stream's duplicate
// window absorb replays:
//
//	err = client.PublishMsgToStream(ctx, &nats.Msg{
//	    Subject: "edi.event.created.edi-files",
//	    Data:    payload,
//	    Header:  nats.Header{"Nats-Msg-Id": []string{eventID}},
//	})
//
// # Object store
//
// CreateObjectStoreBucket returns the bucket whether it creates it or
// finds it, so racing processes both come away with a handle:
//
//	bucket, err := client.CreateObjectStoreBucket(ctx, jetstream.ObjectStoreConfig{
//	    Bucket: "edi-files",
//	})
//
// # Errors
//
// Operations return the bare sentinels ErrNotConnected and
// ErrCircuitOpen so callers can branch with errors.Is. Everything else
// is wrapped with the operation and subject for context.
//
// # Health and metrics
//
// A background probe checks the connection every ten seconds by default
// and reports flips through WithHealthChangeCallback. WithMetrics adds
// JetStream gauges to the shared registry: per-stream message and byte
// counts and per-consumer pending, delivered and ack floor sequences,
// polled from the broker every thirty seconds.
//
// # Testing
//
// NewTestClient starts a real NATS server in a container and connects a
// client to it, with teardown tied to the test:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())
//	err := tc.Client.PublishToStream(ctx, "edi.event.created.edi-files", payload)
package natsclient
