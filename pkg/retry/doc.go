// Package retry runs an operation under a bounded exponential backoff
// schedule.
//
// Two call shapes cover the pipeline's needs. Do runs the loop itself,
// used where the caller owns the retry (the watcher republishing a blob
// event after a broker hiccup):
//
//	err := retry.Do(ctx, retry.DefaultConfig(), func() error {
//	    return js.Publish(ctx, subject, payload)
//	})
//
// Config.DelayFor computes a single delay without running the loop, used
// where the broker owns the retry and only needs a duration (the
// dispatcher turning a delivery count into a nak delay):
//
//	delay := cfg.DelayFor(int(meta.NumDelivered))
//	_ = msg.NakWithDelay(delay)
//
// Both shapes walk the same schedule, so a message that fails in the
// handler backs off the same way as a publish that fails in the watcher.
//
// Failures that retrying cannot fix, such as a payload that will not
// marshal, are wrapped with NonRetryable so Do stops at the first attempt
// instead of burning the schedule.
//
// Do stops as soon as ctx ends, whether the cancellation lands during the
// operation or during a backoff sleep. Config carries no state, so one
// value can be shared across goroutines.
//
// The package does not classify errors. It retries whatever it is handed;
// deciding what is retryable belongs to the errors package and its callers.
package retry
