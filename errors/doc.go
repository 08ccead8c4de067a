// Package errors classifies pipeline failures and wraps them with call-site
// context.
//
// # Classes
//
// Every failure lands in one of three classes, and the class decides what the
// pipeline does with the delivery that caused it:
//
//   - Transient: broker hiccups, timeouts, a busy SQLite database. The
//     delivery is nak'd and comes back later.
//   - Invalid: malformed events, missing object keys, payloads that can
//     never decode. The outcome is recorded and the delivery acked.
//   - Fatal: unusable configuration, corrupted state. The runtime stops
//     the service.
//
// Producers attach the class where the failure happens:
//
//	if err := js.Publish(ctx, subject, data); err != nil {
//	    return errors.WrapTransient(err, "Watcher", "publish", "blob event")
//	}
//
// and the ack/nak boundary reads it back with IsTransient, so no component
// ever decides a retry by matching error strings. Errors that arrive without
// a class, typically from drivers, fall back to sentinel checks and message
// patterns; anything still unknown classifies transient so a redelivery gets
// the benefit of the doubt.
//
// # Wrapping
//
// Wrap and the three class wrappers all produce the same shape:
//
//	"component.method: action failed: <cause>"
//
// The cause stays reachable through errors.Is and errors.As, so sentinel
// checks like IsDuplicate work through any depth of wrapping.
//
// # Duplicates are not failures
//
// ErrDuplicateRecord never classifies transient: it is the audit store
// winning a redelivery race, and the correct response is an idempotent ack.
// IsTransient returns false for it even though the insert "failed".
package errors
