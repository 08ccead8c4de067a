// Package health tracks per-component status and rolls it up into one
// report for the whole service.
//
// # Model
//
// A component reports one of three states:
//   - healthy: operating normally
//   - degraded: operating with reduced capacity, worth watching
//   - unhealthy: not functioning
//
// Degraded exists so operational responses can be graduated: a watcher
// mid-replay is degraded and needs nothing, a lost broker connection is
// unhealthy and needs attention now.
//
// Status is a value type. Copies are independent, and WithMetrics returns
// a modified copy instead of mutating, so a report handed to the monitor
// cannot change under it.
//
// # Usage
//
// Components push their state into a shared Monitor; the health endpoint
// aggregates on read:
//
//	monitor := health.NewMonitor()
//
//	monitor.SetHealthy("audit-store", "SQLite responding")
//	monitor.SetDegraded("edi-watcher", "Snapshot replay in progress")
//	monitor.SetUnhealthy("nats", "Connection lost, reconnecting")
//
//	service := monitor.Report("edi-processor")
//	if service.IsUnhealthy() {
//	    log.Printf("service unhealthy: %s", service.Message)
//	}
//
// Aggregation is worst-case: one unhealthy member makes the service
// unhealthy, otherwise one degraded member makes it degraded. An empty
// monitor aggregates healthy, which covers the window while components are
// still registering.
//
// All Monitor methods are safe for concurrent use. The runtime's health
// poll writes while the HTTP handler reads.
//
// # Sanitization
//
// Statuses built through FromError have the error text scrubbed before it
// becomes a message: URLs become [URL], filesystem paths [PATH], addresses
// [IP] and [PORT], and credential assignments [REDACTED]. Health output
// lands on an HTTP endpoint and in dashboards, and error strings from the
// broker or the filesystem routinely embed connection URLs and paths.
// There is no opt-out; over-redaction in a health message costs less than
// a leaked credential. The full error stays available to logging, which
// has its own audience.
//
// No method in this package returns an error. Health reporting is where
// errors end up, not a step they propagate through.
package health
