// Package notifier posts log records to their guild's log channel.
//
// Deliver only enqueues. A small worker pool drains the queue under a shared
// token bucket and retries transient send failures with exponential backoff.
//
// # Dedup
//
// An identical record (same title and body) for the same channel within the
// dedup window is dropped. Gateway reconnects can replay events; this keeps
// the log channel from showing the replay twice.
//
// # Eviction
//
// A send that fails with transport.ErrDestinationUnreachable is not retried.
// The guild's log channel is evicted from the config store, which persists
// the removal, and a delivery.evicted event is published.
package notifier
