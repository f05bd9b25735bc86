// Package sink holds the downstream consumers of canonical records:
// the TTL cache, the batched write buffer over the SQLite history
// store, and the HTTP callback notifier. Sinks are independent; a
// failure in one never affects the others.
package sink
