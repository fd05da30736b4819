// Package analytics accumulates notification lifecycle events in Redis and
// drains them into Postgres.
//
// Two consumers read the event log independently: one increments a per-project
// delta hash (analytics:delta:<project>), the other appends the raw event to a
// per-project buffer list (analytics:buffer:<project>). On every tick the
// Flusher renames each live key to analytics:...:<project>:tmp:<millis>, which
// hands everything accumulated so far to the flush path while new events start
// a fresh key under the original name. The renamed key is committed (additive
// upsert for deltas, one transaction of audit rows for buffers) and deleted
// only after the commit succeeds. Failed commits park the temp key name on
// analytics:retry:delta or analytics:retry:buffer; the next cycle drains those
// lists before it rotates anything new. Only the retry path touches a temp key
// once it exists, and every commit writes a marker row in the same
// transaction, so a temp key is applied at most once.
package analytics
