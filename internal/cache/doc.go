// Package cache keeps the client's local copies of server entities coherent.
//
// The cache is the heart of the sync client - it applies optimistic
// mutations, reconciles them against remote outcomes, absorbs push
// invalidations, and refreshes entries that have gone stale.
//
// ARCHITECTURE:
//
// Single-Writer Apply Loop:
// All entry state changes happen in a single goroutine for deterministic
// behavior. This ensures:
// - Mutations on one entity apply and settle in submission order
// - Rollback always restores the exact pre-mutation snapshot
// - Simple reasoning about which value is current
//
// Event Processing Flow:
// 1. Callers submit work (mutations, loads, invalidations) to a FIFO queue
// 2. Cache.Run() dequeues events one at a time
// 3. processEvent() routes to the appropriate handler
// 4. Remote calls run in short-lived goroutines and deliver their results
//    back into the queue as events
// 5. A result is applied only if its generation still matches the entry;
//    anything older is discarded
//
// Note: readers never touch the loop. Get clones the current value under a
// read lock, so snapshots stay consistent while the loop keeps working.
//
// Generations:
// Every applied change stamps the entry from a monotonic logical clock
// (Clock.Next()). Ordering decisions use generations only - wall-clock time
// is limited to the staleness window.
//
// At most one remote call is in flight per entity. Later mutations on the
// same key queue FIFO behind the pending one and never interleave.
package cache
