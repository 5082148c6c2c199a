// Package journal provides SQLite-backed durable storage for the facts a
// client observed during a run: state transitions, applied and rolled-back
// mutations, and reallocation outcomes.
//
// The journal is an append-only log. Entries never change after insert;
// duplicate ids are silently ignored so replays and reconnect races stay
// idempotent.
//
// Ordering uses seq INTEGER (the client's logical clock), never timestamps.
// Every read query orders ORDER BY seq ASC, id ASC COLLATE BINARY so a
// dispute replay produces the same listing on every machine.
//
// Each entry stores its payload as RFC 8785 canonical JSON together with a
// domain-separated SHA-256 of that payload (internal/canon). Verify
// recomputes the hashes, which makes after-the-fact edits to the database
// file detectable.
//
// Database configuration:
//   - WAL mode: concurrent reads during writes
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
package journal
