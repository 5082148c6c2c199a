// Package channel maintains the client's real-time topic connections.
//
// A Manager holds at most one duplex connection per topic URL and hands
// the same *Conn to every caller that opens the topic. Connections carry
// wire.Envelope frames both ways: the server pushes entity updates, the
// client sends occasional control envelopes and app-level heartbeats.
//
// ARCHITECTURE:
//
// Supervised Connection:
// Each open topic is owned by one supervisor goroutine that dials, runs
// the socket pumps, and decides what a closure means:
// - Clean closures (normal 1000, policy rejection 4403) are terminal
// - Abnormal closures trigger redials on a fixed cadence
// - A local Close always wins and never redials
//
// Frame Flow:
// 1. The read pump decodes each inbound frame into a wire.Envelope
// 2. Unparseable frames and known-type payloads failing schema validation
//    are dropped, logged, and counted - never fatal
// 3. Heartbeat envelopes (ping/pong) are consumed internally
// 4. Everything else is delivered to the subscriber in arrival order
// 5. Outbound sends funnel through the write pump, which also emits a
//    ping after a stretch of write idleness
//
// Redialing keeps the *Conn identity stable: subscribers ride through
// the outage without resubscribing, and the attempt counter resets to
// zero on every successful open.
package channel
