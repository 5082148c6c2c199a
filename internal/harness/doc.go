// Package harness runs YAML scenarios against the sync engine.
//
// A scenario seeds a run on the in-memory fake service, drives a flow of
// operations through real clients (one per acting participant, each with
// its own journal), and checks assertions against the final service
// state, the adjustment windows, the distribution and the per-actor
// journals. Runs are deterministic: after every step the harness waits
// until every open actor has converged on the service state, so traces
// and golden dumps are byte-stable.
//
// Scenarios double as executable documentation of the engine's rules:
// the action gating table, the readiness auto-confirm, shortage
// reallocation and the journal's record of what each device observed.
package harness
