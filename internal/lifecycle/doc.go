// Package lifecycle encodes the purchase-run state machine: which of the
// eight states may follow which, and which actions each role may take in
// each state.
//
// The remote service is the authority on transitions; this package exists so
// the client can (a) verify that every observed transition is legal before
// trusting a push, and (b) gate outbound mutations locally instead of
// round-tripping an action the server would reject anyway. Both checks
// return a typed *StateError, never a silent no-op.
package lifecycle
