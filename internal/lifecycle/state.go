package lifecycle

import "github.com/nedrrelm/bulq/internal/model"

// transitions is the full legality table. A run moves strictly forward
// through planning, active, confirmed, shopping, then either adjusting or
// straight to distributing, and finally completed. cancelled is reachable
// from every non-terminal state; completed and cancelled have no exits.
var transitions = map[model.RunState][]model.RunState{
	model.StatePlanning:     {model.StateActive, model.StateCancelled},
	model.StateActive:       {model.StateConfirmed, model.StateCancelled},
	model.StateConfirmed:    {model.StateShopping, model.StateCancelled},
	model.StateShopping:     {model.StateAdjusting, model.StateDistributing, model.StateCancelled},
	model.StateAdjusting:    {model.StateDistributing, model.StateCancelled},
	model.StateDistributing: {model.StateCompleted, model.StateCancelled},
	model.StateCompleted:    {},
	model.StateCancelled:    {},
}

// Terminal reports whether a run in this state accepts no further changes.
func Terminal(s model.RunState) bool {
	return s == model.StateCompleted || s == model.StateCancelled
}

// CanTransition reports whether from -> to appears in the legality table.
// Unknown states are never legal.
func CanTransition(from, to model.RunState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Transition validates an observed from -> to edge. A nil return means the
// edge is in the table; otherwise the *StateError says why not, including
// transitions out of a terminal state and unknown state values.
func Transition(from, to model.RunState) error {
	if !from.Valid() {
		return newUnknownStateError(from)
	}
	if !to.Valid() {
		return newUnknownStateError(to)
	}
	if Terminal(from) {
		return newTerminalStateError(from, to)
	}
	if !CanTransition(from, to) {
		return newIllegalTransitionError(from, to)
	}
	return nil
}

// AllReady reports whether every non-removed participant has toggled ready.
// An empty roster is never "all ready"; the auto-confirm trigger needs at
// least one participant standing behind it.
func AllReady(participants []model.Participant) bool {
	any := false
	for _, p := range participants {
		if p.Removed {
			continue
		}
		if !p.Ready {
			return false
		}
		any = true
	}
	return any
}
