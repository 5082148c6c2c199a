package lifecycle

import (
	"errors"
	"fmt"

	"github.com/nedrrelm/bulq/internal/model"
)

// StateError reports a rejected transition or action. It carries structured
// fields so callers can render a precise message and tests can assert on
// the category instead of matching strings.
type StateError struct {
	// Code identifies the rejection category.
	Code StateErrorCode

	// Action is set for permission failures.
	Action Action

	// From and To are set for transition failures; From doubles as the
	// current state for permission failures.
	From model.RunState
	To   model.RunState

	// Role is set when the rejection is role-based.
	Role Role

	// Message is a human-readable description.
	Message string
}

// StateErrorCode categorizes state machine rejections.
type StateErrorCode string

const (
	// ErrCodeIllegalTransition indicates from -> to is not in the table.
	ErrCodeIllegalTransition StateErrorCode = "ILLEGAL_TRANSITION"

	// ErrCodeTerminalState indicates a transition out of completed/cancelled.
	ErrCodeTerminalState StateErrorCode = "TERMINAL_STATE"

	// ErrCodeActionNotInState indicates the action is not offered in the
	// run's current state.
	ErrCodeActionNotInState StateErrorCode = "ACTION_NOT_IN_STATE"

	// ErrCodeRoleForbidden indicates the actor's role may not take the action.
	ErrCodeRoleForbidden StateErrorCode = "ROLE_FORBIDDEN"

	// ErrCodeUnknownState indicates a state value outside the eight known.
	ErrCodeUnknownState StateErrorCode = "UNKNOWN_STATE"

	// ErrCodeUnknownAction indicates an action missing from the rule table.
	ErrCodeUnknownAction StateErrorCode = "UNKNOWN_ACTION"
)

// Error implements the error interface.
func (e *StateError) Error() string {
	if e.Action != "" && e.Role != "" {
		return fmt.Sprintf("%s: %s (action=%s, state=%s, role=%s)", e.Code, e.Message, e.Action, e.From, e.Role)
	}
	if e.Action != "" {
		return fmt.Sprintf("%s: %s (action=%s, state=%s)", e.Code, e.Message, e.Action, e.From)
	}
	if e.To != "" {
		return fmt.Sprintf("%s: %s (from=%s, to=%s)", e.Code, e.Message, e.From, e.To)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsIllegalTransition reports whether err is a transition legality failure,
// including transitions out of a terminal state. Uses errors.As to handle
// wrapped errors.
func IsIllegalTransition(err error) bool {
	var se *StateError
	if errors.As(err, &se) {
		return se.Code == ErrCodeIllegalTransition || se.Code == ErrCodeTerminalState
	}
	return false
}

// IsForbidden reports whether err is a permission failure (wrong state or
// wrong role for an action). Uses errors.As to handle wrapped errors.
func IsForbidden(err error) bool {
	var se *StateError
	if errors.As(err, &se) {
		return se.Code == ErrCodeActionNotInState || se.Code == ErrCodeRoleForbidden
	}
	return false
}

func newIllegalTransitionError(from, to model.RunState) *StateError {
	return &StateError{
		Code:    ErrCodeIllegalTransition,
		From:    from,
		To:      to,
		Message: "transition not in lifecycle table",
	}
}

func newTerminalStateError(from, to model.RunState) *StateError {
	return &StateError{
		Code:    ErrCodeTerminalState,
		From:    from,
		To:      to,
		Message: fmt.Sprintf("%s is terminal", from),
	}
}

func newActionNotInStateError(action Action, state model.RunState) *StateError {
	return &StateError{
		Code:    ErrCodeActionNotInState,
		Action:  action,
		From:    state,
		Message: fmt.Sprintf("action not available while %s", state),
	}
}

func newRoleForbiddenError(action Action, state model.RunState, role Role) *StateError {
	return &StateError{
		Code:    ErrCodeRoleForbidden,
		Action:  action,
		From:    state,
		Role:    role,
		Message: fmt.Sprintf("role %s may not %s", role, action),
	}
}

func newUnknownStateError(state model.RunState) *StateError {
	return &StateError{
		Code:    ErrCodeUnknownState,
		From:    state,
		Message: fmt.Sprintf("unknown run state %q", string(state)),
	}
}

func newUnknownActionError(action Action) *StateError {
	return &StateError{
		Code:    ErrCodeUnknownAction,
		Action:  action,
		Message: fmt.Sprintf("unknown action %q", string(action)),
	}
}
