package model

import "fmt"

// RunState is one of the eight lifecycle states of a purchase run. The full
// transition table lives in package lifecycle; model only knows the values.
type RunState string

const (
	StatePlanning     RunState = "planning"
	StateActive       RunState = "active"
	StateConfirmed    RunState = "confirmed"
	StateShopping     RunState = "shopping"
	StateAdjusting    RunState = "adjusting"
	StateDistributing RunState = "distributing"
	StateCompleted    RunState = "completed"
	StateCancelled    RunState = "cancelled"
)

// AllRunStates lists every valid state in lifecycle order.
var AllRunStates = []RunState{
	StatePlanning,
	StateActive,
	StateConfirmed,
	StateShopping,
	StateAdjusting,
	StateDistributing,
	StateCompleted,
	StateCancelled,
}

// Valid reports whether s is one of the eight known states.
func (s RunState) Valid() bool {
	switch s {
	case StatePlanning, StateActive, StateConfirmed, StateShopping,
		StateAdjusting, StateDistributing, StateCompleted, StateCancelled:
		return true
	}
	return false
}

func (s RunState) String() string { return string(s) }

// Distributed reports whether a run in this state is guaranteed to have
// a distribution. Cancelled runs are excluded: cancellation from
// distributing leaves one behind, earlier cancellation does not.
func (s RunState) Distributed() bool {
	return s == StateDistributing || s == StateCompleted
}

// ParseRunState converts a wire string to a RunState, rejecting unknown
// values so a bad payload never becomes a ninth state.
func ParseRunState(s string) (RunState, error) {
	st := RunState(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown run state %q", s)
	}
	return st, nil
}

// Participant is a member of a run's roster. Removed participants keep
// their historical records but cannot mutate anything and are excluded
// from readiness and shortage arithmetic.
type Participant struct {
	UserID  string `json:"user_id"`
	Name    string `json:"name"`
	Leader  bool   `json:"leader"`
	Helper  bool   `json:"helper,omitempty"`
	Ready   bool   `json:"ready,omitempty"`
	Removed bool   `json:"removed,omitempty"`
}

// Run is the header entity of a purchase run: identity, lifecycle state,
// leader comment, and the participant roster. Products and bids live in the
// separate Orders entity; the distribution roster in Distribution.
type Run struct {
	ID           string        `json:"id"`
	GroupID      string        `json:"group_id"`
	Store        string        `json:"store"`
	State        RunState      `json:"state"`
	Comment      string        `json:"comment,omitempty"`
	Participants []Participant `json:"participants"`
	CreatedAt    int64         `json:"created_at,omitempty"` // unix ms
	UpdatedAt    int64         `json:"updated_at,omitempty"` // unix ms
}

// Leader returns the participant holding the leader role. Exactly one
// participant is the leader at any time; ok is false only on malformed data.
func (r *Run) Leader() (Participant, bool) {
	for _, p := range r.Participants {
		if p.Leader && !p.Removed {
			return p, true
		}
	}
	return Participant{}, false
}

// Participant returns the roster entry for userID, removed or not.
func (r *Run) Participant(userID string) (Participant, bool) {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p, true
		}
	}
	return Participant{}, false
}

// ActiveParticipants returns the non-removed roster in order.
func (r *Run) ActiveParticipants() []Participant {
	out := make([]Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		if !p.Removed {
			out = append(out, p)
		}
	}
	return out
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	out := *r
	out.Participants = append([]Participant(nil), r.Participants...)
	return &out
}

// RunSummary is the per-run row of a group overview: enough to render a
// list and decide whether to open the full run.
type RunSummary struct {
	ID        string   `json:"id"`
	Store     string   `json:"store"`
	State     RunState `json:"state"`
	UpdatedAt int64    `json:"updated_at,omitempty"` // unix ms
}

// GroupRuns is the group-topic entity: the summaries of every run owned by
// one group, newest first as served by the remote.
type GroupRuns struct {
	GroupID string       `json:"group_id"`
	Runs    []RunSummary `json:"runs"`
}

// Clone returns a deep copy of the group overview.
func (g *GroupRuns) Clone() *GroupRuns {
	if g == nil {
		return nil
	}
	out := *g
	out.Runs = append([]RunSummary(nil), g.Runs...)
	return &out
}
