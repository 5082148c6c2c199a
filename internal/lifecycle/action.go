package lifecycle

import "github.com/nedrrelm/bulq/internal/model"

// Action is a user-initiated operation subject to state and role gating.
type Action string

const (
	ActionExpressInterest   Action = "express_interest"
	ActionPlaceBid          Action = "place_bid"
	ActionRetractBid        Action = "retract_bid"
	ActionToggleReady       Action = "toggle_ready"
	ActionPromote           Action = "promote"
	ActionForceConfirm      Action = "force_confirm"
	ActionStartShopping     Action = "start_shopping"
	ActionRecordPurchase    Action = "record_purchase"
	ActionFinishShopping    Action = "finish_shopping"
	ActionAdjustBid         Action = "adjust_bid"
	ActionFinishAdjusting   Action = "finish_adjusting"
	ActionMarkPickup        Action = "mark_pickup"
	ActionComplete          Action = "complete"
	ActionCancel            Action = "cancel"
	ActionSetComment        Action = "set_comment"
	ActionSetHelper         Action = "set_helper"
	ActionRemoveParticipant Action = "remove_participant"
	ActionRequestReassign   Action = "request_reassign"
	ActionAnswerReassign    Action = "answer_reassign"
)

// AllActions lists every action in a stable presentation order: bidding
// first, then phase advancement, then roster management. UIs derive their
// action menus by filtering this list through Permitted.
var AllActions = []Action{
	ActionExpressInterest,
	ActionPlaceBid,
	ActionRetractBid,
	ActionToggleReady,
	ActionPromote,
	ActionForceConfirm,
	ActionStartShopping,
	ActionRecordPurchase,
	ActionFinishShopping,
	ActionAdjustBid,
	ActionFinishAdjusting,
	ActionMarkPickup,
	ActionComplete,
	ActionCancel,
	ActionSetComment,
	ActionSetHelper,
	ActionRemoveParticipant,
	ActionRequestReassign,
	ActionAnswerReassign,
}

// Role is a participant's standing in a run, derived from the roster.
// Leader and Helper imply Member rights; Observer (removed participant or
// outsider) may only read.
type Role string

const (
	RoleLeader   Role = "leader"
	RoleHelper   Role = "helper"
	RoleMember   Role = "member"
	RoleObserver Role = "observer"
)

// RoleFor derives userID's role from the run roster.
func RoleFor(run *model.Run, userID string) Role {
	p, ok := run.Participant(userID)
	if !ok || p.Removed {
		return RoleObserver
	}
	switch {
	case p.Leader:
		return RoleLeader
	case p.Helper:
		return RoleHelper
	default:
		return RoleMember
	}
}

// rule is one row of the permission table: the states an action is offered
// in and the roles allowed to take it.
type rule struct {
	states []model.RunState
	roles  []Role
}

var (
	anyMember    = []Role{RoleLeader, RoleHelper, RoleMember}
	shoppers     = []Role{RoleLeader, RoleHelper}
	leaderOnly   = []Role{RoleLeader}
	nonTerminal  = []model.RunState{model.StatePlanning, model.StateActive, model.StateConfirmed, model.StateShopping, model.StateAdjusting, model.StateDistributing}
	biddingState = []model.RunState{model.StateActive}
)

// rules maps each action to its gate. Transition-advancing actions are
// leader-only; recording purchases and pickups extends to helpers; bidding
// and readiness belong to every non-removed participant.
var rules = map[Action]rule{
	ActionExpressInterest: {states: []model.RunState{model.StatePlanning, model.StateActive}, roles: anyMember},
	ActionPlaceBid:        {states: biddingState, roles: anyMember},
	ActionRetractBid:      {states: []model.RunState{model.StateActive, model.StateAdjusting}, roles: anyMember},
	ActionToggleReady:     {states: biddingState, roles: anyMember},

	ActionPromote:         {states: []model.RunState{model.StatePlanning}, roles: leaderOnly},
	ActionForceConfirm:    {states: []model.RunState{model.StateActive}, roles: leaderOnly},
	ActionStartShopping:   {states: []model.RunState{model.StateConfirmed}, roles: leaderOnly},
	ActionRecordPurchase:  {states: []model.RunState{model.StateShopping}, roles: shoppers},
	ActionFinishShopping:  {states: []model.RunState{model.StateShopping}, roles: leaderOnly},
	ActionAdjustBid:       {states: []model.RunState{model.StateAdjusting}, roles: anyMember},
	ActionFinishAdjusting: {states: []model.RunState{model.StateAdjusting}, roles: leaderOnly},
	ActionMarkPickup:      {states: []model.RunState{model.StateDistributing}, roles: shoppers},
	ActionComplete:        {states: []model.RunState{model.StateDistributing}, roles: leaderOnly},
	ActionCancel:          {states: nonTerminal, roles: leaderOnly},

	ActionSetComment:        {states: nonTerminal, roles: leaderOnly},
	ActionSetHelper:         {states: nonTerminal, roles: leaderOnly},
	ActionRemoveParticipant: {states: nonTerminal, roles: leaderOnly},
	ActionRequestReassign:   {states: nonTerminal, roles: leaderOnly},
	ActionAnswerReassign:    {states: nonTerminal, roles: anyMember},
}

// Permitted reports whether role may take action while the run is in state.
// The client calls this twice per mutation: once to decide what to offer,
// and again just before sending, in case a push moved the state underneath
// the user.
func Permitted(action Action, state model.RunState, role Role) error {
	r, ok := rules[action]
	if !ok {
		return newUnknownActionError(action)
	}
	if !state.Valid() {
		return newUnknownStateError(state)
	}

	stateOK := false
	for _, s := range r.states {
		if s == state {
			stateOK = true
			break
		}
	}
	if !stateOK {
		return newActionNotInStateError(action, state)
	}

	for _, allowed := range r.roles {
		if allowed == role {
			return nil
		}
	}
	return newRoleForbiddenError(action, state, role)
}
