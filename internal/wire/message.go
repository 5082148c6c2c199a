package wire

import (
	"encoding/json"
	"fmt"

	"github.com/nedrrelm/bulq/internal/model"
)

// Known push message types. The server may introduce new ones at any time;
// those decode to Unknown.
const (
	TypeBidUpdated          = "bid_updated"
	TypeBidRetracted        = "bid_retracted"
	TypeReadyToggled        = "ready_toggled"
	TypeStateChanged        = "state_changed"
	TypeParticipantRemoved  = "participant_removed"
	TypeHelperToggled       = "helper_toggled"
	TypeCommentUpdated      = "comment_updated"
	TypePurchaseRecorded    = "purchase_recorded"
	TypeDistributionUpdated = "distribution_updated"
	TypeReassignRequested   = "reassignment_requested"
	TypeReassignAccepted    = "reassignment_accepted"
	TypeReassignDeclined    = "reassignment_declined"
	TypeRunCreated          = "run_created"
	TypeRunUpdated          = "run_updated"
)

// Message is the sealed union of decoded push messages. Only the variant
// structs in this file implement it.
type Message interface {
	message() // sealed
}

// BidUpdated announces a created or changed bid on a product.
type BidUpdated struct {
	RunID     string    `json:"run_id"`
	ProductID string    `json:"product_id"`
	Bid       model.Bid `json:"bid"`
}

// BidRetracted announces a withdrawn bid.
type BidRetracted struct {
	RunID     string `json:"run_id"`
	ProductID string `json:"product_id"`
	UserID    string `json:"user_id"`
}

// ReadyToggled announces a readiness flip.
type ReadyToggled struct {
	RunID  string `json:"run_id"`
	UserID string `json:"user_id"`
	Ready  bool   `json:"ready"`
}

// StateChanged announces a lifecycle transition the server performed.
type StateChanged struct {
	RunID string         `json:"run_id"`
	From  model.RunState `json:"from"`
	To    model.RunState `json:"to"`
	Actor string         `json:"actor,omitempty"`
}

// ParticipantRemoved announces a roster removal.
type ParticipantRemoved struct {
	RunID  string `json:"run_id"`
	UserID string `json:"user_id"`
}

// HelperToggled announces a helper grant or revocation.
type HelperToggled struct {
	RunID  string `json:"run_id"`
	UserID string `json:"user_id"`
	Helper bool   `json:"helper"`
}

// CommentUpdated announces a new leader comment.
type CommentUpdated struct {
	RunID   string `json:"run_id"`
	Comment string `json:"comment"`
}

// PurchaseRecorded announces a purchased quantity and observed price noted
// during the shopping phase.
type PurchaseRecorded struct {
	RunID     string         `json:"run_id"`
	ProductID string         `json:"product_id"`
	Purchased model.Quantity `json:"purchased"`
	UnitCents *model.Cents   `json:"unit_price_cents,omitempty"`
}

// DistributionUpdated signals that the distribution roster changed and
// should be refetched.
type DistributionUpdated struct {
	RunID string `json:"run_id"`
}

// ReassignRequested asks a participant to take over leadership.
type ReassignRequested struct {
	RunID      string `json:"run_id"`
	FromUserID string `json:"from_user_id"`
	ToUserID   string `json:"to_user_id"`
}

// ReassignAccepted announces a completed leadership handover.
type ReassignAccepted struct {
	RunID       string `json:"run_id"`
	NewLeaderID string `json:"new_leader_id"`
}

// ReassignDeclined announces a refused handover.
type ReassignDeclined struct {
	RunID    string `json:"run_id"`
	ByUserID string `json:"by_user_id"`
}

// RunCreated announces a new run on the group topic.
type RunCreated struct {
	GroupID string           `json:"group_id"`
	Run     model.RunSummary `json:"run"`
}

// RunUpdated announces a run summary change on the group topic.
type RunUpdated struct {
	GroupID string         `json:"group_id"`
	RunID   string         `json:"run_id"`
	State   model.RunState `json:"state,omitempty"`
}

// Unknown wraps an unrecognized message type. Business logic ignores it;
// subscribers still see the raw envelope.
type Unknown struct {
	Type string
	Data json.RawMessage
}

func (BidUpdated) message()          {}
func (BidRetracted) message()        {}
func (ReadyToggled) message()        {}
func (StateChanged) message()        {}
func (ParticipantRemoved) message()  {}
func (HelperToggled) message()       {}
func (CommentUpdated) message()      {}
func (PurchaseRecorded) message()    {}
func (DistributionUpdated) message() {}
func (ReassignRequested) message()   {}
func (ReassignAccepted) message()    {}
func (ReassignDeclined) message()    {}
func (RunCreated) message()          {}
func (RunUpdated) message()          {}
func (Unknown) message()             {}

// Decode turns an envelope into a typed message. Known types are validated
// against the embedded schema first, so a malformed payload comes back as
// an error rather than a half-filled struct; unknown types come back as
// Unknown with a nil error.
func Decode(env Envelope) (Message, error) {
	if !Known(env.Type) {
		return Unknown{Type: env.Type, Data: env.Data}, nil
	}
	if err := ValidatePayload(env.Type, env.Data); err != nil {
		return nil, fmt.Errorf("%s payload: %w", env.Type, err)
	}

	var (
		msg Message
		err error
	)
	switch env.Type {
	case TypeBidUpdated:
		msg, err = unmarshalAs[BidUpdated](env.Data)
	case TypeBidRetracted:
		msg, err = unmarshalAs[BidRetracted](env.Data)
	case TypeReadyToggled:
		msg, err = unmarshalAs[ReadyToggled](env.Data)
	case TypeStateChanged:
		msg, err = unmarshalAs[StateChanged](env.Data)
	case TypeParticipantRemoved:
		msg, err = unmarshalAs[ParticipantRemoved](env.Data)
	case TypeHelperToggled:
		msg, err = unmarshalAs[HelperToggled](env.Data)
	case TypeCommentUpdated:
		msg, err = unmarshalAs[CommentUpdated](env.Data)
	case TypePurchaseRecorded:
		msg, err = unmarshalAs[PurchaseRecorded](env.Data)
	case TypeDistributionUpdated:
		msg, err = unmarshalAs[DistributionUpdated](env.Data)
	case TypeReassignRequested:
		msg, err = unmarshalAs[ReassignRequested](env.Data)
	case TypeReassignAccepted:
		msg, err = unmarshalAs[ReassignAccepted](env.Data)
	case TypeReassignDeclined:
		msg, err = unmarshalAs[ReassignDeclined](env.Data)
	case TypeRunCreated:
		msg, err = unmarshalAs[RunCreated](env.Data)
	case TypeRunUpdated:
		msg, err = unmarshalAs[RunUpdated](env.Data)
	}
	if err != nil {
		return nil, fmt.Errorf("%s payload: %w", env.Type, err)
	}
	return msg, nil
}

func unmarshalAs[T Message](data []byte) (Message, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Known reports whether the type has a concrete variant.
func Known(msgType string) bool {
	switch msgType {
	case TypeBidUpdated, TypeBidRetracted, TypeReadyToggled, TypeStateChanged,
		TypeParticipantRemoved, TypeHelperToggled, TypeCommentUpdated,
		TypePurchaseRecorded, TypeDistributionUpdated,
		TypeReassignRequested, TypeReassignAccepted, TypeReassignDeclined,
		TypeRunCreated, TypeRunUpdated:
		return true
	}
	return false
}
