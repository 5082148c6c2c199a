package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nedrrelm/bulq/internal/cache"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		expected []cache.Key
	}{
		{"bid_updated", BidUpdated{RunID: "r1"}, []cache.Key{cache.OrdersKey("r1")}},
		{"bid_retracted", BidRetracted{RunID: "r1"}, []cache.Key{cache.OrdersKey("r1")}},
		{"purchase_recorded", PurchaseRecorded{RunID: "r1"}, []cache.Key{cache.OrdersKey("r1")}},
		{"ready_toggled", ReadyToggled{RunID: "r1"}, []cache.Key{cache.RunKey("r1")}},
		{"state_changed", StateChanged{RunID: "r1"}, []cache.Key{cache.RunKey("r1"), cache.OrdersKey("r1")}},
		{"participant_removed", ParticipantRemoved{RunID: "r1"}, []cache.Key{cache.RunKey("r1")}},
		{"helper_toggled", HelperToggled{RunID: "r1"}, []cache.Key{cache.RunKey("r1")}},
		{"comment_updated", CommentUpdated{RunID: "r1"}, []cache.Key{cache.RunKey("r1")}},
		{"distribution_updated", DistributionUpdated{RunID: "r1"}, []cache.Key{cache.DistKey("r1")}},
		{"reassignment_accepted", ReassignAccepted{RunID: "r1"}, []cache.Key{cache.RunKey("r1")}},
		{"reassignment_requested", ReassignRequested{RunID: "r1"}, nil},
		{"reassignment_declined", ReassignDeclined{RunID: "r1"}, nil},
		{"run_created", RunCreated{GroupID: "g1"}, []cache.Key{cache.GroupKey("g1")}},
		{"run_updated", RunUpdated{GroupID: "g1"}, []cache.Key{cache.GroupKey("g1")}},
		{"unknown", Unknown{Type: "store_promo"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Route(tt.msg))
		})
	}
}
