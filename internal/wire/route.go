package wire

import "github.com/nedrrelm/bulq/internal/cache"

// Route maps a decoded message to the cache entities it staleness-marks.
// The table is fixed per type: bid and purchase traffic hits the order
// book, roster and comment traffic the run header, and a state change hits
// both, because phase boundaries change what the order book means
// (recorded purchases, adjustment windows). Prompt-only messages and
// unknown types invalidate nothing.
func Route(m Message) []cache.Key {
	switch msg := m.(type) {
	case BidUpdated:
		return []cache.Key{cache.OrdersKey(msg.RunID)}
	case BidRetracted:
		return []cache.Key{cache.OrdersKey(msg.RunID)}
	case PurchaseRecorded:
		return []cache.Key{cache.OrdersKey(msg.RunID)}
	case ReadyToggled:
		return []cache.Key{cache.RunKey(msg.RunID)}
	case StateChanged:
		return []cache.Key{cache.RunKey(msg.RunID), cache.OrdersKey(msg.RunID)}
	case ParticipantRemoved:
		return []cache.Key{cache.RunKey(msg.RunID)}
	case HelperToggled:
		return []cache.Key{cache.RunKey(msg.RunID)}
	case CommentUpdated:
		return []cache.Key{cache.RunKey(msg.RunID)}
	case DistributionUpdated:
		return []cache.Key{cache.DistKey(msg.RunID)}
	case ReassignAccepted:
		return []cache.Key{cache.RunKey(msg.RunID)}
	case ReassignRequested, ReassignDeclined:
		// Prompts surface through the notifier; no cached entity changes
		// until an acceptance lands.
		return nil
	case RunCreated:
		return []cache.Key{cache.GroupKey(msg.GroupID)}
	case RunUpdated:
		return []cache.Key{cache.GroupKey(msg.GroupID)}
	default:
		return nil
	}
}
