package cache

import "strings"

// Key identifies one cached entity. Keys are "<prefix>:<id>" strings; the
// prefix names the entity kind and selects the loader, the id scopes it to
// one run or group.
type Key string

// Entity kind prefixes.
const (
	PrefixRun    = "run"    // run header, state, roster, comment
	PrefixOrders = "orders" // products and bids
	PrefixDist   = "dist"   // distribution roster
	PrefixGroup  = "group"  // run summaries of a group
)

// RunKey returns the key of a run's header entity.
func RunKey(runID string) Key { return Key(PrefixRun + ":" + runID) }

// OrdersKey returns the key of a run's order book entity.
func OrdersKey(runID string) Key { return Key(PrefixOrders + ":" + runID) }

// DistKey returns the key of a run's distribution entity.
func DistKey(runID string) Key { return Key(PrefixDist + ":" + runID) }

// GroupKey returns the key of a group's run overview entity.
func GroupKey(groupID string) Key { return Key(PrefixGroup + ":" + groupID) }

// Prefix returns the entity kind, "" for a malformed key.
func (k Key) Prefix() string {
	p, _, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return p
}

// ID returns the run or group id, "" for a malformed key.
func (k Key) ID() string {
	_, id, ok := strings.Cut(string(k), ":")
	if !ok {
		return ""
	}
	return id
}
