// Package notify surfaces connection health and rejected actions to the UI.
//
// The Center is passive: it records what happened and lets renderers poll
// or wait on a coalesced change signal. It never blocks the caller and
// never holds a dialog open, so background failures stay background.
package notify

import (
	"sync"
	"time"
)

// Connectivity is the user-visible connection indicator.
type Connectivity int

const (
	// Offline means the channel is closed and not retrying.
	Offline Connectivity = iota
	// Reconnecting means the channel lost the connection and is retrying.
	Reconnecting
	// Connected means the realtime channel is open.
	Connected
)

// String returns the indicator label rendered in the CLI.
func (c Connectivity) String() string {
	switch c {
	case Offline:
		return "offline"
	case Reconnecting:
		return "reconnecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// Toast is a dismissible notice about a rejected action.
type Toast struct {
	// ID is assigned by the Center, monotonically increasing.
	ID int
	// Action names what the user attempted ("place bid", "mark pickup").
	Action string
	// Reason is the human-readable rejection reason.
	Reason string
	// At is when the rejection was recorded.
	At time.Time
}

// DefaultToastLimit is how many undismissed toasts the Center retains.
const DefaultToastLimit = 5

// Center collects connectivity changes and rejection toasts.
// Safe for concurrent use.
type Center struct {
	mu     sync.Mutex
	conn   Connectivity
	toasts []Toast
	nextID int
	limit  int
	now    func() time.Time

	signal chan struct{} // buffered size 1, coalesces change notifications
}

// CenterOption configures a Center.
type CenterOption func(*Center)

// WithToastLimit caps retained undismissed toasts. Values below 1 keep
// the default.
func WithToastLimit(n int) CenterOption {
	return func(c *Center) {
		if n >= 1 {
			c.limit = n
		}
	}
}

// WithNowFunc overrides the clock. Deterministic tests use this.
func WithNowFunc(now func() time.Time) CenterOption {
	return func(c *Center) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCenter creates a Center starting Offline with no toasts.
func NewCenter(opts ...CenterOption) *Center {
	c := &Center{
		conn:   Offline,
		limit:  DefaultToastLimit,
		now:    time.Now,
		nextID: 1,
		signal: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetConnectivity records a connectivity change.
// No-op (and no signal) when the state is unchanged.
func (c *Center) SetConnectivity(state Connectivity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == state {
		return
	}
	c.conn = state
	c.notifyLocked()
}

// Connectivity returns the current indicator state.
func (c *Center) Connectivity() Connectivity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Push records a rejection toast and returns it.
// When the retention limit is reached the oldest toast is evicted.
func (c *Center) Push(action, reason string) Toast {
	c.mu.Lock()
	defer c.mu.Unlock()

	t := Toast{
		ID:     c.nextID,
		Action: action,
		Reason: reason,
		At:     c.now(),
	}
	c.nextID++

	c.toasts = append(c.toasts, t)
	if len(c.toasts) > c.limit {
		// Evict from the front; the newest rejections matter most.
		copy(c.toasts, c.toasts[1:])
		c.toasts = c.toasts[:len(c.toasts)-1]
	}
	c.notifyLocked()
	return t
}

// Toasts returns the undismissed toasts, oldest first.
func (c *Center) Toasts() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Toast, len(c.toasts))
	copy(out, c.toasts)
	return out
}

// Dismiss removes the toast with the given id.
// Returns false if it was already dismissed or evicted.
func (c *Center) Dismiss(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, t := range c.toasts {
		if t.ID == id {
			c.toasts = append(c.toasts[:i], c.toasts[i+1:]...)
			c.notifyLocked()
			return true
		}
	}
	return false
}

// Changed returns a channel that signals when the Center's state may have
// changed. The signal is coalesced: one receive can cover several changes,
// so readers should re-poll state after each receive.
func (c *Center) Changed() <-chan struct{} {
	return c.signal
}

// notifyLocked signals Changed without blocking. Callers hold c.mu.
func (c *Center) notifyLocked() {
	select {
	case c.signal <- struct{}{}:
	default:
	}
}
