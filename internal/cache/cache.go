package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nedrrelm/bulq/internal/metrics"
	"github.com/nedrrelm/bulq/internal/model"
)

// DefaultStaleAfter is how long an entry stays fresh after a fetch or a
// confirmed mutation. Reads past the window schedule a passive refresh,
// which bounds the damage of a missed push invalidation.
const DefaultStaleAfter = 30 * time.Second

// DefaultRefreshBudget is the number of consecutive passive refresh
// failures tolerated per entry before refreshes pause.
const DefaultRefreshBudget = 3

// Loader fetches the current server state of one entity. Loaders are
// registered per key prefix (run, orders, dist, group) and run in
// short-lived goroutines off the apply loop.
//
// A Loader returns the decoded entity or an error, never both nil.
// Ownership of the returned entity passes to the cache.
type Loader func(ctx context.Context, key Key) (model.Entity, error)

// Snapshot is a point-in-time view of one cached entity.
type Snapshot struct {
	// Value is a deep copy. Callers may keep and mutate it freely.
	Value model.Entity

	// Gen is the generation the value was stamped with.
	Gen int64

	// Fresh is true while the value is server-confirmed and inside the
	// staleness window.
	Fresh bool

	// Pending is true while a mutation on this entity awaits its remote
	// outcome. The value then includes the optimistic patch.
	Pending bool
}

// Mutation describes one user action against a cached entity.
//
// Patch applies the expected effect to a copy of the cached value; it is
// optional for actions whose local effect is unknown until the server
// answers. Call performs the remote request and may return the server's
// echo of the updated entity. The cache applies Patch immediately, then
// reconciles when Call's outcome arrives.
type Mutation struct {
	// Name identifies the action for logs and errors.
	Name string

	// Patch mutates a private copy of the cached entity. Returning an
	// error rejects the mutation locally; nothing is applied or sent.
	Patch func(model.Entity) error

	// Call performs the remote request. It receives the apply loop's
	// context, not the submitter's: in-flight calls are never cancelled,
	// stale outcomes are discarded by the generation guard instead.
	Call func(ctx context.Context) (model.Entity, error)
}

// mutationRequest is the in-loop form of a submitted Mutation.
type mutationRequest struct {
	name   string
	ctx    context.Context // submitter's context: gates queue admission only
	patch  func(model.Entity) error
	call   func(ctx context.Context) (model.Entity, error)
	result chan error // buffered, one terminal send
}

// remoteResult carries the outcome of a remote call back into the loop.
type remoteResult struct {
	gen   int64        // generation the call was issued under
	value model.Entity // server echo or fetched value, may be nil for mutations
	err   error
	force bool // refresh issued by Load: failures do not spend the budget
}

// entry is the cache line for one key.
//
// value, gen, fresh, fetchedAt and pending are read by Get under the cache
// read lock; the apply loop takes the write lock to change them. All other
// fields belong to the apply loop alone.
type entry struct {
	value     model.Entity
	gen       int64
	fresh     bool
	fetchedAt time.Time
	pending   *mutationRequest

	snapshot   model.Entity // pre-mutation copy, restored on rejection
	pendingGen int64        // generation the pending call was issued under
	dirty      bool         // push invalidation arrived while pending
	queue      []*mutationRequest
	waiters    []chan error // Load callers awaiting a usable value
	observers  int
	refreshing bool
	budget     refreshBudget
}

// Cache is the client-side cache of server entities.
//
// CRITICAL: all entry changes happen in the single-writer Run loop
// goroutine. External callers submit work through Get, Load, Mutate,
// Invalidate, Observe and Release, which are safe from any goroutine.
type Cache struct {
	loaders map[string]Loader
	clock   *Clock
	queue   *eventQueue

	mu      sync.RWMutex
	entries map[Key]*entry

	staleAfter  time.Duration
	budgetLimit int
	now         func() time.Time
	metrics     *metrics.Metrics
	log         *slog.Logger
	changed     chan struct{} // buffered, size 1: coalesced change signal
}

// Option configures a Cache.
type Option func(*Cache)

// WithStaleAfter overrides the staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Cache) { c.staleAfter = d }
}

// WithRefreshBudget overrides the passive refresh failure budget.
// A budget of 0 disables passive refreshes entirely.
func WithRefreshBudget(n int) Option {
	return func(c *Cache) { c.budgetLimit = n }
}

// WithNowFunc overrides the wall clock. Tests use a fixed clock so
// staleness is deterministic.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithMetrics wires the shared metrics set.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Cache) { c.log = log }
}

// WithClock supplies a pre-positioned logical clock.
// Used to resume generation numbering past the journal's last sequence.
func WithClock(clk *Clock) Option {
	return func(c *Cache) { c.clock = clk }
}

// New creates a Cache with the given per-prefix loaders.
func New(loaders map[string]Loader, opts ...Option) *Cache {
	c := &Cache{
		loaders:     loaders,
		clock:       NewClock(),
		queue:       newEventQueue(),
		entries:     make(map[Key]*entry),
		staleAfter:  DefaultStaleAfter,
		budgetLimit: DefaultRefreshBudget,
		now:         time.Now,
		log:         slog.Default(),
		changed:     make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}

	return c
}

// Clock returns the logical clock. The client facade shares it to stamp
// journal entries in the same sequence as cache generations.
func (c *Cache) Clock() *Clock {
	return c.clock
}

// Get returns a snapshot of the cached entity, or false if the key was
// never loaded. Reading a stale entry schedules a passive background
// refresh.
//
// Thread-safe: may be called from any goroutine.
func (c *Cache) Get(key Key) (Snapshot, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	if !ok || e.value == nil {
		c.mu.RUnlock()
		return Snapshot{}, false
	}
	snap := Snapshot{
		Value:   e.value.CloneEntity(),
		Gen:     e.gen,
		Fresh:   c.isFresh(e),
		Pending: e.pending != nil,
	}
	c.mu.RUnlock()

	if !snap.Fresh && !snap.Pending {
		c.queue.Enqueue(event{typ: eventAccess, key: key})
	}
	return snap, true
}

// Load ensures the key has a usable value. The returned channel delivers
// one error: nil once the entity is cached and fresh (or a mutation's
// optimistic value covers it), or the fetch failure. Callers select on the
// channel and their own context.
//
// An explicit load bypasses the refresh failure budget.
func (c *Cache) Load(key Key) (<-chan error, error) {
	waiter := make(chan error, 1)
	if !c.queue.Enqueue(event{typ: eventLoad, key: key, waiter: waiter}) {
		return nil, ErrClosed
	}
	return waiter, nil
}

// Mutate submits a mutation for the entity under key. The patch is applied
// optimistically by the apply loop; the returned channel delivers the
// terminal outcome: nil once the server confirms, or the rejection error
// after the local value has been rolled back.
//
// The entity must already be loaded; otherwise the channel delivers a
// NotLoadedError. Mutations on one key settle strictly in submission
// order. ctx cancellation abandons the mutation only while it still waits
// in the per-key queue; once the remote call is in flight it runs to its
// outcome.
func (c *Cache) Mutate(ctx context.Context, key Key, m Mutation) (<-chan error, error) {
	if m.Call == nil {
		return nil, fmt.Errorf("mutation %q has no remote call", m.Name)
	}
	req := &mutationRequest{
		name:   m.Name,
		ctx:    ctx,
		patch:  m.Patch,
		call:   m.Call,
		result: make(chan error, 1),
	}
	if !c.queue.Enqueue(event{typ: eventMutate, key: key, mut: req}) {
		return nil, ErrClosed
	}
	return req.result, nil
}

// Invalidate marks the key stale after a push message. If the entity has
// observers, a background refetch is scheduled; unobserved entities are
// only marked. Unknown keys are ignored.
//
// Thread-safe: may be called from any goroutine.
func (c *Cache) Invalidate(key Key) {
	c.queue.Enqueue(event{typ: eventInvalidate, key: key})
}

// Observe registers interest in a key. Observed entities are refetched on
// invalidation instead of merely marked stale. Each Observe must be paired
// with a Release.
func (c *Cache) Observe(key Key) {
	c.queue.Enqueue(event{typ: eventObserve, key: key})
}

// Release drops one unit of interest in a key. The cached value is kept
// for later reopening; only push-driven refetching stops.
func (c *Cache) Release(key Key) {
	c.queue.Enqueue(event{typ: eventRelease, key: key})
}

// Changed returns a channel that signals after any visible change
// (optimistic apply, confirmation, rollback, refresh). Signals are
// coalesced; consumers re-read whatever they display via Get.
func (c *Cache) Changed() <-chan struct{} {
	return c.changed
}

// Stop shuts the cache down. Run drains the queue, settles all
// outstanding result channels and waiters with ErrClosed, and returns.
func (c *Cache) Stop() {
	c.queue.Close()
}

// signalChanged wakes the Changed consumer (non-blocking, coalescing).
func (c *Cache) signalChanged() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// isFresh reports whether the entry is server-confirmed and inside the
// staleness window. An entry with a pending mutation is never fresh - its
// value is provisional until the remote outcome arrives.
//
// Callers either hold the read lock or run on the apply loop.
func (c *Cache) isFresh(e *entry) bool {
	return e.pending == nil && e.fresh && c.now().Sub(e.fetchedAt) < c.staleAfter
}

// ensure returns the entry for key, creating it if needed.
// Called only from the apply loop.
func (c *Cache) ensure(key Key) *entry {
	if e, ok := c.entries[key]; ok {
		return e
	}
	e := &entry{budget: refreshBudget{limit: c.budgetLimit}}
	c.mu.Lock()
	c.entries[key] = e
	c.mu.Unlock()
	return e
}
