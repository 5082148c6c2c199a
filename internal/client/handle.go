package client

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/nedrrelm/bulq/internal/cache"
	"github.com/nedrrelm/bulq/internal/channel"
	"github.com/nedrrelm/bulq/internal/journal"
	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/realloc"
	"github.com/nedrrelm/bulq/internal/wire"
)

// RunHandle is an open view onto one run: a push subscription, observed
// cache entries, and the mutation surface. Handles are shared: opening
// the same run twice returns the same handle, and each Open must be
// paired with one Close.
type RunHandle struct {
	c     *Client
	runID string
	conn  *channel.Conn

	refs int // guarded by c.mu
}

// View is a point-in-time, deep-copied picture of one run. Dist is nil
// until the run has a distribution.
type View struct {
	Run    *model.Run
	Orders *model.Orders
	Dist   *model.Distribution

	// Fresh is true while run and orders are server-confirmed and inside
	// the staleness window.
	Fresh bool

	// Pending is true while any of the run's entities carries an
	// unconfirmed optimistic mutation.
	Pending bool
}

// OpenRun opens a handle on the run: subscribes its push topic, then
// loads the run header and order book so the first Snapshot is complete.
// ctx bounds the open; the handle itself lives until Close.
func (c *Client) OpenRun(ctx context.Context, runID string) (*RunHandle, error) {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if h, ok := c.runs[runID]; ok {
		h.refs++
		c.mu.Unlock()
		return h, nil
	}
	c.mu.Unlock()

	keys := runKeys(runID)
	for _, key := range keys {
		c.cache.Observe(key)
	}

	conn, err := c.manager.Open(ctx, topicURL(c.cfg.ChannelURL, "/ws/runs/", runID))
	if err != nil {
		c.releaseAll(keys)
		return nil, fmt.Errorf("open run %s: %w", runID, err)
	}
	conn.Subscribe(c.handlePush)

	if err := c.loadAll(ctx, cache.RunKey(runID), cache.OrdersKey(runID)); err != nil {
		conn.Close()
		c.releaseAll(keys)
		return nil, fmt.Errorf("open run %s: %w", runID, err)
	}

	// The distribution is loaded only once the run state guarantees it
	// exists. Before that the first distribution_updated push
	// materializes it.
	if snap, ok := c.cache.Get(cache.RunKey(runID)); ok {
		if snap.Value.(*model.Run).State.Distributed() {
			if err := c.loadAll(ctx, cache.DistKey(runID)); err != nil {
				conn.Close()
				c.releaseAll(keys)
				return nil, fmt.Errorf("open run %s: %w", runID, err)
			}
		}
	}

	h := &RunHandle{c: c, runID: runID, conn: conn, refs: 1}
	c.mu.Lock()
	c.runs[runID] = h
	c.mu.Unlock()
	return h, nil
}

// Close releases one unit of interest in the run. The last Close drops
// the push subscription and the cache observations; cached values stay
// for a later reopen.
func (h *RunHandle) Close() error {
	c := h.c
	c.mu.Lock()
	if h.refs == 0 {
		c.mu.Unlock()
		return nil
	}
	h.refs--
	if h.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	if c.runs[h.runID] == h {
		delete(c.runs, h.runID)
	}
	c.mu.Unlock()

	h.conn.Close()
	c.releaseAll(runKeys(h.runID))
	return nil
}

// RunID returns the run this handle is open on.
func (h *RunHandle) RunID() string { return h.runID }

// Changed returns the client-wide change signal. Re-read Snapshot after
// each receive.
func (h *RunHandle) Changed() <-chan struct{} { return h.c.Changed() }

// Snapshot returns the current view of the run. ok is false only before
// the first load completed, which OpenRun waits for, so a handle's
// snapshot is normally always available.
func (h *RunHandle) Snapshot() (View, bool) {
	runSnap, ok := h.c.cache.Get(cache.RunKey(h.runID))
	if !ok {
		return View{}, false
	}
	ordersSnap, ok := h.c.cache.Get(cache.OrdersKey(h.runID))
	if !ok {
		return View{}, false
	}
	// Loader registration fixes the concrete type per prefix.
	v := View{
		Run:     runSnap.Value.(*model.Run),
		Orders:  ordersSnap.Value.(*model.Orders),
		Fresh:   runSnap.Fresh && ordersSnap.Fresh,
		Pending: runSnap.Pending || ordersSnap.Pending,
	}
	if distSnap, ok := h.c.cache.Get(cache.DistKey(h.runID)); ok {
		v.Dist = distSnap.Value.(*model.Distribution)
		v.Pending = v.Pending || distSnap.Pending
	}
	return v, true
}

// Role returns the caller's standing in the run, derived from the cached
// roster.
func (h *RunHandle) Role() lifecycle.Role {
	run, _, ok := h.entities()
	if !ok {
		return lifecycle.RoleObserver
	}
	return lifecycle.RoleFor(run, h.c.sess.UserID())
}

// PermittedActions returns the actions the caller may take right now, in
// stable presentation order. UIs render their menus from this.
func (h *RunHandle) PermittedActions() []lifecycle.Action {
	run, _, ok := h.entities()
	if !ok {
		return nil
	}
	role := lifecycle.RoleFor(run, h.c.sess.UserID())
	var out []lifecycle.Action
	for _, action := range lifecycle.AllActions {
		if lifecycle.Permitted(action, run.State, role) == nil {
			out = append(out, action)
		}
	}
	return out
}

// Window returns the caller's adjustment window on a product. ok is
// false when the product is unknown or the caller holds no claim there.
func (h *RunHandle) Window(productID string) (realloc.Window, bool) {
	run, orders, ok := h.entities()
	if !ok {
		return realloc.Window{}, false
	}
	p, found := orders.Product(productID)
	if !found {
		return realloc.Window{}, false
	}
	return realloc.WindowFor(p, h.c.sess.UserID(), run.Participants)
}

// entities reads the cached run and order book together.
func (h *RunHandle) entities() (*model.Run, *model.Orders, bool) {
	runSnap, ok := h.c.cache.Get(cache.RunKey(h.runID))
	if !ok {
		return nil, nil, false
	}
	ordersSnap, ok := h.c.cache.Get(cache.OrdersKey(h.runID))
	if !ok {
		return nil, nil, false
	}
	return runSnap.Value.(*model.Run), ordersSnap.Value.(*model.Orders), true
}

// GroupHandle is an open view onto a group's run overview.
type GroupHandle struct {
	c       *Client
	groupID string
	conn    *channel.Conn

	refs int // guarded by c.mu
}

// GroupView is a point-in-time copy of the group overview.
type GroupView struct {
	Runs  *model.GroupRuns
	Fresh bool
}

// OpenGroup opens a handle on a group's overview topic and loads the run
// summaries.
func (c *Client) OpenGroup(ctx context.Context, groupID string) (*GroupHandle, error) {
	c.openMu.Lock()
	defer c.openMu.Unlock()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if g, ok := c.groups[groupID]; ok {
		g.refs++
		c.mu.Unlock()
		return g, nil
	}
	c.mu.Unlock()

	key := cache.GroupKey(groupID)
	c.cache.Observe(key)

	conn, err := c.manager.Open(ctx, topicURL(c.cfg.ChannelURL, "/ws/groups/", groupID))
	if err != nil {
		c.cache.Release(key)
		return nil, fmt.Errorf("open group %s: %w", groupID, err)
	}
	conn.Subscribe(c.handlePush)

	if err := c.loadAll(ctx, key); err != nil {
		conn.Close()
		c.cache.Release(key)
		return nil, fmt.Errorf("open group %s: %w", groupID, err)
	}

	g := &GroupHandle{c: c, groupID: groupID, conn: conn, refs: 1}
	c.mu.Lock()
	c.groups[groupID] = g
	c.mu.Unlock()
	return g, nil
}

// Close releases one unit of interest in the group.
func (g *GroupHandle) Close() error {
	c := g.c
	c.mu.Lock()
	if g.refs == 0 {
		c.mu.Unlock()
		return nil
	}
	g.refs--
	if g.refs > 0 {
		c.mu.Unlock()
		return nil
	}
	if c.groups[g.groupID] == g {
		delete(c.groups, g.groupID)
	}
	c.mu.Unlock()

	g.conn.Close()
	c.cache.Release(cache.GroupKey(g.groupID))
	return nil
}

// GroupID returns the group this handle is open on.
func (g *GroupHandle) GroupID() string { return g.groupID }

// Changed returns the client-wide change signal.
func (g *GroupHandle) Changed() <-chan struct{} { return g.c.Changed() }

// Snapshot returns the current group overview.
func (g *GroupHandle) Snapshot() (GroupView, bool) {
	snap, ok := g.c.cache.Get(cache.GroupKey(g.groupID))
	if !ok {
		return GroupView{}, false
	}
	return GroupView{
		Runs:  snap.Value.(*model.GroupRuns),
		Fresh: snap.Fresh,
	}, true
}

// loadAll awaits a usable value for every key, bounded by ctx.
func (c *Client) loadAll(ctx context.Context, keys ...cache.Key) error {
	waiters := make([]<-chan error, 0, len(keys))
	for _, key := range keys {
		w, err := c.cache.Load(key)
		if err != nil {
			return err
		}
		waiters = append(waiters, w)
	}
	for i, w := range waiters {
		select {
		case err := <-w:
			if err != nil {
				return fmt.Errorf("load %s: %w", keys[i], err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (c *Client) releaseAll(keys []cache.Key) {
	for _, key := range keys {
		c.cache.Release(key)
	}
}

func runKeys(runID string) []cache.Key {
	return []cache.Key{
		cache.RunKey(runID),
		cache.OrdersKey(runID),
		cache.DistKey(runID),
	}
}

func topicURL(base, prefix, id string) string {
	return strings.TrimSuffix(base, "/") + prefix + url.PathEscape(id)
}

// handlePush serves both run and group topics: journal-worthy facts and
// notification prompts first, then the routed cache refetches.
func (c *Client) handlePush(env wire.Envelope) {
	msg, err := wire.Decode(env)
	if err != nil {
		c.log.Warn("dropping undecodable push", "type", env.Type, "error", err)
		return
	}

	switch m := msg.(type) {
	case wire.StateChanged:
		c.observeTransition(m)
	case wire.ReassignRequested:
		if m.ToUserID == c.sess.UserID() {
			c.center.Push("leadership handover",
				fmt.Sprintf("%s asks you to take over leadership", m.FromUserID))
		}
	case wire.ReassignDeclined:
		if c.isCachedLeader(m.RunID) {
			c.center.Push("leadership handover",
				fmt.Sprintf("%s declined to take over", m.ByUserID))
		}
	case wire.Unknown:
		c.log.Debug("ignoring unknown push type", "type", m.Type)
		return
	}

	for _, key := range wire.Route(msg) {
		c.refetch(key)
	}
}

// observeTransition validates and journals a state change push. An
// illegal transition is dropped from the journal; the routed refetch
// still resyncs the run, so a bad push costs one fetch, never a bad log.
func (c *Client) observeTransition(m wire.StateChanged) {
	if err := lifecycle.Transition(m.From, m.To); err != nil {
		c.log.Warn("dropping illegal state push",
			"run", m.RunID, "from", m.From, "to", m.To, "error", err)
		return
	}
	payload := map[string]any{
		"from": string(m.From),
		"to":   string(m.To),
	}
	if m.Actor != "" {
		payload["actor"] = m.Actor
	}
	c.appendFact(m.RunID, journal.KindTransition, payload)
}

func (c *Client) isCachedLeader(runID string) bool {
	snap, ok := c.cache.Get(cache.RunKey(runID))
	if !ok {
		return false
	}
	lead, ok := snap.Value.(*model.Run).Leader()
	return ok && lead.UserID == c.sess.UserID()
}

// refetch marks a pushed key stale, or forces its first fetch when the
// push references an entity never loaded. The distribution appears this
// way: the first distribution_updated materializes it.
func (c *Client) refetch(key cache.Key) {
	if _, ok := c.cache.Get(key); ok {
		c.cache.Invalidate(key)
		return
	}
	if _, err := c.cache.Load(key); err != nil {
		return // shutting down
	}
}
