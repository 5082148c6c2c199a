package cache

import (
	"context"
	"fmt"
)

// Run starts the single-writer apply loop.
// Blocks until the context is cancelled or Stop() is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
// All entry changes, reconciliations and rollbacks happen in this
// goroutine. Remote calls run in short-lived goroutines and deliver
// their outcomes back into the queue.
//
// ERROR HANDLING: failures belong to individual requests and are delivered
// on their result channels; the loop itself only stops on context
// cancellation or Stop(). On shutdown every outstanding request settles
// with ErrClosed (or the context error) so no caller blocks forever.
func (c *Cache) Run(ctx context.Context) error {
	c.log.Info("cache loop starting")

	for {
		// Try non-blocking dequeue first
		ev, ok := c.queue.TryDequeue()
		if ok {
			c.processEvent(ctx, ev)
			continue
		}

		// No event ready - wait for signal or context cancellation
		select {
		case <-ctx.Done():
			c.log.Info("cache loop stopping: context cancelled")
			c.queue.Close()
			c.drain(ctx.Err())
			return ctx.Err()

		case <-c.queue.Wait():
			// Signal received - loop back to TryDequeue.
			// The signal channel closes when the queue is closed,
			// which makes this case fire immediately.
			if c.queue.Len() == 0 {
				c.log.Info("cache loop stopping: queue closed")
				c.drain(ErrClosed)
				return nil
			}
		}
	}
}

// processEvent routes an event to the appropriate handler.
// CRITICAL: Called only from Run() goroutine - single-writer guarantee.
func (c *Cache) processEvent(ctx context.Context, ev event) {
	switch ev.typ {
	case eventMutate:
		c.processMutate(ctx, ev.key, ev.mut)
	case eventMutateResult:
		c.processMutateResult(ctx, ev.key, ev.res)
	case eventLoad:
		c.processLoad(ctx, ev.key, ev.waiter)
	case eventAccess:
		c.processAccess(ctx, ev.key)
	case eventInvalidate:
		c.processInvalidate(ctx, ev.key)
	case eventObserve:
		c.processObserve(ev.key)
	case eventRelease:
		c.processRelease(ev.key)
	case eventRefreshResult:
		c.processRefreshResult(ctx, ev.key, ev.res)
	default:
		c.log.Warn("unknown cache event type", "type", int(ev.typ))
	}
}

// processMutate admits a mutation: starts it immediately, or queues it
// FIFO behind the one already in flight on the same key.
func (c *Cache) processMutate(ctx context.Context, key Key, req *mutationRequest) {
	e, ok := c.entries[key]
	if !ok || e.value == nil {
		req.result <- &NotLoadedError{Key: key}
		return
	}
	if e.pending != nil {
		e.queue = append(e.queue, req)
		return
	}
	c.startMutation(ctx, key, e, req)
}

// startMutation applies the patch optimistically and issues the remote
// call. The pre-mutation snapshot is kept for rollback.
func (c *Cache) startMutation(ctx context.Context, key Key, e *entry, req *mutationRequest) {
	if err := req.ctx.Err(); err != nil {
		req.result <- fmt.Errorf("mutation %q abandoned: %w", req.name, err)
		c.startNext(ctx, key, e)
		return
	}

	snapshot := e.value.CloneEntity()
	if req.patch != nil {
		work := e.value.CloneEntity()
		if err := req.patch(work); err != nil {
			req.result <- err
			c.startNext(ctx, key, e)
			return
		}
		c.mu.Lock()
		e.value = work
		e.gen = c.clock.Next()
		e.pending = req
		c.mu.Unlock()
		c.signalChanged()
	} else {
		c.mu.Lock()
		e.pending = req
		c.mu.Unlock()
	}
	e.snapshot = snapshot
	e.pendingGen = e.gen
	e.dirty = false

	// The optimistic value satisfies anyone still waiting on a load.
	c.settleWaiters(e, nil)

	gen := e.pendingGen
	call := req.call
	go func() {
		value, err := call(ctx)
		c.queue.Enqueue(event{typ: eventMutateResult, key: key, res: &remoteResult{gen: gen, value: value, err: err}})
	}()

	c.log.Debug("mutation started", "key", key, "name", req.name, "gen", e.pendingGen)
}

// startNext pops the next queued mutation for the key, if any.
func (c *Cache) startNext(ctx context.Context, key Key, e *entry) {
	if len(e.queue) == 0 {
		return
	}
	req := e.queue[0]
	e.queue[0] = nil
	e.queue = e.queue[1:]
	c.startMutation(ctx, key, e, req)
}

// processMutateResult reconciles the remote outcome of the pending
// mutation: confirmation keeps the optimistic value (or the server echo),
// rejection restores the pre-mutation snapshot.
func (c *Cache) processMutateResult(ctx context.Context, key Key, res *remoteResult) {
	e, ok := c.entries[key]
	if !ok || e.pending == nil || res.gen != e.pendingGen {
		c.metrics.StaleDiscards.Inc()
		c.log.Warn("discarding stray mutation result", "key", key, "gen", res.gen)
		return
	}

	req := e.pending
	if res.err != nil {
		c.mu.Lock()
		e.value = e.snapshot
		e.gen = c.clock.Next()
		e.fresh = false
		e.pending = nil
		c.mu.Unlock()
		e.snapshot = nil
		e.dirty = false
		c.metrics.Rollbacks.Inc()
		c.signalChanged()
		c.log.Warn("mutation rejected, rolled back",
			"key", key,
			"name", req.name,
			"gen", e.gen,
			"error", res.err,
		)
		req.result <- res.err
		if e.observers > 0 {
			c.startRefresh(ctx, key, e, false)
		}
		c.startNext(ctx, key, e)
		return
	}

	c.mu.Lock()
	if res.value != nil {
		e.value = res.value
	}
	e.gen = c.clock.Next()
	e.fresh = true
	e.fetchedAt = c.now()
	e.pending = nil
	c.mu.Unlock()
	e.snapshot = nil
	e.budget.Reset()
	c.signalChanged()
	c.log.Debug("mutation confirmed", "key", key, "name", req.name, "gen", e.gen)
	req.result <- nil

	// A push arrived while the call was in flight: the server moved past
	// our echo, so the entry is already stale again.
	if e.dirty {
		e.dirty = false
		c.mu.Lock()
		e.fresh = false
		c.mu.Unlock()
		if e.observers > 0 {
			c.startRefresh(ctx, key, e, false)
		}
	}

	c.startNext(ctx, key, e)
}

// processLoad answers immediately when the key already has a usable value,
// otherwise registers the waiter and forces a fetch.
func (c *Cache) processLoad(ctx context.Context, key Key, waiter chan error) {
	e := c.ensure(key)
	if e.value != nil && (e.pending != nil || c.isFresh(e)) {
		waiter <- nil
		return
	}
	e.waiters = append(e.waiters, waiter)
	c.startRefresh(ctx, key, e, true)
}

// processAccess handles a read of a stale entry: schedule a passive
// refresh unless one is already coming or the budget is spent.
func (c *Cache) processAccess(ctx context.Context, key Key) {
	e, ok := c.entries[key]
	if !ok || e.value == nil || e.pending != nil || c.isFresh(e) {
		return
	}
	c.startRefresh(ctx, key, e, false)
}

// processInvalidate marks the key stale after a push message. Observed
// entities are refetched right away; unobserved ones wait for the next
// access. A push is also evidence the server is reachable, so the refresh
// budget resets.
func (c *Cache) processInvalidate(ctx context.Context, key Key) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.budget.Reset()
	if e.pending != nil {
		e.dirty = true
		return
	}
	if e.value == nil {
		return
	}
	c.mu.Lock()
	e.fresh = false
	c.mu.Unlock()
	if e.observers > 0 {
		c.startRefresh(ctx, key, e, false)
	}
}

func (c *Cache) processObserve(key Key) {
	c.ensure(key).observers++
}

func (c *Cache) processRelease(key Key) {
	e, ok := c.entries[key]
	if !ok || e.observers == 0 {
		return
	}
	e.observers--
}

// startRefresh issues a background fetch for the key unless one is already
// in flight. Passive refreshes respect the failure budget; forced ones
// (explicit loads) bypass it.
func (c *Cache) startRefresh(ctx context.Context, key Key, e *entry, force bool) {
	if e.refreshing {
		return
	}
	if !force && e.budget.Exhausted() {
		return
	}
	loader, ok := c.loaders[key.Prefix()]
	if !ok {
		err := &NoLoaderError{Key: key}
		c.log.Error("refresh impossible", "key", key, "error", err)
		c.settleWaiters(e, err)
		return
	}

	e.refreshing = true
	gen := e.gen
	go func() {
		value, err := loader(ctx, key)
		c.queue.Enqueue(event{typ: eventRefreshResult, key: key, res: &remoteResult{gen: gen, value: value, err: err, force: force}})
	}()

	c.metrics.Refetches.Inc()
	c.log.Debug("refresh started", "key", key, "gen", gen, "forced", force)
}

// processRefreshResult applies a fetched value, unless the entry moved on
// while the fetch was in flight: any generation mismatch or pending
// mutation means a newer local state exists and the result is discarded.
func (c *Cache) processRefreshResult(ctx context.Context, key Key, res *remoteResult) {
	e, ok := c.entries[key]
	if !ok {
		return
	}
	e.refreshing = false

	if e.pending != nil || res.gen != e.gen {
		c.metrics.StaleDiscards.Inc()
		c.log.Debug("discarding stale refresh result", "key", key, "have", e.gen, "got", res.gen)
		return
	}

	if res.err != nil {
		if !res.force {
			e.budget.Spend()
		}
		c.log.Warn("refresh failed",
			"key", key,
			"error", res.err,
			"budget_left", e.budget.Left(),
		)
		c.settleWaiters(e, res.err)
		return
	}
	if res.value == nil {
		err := fmt.Errorf("loader for %s returned no value", key)
		c.log.Error("refresh failed", "key", key, "error", err)
		c.settleWaiters(e, err)
		return
	}

	c.mu.Lock()
	e.value = res.value
	e.gen = c.clock.Next()
	e.fresh = true
	e.fetchedAt = c.now()
	c.mu.Unlock()
	e.budget.Reset()
	c.signalChanged()
	c.log.Debug("entry refreshed", "key", key, "gen", e.gen)
	c.settleWaiters(e, nil)
}

// settleWaiters delivers err to every registered Load waiter.
func (c *Cache) settleWaiters(e *entry, err error) {
	for _, w := range e.waiters {
		w <- err
	}
	e.waiters = nil
}

// drain settles everything still outstanding at shutdown: queued events
// that never reached their handlers, pending and queued mutations, and
// Load waiters. Each result channel receives err exactly once.
func (c *Cache) drain(err error) {
	for {
		ev, ok := c.queue.TryDequeue()
		if !ok {
			break
		}
		switch ev.typ {
		case eventMutate:
			ev.mut.result <- err
		case eventLoad:
			ev.waiter <- err
		}
	}

	for _, e := range c.entries {
		if e.pending != nil {
			e.pending.result <- err
			e.pending = nil
			e.snapshot = nil
		}
		for _, req := range e.queue {
			req.result <- err
		}
		e.queue = nil
		c.settleWaiters(e, err)
	}
}
