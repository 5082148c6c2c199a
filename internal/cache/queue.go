package cache

import "sync"

// eventType distinguishes the kinds of work the apply loop handles.
type eventType int

const (
	// eventMutate submits a mutation request for a key.
	eventMutate eventType = iota + 1
	// eventMutateResult delivers the remote outcome of a pending mutation.
	eventMutateResult
	// eventLoad asks for a key to be fetched if it is not usable yet.
	eventLoad
	// eventAccess reports a read of a stale entry (schedules a refresh).
	eventAccess
	// eventInvalidate marks a key stale after a push message.
	eventInvalidate
	// eventObserve increments a key's observer count.
	eventObserve
	// eventRelease decrements a key's observer count.
	eventRelease
	// eventRefreshResult delivers the outcome of a background fetch.
	eventRefreshResult
)

// event is the unit of work flowing through the apply loop.
// Exactly one of mut, res or waiter is set, depending on typ.
type event struct {
	typ    eventType
	key    Key
	mut    *mutationRequest // eventMutate
	res    *remoteResult    // eventMutateResult, eventRefreshResult
	waiter chan error       // eventLoad
}

// eventQueue is a thread-safe FIFO queue for apply-loop events.
//
// The queue is unbounded so that result deliveries from in-flight remote
// calls can always be enqueued without blocking their goroutines.
//
// Thread-safety covers external enqueuing (Get, Mutate, push routing)
// while the Run loop dequeues.
//
// The queue uses a channel for signaling to enable context-aware waiting
// in the Run loop (prevents goroutine hangs on context cancellation).
type eventQueue struct {
	mu     sync.Mutex
	events []event
	closed bool
	signal chan struct{} // Signals event availability (buffered, size 1)
}

// newEventQueue creates an empty event queue.
func newEventQueue() *eventQueue {
	return &eventQueue{
		events: make([]event, 0, 64),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds an event to the back of the queue.
// Thread-safe: may be called from any goroutine.
// Returns false if the queue is closed.
func (q *eventQueue) Enqueue(e event) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.events = append(q.events, e)

	// Signal availability (non-blocking - buffer of 1 coalesces multiple signals)
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue attempts to dequeue without blocking.
// Returns (event{}, false) if the queue is empty.
func (q *eventQueue) TryDequeue() (event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return event{}, false
	}

	e := q.events[0]

	// Nil out the slot so the request and result pointers inside the event
	// do not outlive their dequeue in the backing array.
	q.events[0] = event{}

	if len(q.events) == 1 {
		// Last element - reset to empty slice with original capacity
		q.events = q.events[:0]
	} else {
		q.events = q.events[1:]
	}

	return e, true
}

// Wait returns a channel that signals when events may be available.
// Use with select for context-aware waiting:
//
//	select {
//	case <-ctx.Done():
//	    return ctx.Err()
//	case <-q.Wait():
//	    // Try TryDequeue
//	}
func (q *eventQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *eventQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// Close signals that no more events will be enqueued.
// Wakes any blocked waiters by closing the signal channel.
func (q *eventQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
