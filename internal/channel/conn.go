package channel

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nedrrelm/bulq/internal/wire"
)

// State is a connection's lifecycle position. The zero value is
// StateClosed; values double as the connection-state gauge reading.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// sendRequest carries one outbound frame to the write pump. done receives
// exactly one write result.
type sendRequest struct {
	frame []byte
	done  chan error
}

// Conn is a supervised duplex connection to one topic. The value stays
// the same across redials; only a terminal closure ends it.
type Conn struct {
	topic string
	m     *Manager

	msgs  chan wire.Envelope
	send  chan sendRequest
	ready chan struct{} // closed once the first dial resolves
	done  chan struct{} // closed when the connection is finished for good

	closeCtx    context.Context
	closeCancel context.CancelFunc

	mu      sync.Mutex
	state   State
	err     error // terminal error, nil while alive and for clean closures
	openErr error // first-dial failure, settled before ready closes
}

// newConn runs under the manager lock, so it stamps the initial state
// without announcing; Open announces once the lock is released.
func newConn(m *Manager, topic string) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		topic:       topic,
		m:           m,
		msgs:        make(chan wire.Envelope, messageBuffer),
		send:        make(chan sendRequest),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
		closeCtx:    ctx,
		closeCancel: cancel,
		state:       StateConnecting,
	}
	m.metrics.ConnState.WithLabelValues(topic).Set(float64(StateConnecting))
	return c
}

// Topic returns the topic URL this connection serves.
func (c *Conn) Topic() string { return c.topic }

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the terminal error after the connection finished: the
// redial give-up or the server's policy rejection. Nil while the
// connection is alive and after a clean closure.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the connection is finished for good.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Messages returns the inbound envelope stream. The channel closes when
// the connection finishes. Consume it directly or through Subscribe,
// not both.
func (c *Conn) Messages() <-chan wire.Envelope { return c.msgs }

// Subscribe drains the message stream on its own goroutine, invoking fn
// for each envelope in arrival order. The goroutine exits when the
// connection finishes.
func (c *Conn) Subscribe(fn func(wire.Envelope)) {
	go func() {
		for env := range c.msgs {
			fn(env)
		}
	}()
}

// Send writes an envelope to the topic. While the connection is
// redialing, Send waits for it to come back, bounded by ctx. A finished
// connection fails with its terminal error, or ErrClosed if it closed
// cleanly.
func (c *Conn) Send(ctx context.Context, env wire.Envelope) error {
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	req := sendRequest{frame: frame, done: make(chan error, 1)}
	select {
	case c.send <- req:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.closedErr()
	}
}

// Close shuts the connection down cleanly: close handshake when open, no
// redial ever. It blocks until the supervisor has exited and is safe to
// call more than once.
func (c *Conn) Close() error {
	c.mu.Lock()
	closing := c.state != StateClosed
	if closing {
		c.state = StateClosing
		c.m.metrics.ConnState.WithLabelValues(c.topic).Set(float64(StateClosing))
	}
	c.mu.Unlock()
	if closing {
		c.announce(StateClosing)
	}
	c.closeCancel()
	<-c.done
	return nil
}

// open performs the first dial and, on success, supervises the
// connection until it finishes. Runs on its own goroutine; ctx belongs
// to the caller that triggered the dial.
func (c *Conn) open(ctx context.Context) {
	if d := c.m.dialDelay; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			c.fail(ctx.Err())
			return
		case <-c.closeCtx.Done():
			t.Stop()
			c.fail(ErrClosed)
			return
		}
	}

	ws, err := c.firstDial(ctx)
	if err != nil {
		c.fail(err)
		return
	}

	c.setState(StateOpen)
	close(c.ready)
	c.run(ws)
}

// firstDial dials under the opener's ctx while staying cancellable by a
// local Close.
func (c *Conn) firstDial(ctx context.Context) (*websocket.Conn, error) {
	dctx, cancel := context.WithCancel(ctx)
	defer cancel()
	release := context.AfterFunc(c.closeCtx, cancel)
	defer release()
	return c.m.dialSocket(dctx, c.topic)
}

// awaitOpen blocks until the shared first dial resolves.
func (c *Conn) awaitOpen(ctx context.Context) (*Conn, error) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	err := c.openErr
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// run supervises an established socket: pump it until it dies, classify
// the closure, redial when that is warranted. Exactly one run exists per
// Conn and it is the only writer of terminal state.
func (c *Conn) run(ws *websocket.Conn) {
	c.m.log.Info("channel open", "topic", c.topic)
	for {
		readErr := c.serve(ws)

		if c.closeRequested() {
			c.m.log.Info("channel closed", "topic", c.topic)
			c.finish(nil)
			return
		}
		if cleanClosure(readErr) {
			if websocket.IsCloseError(readErr, CloseRejected) {
				c.m.log.Warn("channel rejected by server", "topic", c.topic, "error", readErr)
				c.finish(&TerminalError{Topic: c.topic, Err: readErr})
			} else {
				c.m.log.Info("channel closed by server", "topic", c.topic)
				c.finish(nil)
			}
			return
		}

		c.m.log.Warn("channel closed abnormally", "topic", c.topic, "error", readErr)
		next, err := c.redial(readErr)
		if err != nil {
			c.m.log.Error("redial budget exhausted", "topic", c.topic, "attempts", c.m.maxReconnects, "error", err)
			c.finish(err)
			return
		}
		if next == nil {
			c.finish(nil)
			return
		}
		ws = next
		c.setState(StateOpen)
		c.m.log.Info("channel reopened", "topic", c.topic)
	}
}

// serve runs both pumps until the socket dies and returns the read error.
func (c *Conn) serve(ws *websocket.Conn) error {
	stop := make(chan struct{})
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		c.writePump(ws, stop)
	}()

	err := c.readPump(ws)
	close(stop)
	ws.Close()
	<-writeDone
	return err
}

// readPump decodes inbound frames until the socket errors. Heartbeats
// are consumed here; bad frames are dropped and counted, never fatal.
func (c *Conn) readPump(ws *websocket.Conn) error {
	ws.SetReadLimit(maxFrameBytes)
	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		env, err := wire.DecodeEnvelope(frame)
		if err != nil {
			c.m.metrics.DroppedFrames.Inc()
			c.m.log.Warn("dropping unparseable frame", "topic", c.topic, "error", err)
			continue
		}
		if env.IsHeartbeat() {
			continue
		}
		if err := wire.ValidatePayload(env.Type, env.Data); err != nil {
			c.m.metrics.DroppedFrames.Inc()
			c.m.log.Warn("dropping invalid payload", "topic", c.topic, "type", env.Type, "error", err)
			continue
		}
		c.m.metrics.Messages.WithLabelValues(env.Type).Inc()
		select {
		case c.msgs <- env:
		case <-c.closeCtx.Done():
			return c.closeCtx.Err()
		}
	}
}

// writePump owns all writes to one socket: outbound sends, idle
// heartbeats, and the close handshake. On a write error it closes the
// socket so the read pump unblocks and the supervisor takes over.
func (c *Conn) writePump(ws *websocket.Conn, stop <-chan struct{}) {
	idle := time.NewTimer(c.m.heartbeat)
	defer idle.Stop()
	for {
		select {
		case req := <-c.send:
			ws.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.WriteMessage(websocket.TextMessage, req.frame)
			req.done <- err
			if err != nil {
				ws.Close()
				return
			}
			resetIdle(idle, c.m.heartbeat)
		case <-idle.C:
			if err := c.writeHeartbeat(ws); err != nil {
				ws.Close()
				return
			}
			idle.Reset(c.m.heartbeat)
		case <-c.closeCtx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
			select {
			case <-stop: // peer answered the handshake
			case <-time.After(closeGrace):
				ws.Close() // peer silent, force the read pump out
			}
			return
		case <-stop:
			return
		}
	}
}

func (c *Conn) writeHeartbeat(ws *websocket.Conn) error {
	env := wire.Envelope{Type: wire.TypePing, Timestamp: time.Now().UnixMilli()}
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}
	c.m.metrics.Heartbeats.Inc()
	return nil
}

// redial re-establishes the socket after an abnormal closure: fixed
// pauses, bounded attempts, no backoff. A nil socket with a nil error
// means a local Close interrupted the cycle.
func (c *Conn) redial(cause error) (*websocket.Conn, error) {
	c.setState(StateConnecting)
	lastErr := cause
	for attempt := 1; attempt <= c.m.maxReconnects; attempt++ {
		if !c.pause(c.m.reconnectDelay) {
			return nil, nil
		}
		c.m.metrics.Reconnects.Inc()
		c.m.log.Info("reconnecting", "topic", c.topic, "attempt", attempt, "max", c.m.maxReconnects)
		ws, err := c.m.dialSocket(c.closeCtx, c.topic)
		if err == nil {
			return ws, nil
		}
		if c.closeRequested() {
			return nil, nil
		}
		lastErr = err
	}
	return nil, &TerminalError{Topic: c.topic, Attempts: c.m.maxReconnects, Err: lastErr}
}

// pause waits the redial delay, abandoning early on local Close.
func (c *Conn) pause(d time.Duration) bool {
	if d <= 0 {
		return !c.closeRequested()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-c.closeCtx.Done():
		return false
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.m.metrics.ConnState.WithLabelValues(c.topic).Set(float64(s))
	c.mu.Unlock()
	c.announce(s)
}

// announce reports a state change to the manager's listener, outside the
// state lock.
func (c *Conn) announce(s State) {
	if c.m.stateFn != nil {
		c.m.stateFn(c.topic, s)
	}
}

// finish records the terminal outcome and releases everyone waiting on
// the connection. Called exactly once, by the supervisor.
func (c *Conn) finish(term error) {
	c.mu.Lock()
	c.state = StateClosed
	c.err = term
	c.m.metrics.ConnState.WithLabelValues(c.topic).Set(float64(StateClosed))
	c.mu.Unlock()
	c.announce(StateClosed)
	c.m.forget(c.topic, c)
	close(c.msgs)
	close(c.done)
}

// fail resolves a connection whose first dial never succeeded.
func (c *Conn) fail(err error) {
	c.mu.Lock()
	c.state = StateClosed
	c.openErr = err
	c.m.metrics.ConnState.WithLabelValues(c.topic).Set(float64(StateClosed))
	c.mu.Unlock()
	c.announce(StateClosed)
	c.m.forget(c.topic, c)
	close(c.ready)
	close(c.msgs)
	close(c.done)
}

func (c *Conn) closeRequested() bool {
	return c.closeCtx.Err() != nil
}

func (c *Conn) closedErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// cleanClosure reports whether a read error represents a deliberate end
// of the session rather than a fault.
func cleanClosure(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, CloseRejected)
}

// resetIdle restarts a timer that may or may not have fired.
func resetIdle(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
