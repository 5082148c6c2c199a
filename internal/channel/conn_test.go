package channel

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedrrelm/bulq/internal/metrics"
	"github.com/nedrrelm/bulq/internal/wire"
)

func TestConn_SubscribeObservesStream(t *testing.T) {
	s := newWSServer(t, func(n int, ws *websocket.Conn) {
		for _, typ := range []string{"alpha", "beta", "gamma"} {
			sendEnvelope(ws, wire.Envelope{Type: typ})
		}
		holdOpen(ws)
	})
	m := newTestManager(t)

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	got := make(chan string, 3)
	conn.Subscribe(func(env wire.Envelope) { got <- env.Type })

	var types []string
	for i := 0; i < 3; i++ {
		select {
		case typ := <-got:
			types = append(types, typ)
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for subscriber delivery")
		}
	}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, types)
}

func TestConn_SendRoundTrip(t *testing.T) {
	received := make(chan wire.Envelope, 1)
	s := newWSServer(t, func(n int, ws *websocket.Conn) {
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.DecodeEnvelope(frame)
			if err != nil || env.IsHeartbeat() {
				continue
			}
			received <- env
		}
	})
	m := newTestManager(t)

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	out := wire.Envelope{Type: "hello", Data: json.RawMessage(`{"v":1}`), Timestamp: 42}
	require.NoError(t, conn.Send(context.Background(), out))

	select {
	case env := <-received:
		assert.Equal(t, "hello", env.Type)
		assert.JSONEq(t, `{"v":1}`, string(env.Data))
		assert.Equal(t, int64(42), env.Timestamp)
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the envelope")
	}
}

func TestConn_SendAfterCloseFails(t *testing.T) {
	s := newWSServer(t, func(n int, ws *websocket.Conn) { holdOpen(ws) })
	m := newTestManager(t)

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	err = conn.Send(context.Background(), wire.Envelope{Type: "hello"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestConn_HeartbeatsOnWriteIdle(t *testing.T) {
	pings := make(chan wire.Envelope, 8)
	s := newWSServer(t, func(n int, ws *websocket.Conn) {
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := wire.DecodeEnvelope(frame)
			if err != nil {
				continue
			}
			if env.Type == wire.TypePing {
				pings <- env
				sendEnvelope(ws, wire.Envelope{Type: wire.TypePong, Timestamp: env.Timestamp})
			}
		}
	})
	mx := metrics.New(nil)
	m := newTestManager(t, WithHeartbeatInterval(30*time.Millisecond), WithMetrics(mx))

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case env := <-pings:
			assert.Equal(t, wire.TypePing, env.Type)
			assert.NotZero(t, env.Timestamp)
		case <-time.After(2 * time.Second):
			t.Fatal("no heartbeat arrived")
		}
	}

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(mx.Heartbeats) >= 2
	}, time.Second, 5*time.Millisecond)

	// Inbound pongs are consumed by the channel itself.
	assert.Zero(t, len(conn.Messages()))
	assert.Equal(t, StateOpen, conn.State())
}

func TestConn_DropsBadFrames(t *testing.T) {
	s := newWSServer(t, func(n int, ws *websocket.Conn) {
		_ = ws.WriteMessage(websocket.TextMessage, []byte("not-json"))
		sendEnvelope(ws, wire.Envelope{
			Type: wire.TypeReadyToggled,
			Data: json.RawMessage(`{"run_id":"r1","user_id":"u1","ready":"yes"}`),
		})
		sendEnvelope(ws, wire.Envelope{Type: "survivor"})
		holdOpen(ws)
	})
	mx := metrics.New(nil)
	m := newTestManager(t, WithMetrics(mx))

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	env := awaitEnvelope(t, conn)
	assert.Equal(t, "survivor", env.Type)

	assert.Equal(t, float64(2), testutil.ToFloat64(mx.DroppedFrames))
	assert.Equal(t, float64(1), testutil.ToFloat64(mx.Messages.WithLabelValues("survivor")))
	assert.Equal(t, StateOpen, conn.State())
}

func TestConn_ReconnectRecoversAndResetsBudget(t *testing.T) {
	s := newWSServer(t, func(n int, ws *websocket.Conn) {
		if n <= 3 {
			sendEnvelope(ws, wire.Envelope{Type: "outage", Timestamp: int64(n)})
			time.Sleep(10 * time.Millisecond)
			ws.NetConn().Close() // abrupt: no close frame
			return
		}
		sendEnvelope(ws, wire.Envelope{Type: "settled"})
		holdOpen(ws)
	})
	mx := metrics.New(nil)
	m := newTestManager(t, WithReconnectPolicy(2, 5*time.Millisecond), WithMetrics(mx))

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	for want := int64(1); want <= 3; want++ {
		env := awaitEnvelope(t, conn)
		assert.Equal(t, "outage", env.Type)
		assert.Equal(t, want, env.Timestamp)
	}
	env := awaitEnvelope(t, conn)
	assert.Equal(t, "settled", env.Type)

	// Each outage recovered on its first attempt. A counter that survived
	// reconnects would have crossed the two-attempt budget on the third
	// outage and killed the connection instead.
	assert.Equal(t, StateOpen, conn.State())
	assert.Equal(t, 4, s.dialCount())
	assert.Equal(t, float64(3), testutil.ToFloat64(mx.Reconnects))
	assert.NoError(t, conn.Err())
}

func TestConn_TerminalAfterRedialBudget(t *testing.T) {
	var s *wsServer
	s = newWSServer(t, func(n int, ws *websocket.Conn) {
		s.refuseFurther()
		ws.NetConn().Close()
	})
	mx := metrics.New(nil)
	m := newTestManager(t, WithReconnectPolicy(3, 5*time.Millisecond), WithMetrics(mx))

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	awaitDone(t, conn)

	assert.Equal(t, StateClosed, conn.State())
	var term *TerminalError
	require.ErrorAs(t, conn.Err(), &term)
	assert.Equal(t, 3, term.Attempts)
	assert.Contains(t, term.Error(), "gave up after 3 reconnect attempts")
	assert.Equal(t, float64(3), testutil.ToFloat64(mx.Reconnects))

	_, ok := <-conn.Messages()
	assert.False(t, ok, "message stream should be closed")

	err = conn.Send(context.Background(), wire.Envelope{Type: "hello"})
	assert.ErrorAs(t, err, &term)
}

func TestConn_ServerNormalCloseTerminal(t *testing.T) {
	s := newWSServer(t, func(n int, ws *websocket.Conn) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run archived")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		holdOpen(ws)
	})
	mx := metrics.New(nil)
	m := newTestManager(t, WithReconnectPolicy(2, 5*time.Millisecond), WithMetrics(mx))

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	awaitDone(t, conn)
	time.Sleep(50 * time.Millisecond) // a redial would show up as a second dial

	assert.Equal(t, StateClosed, conn.State())
	assert.NoError(t, conn.Err())
	assert.Equal(t, 1, s.dialCount())
	assert.Equal(t, float64(0), testutil.ToFloat64(mx.Reconnects))
}

func TestConn_PolicyRejectionTerminal(t *testing.T) {
	s := newWSServer(t, func(n int, ws *websocket.Conn) {
		msg := websocket.FormatCloseMessage(CloseRejected, "removed from run")
		_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		holdOpen(ws)
	})
	m := newTestManager(t, WithReconnectPolicy(2, 5*time.Millisecond))

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	awaitDone(t, conn)
	time.Sleep(50 * time.Millisecond)

	require.Error(t, conn.Err())
	assert.True(t, IsRejected(conn.Err()), "expected a policy rejection: %v", conn.Err())
	var term *TerminalError
	require.ErrorAs(t, conn.Err(), &term)
	assert.Zero(t, term.Attempts)
	assert.Contains(t, term.Error(), "closed by server")
	assert.Equal(t, 1, s.dialCount())
}

func TestConn_CloseCompletesHandshake(t *testing.T) {
	closeCode := make(chan int, 1)
	s := newWSServer(t, func(n int, ws *websocket.Conn) {
		for {
			_, _, err := ws.ReadMessage()
			if err != nil {
				var ce *websocket.CloseError
				if errors.As(err, &ce) {
					closeCode <- ce.Code
				}
				return
			}
		}
	})
	m := newTestManager(t)

	conn, err := m.Open(context.Background(), s.url()+"/ws/runs/r1")
	require.NoError(t, err)

	require.NoError(t, conn.Close())
	require.NoError(t, conn.Close()) // idempotent

	select {
	case code := <-closeCode:
		assert.Equal(t, websocket.CloseNormalClosure, code)
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the close frame")
	}
	assert.Equal(t, StateClosed, conn.State())
	assert.NoError(t, conn.Err())
}
