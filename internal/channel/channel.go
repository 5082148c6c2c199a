package channel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nedrrelm/bulq/internal/metrics"
)

// CloseRejected is the application close code the server sends when policy
// denies the subscription. Like a normal closure it is terminal: the
// manager never redials it.
const CloseRejected = 4403

// Defaults applied by New. The config package mirrors these on its YAML
// surface.
const (
	DefaultDialDelay         = 100 * time.Millisecond
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultReconnectDelay    = 3 * time.Second
	DefaultMaxReconnects     = 5
)

const (
	// writeWait bounds any single socket write.
	writeWait = 10 * time.Second

	// closeGrace is how long a closing connection waits for the peer to
	// answer the close handshake before tearing the socket down.
	closeGrace = time.Second

	// maxFrameBytes caps inbound frames; larger frames fail the read.
	maxFrameBytes = 1 << 20

	// messageBuffer sizes the per-connection delivery channel. A full
	// buffer backpressures the socket rather than dropping envelopes.
	messageBuffer = 64
)

// Manager opens and tracks topic connections. One connection exists per
// topic URL at any time; concurrent Opens of the same topic share a
// single dial and its outcome.
type Manager struct {
	dialer  *websocket.Dialer
	token   func() string
	log     *slog.Logger
	metrics *metrics.Metrics
	stateFn func(topic string, state State)

	dialDelay      time.Duration
	heartbeat      time.Duration
	reconnectDelay time.Duration
	maxReconnects  int

	mu     sync.Mutex
	conns  map[string]*Conn
	closed bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer overrides the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(m *Manager) { m.dialer = d }
}

// WithTokenSource supplies the bearer credential attached to every dial.
// The source is consulted per dial, so a rotated token takes effect on
// the next connect or redial.
func WithTokenSource(token func() string) Option {
	return func(m *Manager) { m.token = token }
}

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithMetrics wires the shared metrics set.
func WithMetrics(mx *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mx }
}

// WithDialDelay overrides the settle delay before a topic's first dial.
// Zero dials immediately.
func WithDialDelay(d time.Duration) Option {
	return func(m *Manager) { m.dialDelay = d }
}

// WithHeartbeatInterval overrides the write-idle interval between pings.
func WithHeartbeatInterval(d time.Duration) Option {
	return func(m *Manager) { m.heartbeat = d }
}

// WithReconnectPolicy overrides the redial budget and the fixed pause
// between attempts. A zero budget makes every abnormal closure terminal.
func WithReconnectPolicy(maxAttempts int, delay time.Duration) Option {
	return func(m *Manager) {
		m.maxReconnects = maxAttempts
		m.reconnectDelay = delay
	}
}

// WithStateListener registers a callback invoked on every connection
// state change, outside internal locks. It must not block; a local Close
// racing a terminal closure may deliver the two closing-side states in
// either order.
func WithStateListener(fn func(topic string, state State)) Option {
	return func(m *Manager) { m.stateFn = fn }
}

// New creates a Manager.
func New(opts ...Option) *Manager {
	m := &Manager{
		dialer:         websocket.DefaultDialer,
		log:            slog.Default(),
		dialDelay:      DefaultDialDelay,
		heartbeat:      DefaultHeartbeatInterval,
		reconnectDelay: DefaultReconnectDelay,
		maxReconnects:  DefaultMaxReconnects,
		conns:          make(map[string]*Conn),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = metrics.New(nil)
	}
	return m
}

// Open returns the connection for a topic URL, dialing it first when
// needed. Callers racing to open the same topic share one dial: all of
// them get the same *Conn, or all of them get the dial's error. The
// first dial of a topic waits a short settle delay, cancellable through
// ctx, so mount/unmount churn in the caller never hits the network.
func (m *Manager) Open(ctx context.Context, topicURL string) (*Conn, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	if c, ok := m.conns[topicURL]; ok {
		m.mu.Unlock()
		return c.awaitOpen(ctx)
	}
	c := newConn(m, topicURL)
	m.conns[topicURL] = c
	m.mu.Unlock()
	c.announce(StateConnecting)

	go c.open(ctx)
	return c.awaitOpen(ctx)
}

// Close tears down every connection and rejects future Opens. It returns
// once all supervisors have exited.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	conns := make([]*Conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
	return nil
}

// forget drops a finished connection so a later Open dials fresh.
func (m *Manager) forget(topic string, c *Conn) {
	m.mu.Lock()
	if m.conns[topic] == c {
		delete(m.conns, topic)
	}
	m.mu.Unlock()
}

// dialSocket performs one websocket dial with the current credential.
func (m *Manager) dialSocket(ctx context.Context, topicURL string) (*websocket.Conn, error) {
	header := http.Header{}
	if m.token != nil {
		if tok := m.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	ws, resp, err := m.dialer.DialContext(ctx, topicURL, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("dial %s: %w (http %d)", topicURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", topicURL, err)
	}
	return ws, nil
}
