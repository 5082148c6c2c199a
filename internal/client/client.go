package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nedrrelm/bulq/internal/api"
	"github.com/nedrrelm/bulq/internal/cache"
	"github.com/nedrrelm/bulq/internal/channel"
	"github.com/nedrrelm/bulq/internal/config"
	"github.com/nedrrelm/bulq/internal/journal"
	"github.com/nedrrelm/bulq/internal/metrics"
	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/notify"
	"github.com/nedrrelm/bulq/internal/session"
)

// Client is the assembled sync engine. Create one per signed-in session
// with New, open run and group handles from it, and Close it when done.
type Client struct {
	cfg  *config.Config
	sess *session.Store

	api     *api.Client
	cache   *cache.Cache
	manager *channel.Manager
	jrnl    *journal.Journal // nil when journaling is disabled
	center  *notify.Center
	metrics *metrics.Metrics

	ids IDGenerator
	log *slog.Logger
	now func() time.Time
	reg prometheus.Registerer

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// openMu serializes handle construction, so concurrent opens of the
	// same run share one subscription instead of racing to build two.
	openMu sync.Mutex

	mu     sync.Mutex
	runs   map[string]*RunHandle
	groups map[string]*GroupHandle
	topics map[string]channel.State
	closed bool
}

// Option configures a Client.
type Option func(*Client)

// WithLogger overrides the default logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithRegisterer registers the client's metrics with reg. Without it the
// collectors work but are not exported anywhere.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(c *Client) { c.reg = reg }
}

// WithIDGenerator overrides the journal id source. Tests use a serial
// generator for readable journals.
func WithIDGenerator(ids IDGenerator) Option {
	return func(c *Client) { c.ids = ids }
}

// WithNowFunc overrides the wall clock used for cache staleness and toast
// stamps. Deterministic tests use this.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New wires the engine from a loaded config and a session. The cache
// apply loop starts immediately; the returned Client must be Closed.
//
// When cfg.JournalPath is set, the journal is opened and the logical
// clock resumes past its last recorded sequence, so entries appended
// across restarts never collide.
func New(cfg *config.Config, sess *session.Store, opts ...Option) (*Client, error) {
	if cfg == nil {
		return nil, fmt.Errorf("client: config is required")
	}
	if sess == nil {
		return nil, fmt.Errorf("client: session is required")
	}

	c := &Client{
		cfg:    cfg,
		sess:   sess,
		ids:    UUIDGenerator{},
		log:    slog.Default(),
		now:    time.Now,
		runs:   make(map[string]*RunHandle),
		groups: make(map[string]*GroupHandle),
		topics: make(map[string]channel.State),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.metrics = metrics.New(c.reg)
	c.center = notify.NewCenter(notify.WithNowFunc(c.now))

	apiClient, err := api.New(cfg.ServerURL, sess,
		api.WithLogger(c.log),
		api.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.RequestTimeout)}),
	)
	if err != nil {
		return nil, err
	}
	c.api = apiClient

	clock := cache.NewClock()
	if cfg.JournalPath != "" {
		j, err := journal.Open(cfg.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		seq, err := j.LastSeq(context.Background())
		if err != nil {
			j.Close()
			return nil, fmt.Errorf("resume journal clock: %w", err)
		}
		c.jrnl = j
		clock = cache.NewClockAt(seq)
	}

	c.cache = cache.New(c.loaders(),
		cache.WithClock(clock),
		cache.WithStaleAfter(time.Duration(cfg.StaleAfter)),
		cache.WithRefreshBudget(cfg.RefreshBudget),
		cache.WithNowFunc(c.now),
		cache.WithMetrics(c.metrics),
		cache.WithLogger(c.log),
	)

	c.manager = channel.New(
		channel.WithTokenSource(sess.Token),
		channel.WithLogger(c.log),
		channel.WithMetrics(c.metrics),
		channel.WithDialDelay(time.Duration(cfg.DialDelay)),
		channel.WithHeartbeatInterval(time.Duration(cfg.HeartbeatInterval)),
		channel.WithReconnectPolicy(cfg.MaxReconnects, time.Duration(cfg.ReconnectDelay)),
		channel.WithStateListener(c.onTopicState),
	)

	loopCtx, cancel := context.WithCancel(context.Background())
	c.loopCancel = cancel
	c.loopDone = make(chan struct{})
	go func() {
		defer close(c.loopDone)
		c.cache.Run(loopCtx)
	}()

	return c, nil
}

// Close tears the engine down: connections first so no more pushes
// arrive, then the apply loop, then the journal. Outstanding mutation
// waiters settle with the cache's closed error. Safe to call more than
// once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.runs = make(map[string]*RunHandle)
	c.groups = make(map[string]*GroupHandle)
	c.mu.Unlock()

	c.manager.Close()
	c.cache.Stop()
	<-c.loopDone
	c.loopCancel() // aborts remote calls still in flight

	if c.jrnl != nil {
		if err := c.jrnl.Close(); err != nil {
			c.log.Warn("journal close failed", "error", err)
		}
	}
	c.center.SetConnectivity(notify.Offline)
	return nil
}

// Notifications returns the notification center: connectivity indicator
// and rejection toasts.
func (c *Client) Notifications() *notify.Center {
	return c.center
}

// Journal returns the event journal, nil when journaling is disabled.
func (c *Client) Journal() *journal.Journal {
	return c.jrnl
}

// Session returns the session store the client was built with.
func (c *Client) Session() *session.Store {
	return c.sess
}

// Changed returns the coalesced change signal: it fires after any cache
// change a renderer might want to repaint for. Re-read snapshots after
// each receive.
func (c *Client) Changed() <-chan struct{} {
	return c.cache.Changed()
}

// loaders maps each entity kind to its fetch. The api client's HTTP
// timeout bounds every call; the loader context only ends at shutdown.
func (c *Client) loaders() map[string]cache.Loader {
	return map[string]cache.Loader{
		cache.PrefixRun: func(ctx context.Context, key cache.Key) (model.Entity, error) {
			run, err := c.api.FetchRun(ctx, key.ID())
			if err != nil {
				return nil, err
			}
			return run, nil
		},
		cache.PrefixOrders: func(ctx context.Context, key cache.Key) (model.Entity, error) {
			orders, err := c.api.FetchOrders(ctx, key.ID())
			if err != nil {
				return nil, err
			}
			return orders, nil
		},
		cache.PrefixDist: func(ctx context.Context, key cache.Key) (model.Entity, error) {
			dist, err := c.api.FetchDistribution(ctx, key.ID())
			if err != nil {
				return nil, err
			}
			return dist, nil
		},
		cache.PrefixGroup: func(ctx context.Context, key cache.Key) (model.Entity, error) {
			runs, err := c.api.FetchGroupRuns(ctx, key.ID())
			if err != nil {
				return nil, err
			}
			return runs, nil
		},
	}
}

// onTopicState folds per-topic connection states into the connectivity
// indicator: any topic dialing or redialing shows reconnecting, else any
// open topic shows connected, else offline. Terminal closures drop the
// topic from the fold.
func (c *Client) onTopicState(topic string, state channel.State) {
	c.mu.Lock()
	if state == channel.StateClosed {
		delete(c.topics, topic)
	} else {
		c.topics[topic] = state
	}
	var connecting, open bool
	for _, s := range c.topics {
		switch s {
		case channel.StateConnecting:
			connecting = true
		case channel.StateOpen:
			open = true
		}
	}
	c.mu.Unlock()

	agg := notify.Offline
	switch {
	case connecting:
		agg = notify.Reconnecting
	case open:
		agg = notify.Connected
	}
	c.center.SetConnectivity(agg)
}

// appendFact journals one observed fact, stamped from the shared logical
// clock so journal order and cache generations interleave consistently.
// Append failures are logged, never fatal: the journal is a record, not
// a gate.
func (c *Client) appendFact(runID, kind string, payload map[string]any) {
	if c.jrnl == nil {
		return
	}
	fact := journal.Fact{
		ID:      c.ids.Generate(),
		Seq:     c.cache.Clock().Next(),
		RunID:   runID,
		Kind:    kind,
		Payload: payload,
	}
	if err := c.jrnl.Append(context.Background(), fact); err != nil {
		c.log.Warn("journal append failed", "kind", kind, "run", runID, "error", err)
	}
}
