package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedrrelm/bulq/internal/journal"
	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/testutil"
	"github.com/nedrrelm/bulq/internal/wire"
)

// doRaw issues a request outside any client, standing in for another
// participant's device.
func doRaw(t *testing.T, method, url, token string, body any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	require.Less(t, resp.StatusCode, 300)
}

func countCalls(calls []string, needle string) int {
	n := 0
	for _, c := range calls {
		if c == needle {
			n++
		}
	}
	return n
}

func TestPush_RemoteBidRefreshesSnapshot(t *testing.T) {
	svc := testutil.NewService(t)
	seedActive(svc)
	c := newTestClient(t, svc, "tok-alice", "u-alice", "Alice")

	h, err := c.OpenRun(context.Background(), "run-1")
	require.NoError(t, err)
	defer h.Close()

	doRaw(t, http.MethodPut, svc.URL()+"/api/runs/run-1/bids/p-rice", "tok-bob",
		map[string]any{"quantity": "3.00"})

	assert.Eventually(t, func() bool {
		view, ok := h.Snapshot()
		if !ok {
			return false
		}
		p, ok := view.Orders.Product("p-rice")
		if !ok {
			return false
		}
		b, ok := p.Bid("u-bob")
		return ok && b.Quantity == 300
	}, 2*time.Second, 10*time.Millisecond, "the broadcast must pull bob's bid into the local view")
}

func TestPush_StateChangeJournaled(t *testing.T) {
	svc := testutil.NewService(t)
	svc.AddUser("tok-alice", "u-alice", "Alice")
	svc.AddUser("tok-bob", "u-bob", "Bob")
	svc.SeedRun(&model.Run{
		ID:      "run-1",
		GroupID: "grp-1",
		Store:   "Metro",
		State:   model.StatePlanning,
		Participants: []model.Participant{
			{UserID: "u-alice", Name: "Alice"},
			{UserID: "u-bob", Name: "Bob", Leader: true},
		},
	})
	svc.SeedOrders(&model.Orders{RunID: "run-1"})
	c := newTestClient(t, svc, "tok-alice", "u-alice", "Alice")

	h, err := c.OpenRun(context.Background(), "run-1")
	require.NoError(t, err)
	defer h.Close()

	doRaw(t, http.MethodPost, svc.URL()+"/api/runs/run-1/phase", "tok-bob",
		map[string]any{"action": "promote"})

	assert.Eventually(t, func() bool {
		view, ok := h.Snapshot()
		return ok && view.Run.State == model.StateActive
	}, 2*time.Second, 10*time.Millisecond)

	assert.Eventually(t, func() bool {
		facts := factsOfKind(runFacts(t, c, "run-1"), journal.KindTransition)
		if len(facts) != 1 {
			return false
		}
		p := factPayload(t, facts[0])
		return p["from"] == "planning" && p["to"] == "active" && p["actor"] == "u-bob"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPush_IllegalStateChangeResyncsWithoutJournaling(t *testing.T) {
	svc := testutil.NewService(t)
	seedActive(svc)
	c := newTestClient(t, svc, "tok-alice", "u-alice", "Alice")

	h, err := c.OpenRun(context.Background(), "run-1")
	require.NoError(t, err)
	defer h.Close()

	before := countCalls(svc.Calls(), "GET /api/runs/run-1")

	// A transition out of a terminal state can never be real; the client
	// must not record it, but it still resyncs in case it missed something.
	svc.PushRun("run-1", wire.TypeStateChanged, wire.StateChanged{
		RunID: "run-1",
		From:  model.StateCompleted,
		To:    model.StateActive,
	})

	assert.Eventually(t, func() bool {
		return countCalls(svc.Calls(), "GET /api/runs/run-1") > before
	}, 2*time.Second, 10*time.Millisecond)

	assert.Empty(t, factsOfKind(runFacts(t, c, "run-1"), journal.KindTransition))
}

func TestPush_ReassignPromptToastsOnlyTarget(t *testing.T) {
	svc := testutil.NewService(t)
	seedActive(svc)
	c := newTestClient(t, svc, "tok-alice", "u-alice", "Alice")

	h, err := c.OpenRun(context.Background(), "run-1")
	require.NoError(t, err)
	defer h.Close()

	// Addressed to someone else: no toast for this client.
	svc.PushRun("run-1", wire.TypeReassignRequested, wire.ReassignRequested{
		RunID:      "run-1",
		FromUserID: "u-bob",
		ToUserID:   "u-carol",
	})
	// Addressed to us: prompt.
	svc.PushRun("run-1", wire.TypeReassignRequested, wire.ReassignRequested{
		RunID:      "run-1",
		FromUserID: "u-bob",
		ToUserID:   "u-alice",
	})

	assert.Eventually(t, func() bool {
		return len(c.Notifications().Toasts()) > 0
	}, 2*time.Second, 10*time.Millisecond)

	// Pushes are delivered in order, so by now the first one was dropped.
	toasts := c.Notifications().Toasts()
	require.Len(t, toasts, 1)
	assert.Equal(t, "leadership handover", toasts[0].Action)
	assert.Equal(t, "u-bob asks you to take over leadership", toasts[0].Reason)
}

func TestPush_DistributionMaterializesOnFirstBroadcast(t *testing.T) {
	svc := testutil.NewService(t)
	svc.AddUser("tok-alice", "u-alice", "Alice")
	svc.SeedRun(&model.Run{
		ID:      "run-1",
		GroupID: "grp-1",
		Store:   "Metro",
		State:   model.StateShopping,
		Participants: []model.Participant{
			{UserID: "u-alice", Name: "Alice", Leader: true},
		},
	})
	svc.SeedOrders(&model.Orders{RunID: "run-1"})
	svc.SeedDistribution(&model.Distribution{
		RunID: "run-1",
		Rows: []model.DistributionRow{
			{UserID: "u-alice", ProductID: "p-rice", Quantity: 600, UnitCents: 300, Subtotal: 1800},
		},
	})
	c := newTestClient(t, svc, "tok-alice", "u-alice", "Alice")

	h, err := c.OpenRun(context.Background(), "run-1")
	require.NoError(t, err)
	defer h.Close()

	view, ok := h.Snapshot()
	require.True(t, ok)
	assert.Nil(t, view.Dist, "nothing is loaded before the first broadcast")

	svc.PushRun("run-1", wire.TypeDistributionUpdated, wire.DistributionUpdated{RunID: "run-1"})

	assert.Eventually(t, func() bool {
		v, ok := h.Snapshot()
		return ok && v.Dist != nil && len(v.Dist.Rows) == 1
	}, 2*time.Second, 10*time.Millisecond)

	v, _ := h.Snapshot()
	assert.Equal(t, model.Cents(1800), v.Dist.UserTotal("u-alice"))
}

func TestPush_GroupMirrorsRunState(t *testing.T) {
	svc := testutil.NewService(t)
	seedActive(svc)
	svc.SeedGroup(&model.GroupRuns{
		GroupID: "grp-1",
		Runs: []model.RunSummary{
			{ID: "run-1", Store: "Metro", State: model.StateActive},
		},
	})
	c := newTestClient(t, svc, "tok-alice", "u-alice", "Alice")

	g, err := c.OpenGroup(context.Background(), "grp-1")
	require.NoError(t, err)
	defer g.Close()

	h, err := c.OpenRun(context.Background(), "run-1")
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Advance(context.Background(), lifecycle.ActionForceConfirm, false))

	assert.Eventually(t, func() bool {
		view, ok := g.Snapshot()
		if !ok || len(view.Runs.Runs) != 1 {
			return false
		}
		return view.Runs.Runs[0].State == model.StateConfirmed
	}, 2*time.Second, 10*time.Millisecond, "the group feed mirrors the run's new state")
}
