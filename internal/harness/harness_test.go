package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func twoPersonSeed(state string) Seed {
	return Seed{
		Run: SeedRun{
			ID:    "run-1",
			Group: "grp-1",
			Store: "Metro",
			State: state,
			Participants: []SeedParticipant{
				{ID: "u-ana", Name: "Ana", Leader: true},
				{ID: "u-ben", Name: "Ben"},
			},
		},
		Products: []SeedProduct{
			{ID: "p-flour", Name: "Flour", Unit: "kg", PriceCents: int64Ptr(200)},
		},
	}
}

func TestRun_FullPathWithoutShortage(t *testing.T) {
	sc := &Scenario{
		Name:        "no-shortage",
		Description: "a fully purchased order goes straight to distributing",
		Seed:        twoPersonSeed("active"),
		Flow: []Step{
			{As: "u-ana", Invoke: "place_bid", Args: map[string]any{"product": "p-flour", "quantity": "4.00"}},
			{As: "u-ben", Invoke: "place_bid", Args: map[string]any{"product": "p-flour", "quantity": "2.00"}},
			{As: "u-ben", Invoke: "toggle_ready", Args: map[string]any{"ready": true}},
			{As: "u-ana", Invoke: "toggle_ready", Args: map[string]any{"ready": true}},
			{As: "u-ana", Invoke: "start_shopping"},
			{As: "u-ana", Invoke: "record_purchase", Args: map[string]any{"product": "p-flour", "purchased": "6.00"}},
			{As: "u-ana", Invoke: "finish_shopping"},
			{As: "u-ana", Invoke: "mark_pickup", Args: map[string]any{"user": "u-ben", "product": "p-flour", "picked": true}},
		},
		Assertions: []Assertion{
			{Type: "run_state", State: "distributing"},
			{Type: "distribution_row", User: "u-ana", Product: "p-flour", Quantity: "4.00", SubtotalCents: int64Ptr(800)},
			{Type: "distribution_row", User: "u-ben", Product: "p-flour", Quantity: "2.00", SubtotalCents: int64Ptr(400)},
			{Type: "conservation", Product: "p-flour"},
			{Type: "journal_order", Actor: "u-ana", Kinds: []string{"transition", "transition", "transition"}},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Len(t, res.Trace, 8)
	for _, ev := range res.Trace {
		assert.Equal(t, "ok", ev.Outcome, "step %d", ev.Step)
	}

	require.NotNil(t, res.Distribution)
	row, ok := res.Distribution.Row("u-ben", "p-flour")
	require.True(t, ok)
	assert.True(t, row.Picked)
	row, ok = res.Distribution.Row("u-ana", "p-flour")
	require.True(t, ok)
	assert.False(t, row.Picked)
}

func TestRun_ExpectedRejectionContinuesFlow(t *testing.T) {
	sc := &Scenario{
		Name:        "gate-then-promote",
		Description: "a planning bid bounces locally, promotion opens the book",
		Seed:        twoPersonSeed("planning"),
		Flow: []Step{
			{As: "u-ben", Invoke: "place_bid", Args: map[string]any{"product": "p-flour", "quantity": "1.00"},
				Expect: &Expectation{Reject: "state"}},
			{As: "u-ana", Invoke: "promote"},
			{As: "u-ben", Invoke: "place_bid", Args: map[string]any{"product": "p-flour", "quantity": "1.00"}},
		},
		Assertions: []Assertion{
			{Type: "run_state", State: "active"},
			{Type: "bid", User: "u-ben", Product: "p-flour", Quantity: "1.00"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	require.Len(t, res.Trace, 3)
	assert.Equal(t, "rejected:state", res.Trace[0].Outcome)
	assert.Equal(t, "ok", res.Trace[1].Outcome)
	assert.Equal(t, "ok", res.Trace[2].Outcome)
}

func TestRun_UnexpectedRejectionStopsFlow(t *testing.T) {
	sc := &Scenario{
		Name:        "unexpected-rejection",
		Description: "a bid in planning fails with no expectation to cover it",
		Seed:        twoPersonSeed("planning"),
		Flow: []Step{
			{As: "u-ben", Invoke: "place_bid", Args: map[string]any{"product": "p-flour", "quantity": "1.00"}},
			{As: "u-ana", Invoke: "promote"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.Len(t, res.Trace, 1, "flow stops at the diverging step")
	assert.Equal(t, "rejected:state", res.Trace[0].Outcome)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "step 1")
	assert.Equal(t, "planning", string(res.RunState))
}

func TestRun_WrongRejectionCategoryFails(t *testing.T) {
	sc := &Scenario{
		Name:        "wrong-category",
		Description: "the gate rejects as state, the scenario expected a window",
		Seed:        twoPersonSeed("planning"),
		Flow: []Step{
			{As: "u-ben", Invoke: "place_bid", Args: map[string]any{"product": "p-flour", "quantity": "1.00"},
				Expect: &Expectation{Reject: "window"}},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], `expected "window"`)
}

func TestRun_MissedRejectionFails(t *testing.T) {
	sc := &Scenario{
		Name:        "missed-rejection",
		Description: "a legal bid succeeds although the scenario demanded a rejection",
		Seed:        twoPersonSeed("active"),
		Flow: []Step{
			{As: "u-ana", Invoke: "place_bid", Args: map[string]any{"product": "p-flour", "quantity": "1.00"},
				Expect: &Expectation{Reject: "state"}},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.False(t, res.Pass)
	require.NotEmpty(t, res.Errors)
	assert.Contains(t, res.Errors[0], "expected rejection")
	// The bid went through regardless; the finals show it.
	p, ok := res.Orders.Product("p-flour")
	require.True(t, ok)
	assert.Equal(t, "1.00", p.Requested.String())
}

func TestRun_RemoteConflictCategory(t *testing.T) {
	sc := &Scenario{
		Name:        "unforced-finish-conflicts",
		Description: "finishing adjustment without force while still over-claimed",
		Seed: Seed{
			Run: SeedRun{
				ID:    "run-2",
				Group: "grp-1",
				Store: "Metro",
				State: "adjusting",
				Participants: []SeedParticipant{
					{ID: "u-ana", Name: "Ana", Leader: true},
					{ID: "u-ben", Name: "Ben"},
				},
			},
			Products: []SeedProduct{
				{
					ID:         "p-rice",
					Name:       "Rice",
					Unit:       "kg",
					PriceCents: int64Ptr(300),
					Bids: []SeedBid{
						{User: "u-ana", Quantity: "10.00"},
						{User: "u-ben", Quantity: "5.00"},
					},
					Purchased:     "9.00",
					ObservedCents: int64Ptr(320),
				},
			},
		},
		Flow: []Step{
			{As: "u-ana", Invoke: "finish_adjusting", Expect: &Expectation{Reject: "conflict"}},
			{As: "u-ben", Invoke: "adjust_bid", Args: map[string]any{"product": "p-rice", "quantity": "12.00"},
				Expect: &Expectation{Reject: "window"}},
			{As: "u-ben", Invoke: "adjust_bid", Args: map[string]any{"product": "p-rice", "quantity": "1.00"}},
		},
		Assertions: []Assertion{
			{Type: "run_state", State: "adjusting"},
			{Type: "bid", User: "u-ben", Product: "p-rice", Quantity: "1.00"},
			{Type: "requested", Product: "p-rice", Quantity: "11.00"},
			{Type: "window", User: "u-ana", Product: "p-rice", Floor: "8.00", Ceiling: "10.00"},
		},
	}

	res, err := Run(sc)
	require.NoError(t, err)
	assert.True(t, res.Pass, "errors: %v", res.Errors)
	assert.Equal(t, "rejected:conflict", res.Trace[0].Outcome)
	assert.Equal(t, "rejected:window", res.Trace[1].Outcome)
}
