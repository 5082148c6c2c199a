package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nedrrelm/bulq/internal/journal"
	"github.com/nedrrelm/bulq/internal/model"
)

// finalsResult fabricates the finals of a shortage run: 15 kg of rice
// requested, 9 purchased at an observed 320 cents, distributed 6/3.
func finalsResult() *Result {
	price := model.Cents(300)
	observed := model.Cents(320)
	purchased := model.Quantity(900)

	res := NewResult(&Scenario{Name: "fabricated"})
	res.Run = &model.Run{
		ID:      "run-1",
		GroupID: "grp-1",
		Store:   "Metro",
		State:   model.StateDistributing,
		Participants: []model.Participant{
			{UserID: "u-ana", Name: "Ana", Leader: true},
			{UserID: "u-ben", Name: "Ben"},
		},
	}
	res.RunState = res.Run.State
	res.Orders = &model.Orders{RunID: "run-1", Products: []model.Product{{
		ID:         "p-rice",
		Name:       "Rice",
		PriceCents: &price,
		Bids: []model.Bid{
			{UserID: "u-ana", Name: "Ana", Quantity: 1000},
			{UserID: "u-ben", Name: "Ben", Quantity: 500},
		},
		Purchased:     &purchased,
		ObservedCents: &observed,
	}}}
	res.Orders.Products[0].RecalcAggregates()
	res.Distribution = &model.Distribution{RunID: "run-1", Rows: []model.DistributionRow{
		{UserID: "u-ana", ProductID: "p-rice", Quantity: 600, UnitCents: 320, Subtotal: 1920},
		{UserID: "u-ben", ProductID: "p-rice", Quantity: 300, UnitCents: 320, Subtotal: 960},
	}}
	res.Journals["u-ana"] = []journal.Entry{
		{ID: "a-1", Seq: 1, RunID: "run-1", Kind: journal.KindMutationApplied,
			Payload: json.RawMessage(`{"action":"place_bid","product_id":"p-rice","quantity":"10.00"}`)},
		{ID: "a-2", Seq: 2, RunID: "run-1", Kind: journal.KindTransition,
			Payload: json.RawMessage(`{"actor":"u-ana","from":"shopping","to":"adjusting"}`)},
		{ID: "a-3", Seq: 3, RunID: "run-1", Kind: journal.KindRealloc,
			Payload: json.RawMessage(`{"forced":true,"rows":[{"product_id":"p-rice","quantity":"6.00","user_id":"u-ana"}]}`)},
	}
	return res
}

func int64Ptr(n int64) *int64 { return &n }

func TestAssertions_PassingChecks(t *testing.T) {
	res := finalsResult()
	pass := []Assertion{
		{Type: "run_state", State: "distributing"},
		{Type: "bid", User: "u-ana", Product: "p-rice", Quantity: "10.00"},
		{Type: "no_bid", User: "u-zoe", Product: "p-rice"},
		{Type: "requested", Product: "p-rice", Quantity: "15.00"},
		{Type: "window", User: "u-ben", Product: "p-rice", Floor: "0.00", Ceiling: "5.00"},
		{Type: "distribution_row", User: "u-ana", Product: "p-rice", Quantity: "6.00", SubtotalCents: int64Ptr(1920)},
		{Type: "distribution_row", User: "u-ben", Product: "p-rice", Quantity: "3.00"},
		{Type: "conservation", Product: "p-rice"},
		{Type: "journal_contains", Actor: "u-ana", Kind: "transition",
			Payload: map[string]any{"from": "shopping", "to": "adjusting"}},
		{Type: "journal_contains", Actor: "u-ana", Kind: "realloc",
			Payload: map[string]any{"forced": true}},
		{Type: "journal_order", Actor: "u-ana", Kinds: []string{"mutation_applied", "transition", "realloc"}},
		{Type: "journal_order", Actor: "u-ana", Kinds: []string{"transition", "realloc"}},
	}
	for _, a := range pass {
		assert.NoError(t, res.checkAssertion(a), "type %s", a.Type)
	}
}

func TestAssertions_FailingChecks(t *testing.T) {
	res := finalsResult()
	fail := []Assertion{
		{Type: "run_state", State: "completed"},
		{Type: "bid", User: "u-ana", Product: "p-rice", Quantity: "9.00"},
		{Type: "bid", User: "u-zoe", Product: "p-rice", Quantity: "1.00"},
		{Type: "no_bid", User: "u-ana", Product: "p-rice"},
		{Type: "requested", Product: "p-rice", Quantity: "14.00"},
		{Type: "requested", Product: "p-ghost", Quantity: "14.00"},
		{Type: "window", User: "u-ben", Product: "p-rice", Floor: "1.00", Ceiling: "5.00"},
		{Type: "window", User: "u-zoe", Product: "p-rice", Floor: "0.00", Ceiling: "0.00"},
		{Type: "distribution_row", User: "u-ana", Product: "p-rice", Quantity: "6.00", SubtotalCents: int64Ptr(1900)},
		{Type: "distribution_row", User: "u-zoe", Product: "p-rice", Quantity: "1.00"},
		{Type: "journal_contains", Actor: "u-ana", Kind: "transition",
			Payload: map[string]any{"from": "planning"}},
		{Type: "journal_contains", Actor: "u-ben", Kind: "transition", Payload: map[string]any{}},
		{Type: "journal_order", Actor: "u-ana", Kinds: []string{"realloc", "transition"}},
		{Type: "journal_order", Actor: "u-ben", Kinds: []string{"transition"}},
		{Type: "made_up"},
	}
	for _, a := range fail {
		assert.Error(t, res.checkAssertion(a), "type %s user %s", a.Type, a.User)
	}
}

func TestAssertions_ConservationUsesPurchasedWhenShort(t *testing.T) {
	res := finalsResult()
	require.NoError(t, res.checkAssertion(Assertion{Type: "conservation", Product: "p-rice"}))

	// Tampered roster: one hundredth leaks.
	res.Distribution.Rows[0].Quantity++
	assert.Error(t, res.checkAssertion(Assertion{Type: "conservation", Product: "p-rice"}))
}

func TestEvaluateAssertions_RecordsFailures(t *testing.T) {
	res := finalsResult()
	res.Scenario.Assertions = []Assertion{
		{Type: "run_state", State: "distributing"},
		{Type: "run_state", State: "completed"},
	}
	res.evaluateAssertions()
	assert.False(t, res.Pass)
	require.Len(t, res.Errors, 1)
	assert.Contains(t, res.Errors[0], "assertion 2")
}

func TestLooseEqual(t *testing.T) {
	assert.True(t, looseEqual(320, float64(320)))
	assert.True(t, looseEqual(int64(5), 5))
	assert.True(t, looseEqual("6.00", "6.00"))
	assert.True(t, looseEqual(true, true))
	assert.True(t, looseEqual(
		map[string]any{"n": 1, "s": "x"},
		map[string]any{"n": float64(1), "s": "x"},
	))
	assert.True(t, looseEqual([]any{"x", 2}, []any{"x", float64(2)}))

	assert.False(t, looseEqual(320, "320"))
	assert.False(t, looseEqual(true, 1))
	assert.False(t, looseEqual(map[string]any{"a": 1}, map[string]any{"a": 1, "b": 2}))
	assert.False(t, looseEqual([]any{1, 2}, []any{2, 1}))
}

func TestResult_GoldenBytes(t *testing.T) {
	res := finalsResult()
	res.Trace = []TraceEvent{
		{Step: 1, Actor: "u-ana", Op: "place_bid",
			Args: map[string]any{"product": "p-rice", "quantity": "10.00"}, Outcome: "ok"},
		{Step: 2, Actor: "u-ana", Op: "finish_shopping", Outcome: "ok"},
	}

	data, err := res.GoldenBytes()
	require.NoError(t, err)

	again, err := res.GoldenBytes()
	require.NoError(t, err)
	assert.Equal(t, data, again, "canonical dumps must be byte-stable")

	s := string(data)
	assert.True(t, len(s) > 0 && s[len(s)-1] == '\n')
	assert.Contains(t, s, `"scenario":"fabricated"`)
	assert.Contains(t, s, `"run_state":"distributing"`)
	assert.Contains(t, s, `"subtotal_cents":1920`)
	// Nil args render as an empty object, not null.
	assert.Contains(t, s, `"args":{},"op":"finish_shopping"`)
}
