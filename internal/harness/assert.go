package harness

import (
	"encoding/json"
	"fmt"

	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/realloc"
)

// evaluateAssertions checks every scenario assertion against the finals
// and records each failure.
func (r *Result) evaluateAssertions() {
	for i, a := range r.Scenario.Assertions {
		if err := r.checkAssertion(a); err != nil {
			r.AddError("assertion %d (%s): %v", i+1, a.Type, err)
		}
	}
}

func (r *Result) checkAssertion(a Assertion) error {
	switch a.Type {
	case "run_state":
		return r.checkRunState(a)
	case "bid":
		return r.checkBid(a)
	case "no_bid":
		return r.checkNoBid(a)
	case "requested":
		return r.checkRequested(a)
	case "window":
		return r.checkWindow(a)
	case "distribution_row":
		return r.checkDistributionRow(a)
	case "conservation":
		return r.checkConservation(a)
	case "journal_contains":
		return r.checkJournalContains(a)
	case "journal_order":
		return r.checkJournalOrder(a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func (r *Result) checkRunState(a Assertion) error {
	if r.RunState != model.RunState(a.State) {
		return fmt.Errorf("run ended %s, want %s", r.RunState, a.State)
	}
	return nil
}

func (r *Result) product(id string) (*model.Product, error) {
	if r.Orders == nil {
		return nil, fmt.Errorf("no order book captured")
	}
	p, ok := r.Orders.Product(id)
	if !ok {
		return nil, fmt.Errorf("product %s not in run", id)
	}
	return p, nil
}

func (r *Result) checkBid(a Assertion) error {
	p, err := r.product(a.Product)
	if err != nil {
		return err
	}
	b, ok := p.Bid(a.User)
	if !ok {
		return fmt.Errorf("%s holds no bid on %s", a.User, a.Product)
	}
	want, _ := model.ParseQuantity(a.Quantity)
	if b.Quantity != want {
		return fmt.Errorf("%s bids %s on %s, want %s", a.User, b.Quantity, a.Product, a.Quantity)
	}
	return nil
}

func (r *Result) checkNoBid(a Assertion) error {
	p, err := r.product(a.Product)
	if err != nil {
		return err
	}
	if b, ok := p.Bid(a.User); ok {
		return fmt.Errorf("%s still bids %s on %s", a.User, b.Quantity, a.Product)
	}
	return nil
}

func (r *Result) checkRequested(a Assertion) error {
	p, err := r.product(a.Product)
	if err != nil {
		return err
	}
	want, _ := model.ParseQuantity(a.Quantity)
	if p.Requested != want {
		return fmt.Errorf("%s requested total is %s, want %s", a.Product, p.Requested, a.Quantity)
	}
	return nil
}

func (r *Result) checkWindow(a Assertion) error {
	p, err := r.product(a.Product)
	if err != nil {
		return err
	}
	if r.Run == nil {
		return fmt.Errorf("no run captured")
	}
	w, held := realloc.WindowFor(p, a.User, r.Run.Participants)
	if !held {
		return fmt.Errorf("%s holds no claim on %s", a.User, a.Product)
	}
	floor, _ := model.ParseQuantity(a.Floor)
	ceiling, _ := model.ParseQuantity(a.Ceiling)
	if w.Floor != floor || w.Ceiling != ceiling {
		return fmt.Errorf("window for %s on %s is [%s, %s], want [%s, %s]",
			a.User, a.Product, w.Floor, w.Ceiling, a.Floor, a.Ceiling)
	}
	return nil
}

func (r *Result) checkDistributionRow(a Assertion) error {
	if r.Distribution == nil {
		return fmt.Errorf("no distribution built")
	}
	row, ok := r.Distribution.Row(a.User, a.Product)
	if !ok {
		return fmt.Errorf("no line for %s on %s", a.User, a.Product)
	}
	want, _ := model.ParseQuantity(a.Quantity)
	if row.Quantity != want {
		return fmt.Errorf("%s takes %s of %s, want %s", a.User, row.Quantity, a.Product, a.Quantity)
	}
	if a.SubtotalCents != nil && int64(row.Subtotal) != *a.SubtotalCents {
		return fmt.Errorf("%s pays %d cents for %s, want %d", a.User, row.Subtotal, a.Product, *a.SubtotalCents)
	}
	return nil
}

// checkConservation verifies the distribution hands out exactly what is
// available: the purchased quantity when the trip fell short, the
// requested total otherwise.
func (r *Result) checkConservation(a Assertion) error {
	p, err := r.product(a.Product)
	if err != nil {
		return err
	}
	if r.Distribution == nil {
		return fmt.Errorf("no distribution built")
	}
	available := p.Requested
	if p.Purchased != nil && *p.Purchased < available {
		available = *p.Purchased
	}
	var total model.Quantity
	for _, row := range r.Distribution.Rows {
		if row.ProductID == a.Product {
			total += row.Quantity
		}
	}
	if total != available {
		return fmt.Errorf("%s distributes %s, want %s", a.Product, total, available)
	}
	return nil
}

func (r *Result) checkJournalContains(a Assertion) error {
	entries, ok := r.Journals[a.Actor]
	if !ok {
		return fmt.Errorf("no journal captured for %s", a.Actor)
	}
	matches := 0
	for _, e := range entries {
		if e.Kind != a.Kind {
			continue
		}
		matches++
		var payload map[string]any
		if err := json.Unmarshal(e.Payload, &payload); err != nil {
			return fmt.Errorf("entry %s payload: %w", e.ID, err)
		}
		if payloadMatches(a.Payload, payload) {
			return nil
		}
	}
	return fmt.Errorf("%s journal has no %s entry matching the payload (%d of that kind)",
		a.Actor, a.Kind, matches)
}

// checkJournalOrder verifies the kinds appear as a subsequence of the
// actor's journal, in order. Subsequence, not prefix: mutation facts
// interleave freely with the transitions a scenario pins down.
func (r *Result) checkJournalOrder(a Assertion) error {
	entries, ok := r.Journals[a.Actor]
	if !ok {
		return fmt.Errorf("no journal captured for %s", a.Actor)
	}
	next := 0
	for _, e := range entries {
		if next < len(a.Kinds) && e.Kind == a.Kinds[next] {
			next++
		}
	}
	if next != len(a.Kinds) {
		return fmt.Errorf("%s journal is missing %s at position %d of the expected order",
			a.Actor, a.Kinds[next], next+1)
	}
	return nil
}

// payloadMatches reports whether every asserted key is present in the
// stored payload with an equal value. Numbers compare across int and
// float forms: assertions come from YAML integers, stored payloads from
// decoded JSON.
func payloadMatches(want, got map[string]any) bool {
	for k, wv := range want {
		gv, ok := got[k]
		if !ok || !looseEqual(wv, gv) {
			return false
		}
	}
	return true
}

func looseEqual(a, b any) bool {
	if an, ok := numValue(a); ok {
		bn, bok := numValue(b)
		return bok && an == bn
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k := range av {
			gv, ok := bv[k]
			if !ok || !looseEqual(av[k], gv) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !looseEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case nil:
		return b == nil
	}
	return false
}

func numValue(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}
