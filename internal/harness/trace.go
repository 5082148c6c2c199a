package harness

import (
	"fmt"

	"github.com/nedrrelm/bulq/internal/canon"
	"github.com/nedrrelm/bulq/internal/journal"
	"github.com/nedrrelm/bulq/internal/model"
)

// TraceEvent is one executed flow step and how it came out. Outcome is
// "ok" or "rejected:<category>", with the categories of expect.reject.
type TraceEvent struct {
	Step    int
	Actor   string
	Op      string
	Args    map[string]any
	Outcome string
}

// Result is the full outcome of one scenario run: the verdict, the step
// trace, the final service-side state, and each actor's journal.
type Result struct {
	Scenario *Scenario
	Pass     bool
	Errors   []string
	Trace    []TraceEvent

	RunState     model.RunState
	Run          *model.Run
	Orders       *model.Orders
	Distribution *model.Distribution
	Journals     map[string][]journal.Entry
}

// NewResult creates an empty passing result for the scenario.
func NewResult(sc *Scenario) *Result {
	return &Result{
		Scenario: sc,
		Pass:     true,
		Journals: make(map[string][]journal.Entry),
	}
}

// AddError records a failure and flips the verdict.
func (r *Result) AddError(format string, args ...any) {
	r.Pass = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// GoldenBytes renders the run for golden comparison: the trace plus the
// final run state, product totals and distribution, as canonical JSON
// with a trailing newline. Canonical form keeps the files byte-stable
// across runs and platforms.
func (r *Result) GoldenBytes() ([]byte, error) {
	trace := make([]any, 0, len(r.Trace))
	for _, ev := range r.Trace {
		args := ev.Args
		if args == nil {
			args = map[string]any{}
		}
		trace = append(trace, map[string]any{
			"step":    ev.Step,
			"actor":   ev.Actor,
			"op":      ev.Op,
			"args":    args,
			"outcome": ev.Outcome,
		})
	}

	products := make([]any, 0)
	if r.Orders != nil {
		for _, p := range r.Orders.Products {
			row := map[string]any{
				"id":        p.ID,
				"requested": p.Requested.String(),
			}
			if p.Purchased != nil {
				row["purchased"] = p.Purchased.String()
			}
			products = append(products, row)
		}
	}

	dist := make([]any, 0)
	if r.Distribution != nil {
		for _, row := range r.Distribution.Rows {
			dist = append(dist, map[string]any{
				"user":             row.UserID,
				"product":          row.ProductID,
				"quantity":         row.Quantity.String(),
				"unit_price_cents": int64(row.UnitCents),
				"subtotal_cents":   int64(row.Subtotal),
			})
		}
	}

	data, err := canon.Marshal(map[string]any{
		"scenario": r.Scenario.Name,
		"trace":    trace,
		"final": map[string]any{
			"run_state":    string(r.RunState),
			"products":     products,
			"distribution": dist,
		},
	})
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}
