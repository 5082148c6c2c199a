package harness

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nedrrelm/bulq/internal/api"
	"github.com/nedrrelm/bulq/internal/client"
	"github.com/nedrrelm/bulq/internal/config"
	"github.com/nedrrelm/bulq/internal/journal"
	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/session"
	"github.com/nedrrelm/bulq/internal/testutil"
)

// stepTimeout bounds one flow step: the operation itself plus the
// convergence of every open actor on the resulting state.
const stepTimeout = 5 * time.Second

// syncPoll is the convergence polling interval.
const syncPoll = 5 * time.Millisecond

// runnerTB adapts the fake service's testing hooks to scenario runs that
// happen outside go test, such as the CLI test command.
type runnerTB struct {
	mu       sync.Mutex
	errs     []string
	cleanups []func()
}

func (tb *runnerTB) Helper() {}

func (tb *runnerTB) Cleanup(fn func()) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.cleanups = append(tb.cleanups, fn)
}

func (tb *runnerTB) Errorf(format string, args ...any) {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	tb.errs = append(tb.errs, fmt.Sprintf(format, args...))
}

func (tb *runnerTB) close() {
	tb.mu.Lock()
	cleanups := tb.cleanups
	tb.cleanups = nil
	tb.mu.Unlock()
	for i := len(cleanups) - 1; i >= 0; i-- {
		cleanups[i]()
	}
}

func (tb *runnerTB) failures() []string {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return append([]string(nil), tb.errs...)
}

// actor is one participant acting through a real client.
type actor struct {
	id     string
	client *client.Client
	handle *client.RunHandle
}

type runner struct {
	sc  *Scenario
	tb  *runnerTB
	svc *testutil.Service
	dir string

	actors map[string]*actor
	order  []string // actor ids in first-use order

	// expect counts the state transitions each open actor should have
	// journaled: every subscribed actor observes every change.
	expect map[string]int

	res *Result
}

// Run executes the scenario: seed the fake service, open one real client
// per acting participant, drive the flow, capture the finals and check
// the assertions. The returned Result carries the verdict; a non-nil
// error means the run itself broke, not that an assertion failed.
func Run(sc *Scenario) (*Result, error) {
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "bulq-harness-")
	if err != nil {
		return nil, fmt.Errorf("journal dir: %w", err)
	}
	defer os.RemoveAll(dir)

	r := &runner{
		sc:     sc,
		tb:     &runnerTB{},
		dir:    dir,
		actors: make(map[string]*actor),
		expect: make(map[string]int),
		res:    NewResult(sc),
	}
	defer r.teardown()

	r.svc = testutil.NewService(r.tb)
	r.svc.SeedRun(sc.Seed.BuildRun())
	r.svc.SeedOrders(sc.Seed.BuildOrders())
	for _, p := range sc.Seed.Run.Participants {
		r.svc.AddUser("tok-"+p.ID, p.ID, p.Name)
	}

	if err := r.runFlow(); err != nil {
		return nil, err
	}
	r.captureFinals()

	if failures := r.tb.failures(); len(failures) > 0 {
		return nil, fmt.Errorf("fake service: %s", strings.Join(failures, "; "))
	}
	r.res.evaluateAssertions()
	return r.res, nil
}

// teardown closes the clients, then the fake service.
func (r *runner) teardown() {
	for _, id := range r.order {
		r.actors[id].client.Close()
	}
	r.tb.close()
}

func (r *runner) runFlow() error {
	for i, step := range r.sc.Flow {
		a, err := r.ensureActor(step.As)
		if err != nil {
			return fmt.Errorf("step %d: open actor %s: %w", i+1, step.As, err)
		}

		before := r.svc.Run().State

		ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
		stepErr := r.invoke(ctx, a, step)
		cancel()

		ok := r.resolveOutcome(i+1, step, stepErr)

		if after := r.svc.Run().State; after != before {
			for id := range r.actors {
				r.expect[id]++
			}
		}
		// Even a diverged flow settles before the finals are captured.
		if err := r.waitSync(i + 1); err != nil {
			return err
		}
		if !ok {
			break
		}
	}
	return nil
}

// ensureActor returns the client for id, opening it on first use. An
// actor opened mid-flow joins the push topic from that step on; earlier
// transitions are not in its journal.
func (r *runner) ensureActor(id string) (*actor, error) {
	if a, ok := r.actors[id]; ok {
		return a, nil
	}
	part, _ := r.sc.Seed.participant(id)

	cfg := config.Default()
	cfg.ServerURL = r.svc.URL()
	cfg.ChannelURL = r.svc.ChannelURL()
	cfg.DialDelay = 0
	cfg.JournalPath = filepath.Join(r.dir, id+".db")

	sess := session.New()
	sess.Init(id, part.Name, "tok-"+id)

	cl, err := client.New(cfg, sess,
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		client.WithIDGenerator(testutil.NewSerialIDs(id)),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), stepTimeout)
	defer cancel()
	h, err := cl.OpenRun(ctx, r.sc.Seed.Run.ID)
	if err != nil {
		cl.Close()
		return nil, err
	}

	a := &actor{id: id, client: cl, handle: h}
	r.actors[id] = a
	r.order = append(r.order, id)
	r.expect[id] = 0
	return a, nil
}

func (r *runner) invoke(ctx context.Context, a *actor, st Step) error {
	h := a.handle
	args := st.Args
	if action, ok := phaseOps[st.Invoke]; ok {
		return h.Advance(ctx, action, boolArg(args, "force"))
	}
	switch st.Invoke {
	case "place_bid":
		return h.PlaceBid(ctx, stringArg(args, "product"), qtyArg(args, "quantity"), stringArg(args, "comment"))
	case "express_interest":
		return h.ExpressInterest(ctx, stringArg(args, "product"), stringArg(args, "comment"))
	case "retract_bid":
		return h.RetractBid(ctx, stringArg(args, "product"))
	case "adjust_bid":
		return h.AdjustBid(ctx, stringArg(args, "product"), qtyArg(args, "quantity"))
	case "toggle_ready":
		return h.SetReady(ctx, boolArg(args, "ready"))
	case "record_purchase":
		return h.RecordPurchase(ctx, stringArg(args, "product"), qtyArg(args, "purchased"), centsArg(args, "unit_price_cents"))
	case "mark_pickup":
		return h.MarkPickup(ctx, stringArg(args, "user"), stringArg(args, "product"), boolArg(args, "picked"))
	case "set_comment":
		return h.SetComment(ctx, stringArg(args, "comment"))
	case "set_helper":
		return h.SetHelper(ctx, stringArg(args, "user"), boolArg(args, "helper"))
	case "remove_participant":
		return h.RemoveParticipant(ctx, stringArg(args, "user"))
	case "request_reassign":
		return h.RequestReassign(ctx, stringArg(args, "to"))
	case "answer_reassign":
		return h.AnswerReassign(ctx, boolArg(args, "accept"))
	}
	return fmt.Errorf("unknown operation %s", st.Invoke)
}

// resolveOutcome records the step's trace event and checks it against
// the step's expectation. A divergent step fails the scenario and stops
// the flow; the state already applied still flows into the finals so the
// report shows where things ended up.
func (r *runner) resolveOutcome(step int, st Step, err error) bool {
	outcome := "ok"
	if err != nil {
		outcome = "rejected:" + rejectCategory(err)
	}
	r.res.Trace = append(r.res.Trace, TraceEvent{
		Step:    step,
		Actor:   st.As,
		Op:      st.Invoke,
		Args:    st.Args,
		Outcome: outcome,
	})

	switch {
	case err == nil && st.Expect == nil:
		return true
	case err == nil:
		r.res.AddError("step %d: %s by %s succeeded, expected rejection %q",
			step, st.Invoke, st.As, st.Expect.Reject)
	case st.Expect == nil:
		r.res.AddError("step %d: %s by %s failed: %v", step, st.Invoke, st.As, err)
	case rejectCategory(err) == st.Expect.Reject:
		return true
	default:
		r.res.AddError("step %d: %s by %s rejected as %q, expected %q: %v",
			step, st.Invoke, st.As, rejectCategory(err), st.Expect.Reject, err)
	}
	return false
}

// rejectCategory folds an operation error into the category names
// scenarios use in expect.reject.
func rejectCategory(err error) string {
	var we *client.WindowError
	if errors.As(err, &we) {
		return "window"
	}
	var nb *client.NoBidError
	if errors.As(err, &nb) {
		return "no_bid"
	}
	var se *lifecycle.StateError
	if errors.As(err, &se) {
		return "state"
	}
	var ae *api.Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return "transport"
}

// waitSync blocks until every open actor's cached view equals the
// service state and its journal holds every transition it should have
// observed. Convergence is what the engine promises once pushes land;
// bounding it keeps a dropped push from hanging the whole run.
func (r *runner) waitSync(step int) error {
	deadline := time.Now().Add(stepTimeout)
	for {
		lagging := r.laggingActor()
		if lagging == "" {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("step %d: actor %s did not converge", step, lagging)
		}
		time.Sleep(syncPoll)
	}
}

func (r *runner) laggingActor() string {
	wantRun := r.svc.Run()
	wantOrders := r.svc.Orders()
	wantDist := r.svc.Distribution()

	for _, id := range r.order {
		a := r.actors[id]
		view, ok := a.handle.Snapshot()
		if !ok || view.Pending {
			return id
		}
		if !jsonEqual(view.Run, wantRun) ||
			!jsonEqual(view.Orders, wantOrders) ||
			!jsonEqual(view.Dist, wantDist) {
			return id
		}
		n, err := transitionCount(a.client.Journal(), r.sc.Seed.Run.ID)
		if err != nil || n < r.expect[id] {
			return id
		}
	}
	return ""
}

func transitionCount(j *journal.Journal, runID string) (int, error) {
	entries, err := j.ListRun(context.Background(), runID)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, e := range entries {
		if e.Kind == journal.KindTransition {
			n++
		}
	}
	return n, nil
}

func jsonEqual(a, b any) bool {
	ab, aerr := json.Marshal(a)
	bb, berr := json.Marshal(b)
	return aerr == nil && berr == nil && bytes.Equal(ab, bb)
}

// captureFinals snapshots the service state and every actor journal
// while the clients are still open.
func (r *runner) captureFinals() {
	r.res.Run = r.svc.Run()
	r.res.RunState = r.res.Run.State
	r.res.Orders = r.svc.Orders()
	r.res.Distribution = r.svc.Distribution()
	for _, id := range r.order {
		a := r.actors[id]
		entries, err := a.client.Journal().ListRun(context.Background(), r.sc.Seed.Run.ID)
		if err != nil {
			r.res.AddError("read %s journal: %v", id, err)
			continue
		}
		r.res.Journals[id] = entries
	}
}

func stringArg(args map[string]any, key string) string {
	s, _ := args[key].(string)
	return s
}

func boolArg(args map[string]any, key string) bool {
	b, _ := args[key].(bool)
	return b
}

func qtyArg(args map[string]any, key string) model.Quantity {
	q, _ := model.ParseQuantity(stringArg(args, key))
	return q
}

func centsArg(args map[string]any, key string) *model.Cents {
	v, ok := args[key]
	if !ok {
		return nil
	}
	n, _ := toInt64(v)
	c := model.Cents(n)
	return &c
}
