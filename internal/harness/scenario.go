package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nedrrelm/bulq/internal/journal"
	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/model"
)

// Scenario is one scripted run: a seeded state, a flow of operations by
// named participants, and assertions over where everything ended up.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description says what the scenario demonstrates. Required: a
	// scenario nobody can place is a scenario nobody maintains.
	Description string `yaml:"description"`

	Seed       Seed        `yaml:"seed"`
	Flow       []Step      `yaml:"flow"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Seed is the initial service state the scenario starts from.
type Seed struct {
	Run      SeedRun       `yaml:"run"`
	Products []SeedProduct `yaml:"products,omitempty"`
}

// SeedRun seeds the run header and roster.
type SeedRun struct {
	ID           string            `yaml:"id"`
	Group        string            `yaml:"group"`
	Store        string            `yaml:"store"`
	State        string            `yaml:"state"`
	Comment      string            `yaml:"comment,omitempty"`
	Participants []SeedParticipant `yaml:"participants"`
}

// SeedParticipant seeds one roster entry.
type SeedParticipant struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Leader bool   `yaml:"leader,omitempty"`
	Helper bool   `yaml:"helper,omitempty"`
	Ready  bool   `yaml:"ready,omitempty"`
}

// SeedProduct seeds one product with its order book. Quantities are
// decimal strings and prices integer cents, same as the wire.
type SeedProduct struct {
	ID            string    `yaml:"id"`
	Name          string    `yaml:"name"`
	Unit          string    `yaml:"unit,omitempty"`
	PriceCents    *int64    `yaml:"price_cents,omitempty"`
	Bids          []SeedBid `yaml:"bids,omitempty"`
	Purchased     string    `yaml:"purchased,omitempty"`
	ObservedCents *int64    `yaml:"observed_price_cents,omitempty"`
}

// SeedBid seeds one bid. Interested bids carry no quantity.
type SeedBid struct {
	User       string `yaml:"user"`
	Quantity   string `yaml:"quantity,omitempty"`
	Interested bool   `yaml:"interested,omitempty"`
	Comment    string `yaml:"comment,omitempty"`
}

// Step is one flow entry: who invokes what, with which arguments, and
// whether the step is expected to be rejected.
type Step struct {
	As     string         `yaml:"as"`
	Invoke string         `yaml:"invoke"`
	Args   map[string]any `yaml:"args,omitempty"`
	Expect *Expectation   `yaml:"expect,omitempty"`
}

// Expectation marks a step that must fail, and how.
type Expectation struct {
	Reject string `yaml:"reject"`
}

// Assertion is one check over the finals. Type selects the check; the
// other fields are per-type.
type Assertion struct {
	Type string `yaml:"type"`

	State         string         `yaml:"state,omitempty"`
	Actor         string         `yaml:"actor,omitempty"`
	User          string         `yaml:"user,omitempty"`
	Product       string         `yaml:"product,omitempty"`
	Quantity      string         `yaml:"quantity,omitempty"`
	Floor         string         `yaml:"floor,omitempty"`
	Ceiling       string         `yaml:"ceiling,omitempty"`
	SubtotalCents *int64         `yaml:"subtotal_cents,omitempty"`
	Kind          string         `yaml:"kind,omitempty"`
	Kinds         []string       `yaml:"kinds,omitempty"`
	Payload       map[string]any `yaml:"payload,omitempty"`
}

// nameRE keeps scenario names usable as golden filenames.
var nameRE = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)

type argKind int

const (
	argString argKind = iota
	argQuantity
	argBool
	argCents
)

type argSpec struct {
	kind     argKind
	required bool
}

// entityOps maps every non-phase operation to its argument contract.
var entityOps = map[string]map[string]argSpec{
	"place_bid": {
		"product":  {argString, true},
		"quantity": {argQuantity, true},
		"comment":  {argString, false},
	},
	"express_interest": {
		"product": {argString, true},
		"comment": {argString, false},
	},
	"retract_bid": {
		"product": {argString, true},
	},
	"adjust_bid": {
		"product":  {argString, true},
		"quantity": {argQuantity, true},
	},
	"toggle_ready": {
		"ready": {argBool, true},
	},
	"record_purchase": {
		"product":          {argString, true},
		"purchased":        {argQuantity, true},
		"unit_price_cents": {argCents, false},
	},
	"mark_pickup": {
		"user":    {argString, true},
		"product": {argString, true},
		"picked":  {argBool, true},
	},
	"set_comment": {
		"comment": {argString, true},
	},
	"set_helper": {
		"user":   {argString, true},
		"helper": {argBool, true},
	},
	"remove_participant": {
		"user": {argString, true},
	},
	"request_reassign": {
		"to": {argString, true},
	},
	"answer_reassign": {
		"accept": {argBool, true},
	},
}

// phaseOps maps flow names to leader phase actions. Every phase op takes
// an optional force flag and nothing else.
var phaseOps = map[string]lifecycle.Action{
	"promote":          lifecycle.ActionPromote,
	"force_confirm":    lifecycle.ActionForceConfirm,
	"start_shopping":   lifecycle.ActionStartShopping,
	"finish_shopping":  lifecycle.ActionFinishShopping,
	"finish_adjusting": lifecycle.ActionFinishAdjusting,
	"complete":         lifecycle.ActionComplete,
	"cancel":           lifecycle.ActionCancel,
}

// rejectCategories is the vocabulary of expect.reject: the local gate
// categories plus the remote rejection kinds.
var rejectCategories = map[string]bool{
	"state":         true,
	"window":        true,
	"no_bid":        true,
	"validation":    true,
	"state_illegal": true,
	"forbidden":     true,
	"unauthorized":  true,
	"not_found":     true,
	"conflict":      true,
	"internal":      true,
	"transport":     true,
}

var journalKinds = map[string]bool{
	journal.KindTransition:         true,
	journal.KindMutationApplied:    true,
	journal.KindMutationRolledBack: true,
	journal.KindRealloc:            true,
}

// LoadScenario reads and validates one scenario file. Decoding is
// strict: unknown fields are authoring mistakes, not extensions.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var sc Scenario
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

// LoadDir loads every *.yaml and *.yml scenario in dir, in filename
// order. A directory with no scenarios is an error: silently running
// nothing is how suites rot.
func LoadDir(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var scenarios []*Scenario
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		sc, err := LoadScenario(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	if len(scenarios) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	return scenarios, nil
}

// Validate checks the scenario for authoring errors, so runs only ever
// fail on engine behavior.
func (s *Scenario) Validate() error {
	if !nameRE.MatchString(s.Name) {
		return fmt.Errorf("scenario name %q: want lowercase words joined by dashes", s.Name)
	}
	if strings.TrimSpace(s.Description) == "" {
		return fmt.Errorf("scenario %s: description is required", s.Name)
	}
	if err := s.Seed.validate(); err != nil {
		return fmt.Errorf("scenario %s: seed: %w", s.Name, err)
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("scenario %s: flow is empty", s.Name)
	}
	for i, step := range s.Flow {
		if err := step.validate(&s.Seed); err != nil {
			return fmt.Errorf("scenario %s: step %d: %w", s.Name, i+1, err)
		}
	}
	for i, a := range s.Assertions {
		if err := a.validate(&s.Seed); err != nil {
			return fmt.Errorf("scenario %s: assertion %d: %w", s.Name, i+1, err)
		}
	}
	return nil
}

func (s *Seed) validate() error {
	r := s.Run
	if r.ID == "" || r.Group == "" || r.Store == "" {
		return fmt.Errorf("run id, group and store are required")
	}
	state, err := model.ParseRunState(r.State)
	if err != nil {
		return err
	}
	if state.Distributed() {
		return fmt.Errorf("runs cannot start %s, reach it through the flow", state)
	}
	if len(r.Participants) == 0 {
		return fmt.Errorf("at least one participant is required")
	}

	leaders := 0
	users := make(map[string]bool, len(r.Participants))
	for _, p := range r.Participants {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("participant id and name are required")
		}
		if users[p.ID] {
			return fmt.Errorf("duplicate participant %s", p.ID)
		}
		users[p.ID] = true
		if p.Leader {
			leaders++
		}
	}
	if leaders != 1 {
		return fmt.Errorf("exactly one leader required, have %d", leaders)
	}

	products := make(map[string]bool, len(s.Products))
	for _, p := range s.Products {
		if p.ID == "" || p.Name == "" {
			return fmt.Errorf("product id and name are required")
		}
		if products[p.ID] {
			return fmt.Errorf("duplicate product %s", p.ID)
		}
		products[p.ID] = true
		if p.PriceCents != nil && *p.PriceCents < 0 {
			return fmt.Errorf("product %s: negative price", p.ID)
		}
		if p.ObservedCents != nil && *p.ObservedCents < 0 {
			return fmt.Errorf("product %s: negative observed price", p.ID)
		}
		if p.Purchased != "" {
			if _, err := model.ParseQuantity(p.Purchased); err != nil {
				return fmt.Errorf("product %s: purchased: %w", p.ID, err)
			}
		}
		for _, b := range p.Bids {
			if !users[b.User] {
				return fmt.Errorf("product %s: bid by unknown participant %q", p.ID, b.User)
			}
			if b.Interested {
				if b.Quantity != "" {
					return fmt.Errorf("product %s: interested bid by %s cannot carry a quantity", p.ID, b.User)
				}
				continue
			}
			if _, err := model.ParseQuantity(b.Quantity); err != nil {
				return fmt.Errorf("product %s: bid by %s: %w", p.ID, b.User, err)
			}
		}
	}
	return nil
}

func (s *Seed) participant(id string) (SeedParticipant, bool) {
	for _, p := range s.Run.Participants {
		if p.ID == id {
			return p, true
		}
	}
	return SeedParticipant{}, false
}

func (s *Seed) hasProduct(id string) bool {
	for _, p := range s.Products {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (st *Step) validate(seed *Seed) error {
	if _, ok := seed.participant(st.As); !ok {
		return fmt.Errorf("unknown actor %q", st.As)
	}
	if err := checkArgValues(st.Args); err != nil {
		return fmt.Errorf("%s: %w", st.Invoke, err)
	}

	spec, entity := entityOps[st.Invoke]
	if _, phase := phaseOps[st.Invoke]; !entity && !phase {
		return fmt.Errorf("unknown operation %q", st.Invoke)
	}
	if !entity {
		spec = map[string]argSpec{"force": {argBool, false}}
	}

	for key, value := range st.Args {
		as, ok := spec[key]
		if !ok {
			return fmt.Errorf("%s: unknown argument %q", st.Invoke, key)
		}
		if err := checkArgKind(value, as.kind); err != nil {
			return fmt.Errorf("%s: argument %s: %w", st.Invoke, key, err)
		}
	}
	for key, as := range spec {
		if as.required {
			if _, ok := st.Args[key]; !ok {
				return fmt.Errorf("%s: missing argument %q", st.Invoke, key)
			}
		}
	}

	if st.Expect != nil && !rejectCategories[st.Expect.Reject] {
		return fmt.Errorf("%s: unknown rejection category %q", st.Invoke, st.Expect.Reject)
	}
	return nil
}

func (a *Assertion) validate(seed *Seed) error {
	switch a.Type {
	case "run_state":
		if _, err := model.ParseRunState(a.State); err != nil {
			return err
		}
	case "bid":
		if err := a.needParticipant(seed, a.User); err != nil {
			return err
		}
		if err := a.needProduct(seed); err != nil {
			return err
		}
		if _, err := model.ParseQuantity(a.Quantity); err != nil {
			return err
		}
	case "no_bid":
		// The user may be anyone, known or not: absent means absent.
		if err := a.needProduct(seed); err != nil {
			return err
		}
		if a.User == "" {
			return fmt.Errorf("user is required")
		}
	case "requested":
		if err := a.needProduct(seed); err != nil {
			return err
		}
		if _, err := model.ParseQuantity(a.Quantity); err != nil {
			return err
		}
	case "window":
		if err := a.needParticipant(seed, a.User); err != nil {
			return err
		}
		if err := a.needProduct(seed); err != nil {
			return err
		}
		if _, err := model.ParseQuantity(a.Floor); err != nil {
			return fmt.Errorf("floor: %w", err)
		}
		if _, err := model.ParseQuantity(a.Ceiling); err != nil {
			return fmt.Errorf("ceiling: %w", err)
		}
	case "distribution_row":
		if err := a.needParticipant(seed, a.User); err != nil {
			return err
		}
		if err := a.needProduct(seed); err != nil {
			return err
		}
		if _, err := model.ParseQuantity(a.Quantity); err != nil {
			return err
		}
	case "conservation":
		if err := a.needProduct(seed); err != nil {
			return err
		}
	case "journal_contains":
		if err := a.needParticipant(seed, a.Actor); err != nil {
			return err
		}
		if !journalKinds[a.Kind] {
			return fmt.Errorf("unknown journal kind %q", a.Kind)
		}
		if err := checkArgValues(a.Payload); err != nil {
			return fmt.Errorf("payload: %w", err)
		}
	case "journal_order":
		if err := a.needParticipant(seed, a.Actor); err != nil {
			return err
		}
		if len(a.Kinds) == 0 {
			return fmt.Errorf("kinds is empty")
		}
		for _, k := range a.Kinds {
			if !journalKinds[k] {
				return fmt.Errorf("unknown journal kind %q", k)
			}
		}
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
	return nil
}

func (a *Assertion) needParticipant(seed *Seed, id string) error {
	if _, ok := seed.participant(id); !ok {
		return fmt.Errorf("unknown participant %q", id)
	}
	return nil
}

func (a *Assertion) needProduct(seed *Seed) error {
	if !seed.hasProduct(a.Product) {
		return fmt.Errorf("unknown product %q", a.Product)
	}
	return nil
}

// checkArgValues rejects nulls and floats anywhere in a value tree.
// Quantities travel as decimal strings and money as integer cents, so a
// float in a scenario is always an authoring mistake.
func checkArgValues(v any) error {
	switch val := v.(type) {
	case nil:
		return fmt.Errorf("null values are not allowed")
	case float64:
		return fmt.Errorf("float %v is not allowed, use a decimal string or integer cents", val)
	case map[string]any:
		for k, item := range val {
			if err := checkArgValues(item); err != nil {
				return fmt.Errorf("%s: %w", k, err)
			}
		}
	case []any:
		for i, item := range val {
			if err := checkArgValues(item); err != nil {
				return fmt.Errorf("[%d]: %w", i, err)
			}
		}
	}
	return nil
}

func checkArgKind(v any, kind argKind) error {
	switch kind {
	case argString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("want a string, have %T", v)
		}
	case argQuantity:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("want a decimal string, have %T", v)
		}
		if _, err := model.ParseQuantity(s); err != nil {
			return err
		}
	case argBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("want a bool, have %T", v)
		}
	case argCents:
		if _, err := toInt64(v); err != nil {
			return fmt.Errorf("want integer cents: %w", err)
		}
	}
	return nil
}

func toInt64(v any) (int64, error) {
	switch n := v.(type) {
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	}
	return 0, fmt.Errorf("have %T", v)
}

// BuildRun materializes the seeded run entity.
func (s *Seed) BuildRun() *model.Run {
	run := &model.Run{
		ID:      s.Run.ID,
		GroupID: s.Run.Group,
		Store:   s.Run.Store,
		State:   model.RunState(s.Run.State),
		Comment: s.Run.Comment,
	}
	for _, p := range s.Run.Participants {
		run.Participants = append(run.Participants, model.Participant{
			UserID: p.ID,
			Name:   p.Name,
			Leader: p.Leader,
			Helper: p.Helper,
			Ready:  p.Ready,
		})
	}
	return run
}

// BuildOrders materializes the seeded order book. Quantities parse
// cleanly here because Validate already ran.
func (s *Seed) BuildOrders() *model.Orders {
	orders := &model.Orders{RunID: s.Run.ID}
	for _, sp := range s.Products {
		p := model.Product{ID: sp.ID, Name: sp.Name, Unit: sp.Unit}
		if sp.PriceCents != nil {
			c := model.Cents(*sp.PriceCents)
			p.PriceCents = &c
		}
		for _, b := range sp.Bids {
			var q model.Quantity
			if !b.Interested {
				q, _ = model.ParseQuantity(b.Quantity)
			}
			name := b.User
			if part, ok := s.participant(b.User); ok {
				name = part.Name
			}
			p.Bids = append(p.Bids, model.Bid{
				UserID:     b.User,
				Name:       name,
				Quantity:   q,
				Interested: b.Interested,
				Comment:    b.Comment,
			})
		}
		if sp.Purchased != "" {
			q, _ := model.ParseQuantity(sp.Purchased)
			p.Purchased = &q
		}
		if sp.ObservedCents != nil {
			c := model.Cents(*sp.ObservedCents)
			p.ObservedCents = &c
		}
		p.RecalcAggregates()
		orders.Products = append(orders.Products, p)
	}
	return orders
}
