package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/realloc"
	"github.com/nedrrelm/bulq/internal/wire"
)

// TB is the subset of testing.TB the fake service needs. *testing.T
// satisfies it; the scenario runner provides its own implementation so
// scenarios can run outside go test.
type TB interface {
	Helper()
	Cleanup(func())
	Errorf(format string, args ...any)
}

// Service is an in-memory stand-in for the remote service: the REST
// surface under /api and the push topics under /ws, sharing one state.
//
// Mutations apply real semantics - bid upserts, the lifecycle table,
// readiness auto-confirm, reallocation on finish - and broadcast the
// matching push message to topic subscribers, so tests drive full
// round trips without a backend. One run at a time is enough for every
// scenario.
type Service struct {
	t        TB
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu       sync.Mutex
	users    map[string]model.Participant // bearer token -> identity
	run      *model.Run
	orders   *model.Orders
	dist     *model.Distribution
	group    *model.GroupRuns
	reassign *reassignRequest
	reject   *Rejection
	calls    []string
	subs     map[string][]*websocket.Conn // topic path -> sockets

	wmu sync.Mutex // serializes socket writes across handler goroutines
}

// Rejection scripts one rejected mutation.
type Rejection struct {
	Status  int
	Kind    string
	Message string
}

type reassignRequest struct {
	from, to string
}

// NewService starts the fake service. It shuts down with the test.
func NewService(t TB) *Service {
	t.Helper()
	s := &Service{
		t:     t,
		users: make(map[string]model.Participant),
		subs:  make(map[string][]*websocket.Conn),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/runs/{id}", s.getRun)
	mux.HandleFunc("GET /api/runs/{id}/orders", s.getOrders)
	mux.HandleFunc("GET /api/runs/{id}/distribution", s.getDistribution)
	mux.HandleFunc("GET /api/groups/{id}/runs", s.getGroupRuns)
	mux.HandleFunc("PUT /api/runs/{id}/bids/{productID}", s.putBid)
	mux.HandleFunc("DELETE /api/runs/{id}/bids/{productID}", s.deleteBid)
	mux.HandleFunc("POST /api/runs/{id}/ready", s.postReady)
	mux.HandleFunc("POST /api/runs/{id}/phase", s.postPhase)
	mux.HandleFunc("PUT /api/runs/{id}/purchases/{productID}", s.putPurchase)
	mux.HandleFunc("POST /api/runs/{id}/pickups", s.postPickup)
	mux.HandleFunc("PUT /api/runs/{id}/comment", s.putComment)
	mux.HandleFunc("PUT /api/runs/{id}/participants/{userID}/helper", s.putHelper)
	mux.HandleFunc("DELETE /api/runs/{id}/participants/{userID}", s.deleteParticipant)
	mux.HandleFunc("POST /api/runs/{id}/reassign", s.postReassign)
	mux.HandleFunc("POST /api/runs/{id}/reassign/answer", s.postReassignAnswer)
	mux.HandleFunc("GET /ws/runs/{id}", s.handleTopic)
	mux.HandleFunc("GET /ws/groups/{id}", s.handleTopic)

	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// URL returns the http base URL, for config.ServerURL.
func (s *Service) URL() string { return s.srv.URL }

// ChannelURL returns the ws base URL, for config.ChannelURL.
func (s *Service) ChannelURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

// Close drops every subscriber socket and stops the server. Idempotent;
// registered as a test cleanup by NewService.
func (s *Service) Close() {
	s.mu.Lock()
	var conns []*websocket.Conn
	for _, list := range s.subs {
		conns = append(conns, list...)
	}
	s.subs = make(map[string][]*websocket.Conn)
	s.mu.Unlock()

	for _, ws := range conns {
		ws.Close()
	}
	s.srv.Close()
}

// AddUser registers a bearer token and the participant identity it
// authenticates as.
func (s *Service) AddUser(token, userID, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[token] = model.Participant{UserID: userID, Name: name}
}

// SeedRun installs the run entity.
func (s *Service) SeedRun(r *model.Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.run = r.Clone()
}

// SeedOrders installs the order book entity.
func (s *Service) SeedOrders(o *model.Orders) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = o.Clone()
}

// SeedDistribution installs the distribution entity.
func (s *Service) SeedDistribution(d *model.Distribution) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dist = d.Clone()
}

// SeedGroup installs the group overview entity.
func (s *Service) SeedGroup(g *model.GroupRuns) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.group = g.Clone()
}

// Run returns a copy of the current run state.
func (s *Service) Run() *model.Run {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.run.Clone()
}

// Orders returns a copy of the current order book.
func (s *Service) Orders() *model.Orders {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.orders.Clone()
}

// Distribution returns a copy of the current distribution, nil when none
// has been built yet.
func (s *Service) Distribution() *model.Distribution {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dist.Clone()
}

// Calls returns every REST request seen so far as "METHOD path" strings.
func (s *Service) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// RejectNext makes the next mutating request fail with the given
// rejection instead of applying.
func (s *Service) RejectNext(status int, kind, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = &Rejection{Status: status, Kind: kind, Message: message}
}

// PushRun broadcasts a scripted message on a run topic, bypassing the
// REST surface. Tests use it to simulate other participants.
func (s *Service) PushRun(runID, msgType string, payload any) {
	s.push("/ws/runs/"+runID, msgType, payload)
}

// PushGroup broadcasts a scripted message on a group topic.
func (s *Service) PushGroup(groupID, msgType string, payload any) {
	s.push("/ws/groups/"+groupID, msgType, payload)
}

// Subscribers returns how many sockets are attached to a topic path.
func (s *Service) Subscribers(topic string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs[topic])
}

// handleTopic upgrades a push subscription and parks on the socket,
// consuming client heartbeats, until either side closes it.
func (s *Service) handleTopic(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	topic := r.URL.Path
	s.mu.Lock()
	s.subs[topic] = append(s.subs[topic], ws)
	s.mu.Unlock()

	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}

	s.mu.Lock()
	list := s.subs[topic]
	for i, c := range list {
		if c == ws {
			s.subs[topic] = append(list[:i], list[i+1:]...)
			break
		}
	}
	s.mu.Unlock()
	ws.Close()
}

func (s *Service) push(topic, msgType string, payload any) {
	env, err := wire.NewEnvelope(msgType, payload, time.Now().UnixMilli())
	if err != nil {
		s.t.Errorf("build %s push: %v", msgType, err)
		return
	}
	frame, err := env.Encode()
	if err != nil {
		s.t.Errorf("encode %s push: %v", msgType, err)
		return
	}

	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.subs[topic]...)
	s.mu.Unlock()

	s.wmu.Lock()
	defer s.wmu.Unlock()
	for _, ws := range conns {
		ws.WriteMessage(websocket.TextMessage, frame)
	}
}

func (s *Service) record(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, r.Method+" "+r.URL.Path)
}

// caller resolves the request's bearer token to a registered identity.
func (s *Service) caller(r *http.Request) (model.Participant, bool) {
	tok := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[tok]
	return u, ok
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Service) writeError(w http.ResponseWriter, status int, kind, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": kind, "message": msg},
	})
}

// gate runs the shared front half of every mutation handler: identity,
// then the scripted rejection if one is armed.
func (s *Service) gate(w http.ResponseWriter, r *http.Request) (model.Participant, bool) {
	user, ok := s.caller(r)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "unauthorized", "missing or unknown token")
		return model.Participant{}, false
	}
	s.mu.Lock()
	rej := s.reject
	s.reject = nil
	s.mu.Unlock()
	if rej != nil {
		s.writeError(w, rej.Status, rej.Kind, rej.Message)
		return model.Participant{}, false
	}
	return user, true
}

func (s *Service) getRun(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	s.mu.Lock()
	if s.run == nil || s.run.ID != r.PathValue("id") {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	resp := s.run.Clone()
	s.mu.Unlock()
	s.writeJSON(w, resp)
}

func (s *Service) getOrders(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	s.mu.Lock()
	if s.orders == nil || s.orders.RunID != r.PathValue("id") {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	resp := s.orders.Clone()
	s.mu.Unlock()
	s.writeJSON(w, resp)
}

func (s *Service) getDistribution(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	s.mu.Lock()
	if s.dist == nil || s.dist.RunID != r.PathValue("id") {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no distribution yet")
		return
	}
	resp := s.dist.Clone()
	s.mu.Unlock()
	s.writeJSON(w, resp)
}

func (s *Service) getGroupRuns(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	s.mu.Lock()
	if s.group == nil || s.group.GroupID != r.PathValue("id") {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such group")
		return
	}
	resp := s.group.Clone()
	s.mu.Unlock()
	s.writeJSON(w, resp)
}

func (s *Service) putBid(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	user, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		Quantity   model.Quantity `json:"quantity"`
		Interested bool           `json:"interested"`
		Comment    string         `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID, productID := r.PathValue("id"), r.PathValue("productID")

	s.mu.Lock()
	if s.orders == nil || s.orders.RunID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	p, found := s.orders.Product(productID)
	if !found {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such product")
		return
	}
	bid := model.Bid{
		UserID:     user.UserID,
		Name:       user.Name,
		Quantity:   req.Quantity,
		Interested: req.Interested,
		Comment:    req.Comment,
	}
	p.UpsertBid(bid)
	resp := s.orders.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeBidUpdated, wire.BidUpdated{RunID: runID, ProductID: productID, Bid: bid})
}

func (s *Service) deleteBid(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	user, ok := s.gate(w, r)
	if !ok {
		return
	}
	runID, productID := r.PathValue("id"), r.PathValue("productID")

	s.mu.Lock()
	if s.orders == nil || s.orders.RunID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	if p, found := s.orders.Product(productID); found {
		p.RemoveBid(user.UserID)
	}
	resp := s.orders.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeBidRetracted, wire.BidRetracted{RunID: runID, ProductID: productID, UserID: user.UserID})
}

func (s *Service) postReady(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	user, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		Ready bool `json:"ready"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID := r.PathValue("id")

	s.mu.Lock()
	if s.run == nil || s.run.ID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	for i := range s.run.Participants {
		if s.run.Participants[i].UserID == user.UserID {
			s.run.Participants[i].Ready = req.Ready
		}
	}

	// Readiness can trip the auto-confirm: every active participant ready
	// while the run is active moves it to confirmed.
	var confirmed bool
	if s.run.State == model.StateActive && lifecycle.AllReady(s.run.Participants) {
		s.run.State = model.StateConfirmed
		confirmed = true
	}
	resp := s.run.Clone()
	groupID, groupChanged := s.syncGroupLocked(runID)
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeReadyToggled, wire.ReadyToggled{RunID: runID, UserID: user.UserID, Ready: req.Ready})
	if confirmed {
		s.PushRun(runID, wire.TypeStateChanged, wire.StateChanged{RunID: runID, From: model.StateActive, To: model.StateConfirmed})
		if groupChanged {
			s.PushGroup(groupID, wire.TypeRunUpdated, wire.RunUpdated{GroupID: groupID, RunID: runID, State: model.StateConfirmed})
		}
	}
}

func (s *Service) postPhase(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	user, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		Action lifecycle.Action `json:"action"`
		Force  bool             `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID := r.PathValue("id")

	s.mu.Lock()
	if s.run == nil || s.run.ID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	from := s.run.State

	var to model.RunState
	switch req.Action {
	case lifecycle.ActionPromote:
		to = model.StateActive
	case lifecycle.ActionForceConfirm:
		to = model.StateConfirmed
	case lifecycle.ActionStartShopping:
		to = model.StateShopping
	case lifecycle.ActionFinishShopping:
		if realloc.NeedsAdjustment(s.orders, s.run.Participants) {
			to = model.StateAdjusting
		} else {
			to = model.StateDistributing
		}
	case lifecycle.ActionFinishAdjusting:
		if !req.Force && realloc.NeedsAdjustment(s.orders, s.run.Participants) {
			s.mu.Unlock()
			s.writeError(w, http.StatusConflict, "conflict", "products still over-claimed")
			return
		}
		to = model.StateDistributing
	case lifecycle.ActionComplete:
		to = model.StateCompleted
	case lifecycle.ActionCancel:
		to = model.StateCancelled
	default:
		s.mu.Unlock()
		s.writeError(w, http.StatusBadRequest, "validation", "unknown phase action")
		return
	}

	if err := lifecycle.Transition(from, to); err != nil {
		s.mu.Unlock()
		s.writeError(w, http.StatusConflict, "state_illegal", err.Error())
		return
	}
	s.run.State = to

	var distBuilt bool
	if to == model.StateDistributing && s.orders != nil {
		s.dist = realloc.BuildDistribution(s.orders, s.run.Participants)
		distBuilt = true
	}
	resp := s.run.Clone()
	groupID, groupChanged := s.syncGroupLocked(runID)
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeStateChanged, wire.StateChanged{RunID: runID, From: from, To: to, Actor: user.UserID})
	if distBuilt {
		s.PushRun(runID, wire.TypeDistributionUpdated, wire.DistributionUpdated{RunID: runID})
	}
	if groupChanged {
		s.PushGroup(groupID, wire.TypeRunUpdated, wire.RunUpdated{GroupID: groupID, RunID: runID, State: to})
	}
}

func (s *Service) putPurchase(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	_, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		Purchased model.Quantity `json:"purchased"`
		UnitCents *model.Cents   `json:"unit_price_cents"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID, productID := r.PathValue("id"), r.PathValue("productID")

	s.mu.Lock()
	if s.orders == nil || s.orders.RunID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	p, found := s.orders.Product(productID)
	if !found {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such product")
		return
	}
	purchased := req.Purchased
	p.Purchased = &purchased
	p.ObservedCents = req.UnitCents
	resp := s.orders.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypePurchaseRecorded, wire.PurchaseRecorded{
		RunID: runID, ProductID: productID, Purchased: purchased, UnitCents: req.UnitCents,
	})
}

func (s *Service) postPickup(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	_, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		UserID    string `json:"user_id"`
		ProductID string `json:"product_id"`
		Picked    bool   `json:"picked"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID := r.PathValue("id")

	s.mu.Lock()
	if s.dist == nil || s.dist.RunID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no distribution yet")
		return
	}
	if !s.dist.SetPicked(req.UserID, req.ProductID, req.Picked) {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such distribution row")
		return
	}
	resp := s.dist.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeDistributionUpdated, wire.DistributionUpdated{RunID: runID})
}

func (s *Service) putComment(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	_, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		Comment string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID := r.PathValue("id")

	s.mu.Lock()
	if s.run == nil || s.run.ID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	s.run.Comment = req.Comment
	resp := s.run.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeCommentUpdated, wire.CommentUpdated{RunID: runID, Comment: req.Comment})
}

func (s *Service) putHelper(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	_, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		Helper bool `json:"helper"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID, userID := r.PathValue("id"), r.PathValue("userID")

	s.mu.Lock()
	if s.run == nil || s.run.ID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	found := false
	for i := range s.run.Participants {
		if s.run.Participants[i].UserID == userID {
			s.run.Participants[i].Helper = req.Helper
			found = true
		}
	}
	if !found {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such participant")
		return
	}
	resp := s.run.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeHelperToggled, wire.HelperToggled{RunID: runID, UserID: userID, Helper: req.Helper})
}

func (s *Service) deleteParticipant(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	_, ok := s.gate(w, r)
	if !ok {
		return
	}
	runID, userID := r.PathValue("id"), r.PathValue("userID")

	s.mu.Lock()
	if s.run == nil || s.run.ID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	found := false
	for i := range s.run.Participants {
		if s.run.Participants[i].UserID == userID {
			s.run.Participants[i].Removed = true
			s.run.Participants[i].Ready = false
			found = true
		}
	}
	if !found {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such participant")
		return
	}
	resp := s.run.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeParticipantRemoved, wire.ParticipantRemoved{RunID: runID, UserID: userID})
}

func (s *Service) postReassign(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	user, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		ToUserID string `json:"to_user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID := r.PathValue("id")

	s.mu.Lock()
	if s.run == nil || s.run.ID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	s.reassign = &reassignRequest{from: user.UserID, to: req.ToUserID}
	resp := s.run.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	s.PushRun(runID, wire.TypeReassignRequested, wire.ReassignRequested{
		RunID: runID, FromUserID: user.UserID, ToUserID: req.ToUserID,
	})
}

func (s *Service) postReassignAnswer(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	user, ok := s.gate(w, r)
	if !ok {
		return
	}
	var req struct {
		Accept bool `json:"accept"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}
	runID := r.PathValue("id")

	s.mu.Lock()
	if s.run == nil || s.run.ID != runID {
		s.mu.Unlock()
		s.writeError(w, http.StatusNotFound, "not_found", "no such run")
		return
	}
	if s.reassign == nil || s.reassign.to != user.UserID {
		s.mu.Unlock()
		s.writeError(w, http.StatusConflict, "conflict", "no handover addressed to you")
		return
	}
	s.reassign = nil
	if req.Accept {
		for i := range s.run.Participants {
			s.run.Participants[i].Leader = s.run.Participants[i].UserID == user.UserID
		}
	}
	resp := s.run.Clone()
	s.mu.Unlock()

	s.writeJSON(w, resp)
	if req.Accept {
		s.PushRun(runID, wire.TypeReassignAccepted, wire.ReassignAccepted{RunID: runID, NewLeaderID: user.UserID})
	} else {
		s.PushRun(runID, wire.TypeReassignDeclined, wire.ReassignDeclined{RunID: runID, ByUserID: user.UserID})
	}
}

// syncGroupLocked mirrors the run's state into its group summary row.
// Callers hold s.mu.
func (s *Service) syncGroupLocked(runID string) (groupID string, changed bool) {
	if s.group == nil || s.run == nil {
		return "", false
	}
	for i := range s.group.Runs {
		if s.group.Runs[i].ID == runID {
			s.group.Runs[i].State = s.run.State
			return s.group.GroupID, true
		}
	}
	return "", false
}
