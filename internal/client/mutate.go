package client

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nedrrelm/bulq/internal/api"
	"github.com/nedrrelm/bulq/internal/cache"
	"github.com/nedrrelm/bulq/internal/journal"
	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/realloc"
)

// op describes one mutation routed through the cache: the action it
// performs for gating and journaling, the entity it targets, the
// optimistic patch, and the remote call.
type op struct {
	action  lifecycle.Action
	key     cache.Key
	payload map[string]any // journal detail, merged with the action name
	patch   func(model.Entity) error
	call    func(ctx context.Context) (model.Entity, error)
}

// mutate runs the shared mutation path: re-validate the action against
// the cached state (the UI should not have offered it otherwise, but a
// push may have moved the run underneath the user), then submit to the
// cache and block for the remote outcome. The remote call journals its
// outcome and toasts rejections regardless of whether the submitter is
// still waiting.
func (h *RunHandle) mutate(ctx context.Context, o op) error {
	if _, err := h.gate(o.action); err != nil {
		return err
	}

	c := h.c
	wrapped := func(cctx context.Context) (model.Entity, error) {
		value, err := o.call(cctx)
		c.recordOutcome(h.runID, o.action, o.payload, err)
		if err != nil {
			c.center.Push(actionLabel(o.action), rejectionReason(err))
			return nil, err
		}
		return value, nil
	}

	done, err := c.cache.Mutate(ctx, o.key, cache.Mutation{
		Name:  string(o.action),
		Patch: o.patch,
		Call:  wrapped,
	})
	if err != nil {
		if errors.Is(err, cache.ErrClosed) {
			return ErrClosed
		}
		return err
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		// The mutation may still land; the push or echo reconciles it.
		return ctx.Err()
	}
}

// gate re-validates the action against the cached run state and the
// caller's role.
func (h *RunHandle) gate(action lifecycle.Action) (*model.Run, error) {
	snap, ok := h.c.cache.Get(cache.RunKey(h.runID))
	if !ok {
		return nil, &cache.NotLoadedError{Key: cache.RunKey(h.runID)}
	}
	run := snap.Value.(*model.Run)
	role := lifecycle.RoleFor(run, h.c.sess.UserID())
	if err := lifecycle.Permitted(action, run.State, role); err != nil {
		return nil, err
	}
	return run, nil
}

// recordOutcome journals a mutation's terminal fate: applied, or rolled
// back with the rejection kind.
func (c *Client) recordOutcome(runID string, action lifecycle.Action, detail map[string]any, callErr error) {
	payload := map[string]any{"action": string(action)}
	for k, v := range detail {
		payload[k] = v
	}
	kind := journal.KindMutationApplied
	if callErr != nil {
		kind = journal.KindMutationRolledBack
		payload["reason"] = rejectionKind(callErr)
	}
	c.appendFact(runID, kind, payload)
}

// actionLabel renders an action for toasts: "place_bid" becomes
// "place bid".
func actionLabel(action lifecycle.Action) string {
	return strings.ReplaceAll(string(action), "_", " ")
}

// rejectionKind classifies a remote failure for the journal.
func rejectionKind(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return "transport"
}

// rejectionReason picks the human-readable reason for a toast.
func rejectionReason(err error) string {
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}

// PlaceBid creates or replaces the caller's bid with a concrete
// quantity. Placement is an upsert: bidding again replaces the earlier
// bid and keeps its position in the order book.
func (h *RunHandle) PlaceBid(ctx context.Context, productID string, quantity model.Quantity, comment string) error {
	me, name := h.c.sess.UserID(), h.c.sess.Name()
	return h.mutate(ctx, op{
		action:  lifecycle.ActionPlaceBid,
		key:     cache.OrdersKey(h.runID),
		payload: map[string]any{"product_id": productID, "quantity": quantity.String()},
		patch: func(e model.Entity) error {
			p, ok := e.(*model.Orders).Product(productID)
			if !ok {
				return fmt.Errorf("product %s not in run", productID)
			}
			p.UpsertBid(model.Bid{UserID: me, Name: name, Quantity: quantity, Comment: comment})
			return nil
		},
		call: func(ctx context.Context) (model.Entity, error) {
			orders, err := h.c.api.PlaceBid(ctx, h.runID, productID,
				api.BidRequest{Quantity: quantity, Comment: comment})
			if err != nil {
				return nil, err
			}
			return orders, nil
		},
	})
}

// UpdateBid replaces the caller's existing bid. The service treats
// placement as an upsert, so this is PlaceBid under the name callers
// reach for when editing.
func (h *RunHandle) UpdateBid(ctx context.Context, productID string, quantity model.Quantity, comment string) error {
	return h.PlaceBid(ctx, productID, quantity, comment)
}

// ExpressInterest places an interested-only bid: no quantity commitment,
// optionally a comment. Available already during planning.
func (h *RunHandle) ExpressInterest(ctx context.Context, productID, comment string) error {
	me, name := h.c.sess.UserID(), h.c.sess.Name()
	return h.mutate(ctx, op{
		action:  lifecycle.ActionExpressInterest,
		key:     cache.OrdersKey(h.runID),
		payload: map[string]any{"product_id": productID},
		patch: func(e model.Entity) error {
			p, ok := e.(*model.Orders).Product(productID)
			if !ok {
				return fmt.Errorf("product %s not in run", productID)
			}
			p.UpsertBid(model.Bid{UserID: me, Name: name, Interested: true, Comment: comment})
			return nil
		},
		call: func(ctx context.Context) (model.Entity, error) {
			orders, err := h.c.api.PlaceBid(ctx, h.runID, productID,
				api.BidRequest{Interested: true, Comment: comment})
			if err != nil {
				return nil, err
			}
			return orders, nil
		},
	})
}

// RetractBid withdraws the caller's bid entirely. During adjusting a
// retraction is a reduction to zero and is legal only when the shortage
// covers the whole bid; otherwise it fails with a WindowError.
func (h *RunHandle) RetractBid(ctx context.Context, productID string) error {
	me := h.c.sess.UserID()
	run, err := h.gate(lifecycle.ActionRetractBid)
	if err != nil {
		return err
	}
	if run.State == model.StateAdjusting {
		_, orders, ok := h.entities()
		if !ok {
			return &cache.NotLoadedError{Key: cache.OrdersKey(h.runID)}
		}
		if p, found := orders.Product(productID); found {
			if w, held := realloc.WindowFor(p, me, run.Participants); held && w.Floor > 0 {
				return &WindowError{ProductID: productID, Window: w, Quantity: 0}
			}
		}
	}
	return h.mutate(ctx, op{
		action:  lifecycle.ActionRetractBid,
		key:     cache.OrdersKey(h.runID),
		payload: map[string]any{"product_id": productID},
		patch: func(e model.Entity) error {
			p, ok := e.(*model.Orders).Product(productID)
			if !ok {
				return fmt.Errorf("product %s not in run", productID)
			}
			p.RemoveBid(me)
			return nil
		},
		call: func(ctx context.Context) (model.Entity, error) {
			orders, err := h.c.api.RetractBid(ctx, h.runID, productID)
			if err != nil {
				return nil, err
			}
			return orders, nil
		},
	})
}

// AdjustBid lowers the caller's bid during the adjusting phase. The new
// quantity must stay inside the window [max(0, current-shortage),
// current]; violations fail locally with a WindowError and are never
// sent.
func (h *RunHandle) AdjustBid(ctx context.Context, productID string, quantity model.Quantity) error {
	me := h.c.sess.UserID()
	run, err := h.gate(lifecycle.ActionAdjustBid)
	if err != nil {
		return err
	}
	_, orders, ok := h.entities()
	if !ok {
		return &cache.NotLoadedError{Key: cache.OrdersKey(h.runID)}
	}
	p, found := orders.Product(productID)
	if !found {
		return &NoBidError{ProductID: productID}
	}
	w, held := realloc.WindowFor(p, me, run.Participants)
	if !held {
		return &NoBidError{ProductID: productID}
	}
	if !w.Allows(quantity) {
		return &WindowError{ProductID: productID, Window: w, Quantity: quantity}
	}

	return h.mutate(ctx, op{
		action:  lifecycle.ActionAdjustBid,
		key:     cache.OrdersKey(h.runID),
		payload: map[string]any{"product_id": productID, "quantity": quantity.String()},
		patch: func(e model.Entity) error {
			p, ok := e.(*model.Orders).Product(productID)
			if !ok {
				return fmt.Errorf("product %s not in run", productID)
			}
			b, ok := p.Bid(me)
			if !ok {
				return fmt.Errorf("no bid on product %s", productID)
			}
			b.Quantity = quantity
			p.UpsertBid(b)
			return nil
		},
		call: func(ctx context.Context) (model.Entity, error) {
			orders, err := h.c.api.AdjustBid(ctx, h.runID, productID, quantity)
			if err != nil {
				return nil, err
			}
			return orders, nil
		},
	})
}

// SetReady flips the caller's readiness flag. When the last active
// participant turns ready the service confirms the run; the echo or the
// state push brings the transition back.
func (h *RunHandle) SetReady(ctx context.Context, ready bool) error {
	me := h.c.sess.UserID()
	return h.mutate(ctx, op{
		action:  lifecycle.ActionToggleReady,
		key:     cache.RunKey(h.runID),
		payload: map[string]any{"ready": ready},
		patch: func(e model.Entity) error {
			run := e.(*model.Run)
			for i := range run.Participants {
				if run.Participants[i].UserID == me {
					run.Participants[i].Ready = ready
					return nil
				}
			}
			return fmt.Errorf("not on the roster")
		},
		call: func(ctx context.Context) (model.Entity, error) {
			run, err := h.c.api.SetReady(ctx, h.runID, ready)
			if err != nil {
				return nil, err
			}
			return run, nil
		},
	})
}

// Advance performs a leader phase action. The target state is the
// service's call: finish_shopping lands in adjusting or distributing
// depending on shortage, and finish_adjusting with force accepts the
// proportional reallocation of whatever is still over-claimed. There is
// no optimistic patch; the echo carries the outcome.
func (h *RunHandle) Advance(ctx context.Context, action lifecycle.Action, force bool) error {
	switch action {
	case lifecycle.ActionPromote, lifecycle.ActionForceConfirm,
		lifecycle.ActionStartShopping, lifecycle.ActionFinishShopping,
		lifecycle.ActionFinishAdjusting, lifecycle.ActionComplete,
		lifecycle.ActionCancel:
	default:
		return fmt.Errorf("%s is not a phase action", action)
	}

	payload := map[string]any{}
	if force {
		payload["force"] = true
	}
	err := h.mutate(ctx, op{
		action:  action,
		key:     cache.RunKey(h.runID),
		payload: payload,
		call: func(ctx context.Context) (model.Entity, error) {
			run, err := h.c.api.Advance(ctx, h.runID, action, force)
			if err != nil {
				return nil, err
			}
			return run, nil
		},
	})
	if err == nil && action == lifecycle.ActionFinishAdjusting && force {
		h.journalRealloc()
	}
	return err
}

// journalRealloc records the outcome of a forced finish: the
// proportional allocation computed over the order book as the client
// saw it when the force was confirmed.
func (h *RunHandle) journalRealloc() {
	run, orders, ok := h.entities()
	if !ok {
		return
	}
	dist := realloc.BuildDistribution(orders, run.Participants)
	rows := make([]any, 0, len(dist.Rows))
	for _, r := range dist.Rows {
		rows = append(rows, map[string]any{
			"user_id":    r.UserID,
			"product_id": r.ProductID,
			"quantity":   r.Quantity.String(),
		})
	}
	h.c.appendFact(h.runID, journal.KindRealloc, map[string]any{
		"forced": true,
		"rows":   rows,
	})
}

// RecordPurchase notes what the shopping trip actually brought back for
// one product: the purchased quantity and, when known, the observed
// unit price.
func (h *RunHandle) RecordPurchase(ctx context.Context, productID string, purchased model.Quantity, unitCents *model.Cents) error {
	payload := map[string]any{"product_id": productID, "purchased": purchased.String()}
	if unitCents != nil {
		payload["unit_price_cents"] = int64(*unitCents)
	}
	return h.mutate(ctx, op{
		action:  lifecycle.ActionRecordPurchase,
		key:     cache.OrdersKey(h.runID),
		payload: payload,
		patch: func(e model.Entity) error {
			p, ok := e.(*model.Orders).Product(productID)
			if !ok {
				return fmt.Errorf("product %s not in run", productID)
			}
			q := purchased
			p.Purchased = &q
			if unitCents != nil {
				c := *unitCents
				p.ObservedCents = &c
			}
			return nil
		},
		call: func(ctx context.Context) (model.Entity, error) {
			orders, err := h.c.api.RecordPurchase(ctx, h.runID, productID,
				api.PurchaseRequest{Purchased: purchased, UnitCents: unitCents})
			if err != nil {
				return nil, err
			}
			return orders, nil
		},
	})
}

// MarkPickup marks one distribution line picked up or not.
func (h *RunHandle) MarkPickup(ctx context.Context, userID, productID string, picked bool) error {
	return h.mutate(ctx, op{
		action:  lifecycle.ActionMarkPickup,
		key:     cache.DistKey(h.runID),
		payload: map[string]any{"user_id": userID, "product_id": productID, "picked": picked},
		patch: func(e model.Entity) error {
			if !e.(*model.Distribution).SetPicked(userID, productID, picked) {
				return fmt.Errorf("no distribution line for %s on %s", userID, productID)
			}
			return nil
		},
		call: func(ctx context.Context) (model.Entity, error) {
			dist, err := h.c.api.MarkPickup(ctx, h.runID,
				api.PickupRequest{UserID: userID, ProductID: productID, Picked: picked})
			if err != nil {
				return nil, err
			}
			return dist, nil
		},
	})
}

// SetComment replaces the leader comment shown on the run.
func (h *RunHandle) SetComment(ctx context.Context, comment string) error {
	return h.mutate(ctx, op{
		action:  lifecycle.ActionSetComment,
		key:     cache.RunKey(h.runID),
		payload: map[string]any{"comment": comment},
		patch: func(e model.Entity) error {
			e.(*model.Run).Comment = comment
			return nil
		},
		call: func(ctx context.Context) (model.Entity, error) {
			run, err := h.c.api.SetComment(ctx, h.runID, comment)
			if err != nil {
				return nil, err
			}
			return run, nil
		},
	})
}

// SetHelper grants or revokes a participant's helper role.
func (h *RunHandle) SetHelper(ctx context.Context, userID string, helper bool) error {
	return h.mutate(ctx, op{
		action:  lifecycle.ActionSetHelper,
		key:     cache.RunKey(h.runID),
		payload: map[string]any{"user_id": userID, "helper": helper},
		patch: func(e model.Entity) error {
			run := e.(*model.Run)
			for i := range run.Participants {
				if run.Participants[i].UserID == userID {
					run.Participants[i].Helper = helper
					return nil
				}
			}
			return fmt.Errorf("%s is not on the roster", userID)
		},
		call: func(ctx context.Context) (model.Entity, error) {
			run, err := h.c.api.SetHelper(ctx, h.runID, userID, helper)
			if err != nil {
				return nil, err
			}
			return run, nil
		},
	})
}

// RemoveParticipant removes a participant from the roster. Their
// history stays; they become an observer and stop counting toward
// readiness and shortage arithmetic.
func (h *RunHandle) RemoveParticipant(ctx context.Context, userID string) error {
	return h.mutate(ctx, op{
		action:  lifecycle.ActionRemoveParticipant,
		key:     cache.RunKey(h.runID),
		payload: map[string]any{"user_id": userID},
		patch: func(e model.Entity) error {
			run := e.(*model.Run)
			for i := range run.Participants {
				if run.Participants[i].UserID == userID {
					run.Participants[i].Removed = true
					run.Participants[i].Ready = false
					return nil
				}
			}
			return fmt.Errorf("%s is not on the roster", userID)
		},
		call: func(ctx context.Context) (model.Entity, error) {
			run, err := h.c.api.RemoveParticipant(ctx, h.runID, userID)
			if err != nil {
				return nil, err
			}
			return run, nil
		},
	})
}

// RequestReassign asks another participant to take over leadership. The
// handover completes only when they accept; nothing changes locally
// until then.
func (h *RunHandle) RequestReassign(ctx context.Context, toUserID string) error {
	return h.mutate(ctx, op{
		action:  lifecycle.ActionRequestReassign,
		key:     cache.RunKey(h.runID),
		payload: map[string]any{"to_user_id": toUserID},
		call: func(ctx context.Context) (model.Entity, error) {
			run, err := h.c.api.RequestReassign(ctx, h.runID, toUserID)
			if err != nil {
				return nil, err
			}
			return run, nil
		},
	})
}

// AnswerReassign accepts or declines a pending leadership handover
// addressed to the caller.
func (h *RunHandle) AnswerReassign(ctx context.Context, accept bool) error {
	me := h.c.sess.UserID()
	var patch func(model.Entity) error
	if accept {
		patch = func(e model.Entity) error {
			run := e.(*model.Run)
			for i := range run.Participants {
				run.Participants[i].Leader = run.Participants[i].UserID == me
			}
			return nil
		}
	}
	return h.mutate(ctx, op{
		action:  lifecycle.ActionAnswerReassign,
		key:     cache.RunKey(h.runID),
		payload: map[string]any{"accept": accept},
		patch:   patch,
		call: func(ctx context.Context) (model.Entity, error) {
			run, err := h.c.api.AnswerReassign(ctx, h.runID, accept)
			if err != nil {
				return nil, err
			}
			return run, nil
		},
	})
}
