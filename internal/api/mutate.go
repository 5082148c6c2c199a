package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/model"
)

// BidRequest creates or replaces the caller's bid on a product. An
// interested-only bid carries zero quantity.
type BidRequest struct {
	Quantity   model.Quantity `json:"quantity"`
	Interested bool           `json:"interested,omitempty"`
	Comment    string         `json:"comment,omitempty"`
}

// PlaceBid upserts the caller's bid and returns the refreshed order book.
func (c *Client) PlaceBid(ctx context.Context, runID, productID string, req BidRequest) (*model.Orders, error) {
	var orders model.Orders
	path := runPath(runID, "/bids/"+url.PathEscape(productID))
	if err := c.do(ctx, http.MethodPut, path, req, &orders); err != nil {
		return nil, err
	}
	return &orders, nil
}

// RetractBid withdraws the caller's bid entirely.
func (c *Client) RetractBid(ctx context.Context, runID, productID string) (*model.Orders, error) {
	var orders model.Orders
	path := runPath(runID, "/bids/"+url.PathEscape(productID))
	if err := c.do(ctx, http.MethodDelete, path, nil, &orders); err != nil {
		return nil, err
	}
	return &orders, nil
}

// AdjustBid lowers the caller's bid during the adjusting phase. Same
// endpoint as PlaceBid; the service tells the phases apart by run state.
func (c *Client) AdjustBid(ctx context.Context, runID, productID string, quantity model.Quantity) (*model.Orders, error) {
	return c.PlaceBid(ctx, runID, productID, BidRequest{Quantity: quantity})
}

// SetReady flips the caller's readiness flag.
func (c *Client) SetReady(ctx context.Context, runID string, ready bool) (*model.Run, error) {
	var run model.Run
	body := map[string]bool{"ready": ready}
	if err := c.do(ctx, http.MethodPost, runPath(runID, "/ready"), body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// advanceRequest names the phase action to perform. The service derives
// the target state itself; finishing the shopping phase, for instance,
// lands in adjusting or distributing depending on shortage.
type advanceRequest struct {
	Action lifecycle.Action `json:"action"`
	Force  bool             `json:"force,omitempty"`
}

// Advance performs a leader phase action: promote, force_confirm,
// start_shopping, finish_shopping, finish_adjusting, complete or cancel.
// force applies to finish_adjusting with unresolved products.
func (c *Client) Advance(ctx context.Context, runID string, action lifecycle.Action, force bool) (*model.Run, error) {
	var run model.Run
	body := advanceRequest{Action: action, Force: force}
	if err := c.do(ctx, http.MethodPost, runPath(runID, "/phase"), body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// PurchaseRequest records what the shopping trip actually brought back.
type PurchaseRequest struct {
	Purchased model.Quantity `json:"purchased"`
	UnitCents *model.Cents   `json:"unit_price_cents,omitempty"`
}

// RecordPurchase notes the purchased quantity and observed price for one
// product and returns the refreshed order book.
func (c *Client) RecordPurchase(ctx context.Context, runID, productID string, req PurchaseRequest) (*model.Orders, error) {
	var orders model.Orders
	path := runPath(runID, "/purchases/"+url.PathEscape(productID))
	if err := c.do(ctx, http.MethodPut, path, req, &orders); err != nil {
		return nil, err
	}
	return &orders, nil
}

// PickupRequest marks one distribution line picked up or not.
type PickupRequest struct {
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Picked    bool   `json:"picked"`
}

// MarkPickup updates a pickup flag and returns the refreshed roster.
func (c *Client) MarkPickup(ctx context.Context, runID string, req PickupRequest) (*model.Distribution, error) {
	var dist model.Distribution
	if err := c.do(ctx, http.MethodPost, runPath(runID, "/pickups"), req, &dist); err != nil {
		return nil, err
	}
	return &dist, nil
}

// SetComment replaces the leader comment.
func (c *Client) SetComment(ctx context.Context, runID, comment string) (*model.Run, error) {
	var run model.Run
	body := map[string]string{"comment": comment}
	if err := c.do(ctx, http.MethodPut, runPath(runID, "/comment"), body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// SetHelper grants or revokes a participant's helper role.
func (c *Client) SetHelper(ctx context.Context, runID, userID string, helper bool) (*model.Run, error) {
	var run model.Run
	path := runPath(runID, "/participants/"+url.PathEscape(userID)+"/helper")
	body := map[string]bool{"helper": helper}
	if err := c.do(ctx, http.MethodPut, path, body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RemoveParticipant removes a participant from the roster. History stays;
// the participant becomes an observer.
func (c *Client) RemoveParticipant(ctx context.Context, runID, userID string) (*model.Run, error) {
	var run model.Run
	path := runPath(runID, "/participants/"+url.PathEscape(userID))
	if err := c.do(ctx, http.MethodDelete, path, nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// RequestReassign asks another participant to take over leadership.
func (c *Client) RequestReassign(ctx context.Context, runID, toUserID string) (*model.Run, error) {
	var run model.Run
	body := map[string]string{"to_user_id": toUserID}
	if err := c.do(ctx, http.MethodPost, runPath(runID, "/reassign"), body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// AnswerReassign accepts or declines a pending leadership handover
// addressed to the caller.
func (c *Client) AnswerReassign(ctx context.Context, runID string, accept bool) (*model.Run, error) {
	var run model.Run
	body := map[string]bool{"accept": accept}
	if err := c.do(ctx, http.MethodPost, runPath(runID, "/reassign/answer"), body, &run); err != nil {
		return nil, err
	}
	return &run, nil
}
