package api

import (
	"context"
	"net/http"
	"net/url"

	"github.com/nedrrelm/bulq/internal/model"
)

// FetchRun loads a run's header entity: state, roster, comment.
func (c *Client) FetchRun(ctx context.Context, runID string) (*model.Run, error) {
	var run model.Run
	if err := c.do(ctx, http.MethodGet, runPath(runID, ""), nil, &run); err != nil {
		return nil, err
	}
	return &run, nil
}

// FetchOrders loads a run's order book: products with bids and any
// recorded purchases.
func (c *Client) FetchOrders(ctx context.Context, runID string) (*model.Orders, error) {
	var orders model.Orders
	if err := c.do(ctx, http.MethodGet, runPath(runID, "/orders"), nil, &orders); err != nil {
		return nil, err
	}
	return &orders, nil
}

// FetchDistribution loads a run's distribution roster.
func (c *Client) FetchDistribution(ctx context.Context, runID string) (*model.Distribution, error) {
	var dist model.Distribution
	if err := c.do(ctx, http.MethodGet, runPath(runID, "/distribution"), nil, &dist); err != nil {
		return nil, err
	}
	return &dist, nil
}

// FetchGroupRuns loads the run summaries of a group.
func (c *Client) FetchGroupRuns(ctx context.Context, groupID string) (*model.GroupRuns, error) {
	var runs model.GroupRuns
	path := "/api/groups/" + url.PathEscape(groupID) + "/runs"
	if err := c.do(ctx, http.MethodGet, path, nil, &runs); err != nil {
		return nil, err
	}
	return &runs, nil
}

func runPath(runID, suffix string) string {
	return "/api/runs/" + url.PathEscape(runID) + suffix
}
