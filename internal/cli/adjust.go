package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/client"
	"github.com/nedrrelm/bulq/internal/model"
)

// AdjustResult holds the outcome of an adjust command.
type AdjustResult struct {
	RunID     string `json:"run_id"`
	ProductID string `json:"product_id"`
	Quantity  string `json:"quantity"`
	Floor     string `json:"floor,omitempty"`
	Ceiling   string `json:"ceiling,omitempty"`
	Requested string `json:"requested,omitempty"`
	State     string `json:"state,omitempty"`
}

func (r AdjustResult) String() string {
	return fmt.Sprintf("bid adjusted to %s on %s (requested %s)", r.Quantity, r.ProductID, r.Requested)
}

// NewAdjustCommand creates the adjust command.
func NewAdjustCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adjust <run-id> <product-id> <quantity>",
		Short: "Adjust a bid during shortage resolution",
		Long: `Move your bid within its adjustment window while the run resolves a
shortage. The window floor is your fair share of the shortage; the
ceiling is your current bid. A rejected adjustment reports both bounds.

Exit codes:
  0 - Adjustment accepted
  1 - Adjustment rejected (outside the window, no bid, wrong state)
  2 - Command error

Examples:
  bulq adjust run-1 p-rice 6
  bulq adjust run-1 p-rice 4.5`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAdjust(rootOpts, cmd, args)
		},
	}

	return cmd
}

func runAdjust(opts *RootOptions, cmd *cobra.Command, args []string) error {
	runID, productID := args[0], args[1]

	quantity, err := model.ParseQuantity(args[2])
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid quantity %q", args[2]), err)
	}

	f := formatter(cmd, opts)
	return withRun(cmd, opts, runID, func(ctx context.Context, h *client.RunHandle) error {
		if err := h.AdjustBid(ctx, productID, quantity); err != nil {
			return reportRejection(f, "adjust_bid", err)
		}

		res := AdjustResult{RunID: runID, ProductID: productID, Quantity: quantity.String()}
		if w, ok := h.Window(productID); ok {
			res.Floor = w.Floor.String()
			res.Ceiling = w.Ceiling.String()
		}
		if view, ok := h.Snapshot(); ok {
			res.State = string(view.Run.State)
			if p, found := view.Orders.Product(productID); found {
				res.Requested = p.Requested.String()
			}
		}
		return f.Success(res)
	})
}
