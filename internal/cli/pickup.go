package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/client"
)

// PickupOptions holds flags for the pickup command.
type PickupOptions struct {
	*RootOptions
	Undo bool
}

// PickupResult holds the outcome of a pickup command.
type PickupResult struct {
	RunID     string `json:"run_id"`
	UserID    string `json:"user_id"`
	ProductID string `json:"product_id"`
	Picked    bool   `json:"picked"`
	State     string `json:"state,omitempty"`
}

func (r PickupResult) String() string {
	if r.Picked {
		return fmt.Sprintf("pickup marked for %s: %s", r.UserID, r.ProductID)
	}
	return fmt.Sprintf("pickup cleared for %s: %s", r.UserID, r.ProductID)
}

// NewPickupCommand creates the pickup command.
func NewPickupCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PickupOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pickup <run-id> <user-id> <product-id>",
		Short: "Mark a distribution line as picked up",
		Long: `Record that a participant collected their share of one product.
Shoppers (leader and helpers) only; --undo clears a mistaken mark.

Exit codes:
  0 - Pickup recorded
  1 - Rejected (run not distributing, not a shopper)
  2 - Command error

Examples:
  bulq pickup run-1 u-ben p-rice
  bulq pickup run-1 u-ben p-rice --undo`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPickup(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Undo, "undo", false, "clear the pickup mark")

	return cmd
}

func runPickup(opts *PickupOptions, cmd *cobra.Command, args []string) error {
	runID, userID, productID := args[0], args[1], args[2]
	picked := !opts.Undo

	f := formatter(cmd, opts.RootOptions)
	return withRun(cmd, opts.RootOptions, runID, func(ctx context.Context, h *client.RunHandle) error {
		if err := h.MarkPickup(ctx, userID, productID, picked); err != nil {
			return reportRejection(f, "mark_pickup", err)
		}

		res := PickupResult{RunID: runID, UserID: userID, ProductID: productID, Picked: picked}
		if view, ok := h.Snapshot(); ok {
			res.State = string(view.Run.State)
		}
		return f.Success(res)
	})
}
