package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/client"
	"github.com/nedrrelm/bulq/internal/model"
)

// BidOptions holds flags for the bid command.
type BidOptions struct {
	*RootOptions
	Comment  string
	Retract  bool
	Interest bool
}

// BidResult holds the outcome of a bid command.
type BidResult struct {
	RunID     string `json:"run_id"`
	ProductID string `json:"product_id"`
	Action    string `json:"action"`
	Quantity  string `json:"quantity,omitempty"`
	Requested string `json:"requested,omitempty"`
	State     string `json:"state,omitempty"`
}

func (r BidResult) String() string {
	switch r.Action {
	case "retract_bid":
		return fmt.Sprintf("bid retracted from %s (requested %s)", r.ProductID, r.Requested)
	case "express_interest":
		return fmt.Sprintf("interest noted on %s", r.ProductID)
	default:
		return fmt.Sprintf("bid %s on %s (requested %s)", r.Quantity, r.ProductID, r.Requested)
	}
}

// NewBidCommand creates the bid command.
func NewBidCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &BidOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "bid <run-id> <product-id> [quantity]",
		Short: "Place, retract, or signal interest in a bid",
		Long: `Place a bid on a product, retract an existing bid, or express
non-committal interest while the run is still planning.

Quantities use at most two decimal places ("10", "2.5", "0.25").

Exit codes:
  0 - Mutation accepted
  1 - Mutation rejected (wrong state, outside adjustment window)
  2 - Command error (missing config, unreachable service)

Examples:
  bulq bid run-1 p-rice 10
  bulq bid run-1 p-rice 2.5 --comment "the small bags"
  bulq bid run-1 p-rice --retract
  bulq bid run-1 p-rice --interest`,
		Args:          cobra.RangeArgs(2, 3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBid(opts, cmd, args)
		},
	}

	cmd.Flags().StringVar(&opts.Comment, "comment", "", "note attached to the bid")
	cmd.Flags().BoolVar(&opts.Retract, "retract", false, "withdraw the current bid")
	cmd.Flags().BoolVar(&opts.Interest, "interest", false, "express interest without a quantity")

	return cmd
}

func runBid(opts *BidOptions, cmd *cobra.Command, args []string) error {
	runID, productID := args[0], args[1]

	if opts.Retract && opts.Interest {
		return NewExitError(ExitCommandError, "--retract and --interest are mutually exclusive")
	}
	if (opts.Retract || opts.Interest) && len(args) == 3 {
		return NewExitError(ExitCommandError, "quantity does not apply with --retract or --interest")
	}

	var quantity model.Quantity
	if !opts.Retract && !opts.Interest {
		if len(args) < 3 {
			return NewExitError(ExitCommandError, "quantity required (or use --retract / --interest)")
		}
		q, err := model.ParseQuantity(args[2])
		if err != nil {
			return WrapExitError(ExitCommandError, fmt.Sprintf("invalid quantity %q", args[2]), err)
		}
		quantity = q
	}

	f := formatter(cmd, opts.RootOptions)
	return withRun(cmd, opts.RootOptions, runID, func(ctx context.Context, h *client.RunHandle) error {
		var (
			action string
			err    error
		)
		switch {
		case opts.Retract:
			action = "retract_bid"
			err = h.RetractBid(ctx, productID)
		case opts.Interest:
			action = "express_interest"
			err = h.ExpressInterest(ctx, productID, opts.Comment)
		default:
			action = "place_bid"
			err = h.PlaceBid(ctx, productID, quantity, opts.Comment)
		}
		if err != nil {
			return reportRejection(f, action, err)
		}

		res := BidResult{RunID: runID, ProductID: productID, Action: action}
		if action == "place_bid" {
			res.Quantity = quantity.String()
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
