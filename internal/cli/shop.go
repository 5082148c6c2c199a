package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/client"
	"github.com/nedrrelm/bulq/internal/model"
)

// ShopOptions holds flags for the shop command.
type ShopOptions struct {
	*RootOptions
	PriceCents int64
}

// ShopResult holds the outcome of a shop command.
type ShopResult struct {
	RunID      string `json:"run_id"`
	ProductID  string `json:"product_id"`
	Purchased  string `json:"purchased"`
	PriceCents *int64 `json:"price_cents,omitempty"`
	State      string `json:"state,omitempty"`
}

func (r ShopResult) String() string {
	if r.PriceCents != nil {
		return fmt.Sprintf("recorded %s of %s at %dc", r.Purchased, r.ProductID, *r.PriceCents)
	}
	return fmt.Sprintf("recorded %s of %s", r.Purchased, r.ProductID)
}

// NewShopCommand creates the shop command.
func NewShopCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ShopOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "shop <run-id> <product-id> <purchased>",
		Short: "Record what the shopping trip brought back",
		Long: `Record the purchased quantity for one product, and optionally the
unit price observed at the store. Shoppers (leader and helpers) only.

Exit codes:
  0 - Purchase recorded
  1 - Rejected (run not in shopping, not a shopper)
  2 - Command error

Examples:
  bulq shop run-1 p-rice 9
  bulq shop run-1 p-rice 9 --price-cents 320`,
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runShop(opts, cmd, args)
		},
	}

	cmd.Flags().Int64Var(&opts.PriceCents, "price-cents", 0, "observed unit price in cents")

	return cmd
}

func runShop(opts *ShopOptions, cmd *cobra.Command, args []string) error {
	runID, productID := args[0], args[1]

	purchased, err := model.ParseQuantity(args[2])
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid quantity %q", args[2]), err)
	}

	var unit *model.Cents
	if cmd.Flags().Changed("price-cents") {
		if opts.PriceCents < 0 {
			return NewExitError(ExitCommandError, "price-cents must be non-negative")
		}
		c := model.Cents(opts.PriceCents)
		unit = &c
	}

	f := formatter(cmd, opts.RootOptions)
	return withRun(cmd, opts.RootOptions, runID, func(ctx context.Context, h *client.RunHandle) error {
		if err := h.RecordPurchase(ctx, productID, purchased, unit); err != nil {
			return reportRejection(f, "record_purchase", err)
		}

		res := ShopResult{RunID: runID, ProductID: productID, Purchased: purchased.String()}
		if unit != nil {
			cents := int64(*unit)
			res.PriceCents = &cents
		}
		if view, ok := h.Snapshot(); ok {
			res.State = string(view.Run.State)
		}
		return f.Success(res)
	})
}
