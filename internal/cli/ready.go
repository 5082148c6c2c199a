package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/client"
)

// ReadyResult holds the outcome of a ready command.
type ReadyResult struct {
	RunID string `json:"run_id"`
	Ready bool   `json:"ready"`
	State string `json:"state,omitempty"`
}

func (r ReadyResult) String() string {
	if r.Ready {
		return fmt.Sprintf("marked ready (run %s)", r.State)
	}
	return fmt.Sprintf("readiness cleared (run %s)", r.State)
}

// NewReadyCommand creates the ready command.
func NewReadyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ready <run-id> <on|off>",
		Short: "Toggle your readiness flag",
		Long: `Mark yourself ready (or not) for the current order book. When every
active participant is ready the run confirms on its own.

Exit codes:
  0 - Mutation accepted
  1 - Mutation rejected (run not accepting readiness changes)
  2 - Command error

Examples:
  bulq ready run-1 on
  bulq ready run-1 off`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReady(rootOpts, cmd, args)
		},
	}

	return cmd
}

func runReady(opts *RootOptions, cmd *cobra.Command, args []string) error {
	runID := args[0]

	var ready bool
	switch args[1] {
	case "on", "true":
		ready = true
	case "off", "false":
		ready = false
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid readiness %q: use on or off", args[1]))
	}

	f := formatter(cmd, opts)
	return withRun(cmd, opts, runID, func(ctx context.Context, h *client.RunHandle) error {
		if err := h.SetReady(ctx, ready); err != nil {
			return reportRejection(f, "toggle_ready", err)
		}

		res := ReadyResult{RunID: runID, Ready: ready}
		if view, ok := h.Snapshot(); ok {
			res.State = string(view.Run.State)
		}
		return f.Success(res)
	})
}
