package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/client"
	"github.com/nedrrelm/bulq/internal/lifecycle"
)

// PhaseOptions holds flags for the phase command.
type PhaseOptions struct {
	*RootOptions
	Force bool
}

// phaseActions maps the action argument to the lifecycle actions a
// leader may issue from the command line.
var phaseActions = map[string]lifecycle.Action{
	"promote":          lifecycle.ActionPromote,
	"force_confirm":    lifecycle.ActionForceConfirm,
	"start_shopping":   lifecycle.ActionStartShopping,
	"finish_shopping":  lifecycle.ActionFinishShopping,
	"finish_adjusting": lifecycle.ActionFinishAdjusting,
	"complete":         lifecycle.ActionComplete,
	"cancel":           lifecycle.ActionCancel,
}

// PhaseResult holds the outcome of a phase command.
type PhaseResult struct {
	RunID  string `json:"run_id"`
	Action string `json:"action"`
	Force  bool   `json:"force,omitempty"`
	State  string `json:"state,omitempty"`
}

func (r PhaseResult) String() string {
	return fmt.Sprintf("%s accepted (run %s)", r.Action, r.State)
}

// NewPhaseCommand creates the phase command.
func NewPhaseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PhaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "phase <run-id> <action>",
		Short: "Advance the run lifecycle",
		Long: `Issue a leader phase action. finish_shopping lands in adjusting or
distributing depending on shortage; finish_adjusting --force accepts the
proportional reallocation of whatever is still over-claimed.

Actions: promote, force_confirm, start_shopping, finish_shopping,
finish_adjusting, complete, cancel.

Exit codes:
  0 - Transition accepted
  1 - Transition rejected (wrong state, wrong role, still over-claimed)
  2 - Command error

Examples:
  bulq phase run-1 promote
  bulq phase run-1 finish_shopping
  bulq phase run-1 finish_adjusting --force`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPhase(opts, cmd, args)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "accept proportional reallocation on finish_adjusting")

	return cmd
}

func runPhase(opts *PhaseOptions, cmd *cobra.Command, args []string) error {
	runID := args[0]

	action, ok := phaseActions[args[1]]
	if !ok {
		names := make([]string, 0, len(phaseActions))
		for name := range phaseActions {
			names = append(names, name)
		}
		sort.Strings(names)
		return NewExitError(ExitCommandError,
			fmt.Sprintf("unknown phase action %q: valid actions are %s", args[1], strings.Join(names, ", ")))
	}

	f := formatter(cmd, opts.RootOptions)
	return withRun(cmd, opts.RootOptions, runID, func(ctx context.Context, h *client.RunHandle) error {
		if err := h.Advance(ctx, action, opts.Force); err != nil {
			return reportRejection(f, string(action), err)
		}

		res := PhaseResult{RunID: runID, Action: string(action), Force: opts.Force}
		if view, ok := h.Snapshot(); ok {
			res.State = string(view.Run.State)
		}
		return f.Success(res)
	})
}
