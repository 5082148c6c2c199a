// Package cli implements the bulq command tree.
//
// Every command speaks text or JSON (--format) and returns an ExitError
// so main can distinguish semantic failures (exit 1) from misuse
// (exit 2). Commands that talk to the service load a YAML config
// (--config or BULQ_CONFIG) and identify the participant from
// BULQ_USER, BULQ_NAME, and the configured token variable.
package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// ValidFormats lists the accepted values for --format.
var ValidFormats = []string{"text", "json"}

// RootOptions carries the global flag values into every subcommand.
type RootOptions struct {
	Verbose bool
	Format  string // one of ValidFormats
	Config  string // config file path; BULQ_CONFIG when empty
}

// NewRootCommand builds the bulq command with all subcommands attached.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	root := &cobra.Command{
		Use:   "bulq",
		Short: "bulq - group bulk purchase runs from the terminal",
		Long: `bulq keeps a live, local view of a group purchase run and performs
participant actions against the coordination service: bidding, readiness,
phase advancement, recording purchases, and pickup bookkeeping.`,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if isValidFormat(opts.Format) {
				return nil
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
	}

	pf := root.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "enable verbose diagnostics")
	pf.StringVar(&opts.Format, "format", "text", "output format, text or json")
	pf.StringVar(&opts.Config, "config", "", "config file (default $BULQ_CONFIG)")

	for _, build := range []func(*RootOptions) *cobra.Command{
		NewWatchCommand,
		NewBidCommand,
		NewReadyCommand,
		NewPhaseCommand,
		NewShopCommand,
		NewAdjustCommand,
		NewPickupCommand,
		NewJournalCommand,
		NewTestCommand,
	} {
		root.AddCommand(build(opts))
	}

	return root
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
