package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/journal"
)

// JournalOptions holds flags for the journal command.
type JournalOptions struct {
	*RootOptions
	Database string
	RunID    string
	Kind     string
	Verify   bool
}

// JournalEntry is one journal row prepared for output.
type JournalEntry struct {
	Seq        int64           `json:"seq"`
	RunID      string          `json:"run_id"`
	Kind       string          `json:"kind"`
	RecordedAt string          `json:"recorded_at"`
	Payload    json.RawMessage `json:"payload"`
}

// JournalListResult holds the listing output.
type JournalListResult struct {
	Entries []JournalEntry `json:"entries"`
	Total   int            `json:"total"`
}

// JournalVerifyResult holds the verification output.
type JournalVerifyResult struct {
	Checked    int      `json:"checked"`
	Mismatched []string `json:"mismatched,omitempty"`
	OK         bool     `json:"ok"`
}

// NewJournalCommand creates the journal command.
func NewJournalCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JournalOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the local event journal",
		Long: `List the facts this client observed: state transitions, applied and
rolled-back mutations, reallocation outcomes. Each entry carries a
content hash over its canonical payload; --verify recomputes them so a
dispute can prove the journal was not edited after the fact.

Exit codes:
  0 - Listed, or all hashes verified
  1 - Hash verification failed
  2 - Command error (journal file not found)

Examples:
  bulq journal --db ./bulq.db
  bulq journal --db ./bulq.db --run run-1 --kind transition
  bulq journal --db ./bulq.db --verify`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJournal(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Database, "db", "", "path to the journal file (required)")
	_ = cmd.MarkFlagRequired("db")
	cmd.Flags().StringVar(&opts.RunID, "run", "", "limit to one run")
	cmd.Flags().StringVar(&opts.Kind, "kind", "", "limit to one fact kind")
	cmd.Flags().BoolVar(&opts.Verify, "verify", false, "recompute and check entry hashes")

	return cmd
}

func runJournal(opts *JournalOptions, cmd *cobra.Command) error {
	if _, err := os.Stat(opts.Database); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("journal not found: %s", opts.Database), err)
	}

	j, err := journal.Open(opts.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open journal", err)
	}
	defer j.Close()

	f := formatter(cmd, opts.RootOptions)
	ctx := cmd.Context()

	if opts.Verify {
		checked, mismatched, err := j.Verify(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "verification failed", err)
		}
		return outputVerify(f, JournalVerifyResult{
			Checked:    checked,
			Mismatched: mismatched,
			OK:         len(mismatched) == 0,
		})
	}

	var entries []journal.Entry
	if opts.RunID != "" {
		entries, err = j.ListRun(ctx, opts.RunID)
	} else {
		entries, err = j.ListAll(ctx)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list journal", err)
	}

	result := JournalListResult{Entries: make([]JournalEntry, 0, len(entries))}
	for _, e := range entries {
		if opts.Kind != "" && e.Kind != opts.Kind {
			continue
		}
		result.Entries = append(result.Entries, JournalEntry{
			Seq:        e.Seq,
			RunID:      e.RunID,
			Kind:       e.Kind,
			RecordedAt: time.UnixMilli(e.RecordedAt).UTC().Format(time.RFC3339),
			Payload:    e.Payload,
		})
	}
	result.Total = len(result.Entries)

	return outputList(f, result)
}

func outputList(f *OutputFormatter, result JournalListResult) error {
	if f.Format == "json" {
		return f.Success(result)
	}

	if result.Total == 0 {
		fmt.Fprintln(f.Writer, "No entries.")
		return nil
	}
	for _, e := range result.Entries {
		fmt.Fprintf(f.Writer, "%6d  %-22s  %-8s  %s\n", e.Seq, e.Kind, e.RunID, e.Payload)
	}
	fmt.Fprintf(f.Writer, "%d entries\n", result.Total)
	return nil
}

func outputVerify(f *OutputFormatter, result JournalVerifyResult) error {
	msg := fmt.Sprintf("%d entries failed hash verification", len(result.Mismatched))
	if f.Format == "json" {
		if result.OK {
			return f.Success(result)
		}
		if err := f.Error("E_VERIFY_FAILED", msg, result); err != nil {
			return err
		}
		return NewExitError(ExitFailure, msg)
	}

	if result.OK {
		fmt.Fprintf(f.Writer, "✓ %d entries verified\n", result.Checked)
		return nil
	}

	fmt.Fprintf(f.Writer, "✗ %d of %d entries failed hash verification:\n", len(result.Mismatched), result.Checked)
	for _, id := range result.Mismatched {
		fmt.Fprintf(f.Writer, "  %s\n", id)
	}
	return NewExitError(ExitFailure, msg)
}
