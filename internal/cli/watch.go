package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/client"
	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/notify"
	"github.com/nedrrelm/bulq/internal/realloc"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	MetricsAddr string
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run live",
		Long: `Keep a live local view of one run and print it whenever something
changes: pushes from other participants, connectivity transitions,
rejected mutations. Runs until interrupted.

With --metrics-addr the client's channel and cache metrics are served
on /metrics at that address.

Examples:
  bulq watch run-1
  bulq watch run-1 --metrics-addr :9190`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(opts, cmd, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	return cmd
}

func runWatch(opts *WatchOptions, cmd *cobra.Command, runID string) error {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	sess, err := newSession(cfg)
	if err != nil {
		return err
	}
	log := newLogger(opts.RootOptions)

	reg := prometheus.NewRegistry()
	cl, err := client.New(cfg, sess, client.WithLogger(log), client.WithRegisterer(reg))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start client", err)
	}
	defer cl.Close()

	if opts.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		srv := &http.Server{Addr: opts.MetricsAddr, Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Warn("metrics server stopped", "error", err)
			}
		}()
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	h, err := cl.OpenRun(ctx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open run %s", runID), err)
	}
	defer h.Close()

	w := cmd.OutOrStdout()
	center := cl.Notifications()
	render := func() {
		view, ok := h.Snapshot()
		if !ok {
			return
		}
		fmt.Fprintf(w, "--- %s\n", time.Now().Format("15:04:05"))
		renderRunView(w, view, sess.UserID(), center.Connectivity(), center.Toasts())
	}

	render()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.Changed():
			render()
		case <-center.Changed():
			render()
		}
	}
}

// renderRunView prints one snapshot of the run: header, roster, order
// book with the viewer's own bids (and their windows during
// adjustment), the distribution once it exists, and any pending
// rejection toasts.
func renderRunView(w io.Writer, view client.View, selfID string, conn notify.Connectivity, toasts []notify.Toast) {
	run := view.Run

	flags := make([]string, 0, 2)
	if view.Pending {
		flags = append(flags, "pending")
	}
	if !view.Fresh {
		flags = append(flags, "stale")
	}
	suffix := ""
	if len(flags) > 0 {
		suffix = " (" + strings.Join(flags, ", ") + ")"
	}
	fmt.Fprintf(w, "run %s [%s] %s%s\n", run.ID, run.State, conn, suffix)
	fmt.Fprintf(w, "store %s\n", run.Store)
	if run.Comment != "" {
		fmt.Fprintf(w, "note: %s\n", run.Comment)
	}

	parts := make([]string, 0, len(run.Participants))
	for _, p := range run.Participants {
		if p.Removed {
			continue
		}
		var marks []string
		if p.Leader {
			marks = append(marks, "leader")
		}
		if p.Helper {
			marks = append(marks, "helper")
		}
		if p.Ready {
			marks = append(marks, "ready")
		}
		label := p.Name
		if len(marks) > 0 {
			label += " (" + strings.Join(marks, ", ") + ")"
		}
		parts = append(parts, label)
	}
	fmt.Fprintf(w, "participants: %s\n", strings.Join(parts, ", "))

	if view.Orders != nil && len(view.Orders.Products) > 0 {
		fmt.Fprintln(w, "products:")
		for i := range view.Orders.Products {
			p := &view.Orders.Products[i]
			line := fmt.Sprintf("  %-10s %-20s %s %s wanted", p.ID, p.Name, p.Requested, p.Unit)
			if p.PriceCents != nil {
				line += fmt.Sprintf(" @ %dc", int64(*p.PriceCents))
			}
			if p.InterestedCount > 0 {
				line += fmt.Sprintf(", %d interested", p.InterestedCount)
			}
			if p.Purchased != nil {
				line += fmt.Sprintf(", got %s", *p.Purchased)
			}
			fmt.Fprintln(w, line)

			if b, ok := p.Bid(selfID); ok && !b.Interested {
				you := fmt.Sprintf("             you: %s", b.Quantity)
				if run.State == model.StateAdjusting {
					if win, held := realloc.WindowFor(p, selfID, run.Participants); held {
						you += fmt.Sprintf(" (window %s..%s)", win.Floor, win.Ceiling)
					}
				}
				fmt.Fprintln(w, you)
			}
		}
	}

	if view.Dist != nil && len(view.Dist.Rows) > 0 {
		fmt.Fprintln(w, "distribution:")
		for _, row := range view.Dist.Rows {
			mark := ""
			if row.Picked {
				mark = "  picked"
			}
			fmt.Fprintf(w, "  %-8s %-10s %8s @ %dc = %dc%s\n",
				row.UserID, row.ProductID, row.Quantity, int64(row.UnitCents), int64(row.Subtotal), mark)
		}
	}

	for _, toast := range toasts {
		fmt.Fprintf(w, "! %s: %s\n", toast.Action, toast.Reason)
	}
}
