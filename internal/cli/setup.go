package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/nedrrelm/bulq/internal/api"
	"github.com/nedrrelm/bulq/internal/client"
	"github.com/nedrrelm/bulq/internal/config"
	"github.com/nedrrelm/bulq/internal/lifecycle"
	"github.com/nedrrelm/bulq/internal/session"
)

// Environment variables the CLI reads besides the configured token
// variable (BULQ_TOKEN unless the config overrides token_env).
const (
	EnvConfig = "BULQ_CONFIG"
	EnvUser   = "BULQ_USER"
	EnvName   = "BULQ_NAME"
)

// loadConfig resolves and loads the client config file.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	path := opts.Config
	if path == "" {
		path = os.Getenv(EnvConfig)
	}
	if path == "" {
		return nil, NewExitError(ExitCommandError, "no config file: pass --config or set BULQ_CONFIG")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// newSession builds the participant session from the environment.
func newSession(cfg *config.Config) (*session.Store, error) {
	userID := os.Getenv(EnvUser)
	if userID == "" {
		return nil, NewExitError(ExitCommandError, "BULQ_USER must be set to your participant id")
	}
	name := os.Getenv(EnvName)
	if name == "" {
		name = userID
	}
	sess := session.New()
	sess.Init(userID, name, cfg.Token())
	return sess, nil
}

// newLogger builds the diagnostic logger. Text mode gets a tinted
// terminal handler on stderr; JSON mode keeps stderr machine-readable
// too. Verbose lowers the level to debug.
func newLogger(opts *RootOptions) *slog.Logger {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

// formatter builds the output formatter for one command invocation.
func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// withRun assembles a client, opens the run, executes fn with a
// request-scoped context, and tears everything down. Infrastructure
// problems map to exit code 2; fn decides everything else.
func withRun(cmd *cobra.Command, opts *RootOptions, runID string, fn func(ctx context.Context, h *client.RunHandle) error) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	sess, err := newSession(cfg)
	if err != nil {
		return err
	}

	cl, err := client.New(cfg, sess, client.WithLogger(newLogger(opts)))
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start client", err)
	}
	defer cl.Close()

	openCtx, cancel := context.WithTimeout(cmd.Context(), 2*time.Duration(cfg.RequestTimeout))
	defer cancel()
	h, err := cl.OpenRun(openCtx, runID)
	if err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("failed to open run %s", runID), err)
	}
	defer h.Close()

	callCtx, cancelCall := context.WithTimeout(cmd.Context(), time.Duration(cfg.RequestTimeout))
	defer cancelCall()
	return fn(callCtx, h)
}

// rejection classifies a refused mutation: a stable error code, the
// message, and structured details when the refusal carries numbers the
// user needs (window bounds, the product missing a bid).
func rejection(err error) (code, msg string, details any) {
	var win *client.WindowError
	if errors.As(err, &win) {
		return "E_WINDOW", err.Error(), map[string]string{
			"product_id": win.ProductID,
			"floor":      win.Window.Floor.String(),
			"ceiling":    win.Window.Ceiling.String(),
		}
	}
	var nb *client.NoBidError
	if errors.As(err, &nb) {
		return "E_NO_BID", err.Error(), map[string]string{
			"product_id": nb.ProductID,
		}
	}
	var st *lifecycle.StateError
	if errors.As(err, &st) {
		return "E_STATE", err.Error(), map[string]string{
			"code": string(st.Code),
		}
	}
	var remote *api.Error
	if errors.As(err, &remote) {
		return "E_REMOTE", err.Error(), map[string]any{
			"kind":   remote.Kind,
			"status": remote.Status,
		}
	}
	return "E_MUTATION", err.Error(), nil
}

// reportRejection renders a refused mutation and converts it into a
// semantic failure (exit code 1).
func reportRejection(f *OutputFormatter, action string, err error) error {
	code, msg, details := rejection(err)
	if outErr := f.Error(code, msg, details); outErr != nil {
		return outErr
	}
	return NewExitError(ExitFailure, fmt.Sprintf("%s rejected", action))
}
