package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Response is the envelope every command emits in JSON mode: "ok" with
// a data payload, or "error" with a coded reason.
type Response struct {
	Status string         `json:"status"`
	Data   any            `json:"data,omitempty"`
	Error  *ResponseError `json:"error,omitempty"`
}

// ResponseError carries the machine-readable side of a failure. Codes
// are stable strings like "E_WINDOW" or "E_STATE".
type ResponseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// OutputFormatter renders command results as text or JSON.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics go here when set, keeping Writer parseable
	Verbose   bool
}

// Success renders a command result. Text mode prints the value itself,
// so results implement fmt.Stringer.
func (f *OutputFormatter) Success(data any) error {
	if f.Format != "json" {
		fmt.Fprintln(f.Writer, data)
		return nil
	}
	return json.NewEncoder(f.Writer).Encode(Response{Status: "ok", Data: data})
}

// Error renders a refusal or failure under the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format != "json" {
		fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
		if f.Verbose && details != nil {
			fmt.Fprintf(f.Writer, "Details: %v\n", details)
		}
		return nil
	}
	return json.NewEncoder(f.Writer).Encode(Response{
		Status: "error",
		Error:  &ResponseError{Code: code, Message: message, Details: details},
	})
}

// VerboseLog prints a diagnostic line when verbose mode is on.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.Writer
	if f.ErrWriter != nil {
		w = f.ErrWriter
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// Exit codes for the bulq binary.
const (
	// ExitSuccess means the command did what was asked.
	ExitSuccess = 0
	// ExitFailure marks a semantic refusal, like a rejected mutation or
	// a failed scenario.
	ExitFailure = 1
	// ExitCommandError marks misuse: bad arguments or a broken setup.
	ExitCommandError = 2
)

// ExitError is an error carrying the process exit code main should use.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// NewExitError builds an ExitError with no underlying cause.
func NewExitError(code int, message string) *ExitError {
	return WrapExitError(code, message, nil)
}

// WrapExitError attaches an exit code and message to an existing error.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode maps an error to a process exit code. Anything that is
// not an ExitError counts as ExitFailure.
func GetExitCode(err error) int {
	var exit *ExitError
	if !errors.As(err, &exit) {
		return ExitFailure
	}
	return exit.Code
}
