package client

import (
	"errors"
	"fmt"

	"github.com/nedrrelm/bulq/internal/model"
	"github.com/nedrrelm/bulq/internal/realloc"
)

// ErrClosed is returned for operations on a closed Client.
var ErrClosed = errors.New("client closed")

// WindowError rejects a bid change outside the legal adjustment window.
// Retraction during adjusting is a reduction to zero, so it carries
// Quantity 0.
type WindowError struct {
	ProductID string
	Window    realloc.Window
	Quantity  model.Quantity
}

// Error implements the error interface.
func (e *WindowError) Error() string {
	return fmt.Sprintf("quantity %s outside window [%s, %s] on product %s",
		e.Quantity, e.Window.Floor, e.Window.Ceiling, e.ProductID)
}

// IsWindowViolation returns true if the error is a WindowError.
func IsWindowViolation(err error) bool {
	var we *WindowError
	return errors.As(err, &we)
}

// NoBidError rejects an adjustment or retraction of a bid the caller does
// not hold.
type NoBidError struct {
	ProductID string
}

// Error implements the error interface.
func (e *NoBidError) Error() string {
	return fmt.Sprintf("no bid held on product %s", e.ProductID)
}
