package cache

import (
	"errors"
	"fmt"
)

// ErrClosed is returned for work submitted after Stop, and delivered to any
// outstanding result channels and waiters when the apply loop shuts down.
var ErrClosed = errors.New("cache closed")

// NotLoadedError is returned when a mutation targets a key with no cached
// value. Mutations patch the local copy first, so the entity must be loaded
// before it can be mutated.
type NotLoadedError struct {
	// Key is the entity key the mutation targeted.
	Key Key
}

// Error implements the error interface.
func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("entity %s not loaded", e.Key)
}

// IsNotLoaded returns true if the error is a NotLoadedError.
// Uses errors.As to handle wrapped errors.
func IsNotLoaded(err error) bool {
	var nl *NotLoadedError
	return errors.As(err, &nl)
}

// NoLoaderError is returned when a key's prefix has no registered loader.
// This indicates a wiring bug, not a runtime condition.
type NoLoaderError struct {
	// Key is the entity key that could not be fetched.
	Key Key
}

// Error implements the error interface.
func (e *NoLoaderError) Error() string {
	return fmt.Sprintf("no loader registered for key %s", e.Key)
}
