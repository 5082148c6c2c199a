package channel

import (
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
)

// ErrManagerClosed is returned by Open after the manager shut down.
var ErrManagerClosed = errors.New("channel manager closed")

// ErrClosed is returned by Send on a connection that is gone.
var ErrClosed = errors.New("channel connection closed")

// TerminalError reports why a connection closed for good: the redial
// budget ran out, or the server ended the session deliberately.
type TerminalError struct {
	Topic    string
	Attempts int   // redial attempts made; 0 when the server closed the session
	Err      error // last underlying failure
}

func (e *TerminalError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("channel %s: gave up after %d reconnect attempts: %v", e.Topic, e.Attempts, e.Err)
	}
	return fmt.Sprintf("channel %s: closed by server: %v", e.Topic, e.Err)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// IsRejected reports whether err traces back to a policy rejection close
// (code 4403), meaning the server revoked the client's access to the
// topic, e.g. after removal from the run.
func IsRejected(err error) bool {
	var ce *websocket.CloseError
	return errors.As(err, &ce) && ce.Code == CloseRejected
}
