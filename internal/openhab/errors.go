package openhab

import (
	"errors"
	"fmt"
)

// Kind classifies a [RemoteError].
type Kind int

const (
	// KindFetch is a failed read (item list or system info). The
	// reconciliation loop recovers from these.
	KindFetch Kind = iota

	// KindCommand is a failed item command. It aborts the rest of a
	// dispatch batch.
	KindCommand
)

// String returns "fetch" or "command".
func (k Kind) String() string {
	switch k {
	case KindFetch:
		return "fetch"
	case KindCommand:
		return "command"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// RemoteError is returned by every Client method for transport, HTTP
// status, and decode failures.
type RemoteError struct {
	Kind Kind
	// Path is the request path relative to the base URL.
	Path string
	// StatusCode is the HTTP status, or 0 if no response was received.
	StatusCode int
	// Body is a bounded excerpt of the error response body, if any.
	Body string
	Err  error
}

// Error renders a message suitable for an operator or a chat reply.
func (e *RemoteError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("openHAB %s %s failed with status %d: %s", e.Kind, e.Path, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("openHAB %s %s failed with status %d", e.Kind, e.Path, e.StatusCode)
	default:
		return fmt.Sprintf("openHAB %s %s failed: %v", e.Kind, e.Path, e.Err)
	}
}

// Unwrap returns the underlying transport or decode error.
func (e *RemoteError) Unwrap() error {
	return e.Err
}

// ErrNotConfigured is wrapped in a RemoteError when the base URL is empty.
var ErrNotConfigured = errors.New("base URL is not configured")

// IsKind reports whether err is a RemoteError of kind k.
func IsKind(err error, k Kind) bool {
	var re *RemoteError
	return errors.As(err, &re) && re.Kind == k
}
