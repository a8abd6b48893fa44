package tools

import "fmt"

// ErrToolUnavailable is returned when a call targets a tool that is not
// registered, or whose schema is not currently active. It reflects a
// capability mismatch, not a transient failure.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("tool %q is not available in this context", e.ToolName)
}
