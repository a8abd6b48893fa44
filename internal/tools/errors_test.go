package tools

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrToolUnavailable(t *testing.T) {
	err := &ErrToolUnavailable{ToolName: "update_shutters"}
	want := `tool "update_shutters" is not available in this context`
	if got := err.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	wrapped := fmt.Errorf("call function: %w", err)
	var target *ErrToolUnavailable
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As failed to match wrapped *ErrToolUnavailable")
	}
	if target.ToolName != "update_shutters" {
		t.Errorf("ToolName = %q", target.ToolName)
	}

	if errors.As(errors.New("openhab: 404"), &target) {
		t.Error("errors.As matched an unrelated error")
	}
}
