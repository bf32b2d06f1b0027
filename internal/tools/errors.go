package tools

import (
	"errors"
	"fmt"
)

// ErrToolUnavailable is returned when a call names a tool that is not
// present in the effective registry, either because it never existed
// or because the run filtered it out.
type ErrToolUnavailable struct {
	ToolName string
}

// Error implements the error interface.
func (e *ErrToolUnavailable) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.ToolName)
}

// ValidationError describes a parameter that failed validation. The
// tool handler is never invoked when validation fails.
type ValidationError struct {
	Tool   string
	Param  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Tool == "" {
		return fmt.Sprintf("invalid parameter %q: %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("%s: invalid parameter %q: %s", e.Tool, e.Param, e.Reason)
}

// ErrResultNotFound is returned by ResultStore.Get for ids that were
// never stored or have expired.
var ErrResultNotFound = errors.New("result not found")
