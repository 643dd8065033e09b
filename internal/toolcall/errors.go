package toolcall

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidResponse matches any *ResponseError
var ErrInvalidResponse = errors.New("invalid tool response")

// Op names the phase of a remote interaction
type Op string

const (
	OpConnect Op = "connect"
	OpCall    Op = "call"
)

// TimeoutError reports a remote phase that exceeded its budget.
// The underlying operation may still be running; its result is discarded.
type TimeoutError struct {
	Op     Op
	Tool   string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	if e.Tool != "" {
		return fmt.Sprintf("%s timeout after %s (tool %s)", e.Op, e.Budget, e.Tool)
	}
	return fmt.Sprintf("%s timeout after %s", e.Op, e.Budget)
}

// Retryable is true: upstream slowness is usually transient
func (e *TimeoutError) Retryable() bool { return true }

// ConnectError reports a failed session start or initialize
type ConnectError struct {
	URL string
	Err error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("MCP connection to %s failed: %v", e.URL, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

func (e *ConnectError) Retryable() bool { return true }

// ToolError reports a call that completed with the tool's error flag set
type ToolError struct {
	Tool    string
	Message string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s returned an error: %s", e.Tool, e.Message)
}

func (e *ToolError) Retryable() bool { return true }

// ResponseError reports a result without a leading text part
type ResponseError struct {
	Tool   string
	Reason string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("invalid response from tool %s: %s", e.Tool, e.Reason)
}

func (e *ResponseError) Is(target error) bool { return target == ErrInvalidResponse }

func (e *ResponseError) Retryable() bool { return false }

// IsTimeout reports whether err is or wraps a *TimeoutError
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}
