package interfaces

import "context"

// CallWeight selects the call budget applied to a remote tool call
type CallWeight string

const (
	// CallHeavy is used for long-running analytical queries
	CallHeavy CallWeight = "heavy"
	// CallLight is used for small single-metric queries
	CallLight CallWeight = "light"
)

// ToolCaller invokes a named remote tool and returns its text payload.
// Implementations own the session lifetime: one scoped session per call.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}, weight CallWeight) (string, error)
}
