// Package tool implements the function / tool calling subsystem that lets agents
// invoke structured capabilities (HTTP APIs, sandboxed scripts, remote tool
// servers) with consistent error handling and metadata for model guidance.
package tool

import (
	"context"
	"fmt"

	"github.com/convoke-ai/convoke/model"
)

// Handler executes a tool invocation with decoded arguments.
//
// Handler implementations should:
//   - Handle errors gracefully and return them rather than panic
//   - Be thread-safe if used concurrently
//   - Honor ctx cancellation on any blocking work
type Handler interface {
	Execute(ctx context.Context, args map[string]interface{}) (interface{}, error)
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, args map[string]interface{}) (interface{}, error) {
	return f(ctx, args)
}

// Definition describes one callable tool: the schema advertised to models and
// the handler that backs it.
//
// Parameters is a minimal JSON-Schema-like map (type, properties, required).
// Names should be descriptive and follow function naming conventions
// (snake_case recommended); names for remote server tools carry a
// "server::tool" namespace assigned at discovery.
type Definition struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
	Handler     Handler
}

// ModelDefinition converts the definition to the shape advertised to models.
func (d Definition) ModelDefinition() model.ToolDefinition {
	return model.ToolDefinition{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// ModelDefinitions converts a catalogue slice for a model request.
func ModelDefinitions(defs []Definition) []model.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}
	out := make([]model.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = d.ModelDefinition()
	}
	return out
}

// Error codes used by ToolError for categorization.
const (
	CodeValidationError = "VALIDATION_ERROR"
	CodeExecutionError  = "EXECUTION_ERROR"
	CodeNotFound        = "NOT_FOUND"
)

// ToolError represents errors that occur during tool execution.
type ToolError struct {
	Tool    string      `json:"tool"`              // Name of the tool that failed
	Message string      `json:"message"`           // Error message
	Code    string      `json:"code"`              // Error code for categorization
	Details interface{} `json:"details,omitempty"` // Additional error details
}

func (e *ToolError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewToolError creates a new ToolError with the specified details.
func NewToolError(tool, message, code string) *ToolError {
	return &ToolError{
		Tool:    tool,
		Message: message,
		Code:    code,
	}
}
