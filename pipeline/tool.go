// ABOUTME: Tool Execution collaborator contract consumed by the Runner for each Phase A step.
// ABOUTME: Also holds the output hashing and preview helpers used to build step records and cache slots.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"unicode/utf8"
)

// ToolCall is one synchronous tool invocation with its run/step context.
type ToolCall struct {
	Tool      string
	Args      map[string]any
	RunID     string
	StepID    string
	StepIndex int
}

// ToolResult is a successful tool invocation.
type ToolResult struct {
	Output    string
	ReceiptID string
}

// ToolError is the structured failure a ToolExecutor returns.
type ToolError struct {
	Code    string
	Message string
}

func (e *ToolError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ToolExecutor runs a named tool. Any returned error means the step failed.
type ToolExecutor interface {
	ExecuteTool(ctx context.Context, call ToolCall) (*ToolResult, error)
}

// ToolExecutorFunc adapts a function to the ToolExecutor interface.
type ToolExecutorFunc func(ctx context.Context, call ToolCall) (*ToolResult, error)

// ExecuteTool calls f.
func (f ToolExecutorFunc) ExecuteTool(ctx context.Context, call ToolCall) (*ToolResult, error) {
	return f(ctx, call)
}

// DefaultPreviewLimit bounds output previews, in runes.
const DefaultPreviewLimit = 280

// OutputHash returns "sha256:" followed by the hex SHA-256 of the raw output.
func OutputHash(output string) string {
	sum := sha256.Sum256([]byte(output))
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Preview truncates output to at most limit runes, marking truncation with an ellipsis.
func Preview(output string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(output) <= limit {
		return output
	}
	runes := []rune(output)
	return string(runes[:limit]) + "…"
}
