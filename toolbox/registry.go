// ABOUTME: Registry of named workspace tools; implements pipeline.ToolExecutor for the Runner.
// ABOUTME: Each successful call is stored as a receipt whose identifier is returned with the output.
package toolbox

import (
	"context"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/2389-research/controlroom/pipeline"
)

// Error codes carried by pipeline.ToolError values from this package.
const (
	CodeUnknownTool          = "unknown_tool"
	CodeInvalidArgs          = "invalid_args"
	CodePathOutsideWorkspace = "path_outside_workspace"
	CodeIO                   = "io"
	CodeReceipt              = "receipt"
)

// Tool is one named operation over the workspace.
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, ws *Workspace, args map[string]any) (string, error)
}

// Compile-time check that Registry implements pipeline.ToolExecutor.
var _ pipeline.ToolExecutor = (*Registry)(nil)

// Registry dispatches tool calls by name.
type Registry struct {
	ws       *Workspace
	receipts *ReceiptStore
	logger   *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry rooted at the workspace with every builtin
// tool registered. Receipts go to <workspace>/receipts.
func NewRegistry(workspace string, logger *slog.Logger) (*Registry, error) {
	ws, err := NewWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		ws:       ws,
		receipts: NewReceiptStore(filepath.Join(ws.Root(), "receipts")),
		logger:   logger,
		tools:    make(map[string]Tool),
	}
	for _, t := range Builtins() {
		r.Register(t)
	}
	return r, nil
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Receipts exposes the receipt store.
func (r *Registry) Receipts() *ReceiptStore {
	return r.receipts
}

// ExecuteTool runs the named tool and records its output as a receipt.
func (r *Registry) ExecuteTool(ctx context.Context, call pipeline.ToolCall) (*pipeline.ToolResult, error) {
	t, ok := r.Get(call.Tool)
	if !ok {
		return nil, &pipeline.ToolError{Code: CodeUnknownTool, Message: call.Tool}
	}

	output, err := t.Execute(ctx, r.ws, call.Args)
	if err != nil {
		r.logger.Debug("toolbox: tool failed",
			"tool", call.Tool, "run_id", call.RunID, "step", call.StepID, "error", err)
		return nil, err
	}

	id, err := r.receipts.Store(output)
	if err != nil {
		return nil, &pipeline.ToolError{Code: CodeReceipt, Message: err.Error()}
	}
	r.logger.Debug("toolbox: tool completed",
		"tool", call.Tool, "run_id", call.RunID, "step", call.StepID, "receipt_id", id, "bytes", len(output))
	return &pipeline.ToolResult{Output: output, ReceiptID: id}, nil
}
