// ABOUTME: Workspace confines tool file access to a single root directory.
// ABOUTME: Relative paths resolve under the root; anything that escapes it is rejected.
package toolbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/2389-research/controlroom/pipeline"
)

// Workspace is the directory tools may read and write.
type Workspace struct {
	root string
}

// NewWorkspace returns a Workspace rooted at the absolute form of root.
func NewWorkspace(root string) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	return &Workspace{root: filepath.Clean(abs)}, nil
}

// Root returns the absolute workspace root.
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps a workspace-relative path to an absolute one. Absolute paths
// are accepted only when they already sit under the root.
func (w *Workspace) Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", &pipeline.ToolError{Code: CodeInvalidArgs, Message: "empty path"}
	}
	var full string
	if filepath.IsAbs(p) {
		full = filepath.Clean(p)
	} else {
		full = filepath.Join(w.root, p)
	}
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", &pipeline.ToolError{Code: CodePathOutsideWorkspace, Message: p}
	}
	return full, nil
}

// Rel returns full relative to the root, using forward slashes.
func (w *Workspace) Rel(full string) string {
	rel, err := filepath.Rel(w.root, full)
	if err != nil {
		return full
	}
	return filepath.ToSlash(rel)
}
