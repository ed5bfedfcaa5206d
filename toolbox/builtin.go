// ABOUTME: Builtin workspace tools: file read/write/list, markdown rendering, word counts, JSON extraction, concat.
// ABOUTME: Structured results are JSON objects so later steps can reference their fields; render_markdown returns raw HTML.
package toolbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

// Builtins returns a fresh instance of every builtin tool.
func Builtins() []Tool {
	return []Tool{
		&ReadFileTool{},
		&WriteFileTool{},
		&ListFilesTool{},
		&RenderMarkdownTool{},
		&WordCountTool{},
		&JSONExtractTool{},
		&ConcatTool{},
	}
}

// ReadFileTool reads a workspace file.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string        { return "read_file" }
func (t *ReadFileTool) Description() string { return "Read a file from the workspace" }

func (t *ReadFileTool) Execute(_ context.Context, ws *Workspace, args map[string]any) (string, error) {
	p, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	full, err := ws.Resolve(p)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return "", ioError("read", p, err)
	}
	return marshalResult(map[string]any{
		"path":    ws.Rel(full),
		"content": string(data),
		"bytes":   len(data),
	})
}

// WriteFileTool writes content to a workspace file, creating parent directories.
// Non-string content is written as indented JSON.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string        { return "write_file" }
func (t *WriteFileTool) Description() string { return "Write content to a file in the workspace" }

func (t *WriteFileTool) Execute(_ context.Context, ws *Workspace, args map[string]any) (string, error) {
	p, err := stringArg(args, "path")
	if err != nil {
		return "", err
	}
	raw, ok := args["content"]
	if !ok {
		return "", invalidArgs("missing %q", "content")
	}
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(v)
	default:
		data, err = json.MarshalIndent(v, "", "  ")
		if err != nil {
			return "", invalidArgs("content: %v", err)
		}
	}

	full, err := ws.Resolve(p)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", ioError("mkdir", p, err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", ioError("write", p, err)
	}
	return marshalResult(map[string]any{
		"path":  ws.Rel(full),
		"bytes": len(data),
	})
}

// ListFilesTool lists regular files directly inside a workspace directory.
type ListFilesTool struct{}

func (t *ListFilesTool) Name() string        { return "list_files" }
func (t *ListFilesTool) Description() string { return "List files in a workspace directory" }

func (t *ListFilesTool) Execute(_ context.Context, ws *Workspace, args map[string]any) (string, error) {
	dir := "."
	if _, ok := args["dir"]; ok {
		d, err := stringArg(args, "dir")
		if err != nil {
			return "", err
		}
		dir = d
	}
	suffix, _ := args["suffix"].(string)

	full, err := ws.Resolve(dir)
	if err != nil {
		return "", err
	}
	entries, err := os.ReadDir(full)
	if err != nil {
		return "", ioError("list", dir, err)
	}

	type fileEntry struct {
		Path string `json:"path"`
		Size int64  `json:"size"`
	}
	files := make([]fileEntry, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		if suffix != "" && !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{
			Path: ws.Rel(filepath.Join(full, entry.Name())),
			Size: info.Size(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return marshalResult(files)
}

// RenderMarkdownTool renders CommonMark to HTML. Inline HTML in the source is
// kept, then the result is passed through a UGC sanitizer policy.
type RenderMarkdownTool struct{}

func (t *RenderMarkdownTool) Name() string        { return "render_markdown" }
func (t *RenderMarkdownTool) Description() string { return "Render markdown text to HTML" }

var (
	markdown  = goldmark.New(goldmark.WithRendererOptions(html.WithUnsafe()))
	sanitizer = bluemonday.UGCPolicy()
)

func (t *RenderMarkdownTool) Execute(_ context.Context, _ *Workspace, args map[string]any) (string, error) {
	src, err := stringArg(args, "markdown")
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(src), &buf); err != nil {
		return "", &pipeline.ToolError{Code: CodeIO, Message: "render markdown: " + err.Error()}
	}
	return sanitizer.Sanitize(buf.String()), nil
}

// WordCountTool counts words, lines and characters in text.
type WordCountTool struct{}

func (t *WordCountTool) Name() string        { return "word_count" }
func (t *WordCountTool) Description() string { return "Count words, lines and characters" }

func (t *WordCountTool) Execute(_ context.Context, _ *Workspace, args map[string]any) (string, error) {
	text, err := stringArg(args, "text")
	if err != nil {
		return "", err
	}
	words := len(strings.Fields(text))
	lines := 0
	if text != "" {
		lines = strings.Count(text, "\n")
		if !strings.HasSuffix(text, "\n") {
			lines++
		}
	}
	chars := utf8.RuneCountInString(text)
	return marshalResult(map[string]any{
		"words":   words,
		"lines":   lines,
		"chars":   chars,
		"summary": fmt.Sprintf("%d words, %d lines, %d characters", words, lines, chars),
	})
}

// JSONExtractTool copies selected keys out of an object.
type JSONExtractTool struct{}

func (t *JSONExtractTool) Name() string        { return "json_extract" }
func (t *JSONExtractTool) Description() string { return "Pick keys from a JSON object" }

func (t *JSONExtractTool) Execute(_ context.Context, _ *Workspace, args map[string]any) (string, error) {
	source, ok := args["source"].(map[string]any)
	if !ok {
		return "", invalidArgs("%q must be an object", "source")
	}
	keys, ok := args["keys"].([]any)
	if !ok {
		return "", invalidArgs("%q must be an array of strings", "keys")
	}
	out := make(map[string]any, len(keys))
	for _, k := range keys {
		key, ok := k.(string)
		if !ok {
			return "", invalidArgs("%q must be an array of strings", "keys")
		}
		v, present := source[key]
		if !present {
			return "", invalidArgs("source has no key %q", key)
		}
		out[key] = v
	}
	return marshalResult(out)
}

// ConcatTool joins text parts with a separator. Parts may be an array of
// strings or an object whose values are joined in key order.
type ConcatTool struct{}

func (t *ConcatTool) Name() string        { return "concat" }
func (t *ConcatTool) Description() string { return "Join text parts" }

func (t *ConcatTool) Execute(_ context.Context, _ *Workspace, args map[string]any) (string, error) {
	sep, _ := args["separator"].(string)
	var parts []string
	switch v := args["parts"].(type) {
	case []any:
		for _, p := range v {
			s, ok := p.(string)
			if !ok {
				return "", invalidArgs("parts must be strings")
			}
			parts = append(parts, s)
		}
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			s, ok := v[k].(string)
			if !ok {
				return "", invalidArgs("part %q must be a string", k)
			}
			parts = append(parts, s)
		}
	default:
		return "", invalidArgs("%q must be an array or object", "parts")
	}
	return strings.Join(parts, sep), nil
}

func stringArg(args map[string]any, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", invalidArgs("missing %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalidArgs("%q must be a string", key)
	}
	return s, nil
}

func invalidArgs(format string, a ...any) error {
	return &pipeline.ToolError{Code: CodeInvalidArgs, Message: fmt.Sprintf(format, a...)}
}

func ioError(op, p string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &pipeline.ToolError{Code: CodeIO, Message: fmt.Sprintf("%s %s: not found", op, p)}
	}
	return &pipeline.ToolError{Code: CodeIO, Message: fmt.Sprintf("%s %s: %v", op, p, err)}
}

func marshalResult(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", &pipeline.ToolError{Code: CodeIO, Message: "encode result: " + err.Error()}
	}
	return string(data), nil
}
