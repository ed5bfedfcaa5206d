// ABOUTME: Resolves $ref markers in step argument templates against task metadata and cached step outputs.
// ABOUTME: Grammar is dot-separated segments with an optional [N] index; resolution is total or fails with a ResolveError.
package pipeline

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// RefKey is the object key that marks a reference inside an argument template.
const RefKey = "$ref"

// taskNamespace is the root segment that selects run/task metadata instead of a cache slot.
const taskNamespace = "task"

var segmentPattern = regexp.MustCompile(`^([^\[\]]+)(?:\[(\d+)\])?$`)

// ResolveError reports a reference that could not be resolved. Path is the
// full reference as written; Segment is the segment where resolution stopped.
type ResolveError struct {
	Path    string
	Segment string
	Reason  string
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolve %q: segment %q: %s", e.Path, e.Segment, e.Reason)
}

type segment struct {
	raw      string
	name     string
	index    int
	hasIndex bool
}

func parseRef(ref string) ([]segment, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, &ResolveError{Path: ref, Segment: ref, Reason: "empty reference"}
	}
	parts := strings.Split(ref, ".")
	segs := make([]segment, 0, len(parts))
	for _, part := range parts {
		m := segmentPattern.FindStringSubmatch(part)
		if m == nil {
			return nil, &ResolveError{Path: ref, Segment: part, Reason: "malformed segment"}
		}
		seg := segment{raw: part, name: m[1]}
		if m[2] != "" {
			n, err := strconv.Atoi(m[2])
			if err != nil {
				return nil, &ResolveError{Path: ref, Segment: part, Reason: "index out of range"}
			}
			seg.index = n
			seg.hasIndex = true
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// ResolveRef resolves one reference path. The first segment selects the
// namespace: "task" is the task metadata, anything else names a cache slot.
// A node carrying a "data" field is descended into before each access, so
// slots read as flat records.
func ResolveRef(ref string, task map[string]any, cache map[string]any) (any, error) {
	segs, err := parseRef(ref)
	if err != nil {
		return nil, err
	}

	fail := func(seg segment, reason string) error {
		return &ResolveError{Path: ref, Segment: seg.raw, Reason: reason}
	}

	root := segs[0]
	var node any
	if root.name == taskNamespace {
		if task == nil {
			return nil, fail(root, "no task metadata")
		}
		node = task
	} else {
		slot, ok := cache[root.name]
		if !ok || slot == nil {
			return nil, fail(root, "no such cache slot")
		}
		node = slot
	}
	if root.hasIndex {
		node, err = indexInto(unwrapData(node), root.index)
		if err != nil {
			return nil, fail(root, err.Error())
		}
	}

	for _, seg := range segs[1:] {
		obj, ok := unwrapData(node).(map[string]any)
		if !ok {
			return nil, fail(seg, fmt.Sprintf("cannot access field of %s", kindOf(unwrapData(node))))
		}
		child, ok := obj[seg.name]
		if !ok || child == nil {
			return nil, fail(seg, "missing or null")
		}
		node = child
		if seg.hasIndex {
			node, err = indexInto(unwrapData(node), seg.index)
			if err != nil {
				return nil, fail(seg, err.Error())
			}
		}
	}

	node = unwrapData(node)
	if node == nil {
		return nil, fail(segs[len(segs)-1], "missing or null")
	}
	return node, nil
}

// ResolveArgs rebuilds an argument template into a concrete argument map.
// Plain objects are rebuilt field by field, reference markers are replaced by
// their resolved value, and arrays and scalars pass through unchanged.
func ResolveArgs(template map[string]any, task map[string]any, cache map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(template))
	for key, value := range template {
		resolved, err := resolveValue(value, task, cache)
		if err != nil {
			return nil, err
		}
		out[key] = resolved
	}
	return out, nil
}

func resolveValue(value any, task, cache map[string]any) (any, error) {
	obj, ok := value.(map[string]any)
	if !ok {
		return value, nil
	}
	if ref, isRef := refOf(obj); isRef {
		return ResolveRef(ref, task, cache)
	}
	return ResolveArgs(obj, task, cache)
}

// refOf reports whether obj is a reference marker and returns its path.
func refOf(obj map[string]any) (string, bool) {
	raw, ok := obj[RefKey]
	if !ok {
		return "", false
	}
	ref, ok := raw.(string)
	return ref, ok
}

// unwrapData descends into a node's "data" field when it has one.
func unwrapData(node any) any {
	if obj, ok := node.(map[string]any); ok {
		if data, has := obj["data"]; has {
			return data
		}
	}
	return node
}

func indexInto(node any, i int) (any, error) {
	arr, ok := node.([]any)
	if !ok {
		return nil, fmt.Errorf("cannot index %s", kindOf(node))
	}
	if i < 0 || i >= len(arr) {
		return nil, fmt.Errorf("index %d out of range (len %d)", i, len(arr))
	}
	if arr[i] == nil {
		return nil, fmt.Errorf("index %d is null", i)
	}
	return arr[i], nil
}

func kindOf(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "bool"
	default:
		return "number"
	}
}

// TemplateRefs lists every reference path in template, sorted and deduplicated.
// It walks the same shapes ResolveArgs does, so arrays are not searched.
func TemplateRefs(template map[string]any) []string {
	seen := map[string]bool{}
	var walk func(map[string]any)
	walk = func(obj map[string]any) {
		for _, value := range obj {
			child, ok := value.(map[string]any)
			if !ok {
				continue
			}
			if ref, isRef := refOf(child); isRef {
				seen[ref] = true
				continue
			}
			walk(child)
		}
	}
	walk(template)

	refs := make([]string, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	sort.Strings(refs)
	return refs
}

// RefRoot returns the first segment of a reference path without any index:
// a cache slot name, or "task".
func RefRoot(ref string) string {
	root, _, _ := strings.Cut(ref, ".")
	root, _, _ = strings.Cut(root, "[")
	return root
}
