// ABOUTME: Tests for $ref resolution: namespaces, data descent, indexing, and typed failures.
// ABOUTME: Also covers ResolveArgs template rebuilding, including the array pass-through rule.
package pipeline

import (
	"errors"
	"reflect"
	"testing"
)

func refFixture() (map[string]any, map[string]any) {
	task := TaskMeta{
		Description: "write a sonnet",
		InitialArgs: map[string]any{"topic": "tides", "lines": float64(14)},
	}
	task.Args = task.InitialArgs
	cache := Cache{
		"s": {Type: "pointer", Data: []any{
			map[string]any{"path": "a"},
			map[string]any{"path": "b"},
		}},
		"doc": {Type: "pointer", Data: map[string]any{
			"title": "Tides",
			"meta":  map[string]any{"tags": []any{"sea", "moon"}, "empty": nil},
		}},
		"raw": {Type: "pointer", Data: "plain text output"},
	}
	return task.node(), cache.nodes()
}

func TestResolveRef(t *testing.T) {
	task, cache := refFixture()

	tests := []struct {
		ref  string
		want any
	}{
		{"task.description", "write a sonnet"},
		{"task.args.topic", "tides"},
		{"task.initial_args.topic", "tides"},
		{"task.args.lines", float64(14)},
		{"s[0].path", "a"},
		{"s[1].path", "b"},
		{"doc.title", "Tides"},
		{"doc.meta.tags[1]", "moon"},
		{"raw", "plain text output"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ResolveRef(tt.ref, task, cache)
			if err != nil {
				t.Fatalf("ResolveRef(%q): %v", tt.ref, err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ResolveRef(%q) = %#v, want %#v", tt.ref, got, tt.want)
			}
		})
	}
}

func TestResolveRefWholeSlotYieldsData(t *testing.T) {
	task, cache := refFixture()
	got, err := ResolveRef("s", task, cache)
	if err != nil {
		t.Fatalf("ResolveRef: %v", err)
	}
	arr, ok := got.([]any)
	if !ok || len(arr) != 2 {
		t.Fatalf("got %#v, want the slot's data array", got)
	}
}

func TestResolveRefErrors(t *testing.T) {
	task, cache := refFixture()

	tests := []struct {
		ref     string
		segment string
	}{
		{"s[5].path", "s[5]"},
		{"missing.field", "missing"},
		{"doc.nope", "nope"},
		{"doc.meta.empty", "empty"},
		{"doc.meta.tags[9]", "tags[9]"},
		{"raw.field", "field"},
		{"task.args.topic.deeper", "deeper"},
		{"doc.title[0]", "title[0]"},
		{"task..x", ""},
		{"s[x]", "s[x]"},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			_, err := ResolveRef(tt.ref, task, cache)
			if err == nil {
				t.Fatalf("ResolveRef(%q) succeeded, want error", tt.ref)
			}
			var re *ResolveError
			if !errors.As(err, &re) {
				t.Fatalf("error %T is not *ResolveError", err)
			}
			if re.Path != tt.ref {
				t.Errorf("Path = %q, want %q", re.Path, tt.ref)
			}
			if re.Segment != tt.segment {
				t.Errorf("Segment = %q, want %q", re.Segment, tt.segment)
			}
		})
	}
}

func TestResolveRefEmpty(t *testing.T) {
	task, cache := refFixture()
	if _, err := ResolveRef("", task, cache); err == nil {
		t.Fatal("empty ref should fail")
	}
}

func TestResolveArgs(t *testing.T) {
	task, cache := refFixture()
	template := map[string]any{
		"literal": "kept",
		"count":   float64(3),
		"topic":   map[string]any{RefKey: "task.args.topic"},
		"nested": map[string]any{
			"first": map[string]any{RefKey: "s[0].path"},
			"flag":  true,
		},
		"list": []any{map[string]any{RefKey: "task.description"}, "x"},
	}

	got, err := ResolveArgs(template, task, cache)
	if err != nil {
		t.Fatalf("ResolveArgs: %v", err)
	}

	want := map[string]any{
		"literal": "kept",
		"count":   float64(3),
		"topic":   "tides",
		"nested": map[string]any{
			"first": "a",
			"flag":  true,
		},
		// Arrays pass through untouched, markers inside them included.
		"list": []any{map[string]any{RefKey: "task.description"}, "x"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("ResolveArgs =\n%#v\nwant\n%#v", got, want)
	}

	if _, isRef := template["topic"].(map[string]any)[RefKey]; !isRef {
		t.Error("template was mutated")
	}
}

func TestResolveArgsFailsWholeTemplate(t *testing.T) {
	task, cache := refFixture()
	template := map[string]any{
		"ok":  map[string]any{RefKey: "task.description"},
		"bad": map[string]any{"inner": map[string]any{RefKey: "s[5].path"}},
	}
	got, err := ResolveArgs(template, task, cache)
	if err == nil {
		t.Fatalf("expected error, got %#v", got)
	}
	if got != nil {
		t.Errorf("partial result returned: %#v", got)
	}
}

func TestResolveArgsNonStringRefIsPlainObject(t *testing.T) {
	task, cache := refFixture()
	template := map[string]any{"obj": map[string]any{RefKey: float64(1)}}
	got, err := ResolveArgs(template, task, cache)
	if err != nil {
		t.Fatalf("ResolveArgs: %v", err)
	}
	if !reflect.DeepEqual(got, template) {
		t.Errorf("got %#v, want template unchanged", got)
	}
}

func TestTemplateRefs(t *testing.T) {
	template := map[string]any{
		"path":  map[string]any{RefKey: "task.args.path"},
		"text":  map[string]any{RefKey: "chapter.content"},
		"again": map[string]any{RefKey: "chapter.content"},
		"nested": map[string]any{
			"inner": map[string]any{RefKey: "stats.items[0].name"},
		},
		"list":  []any{map[string]any{RefKey: "ignored.in.arrays"}},
		"plain": "x",
	}
	want := []string{"chapter.content", "stats.items[0].name", "task.args.path"}
	if got := TemplateRefs(template); !reflect.DeepEqual(got, want) {
		t.Errorf("TemplateRefs = %v, want %v", got, want)
	}
	if got := TemplateRefs(nil); len(got) != 0 {
		t.Errorf("TemplateRefs(nil) = %v", got)
	}
}

func TestRefRoot(t *testing.T) {
	tests := map[string]string{
		"task.args.path":  "task",
		"chapter.content": "chapter",
		"items[2].name":   "items",
		"slot":            "slot",
		"outline[0]":      "outline",
	}
	for ref, want := range tests {
		if got := RefRoot(ref); got != want {
			t.Errorf("RefRoot(%q) = %q, want %q", ref, got, want)
		}
	}
}
