// ABOUTME: Tests for DOT generation from recipes and runs, status derivation and the Render format switch.
// ABOUTME: Graphviz-backed formats are only exercised when the dot binary is installed.
package render

import (
	"context"
	"strings"
	"testing"

	"github.com/2389-research/controlroom/pipeline"
)

func digestRecipe() *pipeline.Recipe {
	return &pipeline.Recipe{ID: "chapter_digest", PhaseA: []pipeline.Step{
		{ID: "read_chapter", Tool: "read_file", OutputSlot: "chapter",
			Args: map[string]any{"path": map[string]any{pipeline.RefKey: "task.initial_args.chapter_path"}}},
		{ID: "count_words", Tool: "word_count", OutputSlot: "stats",
			Args: map[string]any{"text": map[string]any{pipeline.RefKey: "chapter.content"}}},
		{ID: "write_digest", Tool: "write_file", OutputSlot: "digest",
			Args: map[string]any{
				"path":    map[string]any{pipeline.RefKey: "task.args.digest_path"},
				"content": map[string]any{pipeline.RefKey: "stats.summary"},
			}},
	}}
}

func TestRecipeDOT(t *testing.T) {
	dot := RecipeDOT(digestRecipe())

	for _, want := range []string{
		"digraph chapter_digest {",
		`read_chapter [label="read_chapter\nread_file"]`,
		"read_chapter -> count_words\n",
		"count_words -> write_digest\n",
		`read_chapter -> count_words [label="chapter", style="dashed"]`,
		`count_words -> write_digest [label="stats", style="dashed"]`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q:\n%s", want, dot)
		}
	}
	if strings.Contains(dot, "fillcolor") {
		t.Error("recipe graph should not carry status colors")
	}
	if RecipeDOT(nil) != "" {
		t.Error("nil recipe should render empty")
	}
}

func TestStepStatuses(t *testing.T) {
	ok := pipeline.StepRecord{StepIndex: 0, Status: pipeline.StepSucceeded}
	bad := pipeline.StepRecord{StepIndex: 1, Status: pipeline.StepFailed}
	tests := []struct {
		name    string
		m       pipeline.Manifest
		records []pipeline.StepRecord
		want    []StepStatus
	}{
		{"live", pipeline.Manifest{Status: pipeline.StatusRunning, TotalSteps: 3, CurrentStepIndex: 1},
			[]pipeline.StepRecord{ok}, []StepStatus{StepSucceeded, StepRunning, StepPending}},
		{"failed", pipeline.Manifest{Status: pipeline.StatusFailed, TotalSteps: 3, CurrentStepIndex: 1},
			[]pipeline.StepRecord{ok, bad}, []StepStatus{StepSucceeded, StepFailed, StepSkipped}},
		{"cancelled", pipeline.Manifest{Status: pipeline.StatusCancelled, TotalSteps: 2},
			nil, []StepStatus{StepSkipped, StepSkipped}},
		{"out of range record ignored", pipeline.Manifest{Status: pipeline.StatusDone, TotalSteps: 1},
			[]pipeline.StepRecord{{StepIndex: 0, Status: pipeline.StepSucceeded}, {StepIndex: 5}},
			[]StepStatus{StepSucceeded}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := StepStatuses(&tt.m, tt.records)
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("step %d = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestRunDOT(t *testing.T) {
	errMsg := "boom"
	m := &pipeline.Manifest{RunID: "01JRUN", RecipeID: "chapter_digest", Status: pipeline.StatusFailed, TotalSteps: 3, CurrentStepIndex: 1}
	records := []pipeline.StepRecord{
		{StepIndex: 0, StepID: "read_chapter", Tool: "read_file", OutputSlot: "chapter", Status: pipeline.StepSucceeded},
		{StepIndex: 1, StepID: "count_words", Tool: "word_count", OutputSlot: "stats", Status: pipeline.StepFailed, Error: &errMsg},
	}

	dot := RunDOT(m, records, digestRecipe())
	for _, want := range []string{
		`digraph "01JRUN" {`,
		`fillcolor="` + StatusColorSuccess + `"`,
		`fillcolor="` + StatusColorFailed + `"`,
		`fillcolor="` + StatusColorSkipped + `"`,
		`label="chapter", style="dashed"`,
	} {
		if !strings.Contains(dot, want) {
			t.Errorf("DOT missing %q:\n%s", want, dot)
		}
	}

	noRecipe := RunDOT(m, records, nil)
	if !strings.Contains(noRecipe, "step_2") || !strings.Contains(noRecipe, "count_words") {
		t.Errorf("run without recipe should name steps from the log:\n%s", noRecipe)
	}
	if RunDOT(nil, nil, nil) != "" {
		t.Error("nil manifest should render empty")
	}
}

func TestQuoteID(t *testing.T) {
	tests := map[string]string{
		"simple_id": "simple_id",
		"01JRUN":    `"01JRUN"`,
		"has space": `"has space"`,
		"":          `""`,
	}
	for in, want := range tests {
		if got := quoteID(in); got != want {
			t.Errorf("quoteID(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestRenderFormats(t *testing.T) {
	ctx := context.Background()
	dot := RecipeDOT(digestRecipe())

	data, err := Render(ctx, dot, "dot")
	if err != nil || string(data) != dot {
		t.Errorf("dot format: %v", err)
	}
	if _, err := Render(ctx, dot, "gif"); err == nil || !strings.Contains(err.Error(), "unsupported format") {
		t.Errorf("gif err = %v", err)
	}
	if _, err := Render(ctx, "", "dot"); err == nil {
		t.Error("empty DOT should be an error")
	}

	if !GraphvizAvailable() {
		t.Skip("graphviz not installed")
	}
	svg, err := Render(ctx, dot, "svg")
	if err != nil {
		t.Fatalf("svg: %v", err)
	}
	if !strings.Contains(string(svg), "<svg") {
		t.Errorf("svg output = %.80s", svg)
	}
}
