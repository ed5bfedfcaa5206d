// ABOUTME: Converts recipes and runs to DOT digraphs and renders DOT to SVG/PNG via graphviz.
// ABOUTME: Steps chain in order; dashed edges show which earlier output slot each step reads.
package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"sort"
	"strings"

	"github.com/2389-research/controlroom/pipeline"
)

// Status color constants used for node fill colors in status overlay rendering.
const (
	StatusColorSuccess = "#4CAF50" // green
	StatusColorFailed  = "#F44336" // red
	StatusColorRunning = "#FFC107" // yellow
	StatusColorPending = "#9E9E9E" // gray
	StatusColorSkipped = "#E0E0E0"
)

// StepStatus is the render-time state of one step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepSucceeded
	StepFailed
	StepSkipped
)

// RecipeDOT renders a recipe's Phase A steps without status coloring.
func RecipeDOT(recipe *pipeline.Recipe) string {
	if recipe == nil {
		return ""
	}
	return toDOT(recipe.ID, recipe.PhaseA, nil)
}

// RunDOT renders a run's steps colored by their state. The recipe supplies
// step names and data-flow edges; it may be nil for a recipe that no longer
// exists, in which case steps are named from the step log.
func RunDOT(m *pipeline.Manifest, records []pipeline.StepRecord, recipe *pipeline.Recipe) string {
	if m == nil {
		return ""
	}
	steps := make([]pipeline.Step, m.TotalSteps)
	if recipe != nil {
		copy(steps, recipe.PhaseA)
	}
	for _, rec := range records {
		if rec.StepIndex >= 0 && rec.StepIndex < len(steps) {
			steps[rec.StepIndex].ID = rec.StepID
			steps[rec.StepIndex].Tool = rec.Tool
			steps[rec.StepIndex].OutputSlot = rec.OutputSlot
		}
	}
	for i := range steps {
		if steps[i].ID == "" {
			steps[i].ID = fmt.Sprintf("step_%d", i)
		}
	}
	return toDOT(m.RunID, steps, StepStatuses(m, records))
}

// StepStatuses derives one status per step from the manifest and step log.
func StepStatuses(m *pipeline.Manifest, records []pipeline.StepRecord) []StepStatus {
	out := make([]StepStatus, m.TotalSteps)
	recorded := make(map[int]bool, len(records))
	for _, rec := range records {
		if rec.StepIndex < 0 || rec.StepIndex >= len(out) {
			continue
		}
		recorded[rec.StepIndex] = true
		if rec.Status == pipeline.StepFailed {
			out[rec.StepIndex] = StepFailed
		} else {
			out[rec.StepIndex] = StepSucceeded
		}
	}
	for i := range out {
		if recorded[i] {
			continue
		}
		switch {
		case m.Status == pipeline.StatusRunning && i == m.CurrentStepIndex:
			out[i] = StepRunning
		case m.Status.Terminal():
			out[i] = StepSkipped
		}
	}
	return out
}

func toDOT(name string, steps []pipeline.Step, statuses []StepStatus) string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "digraph %s {\n", quoteID(name))
	buf.WriteString("  rankdir=\"LR\"\n")
	buf.WriteString("  node [shape=\"box\", fontname=\"Helvetica\"]\n")

	producers := make(map[string]int, len(steps))
	for i, step := range steps {
		attrs := map[string]string{"label": stepLabel(step)}
		if statuses != nil && i < len(statuses) {
			attrs["style"] = "filled"
			attrs["fillcolor"] = statusColor(statuses[i])
		}
		fmt.Fprintf(&buf, "  %s [%s]\n", quoteID(step.ID), formatAttrs(attrs))
	}

	for i := 1; i < len(steps); i++ {
		fmt.Fprintf(&buf, "  %s -> %s\n", quoteID(steps[i-1].ID), quoteID(steps[i].ID))
	}

	for i, step := range steps {
		for _, slot := range readSlots(step) {
			if from, ok := producers[slot]; ok {
				fmt.Fprintf(&buf, "  %s -> %s [%s]\n", quoteID(steps[from].ID), quoteID(step.ID),
					formatAttrs(map[string]string{"style": "dashed", "label": slot}))
			}
		}
		if step.OutputSlot != "" {
			producers[step.OutputSlot] = i
		}
	}

	buf.WriteString("}\n")
	return buf.String()
}

// readSlots lists the cache slots a step's arguments reference, sorted.
func readSlots(step pipeline.Step) []string {
	seen := map[string]bool{}
	var slots []string
	for _, ref := range pipeline.TemplateRefs(step.Args) {
		root := pipeline.RefRoot(ref)
		if root == "task" || seen[root] {
			continue
		}
		seen[root] = true
		slots = append(slots, root)
	}
	return slots
}

func stepLabel(step pipeline.Step) string {
	if step.Tool == "" {
		return step.ID
	}
	return step.ID + "\n" + step.Tool
}

func statusColor(s StepStatus) string {
	switch s {
	case StepSucceeded:
		return StatusColorSuccess
	case StepFailed:
		return StatusColorFailed
	case StepRunning:
		return StatusColorRunning
	case StepSkipped:
		return StatusColorSkipped
	default:
		return StatusColorPending
	}
}

// Formats accepted by Render.
var Formats = []string{"dot", "svg", "png"}

// Render returns dotText unchanged for "dot" and pipes it through the graphviz
// dot command for "svg" and "png".
func Render(ctx context.Context, dotText string, format string) ([]byte, error) {
	if dotText == "" {
		return nil, fmt.Errorf("cannot render empty DOT text")
	}

	switch format {
	case "dot":
		return []byte(dotText), nil
	case "svg", "png":
		return renderWithGraphviz(ctx, dotText, format)
	default:
		return nil, fmt.Errorf("unsupported format %q: supported formats are %s", format, strings.Join(Formats, ", "))
	}
}

// GraphvizAvailable checks whether the graphviz dot command is installed and reachable.
func GraphvizAvailable() bool {
	_, err := exec.LookPath("dot")
	return err == nil
}

func renderWithGraphviz(ctx context.Context, dotText string, format string) ([]byte, error) {
	if !GraphvizAvailable() {
		return nil, fmt.Errorf("graphviz dot command not found: install graphviz to render %s output", format)
	}

	cmd := exec.CommandContext(ctx, "dot", "-T"+format)
	cmd.Stdin = strings.NewReader(dotText)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("graphviz dot command failed: %w: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// formatAttrs formats a map of attributes as a DOT attribute list (key="value", key="value").
func formatAttrs(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, attrs[k]))
	}
	return strings.Join(parts, ", ")
}

// quoteID returns a DOT-safe identifier. Simple identifiers are returned as-is,
// anything else is quoted.
func quoteID(id string) string {
	if id == "" {
		return `""`
	}
	for _, c := range id {
		if !isIDChar(c) {
			return fmt.Sprintf("%q", id)
		}
	}
	if id[0] >= '0' && id[0] <= '9' {
		return fmt.Sprintf("%q", id)
	}
	return id
}

func isIDChar(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_'
}
