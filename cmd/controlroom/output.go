// ABOUTME: Plain-text and JSON rendering shared by the run, watch and runs commands.
// ABOUTME: Step lines reuse the TUI's row derivation so both views agree on step states.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/2389-research/controlroom/render"
	"github.com/2389-research/controlroom/tui"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRunSummary writes the run header, one line per step and the error if any.
func printRunSummary(w io.Writer, m *pipeline.Manifest, steps []pipeline.StepRecord, recipe *pipeline.Recipe) {
	fmt.Fprintf(w, "run %s (%s): %s\n", m.RunID, m.RecipeID, m.Status)
	if m.Task.Description != "" {
		fmt.Fprintf(w, "  task: %s\n", m.Task.Description)
	}
	fmt.Fprintf(w, "  started %s, %d/%d steps\n", humanize.Time(m.CreatedAt), countSucceeded(steps), m.TotalSteps)
	for _, row := range tui.BuildRows(m, steps, recipe) {
		fmt.Fprintln(w, formatRow(row))
	}
	if m.Error != nil {
		fmt.Fprintf(w, "  error: %s\n", *m.Error)
	}
}

func formatRow(row tui.StepRow) string {
	line := fmt.Sprintf("  %s %-20s %-16s", row.State.Icon(), row.ID, row.Tool)
	switch {
	case row.Error != "":
		line += " " + row.Error
	case row.Preview != "":
		line += " " + oneLine(row.Preview, 60)
	}
	return strings.TrimRight(line, " ")
}

// formatStep renders one step log record as it appears.
func formatStep(rec pipeline.StepRecord) string {
	state := tui.StepSucceeded
	detail := oneLine(rec.OutputPreview, 60)
	if rec.Status == pipeline.StepFailed {
		state = tui.StepFailed
		if rec.Error != nil {
			detail = *rec.Error
		}
	}
	return formatRow(tui.StepRow{Index: rec.StepIndex, ID: rec.StepID, Tool: rec.Tool, State: state, Preview: detail})
}

func countSucceeded(steps []pipeline.StepRecord) int {
	n := 0
	for _, s := range steps {
		if s.Status == pipeline.StepSucceeded {
			n++
		}
	}
	return n
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if r := []rune(s); len(r) > limit {
		return string(r[:limit]) + "..."
	}
	return s
}

func addGraphFlags(cmd *cobra.Command, format, output *string) {
	cmd.Flags().StringVarP(format, "format", "f", "dot", "output format: "+strings.Join(render.Formats, ", "))
	cmd.Flags().StringVarP(output, "output", "o", "", "write to a file instead of stdout")
}

// writeGraph renders dotText and writes it to output, or stdout when empty.
func writeGraph(cmd *cobra.Command, dotText, format, output string) error {
	data, err := render.Render(cmd.Context(), dotText, format)
	if err != nil {
		return err
	}
	if output == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(output, data, 0o644); err != nil {
		return fmt.Errorf("write graph: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s (%s)\n", output, humanize.Bytes(uint64(len(data))))
	return nil
}
