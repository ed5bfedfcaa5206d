// ABOUTME: Scrollable panel listing a run's Phase A steps with state markers, tool names and output previews.
// ABOUTME: Rows are derived from the manifest plus the step log; the viewport keeps long recipes navigable.
package tui

import (
	"fmt"
	"strings"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/2389-research/controlroom/render"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// StepRow is one rendered step.
type StepRow struct {
	Index   int
	ID      string
	Tool    string
	State   StepState
	Preview string
	Error   string
}

// StepPanelModel renders the step list.
type StepPanelModel struct {
	recipe       *pipeline.Recipe
	rows         []StepRow
	spinnerIndex int
	viewport     viewport.Model
	width        int
	height       int
}

// NewStepPanelModel creates a panel. recipe is optional and only supplies
// names for steps that have not run yet.
func NewStepPanelModel(recipe *pipeline.Recipe) StepPanelModel {
	return StepPanelModel{
		recipe:   recipe,
		viewport: viewport.New(80, 10),
	}
}

// SetSnapshot rebuilds the rows from the latest manifest and step log.
func (m *StepPanelModel) SetSnapshot(man *pipeline.Manifest, steps []pipeline.StepRecord) {
	m.rows = BuildRows(man, steps, m.recipe)
	m.sync()
}

// Rows returns the current rows.
func (m StepPanelModel) Rows() []StepRow {
	return m.rows
}

// AdvanceSpinner increments the spinner frame index.
func (m *StepPanelModel) AdvanceSpinner() {
	m.spinnerIndex++
	m.sync()
}

// SetSize sets the available dimensions and updates the viewport.
func (m *StepPanelModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	vpWidth := w - 2
	vpHeight := h - 3
	if vpWidth < 1 {
		vpWidth = 1
	}
	if vpHeight < 1 {
		vpHeight = 1
	}
	m.viewport.Width = vpWidth
	m.viewport.Height = vpHeight
	m.sync()
}

// Update forwards scroll keys to the viewport.
func (m StepPanelModel) Update(msg tea.Msg) (StepPanelModel, tea.Cmd) {
	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// View renders the panel.
func (m StepPanelModel) View() string {
	content := "Waiting for run..."
	if len(m.rows) > 0 {
		content = m.viewport.View()
	}
	rendered := TitleStyle.Render("STEPS") + "\n" + content
	if m.width > 0 {
		return BorderStyle.Width(m.width - 2).Render(rendered)
	}
	return BorderStyle.Render(rendered)
}

func (m *StepPanelModel) sync() {
	lines := make([]string, 0, len(m.rows))
	for _, row := range m.rows {
		lines = append(lines, m.formatRow(row))
	}
	m.viewport.SetContent(strings.Join(lines, "\n"))
}

func (m StepPanelModel) formatRow(row StepRow) string {
	line := fmt.Sprintf("%s %d. %s", row.State.Icon(), row.Index+1, row.ID)
	if row.Tool != "" {
		line += fmt.Sprintf(" (%s)", row.Tool)
	}
	if row.State == StepRunning {
		line += " " + SpinnerFrames[m.spinnerIndex%len(SpinnerFrames)]
	}
	out := StyleForStep(row.State).Render(line)
	switch {
	case row.Error != "":
		out += "\n    " + ErrorStyle.Render(row.Error)
	case row.Preview != "":
		out += "\n    " + PreviewStyle.Render(oneLine(row.Preview, 72))
	}
	return out
}

// BuildRows derives one row per Phase A step.
func BuildRows(man *pipeline.Manifest, steps []pipeline.StepRecord, recipe *pipeline.Recipe) []StepRow {
	if man == nil {
		return nil
	}
	byIndex := make(map[int]pipeline.StepRecord, len(steps))
	for _, rec := range steps {
		byIndex[rec.StepIndex] = rec
	}
	states := render.StepStatuses(man, steps)

	rows := make([]StepRow, 0, man.TotalSteps)
	for i := 0; i < man.TotalSteps; i++ {
		row := StepRow{Index: i, ID: fmt.Sprintf("step_%d", i), State: StepState(states[i])}
		if recipe != nil && i < len(recipe.PhaseA) {
			row.ID = recipe.PhaseA[i].ID
			row.Tool = recipe.PhaseA[i].Tool
		}
		if rec, ok := byIndex[i]; ok {
			row.ID, row.Tool = rec.StepID, rec.Tool
			row.Preview = rec.OutputPreview
			if rec.Error != nil {
				row.Error = *rec.Error
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func oneLine(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > limit {
		return string(r[:limit]) + "…"
	}
	return s
}
