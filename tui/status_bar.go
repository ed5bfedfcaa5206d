// ABOUTME: Single-line status bar for the watch view showing run progress.
// ABOUTME: Displays recipe, run status, elapsed time, step completion count, and the active step.
package tui

import (
	"fmt"
	"time"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/charmbracelet/lipgloss"
)

// StatusBarModel displays run status in a single line.
type StatusBarModel struct {
	recipeID   string
	status     pipeline.Status
	startTime  time.Time
	endTime    time.Time
	totalSteps int
	completed  int
	activeStep string
	width      int
	now        func() time.Time
}

// NewStatusBarModel creates a StatusBarModel for a recipe with the given step count.
func NewStatusBarModel(recipeID string, totalSteps int) StatusBarModel {
	return StatusBarModel{
		recipeID:   recipeID,
		totalSteps: totalSteps,
		now:        time.Now,
	}
}

// Sync copies progress from a manifest and the number of completed steps.
func (m *StatusBarModel) Sync(man *pipeline.Manifest, completed int) {
	m.recipeID = man.RecipeID
	m.status = man.Status
	m.startTime = man.CreatedAt
	m.totalSteps = man.TotalSteps
	m.completed = completed
	if man.CompletedAt != nil {
		m.endTime = *man.CompletedAt
	} else {
		m.endTime = time.Time{}
	}
}

// SetActiveStep sets the currently running step name.
func (m *StatusBarModel) SetActiveStep(name string) {
	m.activeStep = name
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// Elapsed returns the run's duration so far, frozen once it completes.
func (m StatusBarModel) Elapsed() time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	end := m.endTime
	if end.IsZero() {
		end = m.now()
	}
	if end.Before(m.startTime) {
		return 0
	}
	return end.Sub(m.startTime)
}

// formatElapsed formats a duration as "12s" or "2m30s".
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View() string {
	active := m.activeStep
	if active == "" {
		active = "idle"
	}
	status := m.status
	if status == "" {
		status = "loading"
	}

	content := fmt.Sprintf("Recipe: %s | %s | Elapsed: %s | %d/%d steps | Active: %s",
		m.recipeID, status, formatElapsed(m.Elapsed()), m.completed, m.totalSteps, active)

	style := StatusBarStyle.Width(m.width)
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, style.Render(content))
}
