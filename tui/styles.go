// ABOUTME: Defines lipgloss styles for the watch view panels, step states and run statuses.
// ABOUTME: StyleForStep and StyleForRun map states to their display styles.
package tui

import (
	"github.com/2389-research/controlroom/pipeline"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Panel borders
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Step colors
	PendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	SucceededStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	SkippedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	CancelledStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))

	PreviewStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("246")).Italic(true)
	ErrorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	HelpStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)
)

// StyleForStep returns the style for a step state.
func StyleForStep(state StepState) lipgloss.Style {
	switch state {
	case StepPending:
		return PendingStyle
	case StepRunning:
		return RunningStyle
	case StepSucceeded:
		return SucceededStyle
	case StepFailed:
		return FailedStyle
	case StepSkipped:
		return SkippedStyle
	default:
		return PendingStyle
	}
}

// StyleForRun returns the style for a run status.
func StyleForRun(status pipeline.Status) lipgloss.Style {
	switch status {
	case pipeline.StatusRunning:
		return RunningStyle
	case pipeline.StatusDone:
		return SucceededStyle
	case pipeline.StatusFailed:
		return FailedStyle
	case pipeline.StatusCancelled:
		return CancelledStyle
	default:
		return PendingStyle
	}
}
