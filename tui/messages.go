// ABOUTME: Bubble Tea message types and commands for the watch loop.
// ABOUTME: SnapshotMsg carries one poll of the run store; TickMsg drives the spinner.
package tui

import (
	"time"

	"github.com/2389-research/controlroom/pipeline"
	tea "github.com/charmbracelet/bubbletea"
)

// RunSource is the read side of a run store. pipeline.RunStore satisfies it.
type RunSource interface {
	ReadManifest(runID string) (*pipeline.Manifest, error)
	ReadSteps(runID string) ([]pipeline.StepRecord, error)
}

// SnapshotMsg is the result of one poll.
type SnapshotMsg struct {
	Manifest *pipeline.Manifest
	Steps    []pipeline.StepRecord
	Err      error
}

// TickMsg is sent periodically to animate the spinner.
type TickMsg struct {
	Time time.Time
}

// PollCmd reads the run's manifest and step log once, after delay.
func PollCmd(source RunSource, runID string, delay time.Duration) tea.Cmd {
	return func() tea.Msg {
		if delay > 0 {
			time.Sleep(delay)
		}
		m, err := source.ReadManifest(runID)
		if err != nil {
			return SnapshotMsg{Err: err}
		}
		steps, err := source.ReadSteps(runID)
		if err != nil {
			return SnapshotMsg{Manifest: m, Err: err}
		}
		return SnapshotMsg{Manifest: m, Steps: steps}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the given interval.
func TickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}
