// ABOUTME: Top-level Bubble Tea model that follows one run by polling its manifest and step log.
// ABOUTME: Quits on its own once the run reaches a terminal status; q or ctrl+c quits early without cancelling the run.
package tui

import (
	"strings"
	"time"

	"github.com/2389-research/controlroom/pipeline"
	tea "github.com/charmbracelet/bubbletea"
)

// DefaultPollInterval is how often the run store is read while a run is live.
const DefaultPollInterval = 250 * time.Millisecond

const spinnerInterval = 100 * time.Millisecond

// WatchOptions configures a WatchModel.
type WatchOptions struct {
	PollInterval time.Duration
	Recipe       *pipeline.Recipe // optional, names pending steps
}

// WatchModel follows one run until it finishes.
type WatchModel struct {
	runID    string
	source   RunSource
	interval time.Duration

	steps     StepPanelModel
	statusBar StatusBarModel

	manifest *pipeline.Manifest
	err      error
	done     bool
	width    int
}

// NewWatchModel creates a model that watches runID through source.
func NewWatchModel(runID string, source RunSource, opts WatchOptions) WatchModel {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	recipeID := ""
	if opts.Recipe != nil {
		recipeID = opts.Recipe.ID
	}
	return WatchModel{
		runID:     runID,
		source:    source,
		interval:  opts.PollInterval,
		steps:     NewStepPanelModel(opts.Recipe),
		statusBar: NewStatusBarModel(recipeID, 0),
	}
}

// Manifest returns the last manifest read, or nil before the first poll.
func (m WatchModel) Manifest() *pipeline.Manifest {
	return m.manifest
}

// Err returns the last poll error.
func (m WatchModel) Err() error {
	return m.err
}

// Done reports whether the run reached a terminal status.
func (m WatchModel) Done() bool {
	return m.done
}

// Init implements tea.Model.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(PollCmd(m.source, m.runID, 0), TickCmd(spinnerInterval))
}

// Update implements tea.Model.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
		var cmd tea.Cmd
		m.steps, cmd = m.steps.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.steps.SetSize(msg.Width, msg.Height-3)
		m.statusBar.SetWidth(msg.Width)
		return m, nil

	case TickMsg:
		m.steps.AdvanceSpinner()
		if m.done {
			return m, nil
		}
		return m, TickCmd(spinnerInterval)

	case SnapshotMsg:
		return m.handleSnapshot(msg)
	}
	return m, nil
}

func (m WatchModel) handleSnapshot(msg SnapshotMsg) (tea.Model, tea.Cmd) {
	m.err = msg.Err
	if msg.Manifest == nil {
		// Not readable yet; poll again.
		return m, PollCmd(m.source, m.runID, m.interval)
	}

	m.manifest = msg.Manifest
	m.steps.SetSnapshot(msg.Manifest, msg.Steps)

	completed := 0
	active := ""
	for _, row := range m.steps.Rows() {
		switch row.State {
		case StepSucceeded:
			completed++
		case StepRunning:
			active = row.ID
		}
	}
	m.statusBar.Sync(msg.Manifest, completed)
	m.statusBar.SetActiveStep(active)

	if msg.Manifest.Status.Terminal() && msg.Err == nil {
		m.done = true
		return m, tea.Quit
	}
	return m, PollCmd(m.source, m.runID, m.interval)
}

// View implements tea.Model.
func (m WatchModel) View() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Run " + m.runID))
	if m.manifest != nil {
		b.WriteString("  ")
		b.WriteString(StyleForRun(m.manifest.Status).Render(string(m.manifest.Status)))
		if m.manifest.Phase == pipeline.PhaseAComplete {
			b.WriteString(PendingStyle.Render("  (phase a complete)"))
		}
	}
	b.WriteString("\n")
	b.WriteString(m.steps.View())
	b.WriteString("\n")
	if m.manifest != nil && m.manifest.Error != nil {
		b.WriteString(ErrorStyle.Render(*m.manifest.Error))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(ErrorStyle.Render("poll: " + m.err.Error()))
		b.WriteString("\n")
	}
	b.WriteString(m.statusBar.View())
	if !m.done {
		b.WriteString("\n")
		b.WriteString(HelpStyle.Render("q quit (the run keeps going)"))
	}
	b.WriteString("\n")
	return b.String()
}
