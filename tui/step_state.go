// ABOUTME: StepState enum for the watch view, derived from a run's manifest and step log.
// ABOUTME: Provides String/Icon methods and the spinner frames for the running step.
package tui

// StepState is the display state of one Phase A step. Values match
// render.StepStatus so derived statuses convert directly.
type StepState int

const (
	StepPending   StepState = iota // Not reached yet
	StepRunning                    // Current step of a live run
	StepSucceeded                  // Recorded as success
	StepFailed                     // Recorded as failed
	StepSkipped                    // Never reached because the run ended early
)

// String returns the lowercase name of the state.
func (s StepState) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepSucceeded:
		return "succeeded"
	case StepFailed:
		return "failed"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Icon returns a bracket-style marker.
func (s StepState) Icon() string {
	switch s {
	case StepPending:
		return "[ ]"
	case StepRunning:
		return "[~]"
	case StepSucceeded:
		return "[*]"
	case StepFailed:
		return "[!]"
	case StepSkipped:
		return "[-]"
	default:
		return "[?]"
	}
}

// SpinnerFrames are the Braille-dot frames shown next to the running step.
var SpinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
