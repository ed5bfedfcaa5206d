// ABOUTME: The watch command: follows an existing run from the run store until it finishes.
// ABOUTME: Uses the Bubble Tea view on a terminal and streams step lines otherwise; never cancels the run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/2389-research/controlroom/tui"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		interval time.Duration
		noTUI    bool
	)

	cmd := &cobra.Command{
		Use:   "watch <run-id>",
		Short: "Follow a run until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := args[0]
			out := cmd.OutOrStdout()
			interactive := !noTUI && isTerminal(out)
			logOut := cmd.ErrOrStderr()
			if interactive {
				logOut = io.Discard
			}

			e, err := a.openEngine(logOut)
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := e.store.ReadManifest(runID)
			if errors.Is(err, pipeline.ErrRunNotFound) {
				return fmt.Errorf("run %s not found", runID)
			}
			if err != nil {
				return err
			}
			recipe, _ := e.recipes.Get(m.RecipeID)

			if interactive {
				if _, err := watchInteractive(e.store, runID, recipe, interval); err != nil {
					return err
				}
			} else if err := followPlain(cmd.Context(), out, e.store, runID, interval); err != nil {
				return err
			}

			m, err = e.store.ReadManifest(runID)
			if err != nil {
				return err
			}
			steps, err := e.store.ReadSteps(runID)
			if err != nil {
				return err
			}
			printRunSummary(out, m, steps, recipe)
			return nil
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", tui.DefaultPollInterval, "poll interval")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "stream plain step lines instead of the live view")
	return cmd
}

// watchInteractive runs the Bubble Tea watch view and returns its final model.
func watchInteractive(source tui.RunSource, runID string, recipe *pipeline.Recipe, interval time.Duration) (tui.WatchModel, error) {
	model := tui.NewWatchModel(runID, source, tui.WatchOptions{PollInterval: interval, Recipe: recipe})
	p := tea.NewProgram(model, tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return model, fmt.Errorf("watch: %w", err)
	}
	wm, _ := final.(tui.WatchModel)
	return wm, nil
}

// followPlain prints each new step record until the run reaches a terminal
// status or ctx is cancelled.
func followPlain(ctx context.Context, w io.Writer, source tui.RunSource, runID string, interval time.Duration) error {
	if interval <= 0 {
		interval = tui.DefaultPollInterval
	}
	seen := 0
	for {
		m, err := source.ReadManifest(runID)
		if err != nil {
			return err
		}
		steps, err := source.ReadSteps(runID)
		if err != nil {
			return err
		}
		for _, rec := range steps[seen:] {
			fmt.Fprintln(w, formatStep(rec))
		}
		seen = len(steps)
		if m.Status.Terminal() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}
