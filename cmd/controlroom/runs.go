// ABOUTME: The runs command group: list, show, steps and cache for persisted runs.
// ABOUTME: Reads the file run store directly, so it works while a server owns the runs.
package main

import (
	"errors"
	"fmt"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/2389-research/controlroom/render"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newRunsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect persisted runs",
	}
	cmd.AddCommand(
		newRunsListCmd(a),
		newRunsShowCmd(a),
		newRunsStepsCmd(a),
		newRunsCacheCmd(a),
		newRunsGraphCmd(a),
	)
	return cmd
}

func newRunsListCmd(a *app) *cobra.Command {
	var (
		status   string
		recipeID string
		limit    int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := pipeline.RunFilter{Status: pipeline.Status(status), RecipeID: recipeID}
			if filter.Status != "" && !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			runs, err := e.store.ListRuns(filter)
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			if asJSON {
				if runs == nil {
					runs = []*pipeline.Manifest{}
				}
				return printJSON(cmd.OutOrStdout(), runs)
			}

			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, "no runs")
				return nil
			}
			fmt.Fprintf(out, "%-26s  %-20s  %-9s  %-8s  %s\n", "RUN", "RECIPE", "STATUS", "PROGRESS", "CREATED")
			for _, m := range runs {
				fmt.Fprintf(out, "%-26s  %-20s  %-9s  %-8s  %s\n",
					m.RunID, m.RecipeID, m.Status, progress(m), humanize.Time(m.CreatedAt))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status: running, done, failed, cancelled")
	cmd.Flags().StringVar(&recipeID, "recipe", "", "filter by recipe id")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n runs")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print manifests as JSON")
	return cmd
}

func newRunsShowCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show a run's manifest and step states",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := readRun(e.store, args[0])
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd.OutOrStdout(), m)
			}
			steps, err := e.store.ReadSteps(m.RunID)
			if err != nil {
				return err
			}
			recipe, _ := e.recipes.Get(m.RecipeID)
			printRunSummary(cmd.OutOrStdout(), m, steps, recipe)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the manifest as JSON")
	return cmd
}

func newRunsStepsCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "steps <run-id>",
		Short: "Print a run's step log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := readRun(e.store, args[0]); err != nil {
				return err
			}
			steps, err := e.store.ReadSteps(args[0])
			if err != nil {
				return err
			}
			if asJSON {
				if steps == nil {
					steps = []pipeline.StepRecord{}
				}
				return printJSON(cmd.OutOrStdout(), steps)
			}
			for _, rec := range steps {
				fmt.Fprintln(cmd.OutOrStdout(), formatStep(rec))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print step records as JSON")
	return cmd
}

func newRunsCacheCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cache <run-id>",
		Short: "Print a run's step output cache as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			if _, err := readRun(e.store, args[0]); err != nil {
				return err
			}
			cache, err := e.store.ReadCache(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cache)
		},
	}
}

func newRunsGraphCmd(a *app) *cobra.Command {
	var format, output string
	cmd := &cobra.Command{
		Use:   "graph <run-id>",
		Short: "Render a run's steps as a status-colored graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			m, err := readRun(e.store, args[0])
			if err != nil {
				return err
			}
			steps, err := e.store.ReadSteps(m.RunID)
			if err != nil {
				return err
			}
			recipe, _ := e.recipes.Get(m.RecipeID)
			return writeGraph(cmd, render.RunDOT(m, steps, recipe), format, output)
		},
	}
	addGraphFlags(cmd, &format, &output)
	return cmd
}

// progress approximates finished steps from the manifest alone.
func progress(m *pipeline.Manifest) string {
	done := m.CurrentStepIndex
	if m.Status == pipeline.StatusDone {
		done = m.TotalSteps
	}
	return fmt.Sprintf("%d/%d", done, m.TotalSteps)
}

func readRun(store pipeline.RunStore, runID string) (*pipeline.Manifest, error) {
	m, err := store.ReadManifest(runID)
	if errors.Is(err, pipeline.ErrRunNotFound) {
		return nil, fmt.Errorf("run %s not found", runID)
	}
	return m, err
}
