// ABOUTME: The run command: starts a recipe in-process and follows it to completion.
// ABOUTME: Interactive terminals get the live watch view; pipes and --json get plain output once the run ends.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/2389-research/controlroom/pipeline"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		pairs       []string
		argsJSON    string
		description string
		sessionID   string
		asJSON      bool
		noTUI       bool
	)

	cmd := &cobra.Command{
		Use:   "run <recipe-id>",
		Short: "Run a recipe and wait for it to finish",
		Long: `Start a run of the named recipe with the given task arguments and follow it
until it finishes. Arguments are given as --arg key=value (values that parse
as JSON are decoded) or as one JSON object with --args.`,
		Example: `  controlroom run chapter_digest --arg chapter_path=chapters/01.md --arg digest_path=digest.txt`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskArgs, err := buildTaskArgs(argsJSON, pairs)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			interactive := !asJSON && !noTUI && isTerminal(out)
			logOut := cmd.ErrOrStderr()
			if interactive {
				logOut = io.Discard
			}

			e, err := a.openEngine(logOut)
			if err != nil {
				return err
			}
			defer e.Close()

			runID, err := e.runner.Start(args[0], taskArgs, description, pipeline.WithSessionID(sessionID))
			if err != nil {
				return err
			}
			recipe, _ := e.recipes.Get(args[0])

			if interactive {
				wm, err := watchInteractive(e.store, runID, recipe, 0)
				if err != nil {
					return err
				}
				if !wm.Done() && e.runner.Cancel(runID) {
					fmt.Fprintf(cmd.ErrOrStderr(), "cancelling run %s\n", runID)
				}
			}
			e.runner.Wait()

			m, err := e.store.ReadManifest(runID)
			if err != nil {
				return err
			}
			steps, err := e.store.ReadSteps(runID)
			if err != nil {
				return err
			}
			if asJSON {
				if err := printJSON(out, m); err != nil {
					return err
				}
			} else {
				printRunSummary(out, m, steps, recipe)
			}
			if m.Status != pipeline.StatusDone {
				return fmt.Errorf("run %s %s", runID, m.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&pairs, "arg", nil, "task argument as key=value (repeatable)")
	cmd.Flags().StringVar(&argsJSON, "args", "", "task arguments as a JSON object")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description recorded on the run")
	cmd.Flags().StringVar(&sessionID, "session", "", "session identifier recorded on the run (default: generated)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the final manifest as JSON")
	cmd.Flags().BoolVar(&noTUI, "no-tui", false, "never start the live view")
	return cmd
}

// buildTaskArgs merges a JSON object with key=value pairs; pairs win.
// A pair's value is decoded as JSON when it parses, otherwise kept as a string.
func buildTaskArgs(argsJSON string, pairs []string) (map[string]any, error) {
	out := map[string]any{}
	if strings.TrimSpace(argsJSON) != "" {
		if err := json.Unmarshal([]byte(argsJSON), &out); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
		if out == nil {
			out = map[string]any{}
		}
	}
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("--arg %q: want key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[strings.TrimSpace(key)] = v
	}
	return out, nil
}
