// ABOUTME: The recipes command group: list merged recipes and show one recipe's steps.
// ABOUTME: Project overrides in <workspace>/recipes replace bundled recipes with the same id.
package main

import (
	"fmt"

	"github.com/2389-research/controlroom/render"
	"github.com/spf13/cobra"
)

func newRecipesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recipes",
		Short: "List and inspect recipes",
	}

	var listJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List available recipes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			if listJSON {
				return printJSON(cmd.OutOrStdout(), e.recipes.All())
			}
			out := cmd.OutOrStdout()
			for _, id := range e.recipes.IDs() {
				r, _ := e.recipes.Get(id)
				fmt.Fprintf(out, "%-20s  %d steps  %-8s  %s\n", id, len(r.PhaseA), sourceLabel(r.Source), r.Description)
			}
			return nil
		},
	}
	list.Flags().BoolVar(&listJSON, "json", false, "print recipes as JSON")

	show := &cobra.Command{
		Use:   "show <recipe-id>",
		Short: "Print one recipe as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			r, ok := e.recipes.Get(args[0])
			if !ok {
				return fmt.Errorf("recipe %s not found", args[0])
			}
			return printJSON(cmd.OutOrStdout(), r)
		},
	}

	var format, output string
	graph := &cobra.Command{
		Use:   "graph <recipe-id>",
		Short: "Render a recipe's steps and data flow as a graph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			r, ok := e.recipes.Get(args[0])
			if !ok {
				return fmt.Errorf("recipe %s not found", args[0])
			}
			return writeGraph(cmd, render.RecipeDOT(r), format, output)
		},
	}
	addGraphFlags(graph, &format, &output)

	cmd.AddCommand(list, show, graph)
	return cmd
}

func sourceLabel(source string) string {
	if source == "bundled" {
		return source
	}
	return "project"
}
