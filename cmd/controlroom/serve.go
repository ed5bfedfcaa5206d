// ABOUTME: The serve command: runs the HTTP API until interrupted, then waits for live runs.
// ABOUTME: Shares the engine bootstrap with the other commands.
package main

import (
	"github.com/2389-research/controlroom/server"
	"github.com/spf13/cobra"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("addr") {
				a.cfg.Server.Addr = addr
			}

			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			srv, err := server.New(server.Config{
				Addr:    a.cfg.Server.Addr,
				Runner:  e.runner,
				Store:   e.store,
				Recipes: e.recipes,
				Index:   e.index,
				Logger:  e.logger,
			})
			if err != nil {
				return err
			}

			e.logger.Info("controlroom: serving", "workspace", a.cfg.Workspace, "version", version)
			if err := srv.ListenAndServe(cmd.Context()); err != nil {
				return err
			}
			if active := e.runner.Active(); len(active) > 0 {
				e.logger.Info("controlroom: waiting for runs", "active", len(active))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
