// ABOUTME: The index command group: rebuild the SQLite run index from the run store.
// ABOUTME: The run store stays authoritative; the index only backs counts and fast listing.
package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func newIndexCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain the run index",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "rebuild",
		Short: "Drop and repopulate the index from every run manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := a.openEngine(cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer e.Close()

			if e.index == nil {
				return errors.New("index is disabled (set index.enabled)")
			}
			n, err := e.index.Rebuild(e.store)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "indexed %d runs into %s\n", n, e.cfg.IndexPath())
			return nil
		},
	})
	return cmd
}
