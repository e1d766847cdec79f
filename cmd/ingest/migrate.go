package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the incident tables and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx, g.cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := waitForStore(ctx, store, g.logger, storeWaitTimeout); err != nil {
				return err
			}
			if err := store.Migrate(ctx); err != nil {
				return err
			}
			history, latest, err := store.Counts(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s): chartmd_incidents=%d wtop_incidents=%d\n",
				g.cfg.StoreDriver, history, latest)
			return nil
		},
	}
}
