package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema to the configured store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadRuntime()
			if err != nil {
				return err
			}
			defer logger.Sync() //nolint:errcheck

			store, err := openStore(cmd.Context(), cfg, logger, true)
			if err != nil {
				return err
			}
			store.close()
			fmt.Fprintf(cmd.OutOrStdout(), "%s schema up to date\n", store.name)
			return nil
		},
	}
}
