package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "assigner",
		Short:         "Background ticket assignment service",
		Long:          "assigner binds unassigned support tickets to idle agents on a schedule\nand notifies connected clients of every assignment.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		newServeCmd(),
		newPassCmd(),
		newMigrateCmd(),
		newTokenCmd(),
	)
	return cmd
}
