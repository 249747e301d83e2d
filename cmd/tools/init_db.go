package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// initDBCmd opens the configured store. Opening creates the Postgres
// document table and the unique and indexable field indexes of every
// built-in collection.
var initDBCmd = &cobra.Command{
	Use:     "init-db",
	Aliases: []string{"ensure-indexes"},
	Short:   "Create the document table and collection indexes",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		engine, err := openEngine(ctx)
		if err != nil {
			return err
		}
		defer engine.Close(ctx)

		names := engine.Registry.Names()
		zap.S().Infow("indexes ensured", "driver", engine.Config.Store.Driver, "collections", names)
		fmt.Fprintf(cmd.OutOrStdout(), "initialized %d collections on %s store\n", len(names), engine.Config.Store.Driver)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initDBCmd)
}
