package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the database schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		// initShared migrates on startup.
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		sc.Logger.Info("schema up to date", slog.String("driver", sc.Store.Driver()))
		fmt.Fprintf(cmd.OutOrStdout(), "schema migrated (%s)\n", sc.Store.Driver())
		return nil
	},
}
