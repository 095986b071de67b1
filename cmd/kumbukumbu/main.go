// Kumbukumbu: multi-tenant record integrity engine for school data.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "kumbukumbu",
	Short: "Kumbukumbu: tenant-scoped record integrity engine.",
	Long: `Kumbukumbu stores school records (teachers, students, classes, attendance
and any entity declared in the config file) for many tenants in one database.
Every read and write is scoped to a single tenant; uniqueness, references and
timestamps are enforced by the engine and every mutation is audited.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ~/.kumbukumbu/config.yaml, or KUMBUKUMBU_CONFIG)")
	rootCmd.AddCommand(migrateCmd, tenantCmd, actorCmd, recordCmd, entitiesCmd, auditCmd, serveCmd, versionCmd)
	_ = godotenv.Load()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(exitCode(err))
	}
}
