package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/kumbukumbu/internal/domain"
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants (schools)",
}

var tenantCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a tenant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		t, err := sc.Store.Tenants().Create(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), t)
	},
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tenants, err := sc.Store.Tenants().List(cmd.Context())
		if err != nil {
			return err
		}
		rows := make([][]string, len(tenants))
		for i, t := range tenants {
			rows[i] = []string{t.ID.String(), t.Slug, t.Name, strconv.FormatBool(t.Active), t.CreatedAt.Format(time.RFC3339)}
		}
		return printTable(cmd.OutOrStdout(), []string{"ID", "SLUG", "NAME", "ACTIVE", "CREATED"}, rows)
	},
}

func tenantActiveCmd(use, short string, active bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " TENANT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc, err := setup()
			if err != nil {
				return err
			}
			defer sc.Cleanup()

			t, err := lookupTenant(cmd, sc, args[0])
			if err != nil {
				return err
			}
			if err := sc.Store.Tenants().SetActive(cmd.Context(), t.ID, active); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s active=%t\n", t.Slug, active)
			return nil
		},
	}
}

var tenantDeleteYes bool

var tenantDeleteCmd = &cobra.Command{
	Use:   "delete TENANT",
	Short: "Delete a tenant and everything it owns",
	Long: `Delete a tenant permanently. Its actors, records, uniqueness keys and
audit entries are removed with it. This cannot be undone.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !tenantDeleteYes {
			return fmt.Errorf("refusing to delete tenant %s without --yes", args[0])
		}
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		t, err := lookupTenant(cmd, sc, args[0])
		if err != nil {
			return err
		}
		if err := sc.Store.Tenants().Delete(cmd.Context(), t.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "tenant %s deleted\n", t.Slug)
		return nil
	},
}

func init() {
	tenantDeleteCmd.Flags().BoolVar(&tenantDeleteYes, "yes", false, "confirm permanent deletion")
	tenantCmd.AddCommand(
		tenantCreateCmd,
		tenantListCmd,
		tenantActiveCmd("disable", "Disable a tenant; its data stays but cannot be accessed", false),
		tenantActiveCmd("enable", "Re-enable a disabled tenant", true),
		tenantDeleteCmd,
	)
}

// lookupTenant finds a tenant by id or slug, active or not.
func lookupTenant(cmd *cobra.Command, sc *SharedComponents, ref string) (*domain.Tenant, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return sc.Store.Tenants().Get(cmd.Context(), id)
	}
	return sc.Store.Tenants().GetBySlug(cmd.Context(), ref)
}
