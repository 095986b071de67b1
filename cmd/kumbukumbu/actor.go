package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/kumbukumbu/internal/domain"
)

var (
	actorTenant string
	actorEmail  string
	actorAll    bool
)

var actorCmd = &cobra.Command{
	Use:   "actor",
	Short: "Manage the actors (users) of a tenant",
}

var actorCreateCmd = &cobra.Command{
	Use:   "create EXTERNAL_ID",
	Short: "Create an actor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := sc.Resolver.ResolveSlug(cmd.Context(), actorTenant, nil)
		if err != nil {
			return err
		}
		a, err := sc.Store.Actors().Create(cmd.Context(), tc.TenantID(), args[0], actorEmail)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), a)
	},
}

var actorListCmd = &cobra.Command{
	Use:   "list",
	Short: "List actors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := sc.Resolver.ResolveSlug(cmd.Context(), actorTenant, nil)
		if err != nil {
			return err
		}
		actors, err := sc.Store.Actors().List(cmd.Context(), tc.TenantID())
		if err != nil {
			return err
		}
		var rows [][]string
		for _, a := range actors {
			if a.Deleted() && !actorAll {
				continue
			}
			deleted := ""
			if a.DeletedAt != nil {
				deleted = a.DeletedAt.Format(time.RFC3339)
			}
			rows = append(rows, []string{a.ID.String(), a.ExternalID, a.Email, deleted})
		}
		return printTable(cmd.OutOrStdout(), []string{"ID", "EXTERNAL ID", "EMAIL", "DELETED"}, rows)
	},
}

var actorDeleteCmd = &cobra.Command{
	Use:   "delete ACTOR",
	Short: "Soft-delete an actor; records can no longer reference it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := sc.Resolver.ResolveSlug(cmd.Context(), actorTenant, nil)
		if err != nil {
			return err
		}
		a, err := lookupActor(cmd, sc, tc.TenantID(), args[0])
		if err != nil {
			return err
		}
		if err := sc.Store.Actors().SoftDelete(cmd.Context(), tc.TenantID(), a.ID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "actor %s deleted\n", a.ExternalID)
		return nil
	},
}

func init() {
	actorCmd.PersistentFlags().StringVarP(&actorTenant, "tenant", "t", "", "tenant slug (required)")
	_ = actorCmd.MarkPersistentFlagRequired("tenant")
	actorCreateCmd.Flags().StringVar(&actorEmail, "email", "", "actor email")
	actorListCmd.Flags().BoolVar(&actorAll, "all", false, "include deleted actors")
	actorCmd.AddCommand(actorCreateCmd, actorListCmd, actorDeleteCmd)
}

// lookupActor finds an actor of the tenant by id or external id.
func lookupActor(cmd *cobra.Command, sc *SharedComponents, tenantID uuid.UUID, ref string) (*domain.Actor, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return sc.Store.Actors().Get(cmd.Context(), tenantID, id)
	}
	return sc.Store.Actors().GetByExternalID(cmd.Context(), tenantID, ref)
}
