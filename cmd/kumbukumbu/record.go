package main

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jkaninda/kumbukumbu/internal/query"
	"github.com/jkaninda/kumbukumbu/internal/tenant"
)

var (
	recordTenant         string
	recordActor          string
	recordData           string
	recordWhere          string
	recordIncludeDeleted bool
	recordLimit          int
	recordOffset         int
	recordNewest         bool
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Create, read, update, delete and restore entity records",
	Long: `Operate on the records of one tenant. Every command runs through the
integrity engine: fields are validated against the entity's descriptor,
uniqueness and actor references are enforced, and mutations are audited.

Examples:
  kumbukumbu record create teachers -t green-valley -a jane.smith \
    --data '{"employee_id":"E100","first_name":"Ada","last_name":"Lovelace","email":"ada@gv.test"}'
  kumbukumbu record list teachers -t green-valley --where '{"department":"Maths"}'
  kumbukumbu record update teachers 3f0c... -t green-valley --data '{"title":null}'
  kumbukumbu record delete teachers 3f0c... -t green-valley`,
}

// tenantContext resolves --tenant and the optional --actor into a tenant context.
func tenantContext(cmd *cobra.Command, sc *SharedComponents) (tenant.Context, error) {
	tc, err := sc.Resolver.ResolveSlug(cmd.Context(), recordTenant, nil)
	if err != nil || recordActor == "" {
		return tc, err
	}
	a, err := lookupActor(cmd, sc, tc.TenantID(), recordActor)
	if err != nil {
		return tenant.Context{}, fmt.Errorf("resolving actor %s: %w", recordActor, err)
	}
	return sc.Resolver.ResolveSlug(cmd.Context(), recordTenant, &a.ID)
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid record id %q: %w", s, err)
	}
	return id, nil
}

var recordCreateCmd = &cobra.Command{
	Use:   "create ENTITY",
	Short: "Create a record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fields, err := parseFields(recordData)
		if err != nil {
			return err
		}
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := tenantContext(cmd, sc)
		if err != nil {
			return err
		}
		rec, err := sc.Engine.Create(cmd.Context(), tc, args[0], fields)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var recordGetCmd = &cobra.Command{
	Use:   "get ENTITY ID",
	Short: "Get a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := tenantContext(cmd, sc)
		if err != nil {
			return err
		}
		rec, err := sc.Engine.Get(cmd.Context(), tc, args[0], id, recordIncludeDeleted)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var recordUpdateCmd = &cobra.Command{
	Use:   "update ENTITY ID",
	Short: "Update a record; null values remove fields",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		changes, err := parseFields(recordData)
		if err != nil {
			return err
		}
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := tenantContext(cmd, sc)
		if err != nil {
			return err
		}
		rec, err := sc.Engine.Update(cmd.Context(), tc, args[0], id, changes)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var recordDeleteCmd = &cobra.Command{
	Use:   "delete ENTITY ID",
	Short: "Soft-delete a record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := tenantContext(cmd, sc)
		if err != nil {
			return err
		}
		rec, err := sc.Engine.SoftDelete(cmd.Context(), tc, args[0], id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var recordRestoreCmd = &cobra.Command{
	Use:   "restore ENTITY ID",
	Short: "Restore a soft-deleted record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseID(args[1])
		if err != nil {
			return err
		}
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := tenantContext(cmd, sc)
		if err != nil {
			return err
		}
		rec, err := sc.Engine.Restore(cmd.Context(), tc, args[0], id)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), rec)
	},
}

var recordListCmd = &cobra.Command{
	Use:   "list ENTITY",
	Short: "List records matching an equality predicate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pred query.Predicate
		if recordWhere != "" {
			if err := json.Unmarshal([]byte(recordWhere), &pred); err != nil {
				return fmt.Errorf("--where must be a JSON object: %w", err)
			}
		}
		opts := query.Options{
			IncludeDeleted: recordIncludeDeleted,
			Limit:          recordLimit,
			Offset:         recordOffset,
		}
		if recordNewest {
			opts.OrderBy = query.Newest
		}

		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := tenantContext(cmd, sc)
		if err != nil {
			return err
		}
		recs, err := sc.Engine.List(cmd.Context(), tc, args[0], pred, opts)
		if err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), recs)
	},
}

func init() {
	recordCmd.PersistentFlags().StringVarP(&recordTenant, "tenant", "t", "", "tenant slug (required)")
	recordCmd.PersistentFlags().StringVarP(&recordActor, "actor", "a", "", "acting actor, by external id or UUID")
	_ = recordCmd.MarkPersistentFlagRequired("tenant")

	for _, c := range []*cobra.Command{recordCreateCmd, recordUpdateCmd} {
		c.Flags().StringVarP(&recordData, "data", "d", "", "fields as a JSON object, or @file.json")
	}
	for _, c := range []*cobra.Command{recordGetCmd, recordListCmd} {
		c.Flags().BoolVar(&recordIncludeDeleted, "include-deleted", false, "include soft-deleted records")
	}
	recordListCmd.Flags().StringVarP(&recordWhere, "where", "w", "", "equality predicate as a JSON object")
	recordListCmd.Flags().IntVar(&recordLimit, "limit", 100, "maximum number of records")
	recordListCmd.Flags().IntVar(&recordOffset, "offset", 0, "records to skip")
	recordListCmd.Flags().BoolVar(&recordNewest, "newest", false, "newest records first")

	recordCmd.AddCommand(recordCreateCmd, recordGetCmd, recordUpdateCmd, recordDeleteCmd, recordRestoreCmd, recordListCmd)
}
