package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	auditTenant string
	auditRecord string
	auditLimit  int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show a tenant's audit trail, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		var recordID uuid.UUID
		if auditRecord != "" {
			id, err := parseID(auditRecord)
			if err != nil {
				return err
			}
			recordID = id
		}

		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		tc, err := sc.Resolver.ResolveSlug(cmd.Context(), auditTenant, nil)
		if err != nil {
			return err
		}
		entries, err := sc.Store.Audit().Query(cmd.Context(), tc.TenantID(), recordID, auditLimit)
		if err != nil {
			return err
		}

		rows := make([][]string, len(entries))
		for i, e := range entries {
			actor := "-"
			if e.ActorID != nil {
				actor = e.ActorID.String()
			}
			rows[i] = []string{e.Timestamp.Format(time.RFC3339), string(e.Operation), e.EntityType, e.RecordID.String(), actor}
		}
		return printTable(cmd.OutOrStdout(), []string{"TIME", "OPERATION", "ENTITY", "RECORD", "ACTOR"}, rows)
	},
}

func init() {
	auditCmd.Flags().StringVarP(&auditTenant, "tenant", "t", "", "tenant slug (required)")
	auditCmd.Flags().StringVar(&auditRecord, "record", "", "only entries of this record id")
	auditCmd.Flags().IntVar(&auditLimit, "limit", 100, "maximum number of entries")
	_ = auditCmd.MarkFlagRequired("tenant")
}
