package main

import (
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

var entitiesCmd = &cobra.Command{
	Use:   "entities [ENTITY]",
	Short: "List registered entity types, or show one descriptor",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sc, err := setup()
		if err != nil {
			return err
		}
		defer sc.Cleanup()

		if len(args) == 1 {
			d, err := sc.Registry.Resolve(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		}

		var rows [][]string
		for _, name := range sc.Registry.Names() {
			d, err := sc.Registry.Resolve(name)
			if err != nil {
				return err
			}
			keys := make([]string, len(d.UniqueKeys))
			for i, k := range d.UniqueKeys {
				keys[i] = "(" + strings.Join(k, ",") + ")"
			}
			refs := append([]string(nil), d.ActorReferenceFields...)
			sort.Strings(refs)
			rows = append(rows, []string{
				name,
				strings.Join(d.RequiredFields, ","),
				strings.Join(keys, " "),
				strings.Join(refs, ","),
			})
		}
		return printTable(cmd.OutOrStdout(), []string{"ENTITY", "REQUIRED", "UNIQUE", "ACTOR REFS"}, rows)
	},
}
