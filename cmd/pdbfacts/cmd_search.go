package main

import (
	"github.com/spf13/cobra"

	"github.com/jeanpaul/pdbfacts/internal/query"
)

func (a *app) searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <facts.name.op=value>...",
		Short: "List nodes whose facts match every constraint",
		Example: `  pdbfacts search facts.kernel.eq=Linux
  pdbfacts search facts.processorcount.ge=4 facts.osfamily=Debian`,
		RunE: func(cmd *cobra.Command, args []string) error {
			constraints := make(map[string]any, len(args))
			for _, arg := range args {
				k, v, err := query.ParseConstraint(arg)
				if err != nil {
					return err
				}
				constraints[k] = v
			}
			names, err := a.facts.Search(cmd.Context(), constraints)
			if err != nil {
				return err
			}
			for _, n := range names {
				a.printf("%s\n", n)
			}
			return nil
		},
	}
}
