package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <certname>...",
		Short: "Show PuppetDB's lifecycle view of one or more nodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := a.facts.Status(cmd.Context(), args...)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CERTNAME\tSTATE\tFACTS\tENVIRONMENT")
			for _, s := range statuses {
				state := "active"
				switch {
				case !s.Found:
					state = "unknown"
				case s.Deactivated != nil:
					state = "deactivated"
				case s.Expired != nil:
					state = "expired"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Certname, state, deref(s.FactsTimestamp), deref(s.FactsEnvironment))
			}
			return tw.Flush()
		},
	}
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
