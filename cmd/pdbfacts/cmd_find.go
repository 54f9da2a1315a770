package main

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/pdbfacts/internal/factfile"
	"github.com/jeanpaul/pdbfacts/internal/facts"
)

func (a *app) findCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "find <certname>",
		Short: "Print the facts PuppetDB holds for a node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := a.facts.Find(cmd.Context(), args[0])
			if errors.Is(err, facts.ErrNotFound) {
				return fmt.Errorf("no facts stored for %s: %w", args[0], err)
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(a.out)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"name": f.Certname, "values": f.Values})
			}
			out, err := factfile.Render(f.Values)
			if err != nil {
				return err
			}
			a.printf("%s", out)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of YAML")
	return cmd
}
