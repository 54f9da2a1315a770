package main

import (
	"errors"
	"fmt"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
	"github.com/spf13/cobra"

	"github.com/jeanpaul/pdbfacts/internal/factfile"
	"github.com/jeanpaul/pdbfacts/internal/facts"
)

func (a *app) diffCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "diff <certname> <file>",
		Short: "Compare the facts PuppetDB holds for a node with a local fact file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			certname, path := args[0], args[1]
			local, err := factfile.Load(path)
			if err != nil {
				return err
			}

			stored := map[string]any{}
			f, err := a.facts.Find(cmd.Context(), certname)
			switch {
			case errors.Is(err, facts.ErrNotFound):
			case err != nil:
				return err
			default:
				stored = f.Values
			}

			diff, err := unifiedDiff("puppetdb/"+certname, path, stored, local.Values)
			if err != nil {
				return err
			}
			if diff == "" {
				a.printf("No differences for %s\n", certname)
				return nil
			}
			a.printf("%s", diff)
			return nil
		},
	}
}

// unifiedDiff renders both fact sets as sorted YAML and returns their
// unified diff, or "" when they match.
func unifiedDiff(fromName, toName string, from, to map[string]any) (string, error) {
	before, err := factfile.Render(from)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", fromName, err)
	}
	after, err := factfile.Render(to)
	if err != nil {
		return "", fmt.Errorf("render %s: %w", toName, err)
	}
	if before == after {
		return "", nil
	}
	edits := myers.ComputeEdits(span.URIFromPath(fromName), before, after)
	return fmt.Sprint(gotextdiff.ToUnified(fromName, toName, before, edits)), nil
}
