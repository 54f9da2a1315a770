package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeanpaul/pdbfacts/internal/factfile"
	"github.com/jeanpaul/pdbfacts/internal/facts"
)

func (a *app) saveCmd() *cobra.Command {
	var (
		environment string
		wait        bool
	)
	cmd := &cobra.Command{
		Use:   "save <certname> <file>",
		Short: "Submit a replace facts command from a JSON or YAML fact file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			certname, path := args[0], args[1]
			fs, err := factfile.Load(path)
			if err != nil {
				return err
			}

			start := time.Now()
			res, err := a.facts.Save(cmd.Context(), facts.SaveRequest{
				Certname:    certname,
				Values:      fs.Values,
				Environment: environment,
				Trusted:     localTrusted(certname),
			})
			if err != nil {
				return err
			}
			a.logger.Info("facts saved",
				zap.String("certname", certname),
				zap.String("uuid", res.UUID.String()),
				zap.Int("attempts", res.Attempts),
				since(start))
			a.printf("Submitted replace facts for %s (command %s)\n", certname, res.UUID)

			if wait {
				return a.waitQueue(cmd, 0, 0)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&environment, "environment", "e", "", "Environment recorded with the facts")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the command queue to drain after submitting")
	return cmd
}
