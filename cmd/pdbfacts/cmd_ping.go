package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/pdbfacts/internal/health"
	"github.com/jeanpaul/pdbfacts/internal/transport"
)

func (a *app) pingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Check that every configured PuppetDB server is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses := health.CheckAll(cmd.Context(), a.cfg.ServerURLs, a.decoder,
				transport.WithTimeout(a.cfg.RequestTimeout),
				transport.WithLogger(a.logger.Named("health")))

			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SERVER\tSTATE\tVERSION\tLATENCY")
			down := 0
			for _, s := range statuses {
				state, version := s.State, s.Version
				if !s.Running() {
					down++
				}
				if s.Error != "" {
					state = "error: " + s.Error
				}
				if version == "" {
					version = "-"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Server, state, version, s.Latency.Round(time.Millisecond))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if down > 0 {
				return fmt.Errorf("%d of %d PuppetDB servers are not running", down, len(statuses))
			}
			return nil
		},
	}
}
