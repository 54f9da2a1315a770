package main

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jeanpaul/pdbfacts/internal/factfile"
	"github.com/jeanpaul/pdbfacts/internal/facts"
)

func (a *app) uploadCmd() *cobra.Command {
	var (
		environment string
		parallel    int
		wait        bool
	)
	cmd := &cobra.Command{
		Use:   "upload <glob>",
		Short: "Submit every cached fact file matching a glob",
		Long: `Submit every fact file matching a glob such as
/opt/puppetlabs/server/data/puppetserver/yaml/facts/**/*.yaml.
The certname is taken from the file, or from its name when the file holds a
bare fact map. Failures are reported per file; the command fails if any did.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := doublestar.FilepathGlob(args[0], doublestar.WithFilesOnly())
			if err != nil {
				return fmt.Errorf("glob %q: %w", args[0], err)
			}
			if len(paths) == 0 {
				return fmt.Errorf("no fact files match %q", args[0])
			}
			sort.Strings(paths)

			var (
				mu     sync.Mutex
				failed []error
				saved  int
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(max(parallel, 1))
			for _, path := range paths {
				g.Go(func() error {
					fs, err := factfile.Load(path)
					if err == nil {
						_, err = a.facts.Save(ctx, facts.SaveRequest{
							Certname:    fs.Certname,
							Values:      fs.Values,
							Environment: environment,
							Trusted:     localTrusted(fs.Certname),
						})
					}

					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						a.logger.Warn("upload failed", zap.String("path", path), zap.Error(err))
						failed = append(failed, fmt.Errorf("%s: %w", path, err))
						return nil
					}
					saved++
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			a.printf("Submitted %d of %d fact files\n", saved, len(paths))
			if len(failed) > 0 {
				return errors.Join(failed...)
			}
			if wait {
				return a.waitQueue(cmd, 0, 0)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&environment, "environment", "e", "", "Environment recorded with the facts")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 4, "Number of concurrent submissions")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Wait for the command queue to drain after submitting")
	return cmd
}
