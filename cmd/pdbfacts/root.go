package main

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jeanpaul/pdbfacts/internal/command"
	"github.com/jeanpaul/pdbfacts/internal/config"
	"github.com/jeanpaul/pdbfacts/internal/facts"
	"github.com/jeanpaul/pdbfacts/internal/logging"
	"github.com/jeanpaul/pdbfacts/internal/response"
	"github.com/jeanpaul/pdbfacts/internal/schema"
	"github.com/jeanpaul/pdbfacts/internal/transport"
)

// app holds everything the subcommands share once flags and config are read.
type app struct {
	out io.Writer

	// Global flags
	configPath string
	servers    []string
	logLevel   string

	cfg       *config.Config
	logger    *zap.Logger
	transport *transport.Client
	decoder   *response.Decoder
	facts     *facts.Client
}

func newRootCmd(out io.Writer) *cobra.Command {
	a := &app{out: out}

	root := &cobra.Command{
		Use:   "pdbfacts",
		Short: "Publish and query node facts in PuppetDB",
		Long: `pdbfacts submits "replace facts" commands to PuppetDB and reads facts back.

Facts are queried with flat constraints of the form facts.<name>.<op>=<value>,
where <op> is one of eq, ne, lt, gt, le, ge (default eq).`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Config file (default: ./pdbfacts.yaml or ~/.config/pdbfacts/pdbfacts.yaml)")
	root.PersistentFlags().StringSliceVarP(&a.servers, "server", "s", nil, "PuppetDB server URL; repeat for failover")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		a.saveCmd(),
		a.findCmd(),
		a.searchCmd(),
		a.statusCmd(),
		a.uploadCmd(),
		a.diffCmd(),
		a.waitQueueCmd(),
		a.pingCmd(),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if len(a.servers) > 0 {
		cfg.ServerURLs = a.servers
		if err := cfg.Validate(); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg

	a.logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}

	a.transport, err = transport.New(cfg.ServerURLs,
		transport.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}),
		transport.WithLogger(a.logger.Named("transport")))
	if err != nil {
		return err
	}
	a.decoder = response.NewDecoder(schema.NewValidator())

	submitter := command.NewSubmitter(a.transport,
		command.WithPath(cfg.CommandPath),
		command.WithRetryPolicy(cfg.RetryPolicy()),
		command.WithLogger(a.logger.Named("command")))

	a.facts = facts.New(a.transport, submitter, a.decoder,
		facts.WithQueryPath(cfg.QueryPath),
		facts.WithProducer(cfg.Producer),
		facts.WithMaxAttempts(cfg.Submit.MaxAttempts),
		facts.WithLogger(a.logger.Named("facts")))

	a.logger.Debug("configured",
		zap.Strings("servers", cfg.ServerURLs),
		zap.String("producer", cfg.Producer),
		zap.Duration("request_timeout", cfg.RequestTimeout))
	return nil
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// localTrusted mirrors the trusted data an agent reports when it runs
// without a certificate-authenticated connection.
func localTrusted(certname string) map[string]any {
	return map[string]any{
		"authenticated": "local",
		"certname":      certname,
		"extensions":    map[string]any{},
	}
}

func since(start time.Time) zap.Field {
	return zap.Duration("elapsed", time.Since(start))
}
