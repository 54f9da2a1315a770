package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/jeanpaul/pdbfacts/internal/queue"
)

func (a *app) waitQueueCmd() *cobra.Command {
	var timeout, interval time.Duration
	cmd := &cobra.Command{
		Use:   "wait-queue",
		Short: "Block until PuppetDB's command queue is empty",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.waitQueue(cmd, timeout, interval)
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long (default from config queue.timeout)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Delay between polls (default from config queue.poll_interval)")
	return cmd
}

// waitQueue polls the command queue MBean. Zero durations use the configured values.
func (a *app) waitQueue(cmd *cobra.Command, timeout, interval time.Duration) error {
	if timeout <= 0 {
		timeout = a.cfg.Queue.Timeout
	}
	if interval <= 0 {
		interval = a.cfg.Queue.PollInterval
	}
	poller := queue.NewMBeanPoller(a.transport, a.decoder, a.cfg.MetricsPath, a.cfg.Queue.MBean)
	w := queue.Waiter{
		Timeout:      timeout,
		PollInterval: interval,
		Logger:       a.logger.Named("queue"),
	}
	if err := w.Wait(cmd.Context(), poller.QueueSize); err != nil {
		return err
	}
	a.printf("Command queue is empty\n")
	return nil
}
