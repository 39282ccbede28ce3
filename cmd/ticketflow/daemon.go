package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/silver2dream/ticketflow/internal/daemon"
	"github.com/silver2dream/ticketflow/internal/history"
	"github.com/silver2dream/ticketflow/internal/notify"
	"github.com/silver2dream/ticketflow/internal/poller"
)

type daemonOptions struct {
	interval     time.Duration
	once         bool
	extraContext string
}

func newDaemonCmd(global *globalOptions) *cobra.Command {
	opts := &daemonOptions{}
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Poll the project and process eligible tickets one at a time",
		Long: `Daemon polls Jira for tickets in the candidate statuses (or matching jira.jql),
processes each one with the same workflow as "run", and sleeps between polls.

Ctrl+C or SIGTERM stops the daemon after the current ticket finishes.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd.Context(), global, opts)
		},
	}
	fs := cmd.Flags()
	fs.DurationVar(&opts.interval, "interval", 0, "poll interval (overrides daemon.poll_interval_seconds)")
	fs.BoolVar(&opts.once, "once", false, "process at most one ticket, then exit")
	fs.StringVar(&opts.extraContext, "context", "", "additional instructions for every ticket")
	return cmd
}

func runDaemon(ctx context.Context, global *globalOptions, opts *daemonOptions) error {
	a, err := newApp(global, "daemon")
	if err != nil {
		return err
	}
	defer a.Close()
	if ctx == nil {
		ctx = context.Background()
	}

	tracker := a.jira()
	p := poller.New(tracker, a.cfg.Jira, a.log)
	a.log.Info("query: %s", p.JQL())

	dopts := daemon.Options{
		PollInterval:  a.cfg.PollInterval(),
		LockPath:      a.cfg.LockPath(),
		MaxTickets:    a.cfg.Daemon.MaxTickets,
		ExtraContext:  opts.extraContext,
		HandleSignals: true,
	}
	if opts.interval > 0 {
		dopts.PollInterval = opts.interval
	}
	if opts.once {
		dopts.MaxTickets = 1
	}

	var recorder daemon.Recorder
	if store, err := history.Open(a.cfg.HistoryPath()); err != nil {
		a.log.Warn("history unavailable: %v", err)
	} else {
		defer store.Close()
		recorder = store
	}
	notifier := notify.New(a.cfg.Notify.Desktop, a.cfg.Notify.WebhookURL)

	d := daemon.New(p, a.workerFactory(tracker), recorder, notifier, a.log, dopts)
	return d.Start(ctx)
}
