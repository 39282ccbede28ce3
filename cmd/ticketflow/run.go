package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/silver2dream/ticketflow/internal/agent"
	"github.com/silver2dream/ticketflow/internal/history"
	"github.com/silver2dream/ticketflow/internal/notify"
	"github.com/silver2dream/ticketflow/internal/worker"
)

type runOptions struct {
	extraContext string
	dryRun       bool
	json         bool
}

func newRunCmd(global *globalOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run <TICKET-KEY>",
		Short: "Process a single ticket end to end",
		Long: `Run fetches the ticket, branches from the base branch, runs the coding agent,
commits and pushes the result, opens a pull request and updates the ticket.

Examples:
  ticketflow run CW2-100
  ticketflow run CW2-100 --context "Reuse the existing auth middleware"
  ticketflow run CW2-100 --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTicket(cmd.Context(), global, opts, args[0], cmd.OutOrStdout())
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&opts.extraContext, "context", "", "additional instructions appended to the agent prompt")
	fs.BoolVar(&opts.dryRun, "dry-run", false, "print the branch name and prompt without changing anything")
	fs.BoolVar(&opts.json, "json", false, "print the result as JSON")
	return cmd
}

// runOutput is the --json shape of a worker result.
type runOutput struct {
	Ticket          string  `json:"ticket"`
	Success         bool    `json:"success"`
	Kind            string  `json:"kind"`
	Branch          string  `json:"branch,omitempty"`
	PRURL           string  `json:"pr_url,omitempty"`
	PRNumber        int     `json:"pr_number,omitempty"`
	PreviewURL      string  `json:"preview_url,omitempty"`
	Changes         string  `json:"changes,omitempty"`
	Error           string  `json:"error,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

func newRunOutput(res *worker.Result) runOutput {
	out := runOutput{
		Ticket:          res.TicketKey,
		Success:         res.Success,
		Kind:            string(res.Kind),
		Branch:          res.Branch,
		PRURL:           res.PRURL(),
		PreviewURL:      res.PreviewURL,
		Changes:         res.ChangesSummary,
		Error:           res.Error,
		DurationSeconds: res.Duration.Seconds(),
	}
	if res.PullRequest != nil {
		out.PRNumber = res.PullRequest.Number
	}
	return out
}

func runTicket(ctx context.Context, global *globalOptions, opts *runOptions, key string, stdout io.Writer) error {
	a, err := newApp(global, "run")
	if err != nil {
		return err
	}
	defer a.Close()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracker := a.jira()
	if opts.dryRun {
		return dryRun(ctx, a, tracker, key, opts.extraContext, stdout)
	}

	res := a.worker(key, tracker).ProcessTicket(ctx, opts.extraContext)

	// Record and notify even when the run was interrupted.
	after := context.WithoutCancel(ctx)
	if store, err := history.Open(a.cfg.HistoryPath()); err != nil {
		a.log.Warn("history unavailable: %v", err)
	} else {
		if _, err := store.Record(after, res); err != nil {
			a.log.Warn("could not record history: %v", err)
		}
		store.Close()
	}
	if err := notify.New(a.cfg.Notify.Desktop, a.cfg.Notify.WebhookURL).Notify(after, res); err != nil {
		a.log.Warn("notification failed: %v", err)
	}

	if err := printResult(stdout, res, opts.json); err != nil {
		return err
	}
	if res.Success {
		return nil
	}
	return &silentError{err: resultErr(res)}
}

func resultErr(res *worker.Result) error {
	if res.Err != nil {
		return res.Err
	}
	return errors.New(res.Error)
}

func printResult(w io.Writer, res *worker.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(newRunOutput(res)); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}

	status := "success"
	if !res.Success {
		status = string(res.Kind)
	}
	fmt.Fprintf(w, "STATUS=%s\n", status)
	if res.Branch != "" {
		fmt.Fprintf(w, "BRANCH=%s\n", res.Branch)
	}
	if url := res.PRURL(); url != "" {
		fmt.Fprintf(w, "PR_URL=%s\n", url)
	}
	if res.PreviewURL != "" {
		fmt.Fprintf(w, "PREVIEW_URL=%s\n", res.PreviewURL)
	}
	if res.Error != "" {
		fmt.Fprintf(w, "ERROR=%s\n", res.Error)
	}
	return nil
}

// dryRun shows what a run would do. Nothing is downloaded, branched or
// posted.
func dryRun(ctx context.Context, a *app, tracker worker.Tracker, key, extra string, w io.Writer) error {
	ticket, err := tracker.GetTicket(ctx, key)
	if err != nil {
		return err
	}
	prompt := agent.BuildPrompt(agent.PromptInput{
		Ticket:         ticket,
		TicketURL:      tracker.TicketURL(key),
		AttachmentsDir: filepath.Join(a.cfg.AttachmentsDir(), key),
		Instructions:   a.cfg.Project.Instructions,
		ExtraContext:   extra,
	})
	fmt.Fprintf(w, "BRANCH=%s\n", worker.BranchName(a.cfg.Git.BranchPattern, ticket))
	fmt.Fprintf(w, "BASE=%s\n", a.cfg.Git.BaseBranch)
	fmt.Fprintf(w, "COMMIT=%s\n", worker.CommitMessage(a.cfg.Git.CommitPattern, ticket))
	fmt.Fprintf(w, "AGENT=%s\n\n", a.cfg.Agent.Command)
	fmt.Fprintln(w, prompt)
	return nil
}
