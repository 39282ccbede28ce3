// Package worker drives one ticket through the fixed workflow:
// fetch, attachments, branch, agent, change detection, commit, push,
// pull request, preview, ticket update, back to base.
package worker

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/silver2dream/ticketflow/internal/agent"
	"github.com/silver2dream/ticketflow/internal/config"
	tferrors "github.com/silver2dream/ticketflow/internal/errors"
	"github.com/silver2dream/ticketflow/internal/git"
	"github.com/silver2dream/ticketflow/internal/github"
	"github.com/silver2dream/ticketflow/internal/jira"
	"github.com/silver2dream/ticketflow/internal/logger"
)

// Tracker is the issue-tracker capability the worker needs.
type Tracker interface {
	GetTicket(ctx context.Context, key string) (*jira.Ticket, error)
	AddComment(ctx context.Context, key, text string) error
	TransitionTicket(ctx context.Context, key, name string) error
	DownloadAttachment(ctx context.Context, att jira.Attachment, dir string) (string, error)
	TicketURL(key string) string
}

// SourceControl is the git and pull request capability the worker needs.
type SourceControl interface {
	CreateBranch(ctx context.Context, name, base string) error
	CommitChanges(ctx context.Context, message string, files ...string) error
	PushBranch(ctx context.Context, name string) error
	CreatePullRequest(ctx context.Context, title, body, base string) (*github.PullRequest, error)
	GetPullRequest(ctx context.Context, number int) (*github.PullRequest, error)
	GetDeploymentURL(ctx context.Context, prNumber, maxAttempts int) (string, error)
	GetStatus(ctx context.Context) (git.Status, error)
	HasNewCommits(ctx context.Context, base string) (bool, error)
	CommitSummary(ctx context.Context, base string) (string, error)
	CheckoutBranch(ctx context.Context, name string) error
	BranchExists(ctx context.Context, name string) bool
	ExcludePaths(ctx context.Context, dirs ...string) error
}

// Agent runs the coding agent for a ticket.
type Agent interface {
	WorkTicket(ctx context.Context, ticket *jira.Ticket, ticketURL, workDir, extraContext string) (*agent.Result, error)
}

// Deps are the collaborators a Worker drives.
type Deps struct {
	Tracker Tracker
	SCM     SourceControl
	Agent   Agent
	Log     *logger.Logger
}

// Options are the per-project workflow settings.
type Options struct {
	BaseBranch     string
	BranchPattern  string
	CommitPattern  string
	PRTitlePattern string
	PRBodyPattern  string
	// TransitionTo is applied after the PR is opened. Empty skips it.
	TransitionTo   string
	WaitForPreview bool
	PreviewTimeout time.Duration
	// PreviewPollInterval is the gap between deployment checks; it sets
	// how many attempts fit into PreviewTimeout.
	PreviewPollInterval time.Duration
	// AttachmentsDir holds one subdirectory per ticket key.
	AttachmentsDir string
	WorkDir        string
	// StateDirs are ticketflow's own directories (attachments, history,
	// lock). Those inside WorkDir never count as changes or get committed.
	StateDirs []string
}

// OptionsFromConfig maps the loaded configuration onto worker options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseBranch:          cfg.Git.BaseBranch,
		BranchPattern:       cfg.Git.BranchPattern,
		CommitPattern:       cfg.Git.CommitPattern,
		PRTitlePattern:      cfg.GitHub.PRTitlePattern,
		PRBodyPattern:       cfg.GitHub.PRBodyPattern,
		TransitionTo:        cfg.Jira.TransitionTo,
		WaitForPreview:      cfg.GitHub.WaitForPreview,
		PreviewTimeout:      cfg.PreviewTimeout(),
		PreviewPollInterval: github.DefaultPollInterval,
		AttachmentsDir:      cfg.AttachmentsDir(),
		WorkDir:             cfg.Root,
		StateDirs:           []string{cfg.StateDir(), cfg.AttachmentsDir()},
	}
}

const totalSteps = 11

// Worker processes a single ticket. Build a new one per ticket.
type Worker struct {
	key  string
	deps Deps
	opts Options
	log  *logger.Logger
}

// New creates a Worker for ticket key.
func New(key string, deps Deps, opts Options) *Worker {
	log := deps.Log
	if log == nil {
		log = logger.Discard()
	}
	if opts.PreviewPollInterval <= 0 {
		opts.PreviewPollInterval = github.DefaultPollInterval
	}
	return &Worker{key: key, deps: deps, opts: opts, log: log.WithPrefix(key)}
}

// ProcessTicket runs the workflow and always returns a Result. On any
// failure, including a panic, the base branch is checked out again
// before returning.
func (w *Worker) ProcessTicket(ctx context.Context, extraContext string) (res *Result) {
	start := time.Now()
	res = &Result{TicketKey: w.key, StartedAt: start, Kind: KindNone}
	defer func() { res.Duration = time.Since(start) }()
	defer func() {
		if r := recover(); r != nil {
			w.fail(ctx, res, fmt.Errorf("panic: %v", r))
			res.Kind = KindFatal
		}
	}()

	if err := w.run(ctx, extraContext, res); err != nil {
		w.fail(ctx, res, err)
		return res
	}
	res.Success = true
	return res
}

func (w *Worker) fail(ctx context.Context, res *Result, err error) {
	res.Success = false
	res.Err = err
	res.Error = err.Error()
	res.Kind = classify(err)
	if res.Kind == KindNoChanges {
		w.log.Warn("%v", err)
	} else {
		w.log.Error("%v", err)
	}
	// The run may have failed because ctx was cancelled; restoring the base
	// branch must still happen.
	w.bestEffort("checkout "+w.opts.BaseBranch, func() error {
		return w.deps.SCM.CheckoutBranch(context.WithoutCancel(ctx), w.opts.BaseBranch)
	})
}

// bestEffort runs a recovery action whose failure must not change the
// outcome of the run. Errors are logged at debug level only.
func (w *Worker) bestEffort(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Debug("best-effort %s panicked: %v", what, r)
		}
	}()
	if err := fn(); err != nil {
		w.log.Debug("best-effort %s failed: %v", what, err)
	}
}

func (w *Worker) step(n int, format string, args ...any) {
	w.log.Info("[%d/%d] %s", n, totalSteps, fmt.Sprintf(format, args...))
}

func (w *Worker) run(ctx context.Context, extraContext string, res *Result) error {
	tracker, scm := w.deps.Tracker, w.deps.SCM
	base := w.opts.BaseBranch

	w.step(1, "Fetching ticket")
	ticket, err := tracker.GetTicket(ctx, w.key)
	if err != nil {
		return failStep("fetch ticket", err)
	}
	ticketURL := tracker.TicketURL(w.key)
	w.log.Info("%s [%s] %s", ticket.Summary, ticket.Status, ticketURL)

	if len(w.opts.StateDirs) > 0 {
		if err := scm.ExcludePaths(ctx, w.opts.StateDirs...); err != nil {
			return failStep("exclude state directories", err)
		}
	}

	w.step(2, "Downloading %d attachment(s)", len(ticket.Attachments))
	if len(ticket.Attachments) > 0 {
		dir := filepath.Join(w.opts.AttachmentsDir, w.key)
		for _, att := range ticket.Attachments {
			path, err := tracker.DownloadAttachment(ctx, att, dir)
			if err != nil {
				return failStep("download attachment "+att.Filename, err)
			}
			w.log.Debug("saved %s", path)
		}
	}

	branch := BranchName(w.opts.BranchPattern, ticket)
	res.Branch = branch
	w.step(3, "Creating branch %s from %s", branch, base)
	if err := scm.CreateBranch(ctx, branch, base); err != nil {
		return failStep("create branch", err)
	}

	w.step(4, "Running coding agent")
	agentRes, err := w.deps.Agent.WorkTicket(ctx, ticket, ticketURL, w.opts.WorkDir, extraContext)
	if err != nil {
		return failStep("agent", err)
	}
	if !agentRes.Success {
		return failStep("agent", tferrors.NewAgentErrorWithCause("unsuccessful run", errors.New(agentRes.Error)))
	}
	w.log.Info("agent finished in %s", agentRes.Duration.Round(time.Second))

	w.step(5, "Detecting changes")
	status, err := scm.GetStatus(ctx)
	if err != nil {
		return failStep("status", err)
	}
	hasCommits, err := scm.HasNewCommits(ctx, base)
	if err != nil {
		return failStep("status", err)
	}
	if !status.HasChanges() && !hasCommits {
		return tferrors.ErrNoChanges
	}

	if status.HasChanges() {
		msg := CommitMessage(w.opts.CommitPattern, ticket)
		w.step(6, "Committing uncommitted changes")
		if err := scm.CommitChanges(ctx, msg); err != nil {
			return failStep("commit", err)
		}
	} else {
		w.step(6, "Agent committed its own changes")
	}

	w.step(7, "Pushing %s", branch)
	if err := scm.PushBranch(ctx, branch); err != nil {
		return failStep("push", err)
	}

	w.step(8, "Creating pull request into %s", base)
	summary, err := scm.CommitSummary(ctx, base)
	if err != nil {
		return failStep("commit summary", err)
	}
	res.ChangesSummary = summary
	vars := prVars(ticket, ticketURL, summary)
	pr, err := scm.CreatePullRequest(ctx, Render(w.opts.PRTitlePattern, vars...), Render(w.opts.PRBodyPattern, vars...), base)
	if err != nil {
		return failStep("create pull request", err)
	}
	res.PullRequest = pr
	w.log.Success("pull request #%d: %s", pr.Number, pr.URL)

	if w.opts.WaitForPreview {
		attempts := int(w.opts.PreviewTimeout / w.opts.PreviewPollInterval)
		w.step(9, "Waiting for preview deployment (%d checks)", attempts)
		url, err := scm.GetDeploymentURL(ctx, pr.Number, attempts)
		switch {
		case err != nil:
			w.log.Warn("preview lookup failed: %v", err)
		case url == "":
			w.log.Warn("no preview deployment within %s", w.opts.PreviewTimeout)
		default:
			res.PreviewURL = url
			w.log.Success("preview: %s", url)
		}
	} else {
		w.step(9, "Preview wait disabled")
	}

	w.step(10, "Updating ticket")
	if err := tracker.AddComment(ctx, w.key, ticketComment(res)); err != nil {
		return failStep("comment", err)
	}
	if w.opts.TransitionTo != "" {
		if err := tracker.TransitionTicket(ctx, w.key, w.opts.TransitionTo); err != nil {
			return failStep(stepTransition, err)
		}
		w.log.Info("moved to %q", w.opts.TransitionTo)
	}

	w.step(11, "Returning to %s", base)
	if err := scm.CheckoutBranch(ctx, base); err != nil {
		w.log.Warn("could not check out %s: %v", base, err)
	}
	return nil
}

func ticketComment(res *Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Pull request opened: %s", res.PRURL())
	if res.PreviewURL != "" {
		fmt.Fprintf(&b, "\nPreview: %s", res.PreviewURL)
	}
	if s := strings.TrimSpace(res.ChangesSummary); s != "" {
		b.WriteString("\n\nChanges:\n")
		b.WriteString(s)
	}
	return b.String()
}
