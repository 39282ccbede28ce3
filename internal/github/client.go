// Package github opens pull requests and reads deployment statuses via the gh CLI.
package github

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
	"github.com/silver2dream/ticketflow/internal/ghutil"
	"github.com/silver2dream/ticketflow/internal/logger"
)

// DefaultPollInterval is the gap between deployment status checks.
const DefaultPollInterval = 5 * time.Second

// PullRequest is the handle of an opened pull request.
type PullRequest struct {
	Number  int    `json:"number"`
	URL     string `json:"url"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HeadSHA string `json:"headRefOid"`
}

// Runner executes gh with the given arguments and returns stdout.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// Client wraps gh for one repository.
type Client struct {
	// Repo is owner/name. Empty lets gh resolve it from the working directory.
	Repo         string
	PollInterval time.Duration

	run Runner
	log *logger.Logger
}

// NewClient creates a client whose gh calls retry per cfg.
func NewClient(repo string, cfg ghutil.RetryConfig, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	cfg.Log = log
	return &Client{
		Repo:         repo,
		PollInterval: DefaultPollInterval,
		run: func(ctx context.Context, args ...string) ([]byte, error) {
			return ghutil.RunWithRetry(ctx, cfg, "gh", args...)
		},
		log: log,
	}
}

// NewClientWithRunner creates a client that sends every gh call to run.
func NewClientWithRunner(repo string, run Runner, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Discard()
	}
	return &Client{Repo: repo, PollInterval: DefaultPollInterval, run: run, log: log}
}

func (c *Client) repoArgs(args []string) []string {
	if c.Repo == "" {
		return args
	}
	return append(args, "--repo", c.Repo)
}

// apiPath expands to the configured repository, or lets gh fill {owner}/{repo}.
func (c *Client) apiPath(suffix string) string {
	repo := c.Repo
	if repo == "" {
		repo = "{owner}/{repo}"
	}
	return "repos/" + repo + "/" + suffix
}

// CreateOptions are the pull request fields.
type CreateOptions struct {
	Title string
	Body  string
	Base  string
	Head  string
	Draft bool
}

// CreatePullRequest opens a pull request from opts.Head into opts.Base.
// When one is already open for the head branch it is returned instead.
func (c *Client) CreatePullRequest(ctx context.Context, opts CreateOptions) (*PullRequest, error) {
	args := []string{"pr", "create", "--title", opts.Title, "--body", opts.Body, "--base", opts.Base}
	if opts.Head != "" {
		args = append(args, "--head", opts.Head)
	}
	if opts.Draft {
		args = append(args, "--draft")
	}

	out, err := c.run(ctx, c.repoArgs(args)...)
	if err != nil {
		if opts.Head != "" && strings.Contains(err.Error(), "already exists") {
			c.log.Warn("pull request for %s already exists, reusing it", opts.Head)
			return c.getPullRequest(ctx, opts.Head)
		}
		return nil, classify("failed to create pull request", err)
	}

	url := lastLine(string(out))
	number, err := numberFromURL(url)
	if err != nil {
		return nil, tferrors.NewGeneralErrorWithCause("unexpected gh pr create output: "+url, err)
	}
	return c.GetPullRequest(ctx, number)
}

// GetPullRequest reads a pull request by number.
func (c *Client) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	return c.getPullRequest(ctx, strconv.Itoa(number))
}

func (c *Client) getPullRequest(ctx context.Context, ref string) (*PullRequest, error) {
	args := []string{"pr", "view", ref, "--json", "number,url,title,state,headRefOid"}
	out, err := c.run(ctx, c.repoArgs(args)...)
	if err != nil {
		return nil, classify("failed to read pull request "+ref, err)
	}
	var pr PullRequest
	if err := json.Unmarshal(out, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse PR JSON: %w", err)
	}
	return &pr, nil
}

type deployment struct {
	ID          int64  `json:"id"`
	Environment string `json:"environment"`
}

type deploymentStatus struct {
	State          string `json:"state"`
	EnvironmentURL string `json:"environment_url"`
	TargetURL      string `json:"target_url"`
}

// GetDeploymentURL polls the deployments of the pull request's head commit
// up to maxAttempts times, PollInterval apart, and returns the first
// successful environment URL. It returns "" when none appears in time.
func (c *Client) GetDeploymentURL(ctx context.Context, prNumber, maxAttempts int) (string, error) {
	pr, err := c.GetPullRequest(ctx, prNumber)
	if err != nil {
		return "", err
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		url, err := c.findDeploymentURL(ctx, pr.HeadSHA)
		if err != nil {
			c.log.Debug("deployment check %d/%d failed: %v", attempt, maxAttempts, err)
		}
		if url != "" {
			c.log.Debug("preview found on attempt %d/%d", attempt, maxAttempts)
			return url, nil
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(c.PollInterval):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", nil
}

func (c *Client) findDeploymentURL(ctx context.Context, sha string) (string, error) {
	out, err := c.run(ctx, "api", c.apiPath("deployments?sha="+sha))
	if err != nil {
		return "", err
	}
	var deployments []deployment
	if err := json.Unmarshal(out, &deployments); err != nil {
		return "", fmt.Errorf("failed to parse deployments: %w", err)
	}

	// The API lists newest first.
	for _, d := range deployments {
		out, err := c.run(ctx, "api", c.apiPath(fmt.Sprintf("deployments/%d/statuses", d.ID)))
		if err != nil {
			return "", err
		}
		var statuses []deploymentStatus
		if err := json.Unmarshal(out, &statuses); err != nil {
			return "", fmt.Errorf("failed to parse deployment statuses: %w", err)
		}
		for _, s := range statuses {
			if s.State != "success" {
				continue
			}
			if s.EnvironmentURL != "" {
				return s.EnvironmentURL, nil
			}
			if s.TargetURL != "" {
				return s.TargetURL, nil
			}
		}
	}
	return "", nil
}

// classify marks transient gh failures as network errors.
func classify(msg string, err error) error {
	var cmdErr *ghutil.CommandError
	if errors.As(err, &cmdErr) && !ghutil.IsRetryable(cmdErr.Stderr, cmdErr.ExitCode) {
		return tferrors.NewGeneralErrorWithCause(msg, err)
	}
	return tferrors.NewNetworkErrorWithCause(msg, err)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

func numberFromURL(url string) (int, error) {
	i := strings.LastIndex(url, "/pull/")
	if i < 0 {
		return 0, fmt.Errorf("no /pull/ in %q", url)
	}
	return strconv.Atoi(strings.TrimRight(url[i+len("/pull/"):], "/"))
}
