// Package scm combines the local git checkout and the GitHub remote into
// the source-control capability the worker drives.
package scm

import (
	"context"

	"github.com/silver2dream/ticketflow/internal/git"
	"github.com/silver2dream/ticketflow/internal/github"
)

// Client implements worker.SourceControl.
type Client struct {
	Repo   *git.Repo
	GitHub *github.Client
	// Draft opens pull requests as drafts.
	Draft bool
}

// New creates a Client.
func New(repo *git.Repo, gh *github.Client, draft bool) *Client {
	return &Client{Repo: repo, GitHub: gh, Draft: draft}
}

// CreateBranch recreates name from an up-to-date base and checks it out.
func (c *Client) CreateBranch(ctx context.Context, name, base string) error {
	return c.Repo.CreateBranch(ctx, name, base)
}

// CommitChanges commits files, or everything when none are given.
func (c *Client) CommitChanges(ctx context.Context, message string, files ...string) error {
	return c.Repo.Commit(ctx, message, files...)
}

func (c *Client) PushBranch(ctx context.Context, name string) error {
	return c.Repo.Push(ctx, name)
}

// CreatePullRequest opens a pull request from the current branch into base.
func (c *Client) CreatePullRequest(ctx context.Context, title, body, base string) (*github.PullRequest, error) {
	head, err := c.Repo.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	return c.GitHub.CreatePullRequest(ctx, github.CreateOptions{
		Title: title,
		Body:  body,
		Base:  base,
		Head:  head,
		Draft: c.Draft,
	})
}

func (c *Client) GetPullRequest(ctx context.Context, number int) (*github.PullRequest, error) {
	return c.GitHub.GetPullRequest(ctx, number)
}

func (c *Client) GetDeploymentURL(ctx context.Context, prNumber, maxAttempts int) (string, error) {
	return c.GitHub.GetDeploymentURL(ctx, prNumber, maxAttempts)
}

func (c *Client) GetStatus(ctx context.Context) (git.Status, error) {
	return c.Repo.Status(ctx)
}

func (c *Client) HasNewCommits(ctx context.Context, base string) (bool, error) {
	return c.Repo.HasNewCommits(ctx, base)
}

func (c *Client) CommitSummary(ctx context.Context, base string) (string, error) {
	return c.Repo.CommitSummary(ctx, base)
}

func (c *Client) CheckoutBranch(ctx context.Context, name string) error {
	return c.Repo.Checkout(ctx, name)
}

// ExcludePaths keeps ticketflow's own directories out of status and commits.
func (c *Client) ExcludePaths(ctx context.Context, dirs ...string) error {
	return c.Repo.Exclude(ctx, dirs...)
}

func (c *Client) BranchExists(ctx context.Context, name string) bool {
	return c.Repo.BranchExists(ctx, name)
}
