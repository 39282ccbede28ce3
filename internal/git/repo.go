// Package git wraps the git CLI for the single checkout the workflow operates on.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
	"github.com/silver2dream/ticketflow/internal/logger"
)

// Repo runs git commands in one working tree.
type Repo struct {
	Dir     string
	Remote  string
	Timeout time.Duration
	// Log receives warnings for best-effort steps. Nil discards them.
	Log *logger.Logger
}

// New creates a Repo for dir pushing to remote.
func New(dir, remote string, timeout time.Duration) *Repo {
	if remote == "" {
		remote = "origin"
	}
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &Repo{Dir: dir, Remote: remote, Timeout: timeout}
}

func (r *Repo) log() *logger.Logger {
	if r.Log == nil {
		return logger.Discard()
	}
	return r.Log
}

// run executes git and returns trimmed stdout.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.output(ctx, args...)
	return strings.TrimSpace(out), err
}

// output executes git and returns raw stdout. Failures carry stderr.
func (r *Repo) output(ctx context.Context, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", tferrors.NewGitErrorWithCause(fmt.Sprintf("git %s timed out after %s", args[0], r.Timeout), err)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return "", tferrors.NewGitErrorWithCause(fmt.Sprintf("git %s failed: %s", strings.Join(args, " "), msg), err)
	}
	return stdout.String(), nil
}

// exitCode returns the exit status of a failed git call, or -1.
func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// CurrentBranch returns the checked-out branch name.
func (r *Repo) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// HeadSHA returns the commit HEAD points at.
func (r *Repo) HeadSHA(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "HEAD")
}

// Checkout switches to an existing branch.
func (r *Repo) Checkout(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "checkout", branch)
	return err
}

// HasRemote reports whether the configured remote exists.
func (r *Repo) HasRemote(ctx context.Context) bool {
	_, err := r.run(ctx, "remote", "get-url", r.Remote)
	return err == nil
}

// Pull fast-forwards branch from the remote. Without a remote it does nothing.
func (r *Repo) Pull(ctx context.Context, branch string) error {
	if !r.HasRemote(ctx) {
		return nil
	}
	_, err := r.run(ctx, "pull", "--ff-only", r.Remote, branch)
	return err
}

// BranchExists checks if a local branch exists.
func (r *Repo) BranchExists(ctx context.Context, branch string) bool {
	_, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// RemoteBranchExists checks the remote for a branch head.
func (r *Repo) RemoteBranchExists(ctx context.Context, branch string) (bool, error) {
	if !r.HasRemote(ctx) {
		return false, nil
	}
	_, err := r.run(ctx, "ls-remote", "--exit-code", "--heads", r.Remote, branch)
	if err == nil {
		return true, nil
	}
	// ls-remote --exit-code exits 2 when no ref matched.
	var gitErr *tferrors.Error
	if errors.As(err, &gitErr) && exitCode(gitErr.Cause) == 2 {
		return false, nil
	}
	return false, err
}

// DeleteLocalBranch force-deletes a local branch.
func (r *Repo) DeleteLocalBranch(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "branch", "-D", branch)
	return err
}

// DeleteRemoteBranch deletes branch on the remote. A branch that is
// already gone is not an error.
func (r *Repo) DeleteRemoteBranch(ctx context.Context, branch string) error {
	exists, err := r.RemoteBranchExists(ctx, branch)
	if err != nil || !exists {
		return err
	}
	_, err = r.run(ctx, "push", r.Remote, "--delete", branch)
	if err != nil && strings.Contains(err.Error(), "remote ref does not exist") {
		return nil
	}
	return err
}

// CreateBranch creates branch from an up-to-date base and switches to it.
// A local branch with the same name is deleted first, so calling it twice
// for the same ticket leaves the same state. Deleting the remote copy is
// attempted; a failure there is logged and the later push overwrites it.
func (r *Repo) CreateBranch(ctx context.Context, branch, base string) error {
	if err := r.Checkout(ctx, base); err != nil {
		return err
	}
	if err := r.Pull(ctx, base); err != nil {
		return err
	}
	if r.BranchExists(ctx, branch) {
		if err := r.DeleteLocalBranch(ctx, branch); err != nil {
			return err
		}
	}
	if err := r.DeleteRemoteBranch(ctx, branch); err != nil {
		r.log().Warn("could not delete remote branch %s: %v", branch, err)
	}
	_, err := r.run(ctx, "checkout", "-b", branch)
	return err
}

// Status lists paths by working-tree state.
type Status struct {
	Staged    []string
	Unstaged  []string
	Untracked []string
}

// HasChanges reports whether anything is uncommitted.
func (s Status) HasChanges() bool {
	return len(s.Staged) > 0 || len(s.Unstaged) > 0 || len(s.Untracked) > 0
}

// Status returns staged, unstaged and untracked paths.
func (r *Repo) Status(ctx context.Context) (Status, error) {
	out, err := r.output(ctx, "status", "--porcelain=v1", "--untracked-files=all")
	if err != nil {
		return Status{}, err
	}
	return parseStatus(out), nil
}

func parseStatus(out string) Status {
	var s Status
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		x, y, path := line[0], line[1], line[3:]
		if i := strings.Index(path, " -> "); i >= 0 {
			path = path[i+4:]
		}
		if x == '?' && y == '?' {
			s.Untracked = append(s.Untracked, path)
			continue
		}
		if x != ' ' {
			s.Staged = append(s.Staged, path)
		}
		if y != ' ' {
			s.Unstaged = append(s.Unstaged, path)
		}
	}
	return s
}

// HasNewCommits reports whether HEAD has commits not reachable from base.
func (r *Repo) HasNewCommits(ctx context.Context, base string) (bool, error) {
	out, err := r.run(ctx, "rev-list", "--count", base+"..HEAD")
	if err != nil {
		return false, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return false, tferrors.NewGitErrorWithCause("unexpected rev-list output: "+out, err)
	}
	return n > 0, nil
}

// CommitSummary lists commits in base..HEAD, oldest first, one "- <sha> <subject>" per line.
func (r *Repo) CommitSummary(ctx context.Context, base string) (string, error) {
	return r.run(ctx, "log", "--no-merges", "--reverse", "--format=- %h %s", base+"..HEAD")
}

// Commit stages files (everything when none are given) and commits them.
// It returns errors.ErrNoChanges when nothing was staged.
func (r *Repo) Commit(ctx context.Context, message string, files ...string) error {
	args := []string{"add", "-A"}
	if len(files) > 0 {
		args = append(args, "--")
		args = append(args, files...)
	}
	if _, err := r.run(ctx, args...); err != nil {
		return err
	}

	// diff --cached --quiet exits 0 when the index matches HEAD.
	if _, err := r.run(ctx, "diff", "--cached", "--quiet"); err == nil {
		return tferrors.ErrNoChanges
	}

	_, err := r.run(ctx, "commit", "-m", message)
	return err
}

// Exclude adds the given directories to the repository's local exclude
// file so that status and "add -A" skip them. Directories outside the
// working tree are left alone. Existing entries are not duplicated.
func (r *Repo) Exclude(ctx context.Context, dirs ...string) error {
	root, err := filepath.Abs(r.Dir)
	if err != nil {
		return tferrors.NewGitErrorWithCause("failed to resolve repository path", err)
	}
	var patterns []string
	for _, d := range dirs {
		abs, err := filepath.Abs(d)
		if err != nil {
			return tferrors.NewGitErrorWithCause("failed to resolve "+d, err)
		}
		rel, err := filepath.Rel(root, abs)
		if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			continue
		}
		patterns = append(patterns, "/"+filepath.ToSlash(rel)+"/")
	}
	if len(patterns) == 0 {
		return nil
	}

	path, err := r.run(ctx, "rev-parse", "--git-path", "info/exclude")
	if err != nil {
		return err
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(root, path)
	}
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return tferrors.NewGitErrorWithCause("failed to read "+path, err)
	}
	present := make(map[string]bool)
	for _, line := range strings.Split(string(data), "\n") {
		present[strings.TrimSpace(line)] = true
	}

	var b strings.Builder
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		b.WriteString("\n")
	}
	for _, p := range patterns {
		if !present[p] {
			b.WriteString(p + "\n")
			present[p] = true
		}
	}
	if b.Len() == 0 || b.String() == "\n" {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return tferrors.NewGitErrorWithCause("failed to create "+filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return tferrors.NewGitErrorWithCause("failed to open "+path, err)
	}
	if _, err := f.WriteString(b.String()); err != nil {
		f.Close()
		return tferrors.NewGitErrorWithCause("failed to write "+path, err)
	}
	return f.Close()
}

// Push publishes branch and sets its upstream.
func (r *Repo) Push(ctx context.Context, branch string) error {
	_, err := r.run(ctx, "push", "-u", r.Remote, branch)
	return err
}
