// Package doctor checks that the machine and repository are ready for
// ticketflow to run.
package doctor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/silver2dream/ticketflow/internal/config"
	"github.com/silver2dream/ticketflow/internal/daemon"
	"github.com/silver2dream/ticketflow/internal/git"
	"github.com/silver2dream/ticketflow/internal/jira"
	"github.com/silver2dream/ticketflow/internal/poller"
)

// Check statuses.
const (
	StatusOK      = "ok"
	StatusWarning = "warning"
	StatusError   = "error"
)

// CheckResult represents the result of a single check
type CheckResult struct {
	Name    string
	Status  string
	Message string
	// CanClean is true when Clean can repair this finding.
	CanClean bool
}

// Searcher runs a tracker query.
type Searcher interface {
	SearchTickets(ctx context.Context, jql string, limit int) ([]*jira.Ticket, error)
}

// Doctor performs health checks for one project.
type Doctor struct {
	Config  *config.Config
	Tracker Searcher
	Timeout time.Duration

	lookPath func(string) (string, error)
	command  func(ctx context.Context, dir, name string, args ...string) error
}

// New creates a Doctor. tracker may be nil to skip the Jira check.
func New(cfg *config.Config, tracker Searcher) *Doctor {
	return &Doctor{
		Config:   cfg,
		Tracker:  tracker,
		Timeout:  30 * time.Second,
		lookPath: exec.LookPath,
		command: func(ctx context.Context, dir, name string, args ...string) error {
			cmd := exec.CommandContext(ctx, name, args...)
			cmd.Dir = dir
			out, err := cmd.CombinedOutput()
			if err != nil {
				if msg := strings.TrimSpace(string(out)); msg != "" {
					return fmt.Errorf("%s", firstLine(msg))
				}
				return err
			}
			return nil
		},
	}
}

// RunAll executes every check. Later checks still run when earlier ones fail.
func (d *Doctor) RunAll(ctx context.Context) []CheckResult {
	results := []CheckResult{d.CheckConfig()}
	results = append(results, d.CheckGit(ctx)...)
	results = append(results, d.CheckGitHubCLI(ctx))
	results = append(results, d.CheckAgent())
	results = append(results, d.CheckLockFile())
	if d.Tracker != nil {
		results = append(results, d.CheckTracker(ctx))
	}
	return results
}

// HasErrors reports whether any result is an error.
func HasErrors(results []CheckResult) bool {
	for _, r := range results {
		if r.Status == StatusError {
			return true
		}
	}
	return false
}

// CheckConfig validates the merged configuration.
func (d *Doctor) CheckConfig() CheckResult {
	errs := d.Config.Validate()
	if len(errs) > 0 {
		msg := errs[0].Error()
		if len(errs) > 1 {
			msg += fmt.Sprintf(" (and %d more)", len(errs)-1)
		}
		return CheckResult{Name: "Config", Status: StatusError, Message: msg}
	}
	return CheckResult{
		Name:    "Config",
		Status:  StatusOK,
		Message: fmt.Sprintf("Valid config for project %s", d.Config.Jira.ProjectKey),
	}
}

// CheckGit verifies the repository and base branch.
func (d *Doctor) CheckGit(ctx context.Context) []CheckResult {
	if _, err := d.lookPath("git"); err != nil {
		return []CheckResult{{Name: "Git", Status: StatusError, Message: "git not found in PATH"}}
	}

	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	if err := d.command(ctx, d.Config.Root, "git", "rev-parse", "--is-inside-work-tree"); err != nil {
		return []CheckResult{{Name: "Git", Status: StatusError, Message: fmt.Sprintf("%s is not a git repository", d.Config.Root)}}
	}
	results := []CheckResult{{Name: "Git", Status: StatusOK, Message: "Repository at " + d.Config.Root}}

	repo := git.New(d.Config.Root, d.Config.Git.Remote, d.Config.GitTimeout())
	base := d.Config.Git.BaseBranch
	switch {
	case base == "":
	case repo.BranchExists(ctx, base):
		results = append(results, CheckResult{Name: "Base Branch", Status: StatusOK, Message: base + " exists"})
	default:
		results = append(results, CheckResult{Name: "Base Branch", Status: StatusError, Message: base + " does not exist locally"})
	}

	if status, err := repo.Status(ctx); err == nil && status.HasChanges() {
		results = append(results, CheckResult{
			Name:    "Working Tree",
			Status:  StatusWarning,
			Message: "uncommitted changes will be carried onto the first feature branch",
		})
	}
	return results
}

// CheckGitHubCLI verifies gh is installed and logged in.
func (d *Doctor) CheckGitHubCLI(ctx context.Context) CheckResult {
	if _, err := d.lookPath("gh"); err != nil {
		return CheckResult{Name: "GitHub CLI", Status: StatusError, Message: "gh not found in PATH"}
	}
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	if err := d.command(ctx, d.Config.Root, "gh", "auth", "status"); err != nil {
		return CheckResult{Name: "GitHub CLI", Status: StatusError, Message: "gh is not authenticated: " + err.Error()}
	}
	return CheckResult{Name: "GitHub CLI", Status: StatusOK, Message: "Authenticated"}
}

// CheckAgent verifies the agent command can be found.
func (d *Doctor) CheckAgent() CheckResult {
	name := d.Config.Agent.Command
	path, err := d.lookPath(name)
	if err != nil {
		return CheckResult{Name: "Agent", Status: StatusError, Message: fmt.Sprintf("%q not found in PATH", name)}
	}
	return CheckResult{Name: "Agent", Status: StatusOK, Message: path}
}

// CheckLockFile reports a running or crashed daemon.
func (d *Doctor) CheckLockFile() CheckResult {
	path := d.Config.LockPath()
	lock := daemon.NewLock(path)
	info, err := lock.Info()
	if err != nil {
		if os.IsNotExist(err) {
			return CheckResult{Name: "Daemon Lock", Status: StatusOK, Message: "No daemon running"}
		}
		return CheckResult{Name: "Daemon Lock", Status: StatusWarning, Message: "Unreadable lock file " + path, CanClean: true}
	}
	if lock.IsStale() {
		return CheckResult{
			Name:     "Daemon Lock",
			Status:   StatusWarning,
			Message:  fmt.Sprintf("Stale lock from PID %d (started %s)", info.PID, info.StartTime.Format(time.RFC3339)),
			CanClean: true,
		}
	}
	return CheckResult{
		Name:    "Daemon Lock",
		Status:  StatusWarning,
		Message: fmt.Sprintf("Daemon running (PID %d on %s)", info.PID, info.Hostname),
	}
}

// CheckTracker runs the daemon query once, which exercises credentials and
// JQL syntax together.
func (d *Doctor) CheckTracker(ctx context.Context) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, d.Timeout)
	defer cancel()
	tickets, err := d.Tracker.SearchTickets(ctx, poller.BuildJQL(d.Config.Jira), poller.BatchSize)
	if err != nil {
		return CheckResult{Name: "Jira", Status: StatusError, Message: err.Error()}
	}
	return CheckResult{
		Name:    "Jira",
		Status:  StatusOK,
		Message: fmt.Sprintf("Query returned %d candidate ticket(s)", len(tickets)),
	}
}

// Clean removes the findings marked CanClean. It returns what was removed.
func (d *Doctor) Clean(results []CheckResult) ([]string, error) {
	var cleaned []string
	for _, r := range results {
		if !r.CanClean || r.Name != "Daemon Lock" {
			continue
		}
		path := d.Config.LockPath()
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return cleaned, fmt.Errorf("failed to remove %s: %w", path, err)
		}
		cleaned = append(cleaned, path)
	}
	return cleaned, nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
