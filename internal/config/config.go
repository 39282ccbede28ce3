// Package config loads, merges and validates ticketflow configuration.
//
// Settings come from up to three layers, later layers winning:
//
//  1. the global file ($XDG_CONFIG_HOME/ticketflow/config.yaml), usually
//     holding credentials shared across checkouts
//  2. the project file at the repository root (.ticketflow.yaml, or
//     .ticketflow.jsonc for JSON with comments)
//  3. JIRA_* environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
)

// Project file names, in lookup order.
var ProjectFileNames = []string{".ticketflow.yaml", ".ticketflow.yml", ".ticketflow.jsonc"}

// Config is the merged ticketflow configuration.
type Config struct {
	Project ProjectConfig `yaml:"project"`
	Jira    JiraConfig    `yaml:"jira"`
	Git     GitConfig     `yaml:"git"`
	GitHub  GitHubConfig  `yaml:"github"`
	Agent   AgentConfig   `yaml:"agent"`
	Daemon  DaemonConfig  `yaml:"daemon"`
	Logging LoggingConfig `yaml:"logging"`
	Notify  NotifyConfig  `yaml:"notify"`

	// Root is the repository root the project file was loaded from.
	Root string `yaml:"-"`
}

// ProjectConfig holds project-level settings
type ProjectConfig struct {
	Name string `yaml:"name"`
	// Instructions are appended to every agent prompt.
	Instructions   string `yaml:"instructions"`
	AttachmentsDir string `yaml:"attachments_dir"`
}

// JiraConfig holds issue-tracker connection and query settings
type JiraConfig struct {
	BaseURL    string `yaml:"base_url"`
	Email      string `yaml:"email"`
	APIToken   string `yaml:"api_token"`
	ProjectKey string `yaml:"project_key"`
	// JQL replaces the generated status query when set.
	JQL               string   `yaml:"jql"`
	CandidateStatuses []string `yaml:"candidate_statuses"`
	// TransitionTo is the status name applied after the PR is opened. Empty skips the transition.
	TransitionTo   string `yaml:"transition_to"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GitConfig holds git-related settings
type GitConfig struct {
	BaseBranch     string `yaml:"base_branch"`
	Remote         string `yaml:"remote"`
	BranchPattern  string `yaml:"branch_pattern"`
	CommitPattern  string `yaml:"commit_pattern"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// GitHubConfig holds pull request and preview deployment settings
type GitHubConfig struct {
	// Repo is owner/name. Empty lets gh infer it from the checkout.
	Repo                  string `yaml:"repo"`
	PRTitlePattern        string `yaml:"pr_title_pattern"`
	PRBodyPattern         string `yaml:"pr_body_pattern"`
	Draft                 bool   `yaml:"draft"`
	WaitForPreview        bool   `yaml:"wait_for_preview"`
	PreviewTimeoutSeconds int    `yaml:"preview_timeout_seconds"`
	TimeoutSeconds        int    `yaml:"timeout_seconds"`
	RetryCount            int    `yaml:"retry_count"`
	RetryBaseDelaySeconds int    `yaml:"retry_base_delay_seconds"`
}

// AgentConfig holds coding-agent process settings
type AgentConfig struct {
	Command        string   `yaml:"command"`
	Args           []string `yaml:"args"`
	TimeoutMinutes int      `yaml:"timeout_minutes"`
	GraceSeconds   int      `yaml:"grace_seconds"`
	UsePTY         bool     `yaml:"use_pty"`
}

// DaemonConfig holds polling loop settings
type DaemonConfig struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	StateDir            string `yaml:"state_dir"`
	// MaxTickets stops the daemon after this many dispatched tickets. 0 means unlimited.
	MaxTickets int `yaml:"max_tickets"`
}

// LoggingConfig holds log level and file sink settings
type LoggingConfig struct {
	Level string `yaml:"level"`
	// Dir enables the rotating file sink. Relative paths resolve against Root.
	Dir string `yaml:"dir"`
}

// NotifyConfig holds result notification settings
type NotifyConfig struct {
	Desktop    bool   `yaml:"desktop"`
	WebhookURL string `yaml:"webhook_url"`
}

// LoadOptions selects which files Load reads.
type LoadOptions struct {
	// GlobalPath overrides the global config location. Empty uses GlobalPath().
	GlobalPath string
	// ProjectRoot is the repository root. Empty uses the working directory.
	ProjectRoot string
	// SkipEnv disables environment overrides.
	SkipEnv bool
}

// GlobalPath returns the default global config file location.
func GlobalPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "ticketflow", "config.yaml")
}

// FindProjectFile returns the first project config file present in root, or "".
func FindProjectFile(root string) string {
	for _, name := range ProjectFileNames {
		path := filepath.Join(root, name)
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// Load reads the global and project files, applies environment overrides
// and defaults. Missing files are not an error; Validate reports what is
// still required.
func Load(opts LoadOptions) (*Config, error) {
	root := opts.ProjectRoot
	if root == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, tferrors.NewConfigErrorWithCause("failed to resolve working directory", err)
		}
		root = wd
	}

	globalPath := opts.GlobalPath
	if globalPath == "" {
		globalPath = GlobalPath()
	}

	cfg := &Config{}
	if err := mergeFile(cfg, globalPath); err != nil {
		return nil, err
	}
	if projectPath := FindProjectFile(root); projectPath != "" {
		if err := mergeFile(cfg, projectPath); err != nil {
			return nil, err
		}
	}
	if !opts.SkipEnv {
		cfg.applyEnv()
	}

	cfg.Root = root
	cfg.ApplyDefaults()
	return cfg, nil
}

// mergeFile decodes path on top of cfg. Fields absent from the file keep
// their current values, so later files override earlier ones field by field.
func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return tferrors.NewConfigErrorWithCause(fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := Parse(cfg, path, data); err != nil {
		return tferrors.NewConfigErrorWithCause(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

// Parse decodes data into cfg. JSONC input is stripped of comments and
// trailing commas first; the result is JSON, which the YAML decoder accepts.
func Parse(cfg *Config, path string, data []byte) error {
	if strings.EqualFold(filepath.Ext(path), ".jsonc") || strings.EqualFold(filepath.Ext(path), ".json") {
		data = jsonc.ToJSON(data)
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}
	return yaml.Unmarshal(data, cfg)
}

func (c *Config) applyEnv() {
	if v := os.Getenv("JIRA_BASE_URL"); v != "" {
		c.Jira.BaseURL = v
	}
	if v := os.Getenv("JIRA_EMAIL"); v != "" {
		c.Jira.Email = v
	}
	if v := os.Getenv("JIRA_API_TOKEN"); v != "" {
		c.Jira.APIToken = v
	}
}

// Default patterns.
const (
	DefaultBranchPattern  = "feature/{ticket_key}-{summary}"
	DefaultCommitPattern  = "{ticket_key}: {summary}"
	DefaultPRTitlePattern = "[{ticket_key}] {summary}"
	DefaultPRBodyPattern  = `## Ticket
[{ticket_key}]({ticket_url}): {summary}

## Changes
{changes}

## Testing
{testing}
`
)

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if len(c.Jira.CandidateStatuses) == 0 {
		c.Jira.CandidateStatuses = []string{"To Do"}
	}
	if c.Jira.TimeoutSeconds <= 0 {
		c.Jira.TimeoutSeconds = 30
	}
	c.Jira.BaseURL = strings.TrimRight(c.Jira.BaseURL, "/")

	if c.Git.BaseBranch == "" {
		c.Git.BaseBranch = "develop"
	}
	if c.Git.Remote == "" {
		c.Git.Remote = "origin"
	}
	if c.Git.BranchPattern == "" {
		c.Git.BranchPattern = DefaultBranchPattern
	}
	if c.Git.CommitPattern == "" {
		c.Git.CommitPattern = DefaultCommitPattern
	}
	if c.Git.TimeoutSeconds <= 0 {
		c.Git.TimeoutSeconds = 120
	}

	if c.GitHub.PRTitlePattern == "" {
		c.GitHub.PRTitlePattern = DefaultPRTitlePattern
	}
	if c.GitHub.PRBodyPattern == "" {
		c.GitHub.PRBodyPattern = DefaultPRBodyPattern
	}
	if c.GitHub.PreviewTimeoutSeconds <= 0 {
		c.GitHub.PreviewTimeoutSeconds = 600
	}
	if c.GitHub.TimeoutSeconds <= 0 {
		c.GitHub.TimeoutSeconds = 60
	}
	if c.GitHub.RetryCount <= 0 {
		c.GitHub.RetryCount = 3
	}
	if c.GitHub.RetryBaseDelaySeconds <= 0 {
		c.GitHub.RetryBaseDelaySeconds = 2
	}

	if c.Agent.Command == "" {
		c.Agent.Command = "claude"
		if len(c.Agent.Args) == 0 {
			c.Agent.Args = []string{"--print", "--dangerously-skip-permissions"}
		}
	}
	if c.Agent.TimeoutMinutes <= 0 {
		c.Agent.TimeoutMinutes = 30
	}
	if c.Agent.GraceSeconds <= 0 {
		c.Agent.GraceSeconds = 10
	}

	if c.Daemon.PollIntervalSeconds <= 0 {
		c.Daemon.PollIntervalSeconds = 300
	}
	if c.Daemon.StateDir == "" {
		c.Daemon.StateDir = ".ticketflow"
	}
	if c.Project.AttachmentsDir == "" {
		c.Project.AttachmentsDir = filepath.Join(c.Daemon.StateDir, "attachments")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// ResolvePath makes a relative path absolute against Root.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Root, p)
}

// StateDir returns the absolute daemon state directory.
func (c *Config) StateDir() string {
	return c.ResolvePath(c.Daemon.StateDir)
}

// AttachmentsDir returns the absolute attachments root.
func (c *Config) AttachmentsDir() string {
	return c.ResolvePath(c.Project.AttachmentsDir)
}

// HistoryPath returns the run history database location.
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StateDir(), "history.db")
}

// LockPath returns the daemon single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.StateDir(), "daemon.lock")
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Daemon.PollIntervalSeconds) * time.Second
}

func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutMinutes) * time.Minute
}

func (c *Config) AgentGrace() time.Duration {
	return time.Duration(c.Agent.GraceSeconds) * time.Second
}

func (c *Config) PreviewTimeout() time.Duration {
	return time.Duration(c.GitHub.PreviewTimeoutSeconds) * time.Second
}

func (c *Config) GitTimeout() time.Duration {
	return time.Duration(c.Git.TimeoutSeconds) * time.Second
}

func (c *Config) GitHubTimeout() time.Duration {
	return time.Duration(c.GitHub.TimeoutSeconds) * time.Second
}

func (c *Config) JiraTimeout() time.Duration {
	return time.Duration(c.Jira.TimeoutSeconds) * time.Second
}

// Redacted returns a copy safe to print.
func (c *Config) Redacted() *Config {
	cp := *c
	if cp.Jira.APIToken != "" {
		cp.Jira.APIToken = "********"
	}
	if cp.Notify.WebhookURL != "" {
		if u, err := url.Parse(cp.Notify.WebhookURL); err == nil {
			cp.Notify.WebhookURL = u.Scheme + "://" + u.Host + "/********"
		}
	}
	return &cp
}

// Marshal renders the config as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}
