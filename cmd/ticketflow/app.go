package main

import (
	"os"
	"time"

	"github.com/silver2dream/ticketflow/internal/agent"
	"github.com/silver2dream/ticketflow/internal/config"
	"github.com/silver2dream/ticketflow/internal/daemon"
	"github.com/silver2dream/ticketflow/internal/ghutil"
	"github.com/silver2dream/ticketflow/internal/git"
	"github.com/silver2dream/ticketflow/internal/github"
	"github.com/silver2dream/ticketflow/internal/jira"
	"github.com/silver2dream/ticketflow/internal/logger"
	"github.com/silver2dream/ticketflow/internal/scm"
	"github.com/silver2dream/ticketflow/internal/worker"
)

// app is the wired dependency graph for one command invocation.
type app struct {
	cfg *config.Config
	log *logger.Logger
}

// loadConfig reads configuration without validating it.
func loadConfig(opts *globalOptions) (*config.Config, error) {
	return config.Load(config.LoadOptions{GlobalPath: opts.configPath, ProjectRoot: opts.projectDir})
}

// newApp loads and validates configuration and sets up logging.
func newApp(opts *globalOptions, logName string) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, err
	}

	level := logger.ParseLevel(cfg.Logging.Level)
	if opts.logLevel != "" {
		level = logger.ParseLevel(opts.logLevel)
	}
	if opts.verbose {
		level = logger.LevelDebug
	}
	log := logger.New(os.Stderr, level)
	if cfg.Logging.Dir != "" {
		file, err := logger.NewRotatingFile(cfg.ResolvePath(cfg.Logging.Dir), logName)
		if err != nil {
			log.Warn("file logging disabled: %v", err)
		} else {
			log.SetFile(file)
		}
	}
	return &app{cfg: cfg, log: log}, nil
}

func (a *app) Close() error {
	return a.log.Close()
}

func (a *app) jira() *jira.Client {
	return jira.NewClient(a.cfg.Jira.BaseURL, a.cfg.Jira.Email, a.cfg.Jira.APIToken, a.cfg.JiraTimeout())
}

func (a *app) sourceControl() *scm.Client {
	repo := git.New(a.cfg.Root, a.cfg.Git.Remote, a.cfg.GitTimeout())
	repo.Log = a.log.WithPrefix("git")
	retry := ghutil.DefaultRetryConfig()
	retry.MaxAttempts = a.cfg.GitHub.RetryCount
	retry.BaseDelay = time.Duration(a.cfg.GitHub.RetryBaseDelaySeconds) * time.Second
	retry.Timeout = a.cfg.GitHubTimeout()
	retry.Dir = a.cfg.Root
	retry.Log = a.log.WithPrefix("gh")
	gh := github.NewClient(a.cfg.GitHub.Repo, retry, a.log.WithPrefix("gh"))
	return scm.New(repo, gh, a.cfg.GitHub.Draft)
}

func (a *app) agent() *agent.Runner {
	return &agent.Runner{
		Command:         a.cfg.Agent.Command,
		Args:            a.cfg.Agent.Args,
		Timeout:         a.cfg.AgentTimeout(),
		Grace:           a.cfg.AgentGrace(),
		UsePTY:          a.cfg.Agent.UsePTY,
		AttachmentsRoot: a.cfg.AttachmentsDir(),
		Instructions:    a.cfg.Project.Instructions,
		Log:             a.log.WithPrefix("agent"),
	}
}

func (a *app) worker(key string, tracker worker.Tracker) *worker.Worker {
	deps := worker.Deps{
		Tracker: tracker,
		SCM:     a.sourceControl(),
		Agent:   a.agent(),
		Log:     a.log,
	}
	return worker.New(key, deps, worker.OptionsFromConfig(a.cfg))
}

func (a *app) workerFactory(tracker worker.Tracker) daemon.WorkerFactory {
	return func(key string) daemon.Processor {
		return a.worker(key, tracker)
	}
}
