package config

import (
	"fmt"
	"net/url"
	"strings"

	tferrors "github.com/silver2dream/ticketflow/internal/errors"
)

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field    string
	Message  string
	Expected string
}

func (e ValidationError) Error() string {
	if e.Expected != "" {
		return fmt.Sprintf("%s: %s (expected: %s)", e.Field, e.Message, e.Expected)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks if the configuration has all required fields
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError

	required := func(field, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, ValidationError{Field: field, Message: "required field is missing"})
		}
	}

	required("jira.base_url", c.Jira.BaseURL)
	if c.Jira.BaseURL != "" {
		u, err := url.Parse(c.Jira.BaseURL)
		if err != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
			errs = append(errs, ValidationError{
				Field:    "jira.base_url",
				Message:  fmt.Sprintf("invalid URL: %s", c.Jira.BaseURL),
				Expected: "https://<site>.atlassian.net",
			})
		}
	}
	required("jira.email", c.Jira.Email)
	required("jira.api_token", c.Jira.APIToken)
	required("jira.project_key", c.Jira.ProjectKey)
	if c.Jira.JQL == "" && len(c.Jira.CandidateStatuses) == 0 {
		errs = append(errs, ValidationError{
			Field:   "jira.candidate_statuses",
			Message: "at least one status is required when jira.jql is empty",
		})
	}

	required("git.base_branch", c.Git.BaseBranch)
	if !strings.Contains(c.Git.BranchPattern, "{ticket_key}") {
		errs = append(errs, ValidationError{
			Field:    "git.branch_pattern",
			Message:  fmt.Sprintf("pattern %q does not reference the ticket", c.Git.BranchPattern),
			Expected: "a pattern containing {ticket_key}",
		})
	}

	required("agent.command", c.Agent.Command)

	if c.Notify.WebhookURL != "" {
		if u, err := url.Parse(c.Notify.WebhookURL); err != nil || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "notify.webhook_url",
				Message: fmt.Sprintf("invalid URL: %s", c.Notify.WebhookURL),
			})
		}
	}

	return errs
}

// Check returns a config error listing every validation failure, or nil.
func (c *Config) Check() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}
	lines := make([]string, len(errs))
	for i, e := range errs {
		lines[i] = "  - " + e.Error()
	}
	return tferrors.NewConfigError("invalid configuration:\n" + strings.Join(lines, "\n"))
}
